package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"lease-offer-sync/models"
)

const (
	keySnapshot  = "snapshot"
	keyIdentity  = "identity_map"
	keyRunRecord = "last_run"
)

// PostgresStore persists pipeline state in PostgreSQL: a small key/value
// table for snapshot, identity map and run record, plus audit tables for
// diff artifacts and the change log. Commit runs in a single transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, runs schema migrations, and returns a
// ready-to-use PostgresStore.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_state (
			key        VARCHAR(50) PRIMARY KEY,
			value      JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS diff_artifacts (
			id      SERIAL PRIMARY KEY,
			run_at  TIMESTAMPTZ NOT NULL,
			payload JSONB       NOT NULL
		);

		CREATE TABLE IF NOT EXISTS change_log (
			id          SERIAL PRIMARY KEY,
			logged_at   TIMESTAMPTZ NOT NULL,
			external_id TEXT        NOT NULL,
			change      VARCHAR(20) NOT NULL,
			detail      JSONB       NOT NULL DEFAULT '{}'::jsonb
		);

		CREATE INDEX IF NOT EXISTS idx_change_log_external_id ON change_log(external_id);
	`)
	return err
}

// LoadSnapshot reads the committed snapshot; an absent row means first run.
func (ps *PostgresStore) LoadSnapshot() (models.Snapshot, error) {
	snapshot := make(models.Snapshot)
	if err := ps.loadValue(keySnapshot, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// LoadIdentityMap reads the external-id → downstream-id mapping.
func (ps *PostgresStore) LoadIdentityMap() (map[string]string, error) {
	identity := make(map[string]string)
	if err := ps.loadValue(keyIdentity, &identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// LoadRunRecord reads the last run record; nil means no run has completed.
func (ps *PostgresStore) LoadRunRecord() (*models.RunRecord, error) {
	var record models.RunRecord
	found, err := ps.loadValueExists(keyRunRecord, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

// Commit upserts all state keys and appends the audit rows inside one
// transaction, so the snapshot and identity map can never diverge.
func (ps *PostgresStore) Commit(snapshot models.Snapshot, identity map[string]string, record *models.RunRecord, diff *models.DiffResult) error {
	tx, err := ps.db.Begin()
	if err != nil {
		return &models.StateError{Key: "commit", Err: err}
	}
	defer tx.Rollback()

	values := map[string]interface{}{
		keySnapshot: snapshot,
		keyIdentity: identity,
	}
	if record != nil {
		values[keyRunRecord] = record
	}

	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return &models.StateError{Key: key, Err: fmt.Errorf("encode: %w", err)}
		}
		_, err = tx.Exec(`
			INSERT INTO pipeline_state (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()
		`, key, data)
		if err != nil {
			return &models.StateError{Key: key, Err: err}
		}
	}

	if diff != nil {
		if err := appendAudit(tx, commitTime(record), diff); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StateError{Key: "commit", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStore) loadValue(key string, out interface{}) error {
	_, err := ps.loadValueExists(key, out)
	return err
}

func (ps *PostgresStore) loadValueExists(key string, out interface{}) (bool, error) {
	var data []byte
	err := ps.db.QueryRow(`SELECT value FROM pipeline_state WHERE key = $1`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &models.StateError{Key: key, Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, &models.StateError{Key: key, Err: fmt.Errorf("corrupt state value: %w", err)}
	}
	return true, nil
}

func appendAudit(tx *sql.Tx, ts time.Time, diff *models.DiffResult) error {
	payload, err := json.Marshal(diff)
	if err != nil {
		return &models.StateError{Key: "diff_artifact", Err: fmt.Errorf("encode diff: %w", err)}
	}
	if _, err := tx.Exec(`INSERT INTO diff_artifacts (run_at, payload) VALUES ($1, $2)`, ts, payload); err != nil {
		return &models.StateError{Key: "diff_artifact", Err: err}
	}

	insert := func(externalID, change string, detail interface{}) error {
		data, err := json.Marshal(detail)
		if err != nil {
			return &models.StateError{Key: "change_log", Err: err}
		}
		if _, err := tx.Exec(`
			INSERT INTO change_log (logged_at, external_id, change, detail)
			VALUES ($1, $2, $3, $4)
		`, ts, externalID, change, data); err != nil {
			return &models.StateError{Key: "change_log", Err: err}
		}
		return nil
	}

	for _, offer := range diff.Added {
		if err := insert(offer.ExternalID, "added", struct{}{}); err != nil {
			return err
		}
	}
	for _, offer := range diff.Removed {
		if err := insert(offer.ExternalID, "removed", struct{}{}); err != nil {
			return err
		}
	}
	for _, change := range diff.Modified {
		if err := insert(change.ExternalID, "modified", change.Delta); err != nil {
			return err
		}
	}
	return nil
}
