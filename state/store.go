// Package state persists the pipeline's committed state: the inventory
// snapshot, the identity map, the last-run record and the change log.
package state

import (
	"time"

	"lease-offer-sync/models"
)

// Store is the persistence port for all pipeline state. The snapshot and
// identity map are only ever overwritten together, after sync completes;
// Commit is the single entry point enforcing that.
type Store interface {
	// LoadSnapshot returns the current committed snapshot. A first run with
	// no prior state returns an empty snapshot; unreadable or corrupt state
	// returns a StateError.
	LoadSnapshot() (models.Snapshot, error)

	// LoadIdentityMap returns the external-id → downstream-id mapping.
	LoadIdentityMap() (map[string]string, error)

	// LoadRunRecord returns the last run record, or nil if no run has
	// ever completed.
	LoadRunRecord() (*models.RunRecord, error)

	// Commit atomically replaces the snapshot, identity map and run record,
	// writes a dated diff artifact and appends the diff to the change log.
	// Either everything lands or nothing does. A nil record leaves the
	// previously committed run record in place: financial refreshes commit
	// that way so they never reset the staleness clock.
	Commit(snapshot models.Snapshot, identity map[string]string, record *models.RunRecord, diff *models.DiffResult) error

	// Close releases the underlying backend.
	Close() error
}

// commitTime stamps audit artifacts. A record-less commit is stamped with
// the commit time itself.
func commitTime(record *models.RunRecord) time.Time {
	if record != nil {
		return record.Timestamp
	}
	return time.Now().UTC()
}
