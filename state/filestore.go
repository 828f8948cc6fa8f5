package state

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"lease-offer-sync/models"
)

const (
	snapshotFile  = "snapshot.json"
	identityFile  = "identity_map.json"
	runRecordFile = "last_run.json"
	changeLogFile = "change_log.csv"
	diffDir       = "diffs"
)

// FileStore keeps all pipeline state as flat JSON files plus an append-only
// CSV change log. Writes are staged to temp files and renamed into place only
// after every stage file is ready, so an abort never leaves a partial commit.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if needed and returns a FileStore.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, diffDir), 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadSnapshot reads the committed snapshot. A missing file means first run
// and yields an empty snapshot; a corrupt file is a StateError.
func (s *FileStore) LoadSnapshot() (models.Snapshot, error) {
	snapshot := make(models.Snapshot)
	if err := s.loadJSON(snapshotFile, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// LoadIdentityMap reads the external-id → downstream-id mapping.
func (s *FileStore) LoadIdentityMap() (map[string]string, error) {
	identity := make(map[string]string)
	if err := s.loadJSON(identityFile, &identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// LoadRunRecord reads the last run record; nil means no run has completed.
func (s *FileStore) LoadRunRecord() (*models.RunRecord, error) {
	path := filepath.Join(s.dir, runRecordFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var record models.RunRecord
	if err := s.loadJSON(runRecordFile, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Commit stages every file, then renames all of them into place. Renames are
// the last step so a failure partway through staging leaves committed state
// untouched.
func (s *FileStore) Commit(snapshot models.Snapshot, identity map[string]string, record *models.RunRecord, diff *models.DiffResult) error {
	files := map[string]interface{}{
		snapshotFile: snapshot,
		identityFile: identity,
	}
	if record != nil {
		files[runRecordFile] = record
	}

	staged := make(map[string]string, len(files))
	for name, value := range files {
		tmp, err := s.stageJSON(name, value)
		if err != nil {
			removeStaged(staged)
			return err
		}
		staged[name] = tmp
	}

	ts := commitTime(record)
	if diff != nil {
		if err := s.writeDiffArtifact(ts, diff); err != nil {
			removeStaged(staged)
			return err
		}
	}

	for name, tmp := range staged {
		if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
			return &models.StateError{Key: name, Err: fmt.Errorf("swap staged file: %w", err)}
		}
	}

	if diff != nil {
		if err := s.appendChangeLog(ts, diff); err != nil {
			return err
		}
	}

	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) loadJSON(name string, out interface{}) error {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &models.StateError{Key: name, Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &models.StateError{Key: name, Err: fmt.Errorf("corrupt state file: %w", err)}
	}
	return nil
}

func (s *FileStore) stageJSON(name string, value interface{}) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", &models.StateError{Key: name, Err: fmt.Errorf("encode: %w", err)}
	}

	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &models.StateError{Key: name, Err: fmt.Errorf("stage: %w", err)}
	}
	return tmp, nil
}

// writeDiffArtifact persists the full diff as a dated JSON document for audit.
func (s *FileStore) writeDiffArtifact(ts time.Time, diff *models.DiffResult) error {
	name := fmt.Sprintf("diff_%s.json", ts.Format("2006-01-02_150405"))
	path := filepath.Join(s.dir, diffDir, name)

	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return &models.StateError{Key: name, Err: fmt.Errorf("encode diff: %w", err)}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &models.StateError{Key: name, Err: err}
	}
	return nil
}

// appendChangeLog appends one row per change to the running CSV log.
func (s *FileStore) appendChangeLog(ts time.Time, diff *models.DiffResult) error {
	path := filepath.Join(s.dir, changeLogFile)

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &models.StateError{Key: changeLogFile, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	stamp := ts.Format(time.RFC3339)

	if fresh {
		if err := w.Write([]string{"timestamp", "external_id", "change", "field", "old", "new"}); err != nil {
			return &models.StateError{Key: changeLogFile, Err: err}
		}
	}

	for _, offer := range diff.Added {
		if err := w.Write([]string{stamp, offer.ExternalID, "added", "", "", ""}); err != nil {
			return &models.StateError{Key: changeLogFile, Err: err}
		}
	}
	for _, offer := range diff.Removed {
		if err := w.Write([]string{stamp, offer.ExternalID, "removed", "", "", ""}); err != nil {
			return &models.StateError{Key: changeLogFile, Err: err}
		}
	}
	for _, change := range diff.Modified {
		for field, fc := range change.Delta {
			row := []string{stamp, change.ExternalID, "modified", field,
				fmt.Sprint(fc.Old), fmt.Sprint(fc.New)}
			if err := w.Write(row); err != nil {
				return &models.StateError{Key: changeLogFile, Err: err}
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return &models.StateError{Key: changeLogFile, Err: err}
	}
	return nil
}

func removeStaged(staged map[string]string) {
	for _, tmp := range staged {
		_ = os.Remove(tmp)
	}
}
