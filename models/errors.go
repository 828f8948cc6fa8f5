package models

import "fmt"

// ExtractionError means the source was unreachable or its listing structure
// was entirely absent. Always fatal to the run — a partial, silently truncated
// batch is never produced.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EnrichmentError marks structurally invalid numeric input for one offer.
// The offending offer is excluded from the batch; the run continues.
type EnrichmentError struct {
	ExternalID string
	Reason     string
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment: offer %s: %s", e.ExternalID, e.Reason)
}

// AssetError is a per-image download/decode/encode failure. Logged and
// skipped, never fatal.
type AssetError struct {
	ExternalID string
	URL        string
	Err        error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset: offer %s image %s: %v", e.ExternalID, e.URL, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// SyncError is a per-item downstream rejection or transport failure. Counted
// under failed, never fatal to the batch.
type SyncError struct {
	ExternalID string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: offer %s: %v", e.ExternalID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// StateError means persisted state was unreadable or corrupt at load time.
// Fatal: the run aborts rather than operating on an assumed-empty state,
// which would re-import the whole inventory as "added".
type StateError struct {
	Key string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state: %s: %v", e.Key, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }
