package pipeline

import (
	"time"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

// Scheduler decides whether a run is warranted and guarantees at most one
// active run process-wide. A trigger arriving while a run is active is
// dropped, not queued.
type Scheduler struct {
	logger    *utils.Logger
	staleness time.Duration
	slot      chan struct{}
}

// NewScheduler creates a Scheduler with the given staleness window.
func NewScheduler(logger *utils.Logger, staleness time.Duration) *Scheduler {
	return &Scheduler{
		logger:    logger,
		staleness: staleness,
		slot:      make(chan struct{}, 1),
	}
}

// ShouldRun applies the gate in order: force flag, first run, staleness.
func (s *Scheduler) ShouldRun(last *models.RunRecord, force bool) (bool, string) {
	if force {
		return true, "forced"
	}
	if last == nil {
		return true, "first run"
	}
	if elapsed := time.Since(last.Timestamp); elapsed >= s.staleness {
		return true, "staleness"
	}
	return false, "no changes detected"
}

// TryAcquire takes the single-flight run slot without blocking. A false
// return means another run is active and this trigger must be skipped.
func (s *Scheduler) TryAcquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the run slot on completion or abort.
func (s *Scheduler) Release() {
	<-s.slot
}

// RecordRun builds the run record committed alongside the snapshot.
func RecordRun(scrapedCount int, outcome models.SyncOutcome) *models.RunRecord {
	return &models.RunRecord{
		Timestamp:    time.Now().UTC(),
		ScrapedCount: scrapedCount,
		Outcome:      outcome,
	}
}
