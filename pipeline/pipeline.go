// Package pipeline sequences the ingest stages and owns commit-on-success
// semantics for all persisted state.
package pipeline

import (
	"context"
	"fmt"

	"lease-offer-sync/models"
	"lease-offer-sync/services"
	"lease-offer-sync/state"
	syncclient "lease-offer-sync/sync"
	"lease-offer-sync/utils"
)

// Extractor is the capability interface for the listing source. Alternative
// sources can be substituted without touching downstream stages.
type Extractor interface {
	ListOffers(ctx context.Context) ([]*models.RawOffer, error)
	FetchDetail(ctx context.Context, url string) (*models.RawOffer, error)
}

// AssetProcessor normalizes the images of a whole batch in place.
type AssetProcessor interface {
	ProcessBatch(ctx context.Context, offers []*models.EnrichedOffer)
}

// Syncer publishes offer changes into the downstream marketplace store.
type Syncer interface {
	SyncOffers(ctx context.Context, offers []*models.EnrichedOffer, ids *syncclient.IdentityMap) models.SyncOutcome
	MarkInactive(ctx context.Context, downstreamID string) bool
}

// RunOptions controls a single pipeline invocation.
type RunOptions struct {
	// Force bypasses the scheduler's staleness check.
	Force bool
}

// Orchestrator wires the stages: scheduler gate → extract → enrich →
// process assets → diff → sync → commit. Any fatal stage error aborts the
// run and leaves previously committed state untouched.
type Orchestrator struct {
	logger    *utils.Logger
	scheduler *Scheduler
	extractor Extractor
	enricher  *services.Enricher
	assets    AssetProcessor
	differ    *services.DiffEngine
	syncer    Syncer
	store     state.Store
}

// NewOrchestrator assembles a pipeline from its stages.
func NewOrchestrator(
	logger *utils.Logger,
	scheduler *Scheduler,
	extractor Extractor,
	enricher *services.Enricher,
	assets AssetProcessor,
	differ *services.DiffEngine,
	syncer Syncer,
	store state.Store,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		scheduler: scheduler,
		extractor: extractor,
		enricher:  enricher,
		assets:    assets,
		differ:    differ,
		syncer:    syncer,
		store:     store,
	}
}

// Run executes one full pipeline cycle. Returns nil when the run succeeds or
// is legitimately skipped (scheduler gate, overlapping run).
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	if !o.scheduler.TryAcquire() {
		o.logger.Warn("[pipeline] Another run is active — trigger dropped")
		return nil
	}
	defer o.scheduler.Release()

	lastRun, err := o.store.LoadRunRecord()
	if err != nil {
		return o.fatal("load state", err)
	}

	run, reason := o.scheduler.ShouldRun(lastRun, opts.Force)
	o.logger.Info("[pipeline] Scheduler decision: run=%t (%s)", run, reason)
	if !run {
		return nil
	}

	snapshot, err := o.store.LoadSnapshot()
	if err != nil {
		return o.fatal("load state", err)
	}
	identity, err := o.store.LoadIdentityMap()
	if err != nil {
		return o.fatal("load state", err)
	}

	raw, err := o.extractor.ListOffers(ctx)
	if err != nil {
		return o.fatal("extract", err)
	}
	o.logger.Info("[pipeline] Extracted %d raw offers", len(raw))

	batch := o.enrichBatch(raw)
	if len(batch) == 0 {
		return o.fatal("enrich", fmt.Errorf("all %d offers failed enrichment", len(raw)))
	}

	o.assets.ProcessBatch(ctx, batch)

	diff := o.differ.DetectChanges(snapshot, batch)

	return o.publish(ctx, diff, syncclient.NewIdentityMap(identity), len(raw), false)
}

// RefreshFinancials is the lightweight hourly cycle: re-derive financial
// tables from the committed snapshot's raw fields without scraping, then
// diff, sync and commit. Previously processed images are carried over. The
// last-run record is left untouched so the staleness gate still schedules
// the next full scrape.
func (o *Orchestrator) RefreshFinancials(ctx context.Context) error {
	if !o.scheduler.TryAcquire() {
		o.logger.Warn("[pipeline] Another run is active — refresh dropped")
		return nil
	}
	defer o.scheduler.Release()

	snapshot, err := o.store.LoadSnapshot()
	if err != nil {
		return o.fatal("load state", err)
	}
	if len(snapshot) == 0 {
		o.logger.Info("[pipeline] No committed snapshot yet — nothing to refresh")
		return nil
	}
	identity, err := o.store.LoadIdentityMap()
	if err != nil {
		return o.fatal("load state", err)
	}

	batch := make([]*models.EnrichedOffer, 0, len(snapshot))
	for _, prev := range snapshot {
		rawCopy := prev.RawOffer
		offer, err := o.enricher.Enrich(&rawCopy)
		if err != nil {
			o.logger.Warn("[pipeline] %v — keeping previous terms", err)
			offer = prev
		} else {
			offer.Images = prev.Images
		}
		batch = append(batch, offer)
	}

	diff := o.differ.DetectChanges(snapshot, batch)
	return o.publish(ctx, diff, syncclient.NewIdentityMap(identity), 0, true)
}

// enrichBatch derives financial terms for each raw offer. An offer failing
// enrichment is excluded from the batch; the run proceeds without it.
func (o *Orchestrator) enrichBatch(raw []*models.RawOffer) []*models.EnrichedOffer {
	batch := make([]*models.EnrichedOffer, 0, len(raw))
	for _, r := range raw {
		offer, err := o.enricher.Enrich(r)
		if err != nil {
			o.logger.Warn("[pipeline] %v — offer excluded", err)
			continue
		}
		batch = append(batch, offer)
	}
	return batch
}

// publish syncs the diff downstream and commits all state as the final step.
// A refresh commits without a run record: only a full scrape may reset the
// staleness clock.
func (o *Orchestrator) publish(ctx context.Context, diff *models.DiffResult, ids *syncclient.IdentityMap, scrapedCount int, refresh bool) error {
	var outcome models.SyncOutcome

	upserts := make([]*models.EnrichedOffer, 0, len(diff.Added)+len(diff.Modified))
	upserts = append(upserts, diff.Added...)
	for _, change := range diff.Modified {
		upserts = append(upserts, change.New)
	}

	if len(upserts) > 0 {
		outcome = o.syncer.SyncOffers(ctx, upserts, ids)
	}

	for _, removed := range diff.Removed {
		downstreamID, known := ids.Get(removed.ExternalID)
		if !known {
			o.logger.Warn("[pipeline] Removed offer %s has no identity mapping — nothing to deactivate", removed.ExternalID)
			continue
		}
		if o.syncer.MarkInactive(ctx, downstreamID) {
			outcome.Deactivated++
		} else {
			outcome.Failed++
		}
	}

	newSnapshot := make(models.Snapshot, len(diff.Added)+len(diff.Modified)+len(diff.Unchanged))
	for _, offer := range diff.Added {
		newSnapshot[offer.ExternalID] = offer
	}
	for _, change := range diff.Modified {
		newSnapshot[change.ExternalID] = change.New
	}
	for _, offer := range diff.Unchanged {
		newSnapshot[offer.ExternalID] = offer
	}

	var record *models.RunRecord
	if !refresh {
		record = RecordRun(scrapedCount, outcome)
	}
	if err := o.store.Commit(newSnapshot, ids.Entries(), record, diff); err != nil {
		return o.fatal("commit", err)
	}

	if refresh {
		o.logger.Info("[pipeline] Refresh committed — offers=%d updated=%d deactivated=%d failed=%d",
			len(newSnapshot), outcome.Updated, outcome.Deactivated, outcome.Failed)
	} else {
		o.logger.Info("[pipeline] Run committed — scraped=%d imported=%d updated=%d deactivated=%d failed=%d",
			scrapedCount, outcome.Imported, outcome.Updated, outcome.Deactivated, outcome.Failed)
	}
	return nil
}

func (o *Orchestrator) fatal(stage string, err error) error {
	o.logger.Error("[pipeline] Stage %q failed: %v", stage, err)
	return fmt.Errorf("pipeline stage %s: %w", stage, err)
}
