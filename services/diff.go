package services

import (
	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

// DiffEngine compares a freshly enriched batch against the last committed
// snapshot and classifies every offer as added, removed, modified or
// unchanged.
type DiffEngine struct {
	logger *utils.Logger
}

// NewDiffEngine creates a DiffEngine with the given logger.
func NewDiffEngine(logger *utils.Logger) *DiffEngine {
	return &DiffEngine{logger: logger}
}

// DetectChanges builds identifier-keyed views of both sides and partitions
// the batch. Modified entries carry a delta limited to the changed fields.
func (d *DiffEngine) DetectChanges(previous models.Snapshot, batch []*models.EnrichedOffer) *models.DiffResult {
	result := &models.DiffResult{}

	current := make(map[string]*models.EnrichedOffer, len(batch))
	for _, offer := range batch {
		current[offer.ExternalID] = offer
	}

	for _, offer := range batch {
		old, known := previous[offer.ExternalID]
		if !known {
			result.Added = append(result.Added, offer)
			continue
		}

		delta := compareOffers(old, offer)
		if len(delta) == 0 {
			result.Unchanged = append(result.Unchanged, offer)
			continue
		}

		result.Modified = append(result.Modified, &models.OfferChange{
			ExternalID: offer.ExternalID,
			Old:        old,
			New:        offer,
			Delta:      delta,
		})
	}

	for id, old := range previous {
		if _, still := current[id]; !still {
			result.Removed = append(result.Removed, old)
		}
	}

	d.logger.Info("[diff] added=%d removed=%d modified=%d unchanged=%d",
		len(result.Added), len(result.Removed), len(result.Modified), len(result.Unchanged))

	return result
}

// compareOffers checks the fixed field set that triggers a republish. Fields
// outside this set (scrape timestamps, source metadata) never count as a
// modification.
func compareOffers(old, cur *models.EnrichedOffer) map[string]models.FieldChange {
	delta := make(map[string]models.FieldChange)

	if old.MSRP != cur.MSRP {
		delta["msrp"] = models.FieldChange{Old: old.MSRP, New: cur.MSRP}
	}
	if oldPay, newPay := old.TierPayments["740+"], cur.TierPayments["740+"]; oldPay != newPay {
		delta["payment"] = models.FieldChange{Old: oldPay, New: newPay}
	}
	if old.MoneyFactor != cur.MoneyFactor {
		delta["money_factor"] = models.FieldChange{Old: old.MoneyFactor, New: cur.MoneyFactor}
	}
	if old.TermMonths != cur.TermMonths {
		delta["term"] = models.FieldChange{Old: old.TermMonths, New: cur.TermMonths}
	}
	if old.ResidualValue != cur.ResidualValue {
		delta["residual"] = models.FieldChange{Old: old.ResidualValue, New: cur.ResidualValue}
	}
	if old.Discount != cur.Discount {
		delta["discount"] = models.FieldChange{Old: old.Discount, New: cur.Discount}
	}
	if !sameImages(old.Images, cur.Images) {
		delta["images"] = models.FieldChange{Old: imagePaths(old.Images), New: imagePaths(cur.Images)}
	}

	return delta
}

// sameImages compares by storage path. Paths are keyed by external ID plus a
// hash of the source URL, so identical source images always match.
func sameImages(a, b []models.ProcessedImage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].StoragePath != b[i].StoragePath {
			return false
		}
	}
	return true
}

func imagePaths(images []models.ProcessedImage) []string {
	paths := make([]string, 0, len(images))
	for _, img := range images {
		paths = append(paths, img.StoragePath)
	}
	return paths
}
