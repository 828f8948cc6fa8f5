package models

import "time"

// RawOffer holds unprocessed lease-offer data exactly as scraped from the
// dealer inventory page. Missing source fields are empty strings, never errors.
type RawOffer struct {
	ExternalID       string    `json:"external_id"`
	Title            string    `json:"title"`
	RawPayment       string    `json:"raw_payment"`
	RawMSRP          string    `json:"raw_msrp"`
	ImageURLs        []string  `json:"image_urls"`
	TermMonths       int       `json:"term_months"`
	MileageAllowance int       `json:"mileage_allowance"`
	ScrapedAt        time.Time `json:"scraped_at"`
	Source           string    `json:"source"`
	DetailURL        string    `json:"detail_url,omitempty"`
}

// ProcessedImage is one re-encoded inventory photo written to local storage.
type ProcessedImage struct {
	SourceURL   string `json:"source_url"`
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
}

// FeeSchedule is the fixed set of lease fees attached to every offer.
type FeeSchedule struct {
	Acquisition   float64 `json:"acquisition"`
	Documentation float64 `json:"documentation"`
	Disposition   float64 `json:"disposition"`
}

// CreditTiers lists the credit bands from best to worst. Tier tables are keyed
// by these strings; iteration order matters for payment table generation.
var CreditTiers = []string{"740+", "700-739", "675-699", "640-674", "601-639", "0-600"}

// EnrichedOffer is a RawOffer with all derived financial terms attached.
// Enrichment is a pure function of the RawOffer plus fixed constants, so an
// EnrichedOffer is immutable once produced.
type EnrichedOffer struct {
	RawOffer

	MSRP            float64 `json:"msrp"`
	Discount        float64 `json:"discount"`
	SellingPrice    float64 `json:"selling_price"`
	ResidualPercent float64 `json:"residual_percent"`
	ResidualValue   float64 `json:"residual_value"`
	TaxRate         float64 `json:"tax_rate"`
	MoneyFactor     float64 `json:"money_factor"`

	TierMoneyFactors map[string]float64 `json:"tier_money_factors"`
	TierTerms        map[string]int     `json:"tier_terms"`
	TierPayments     map[string]float64 `json:"tier_payments"`

	Fees   FeeSchedule      `json:"fees"`
	Images []ProcessedImage `json:"images"`
}

// Snapshot maps external identifier to the last committed offer. Exactly one
// snapshot is current at any time; it is replaced atomically after a run.
type Snapshot map[string]*EnrichedOffer

// FieldChange records one changed field inside a modified offer.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// OfferChange pairs the previous and current version of a modified offer with
// a delta limited to the fields that actually changed.
type OfferChange struct {
	ExternalID string                 `json:"external_id"`
	Old        *EnrichedOffer         `json:"old"`
	New        *EnrichedOffer         `json:"new"`
	Delta      map[string]FieldChange `json:"delta"`
}

// DiffResult partitions a new batch against the previous snapshot into four
// disjoint sets.
type DiffResult struct {
	Added     []*EnrichedOffer `json:"added"`
	Removed   []*EnrichedOffer `json:"removed"`
	Modified  []*OfferChange   `json:"modified"`
	Unchanged []*EnrichedOffer `json:"unchanged"`
}

// HasChanges reports whether the diff contains anything worth syncing.
func (d *DiffResult) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}

// SyncOutcome aggregates per-item results of one sync stage.
type SyncOutcome struct {
	Imported    int `json:"imported"`
	Updated     int `json:"updated"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

// RunRecord is the persisted summary of the last completed run, used by the
// scheduler to judge staleness.
type RunRecord struct {
	Timestamp    time.Time   `json:"timestamp"`
	ScrapedCount int         `json:"scraped_count"`
	Outcome      SyncOutcome `json:"outcome"`
}
