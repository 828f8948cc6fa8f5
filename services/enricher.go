package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

var (
	// moneyRegexp captures numeric dollar amounts with optional thousands separators
	moneyRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
)

// tierMultipliers scale the base money factor per credit band. Worse credit
// pays a higher factor.
var tierMultipliers = map[string]float64{
	"740+":    1.00,
	"700-739": 1.08,
	"675-699": 1.16,
	"640-674": 1.25,
	"601-639": 1.40,
	"0-600":   1.60,
}

// EnrichmentDefaults are the fallbacks applied when a scraped field is
// missing. They carry no documented provenance and are configurable, not
// authoritative business rules.
type EnrichmentDefaults struct {
	DiscountPct float64
	ResidualPct float64
	TermMonths  int
	Payment     float64
}

// Enricher derives lease financial terms from raw scraped offers. Enrichment
// is a pure function of the input offer plus the fixed constants held here,
// so identical inputs always yield identical outputs.
type Enricher struct {
	logger   *utils.Logger
	taxRate  float64
	fees     models.FeeSchedule
	defaults EnrichmentDefaults
}

// NewEnricher creates an Enricher with the given tax rate, fee schedule and
// fallback defaults.
func NewEnricher(logger *utils.Logger, taxRate float64, fees models.FeeSchedule, defaults EnrichmentDefaults) *Enricher {
	return &Enricher{
		logger:   logger,
		taxRate:  taxRate,
		fees:     fees,
		defaults: defaults,
	}
}

// Enrich derives all financial terms for one raw offer. It degrades to
// defaults when source fields are missing; an EnrichmentError is returned
// only for genuinely invalid numeric input.
func (e *Enricher) Enrich(raw *models.RawOffer) (*models.EnrichedOffer, error) {
	msrp := ParseMoney(raw.RawMSRP)
	if msrp <= 0 {
		return nil, &models.EnrichmentError{ExternalID: raw.ExternalID, Reason: "MSRP missing or non-positive"}
	}

	term := raw.TermMonths
	if term == 0 {
		term = e.defaults.TermMonths
		e.logger.Debug("[enricher] %s: term missing, defaulting to %d months", raw.ExternalID, term)
	}
	if term <= 0 {
		return nil, &models.EnrichmentError{ExternalID: raw.ExternalID, Reason: "non-positive lease term"}
	}

	discount := Round2(msrp * e.defaults.DiscountPct)
	sellingPrice := Round2(msrp - discount)

	residualPct := e.defaults.ResidualPct
	residualValue := Round2(msrp * residualPct)
	if residualValue >= sellingPrice {
		return nil, &models.EnrichmentError{ExternalID: raw.ExternalID, Reason: "residual value exceeds selling price"}
	}

	payment := ParseMoney(raw.RawPayment)
	if payment <= 0 {
		payment = e.defaults.Payment
		e.logger.Debug("[enricher] %s: advertised payment missing, defaulting to %.2f", raw.ExternalID, payment)
	}

	mf := ReverseMoneyFactor(payment, sellingPrice, residualValue, term, e.taxRate)

	offer := &models.EnrichedOffer{
		RawOffer:         *raw,
		MSRP:             msrp,
		Discount:         discount,
		SellingPrice:     sellingPrice,
		ResidualPercent:  residualPct,
		ResidualValue:    residualValue,
		TaxRate:          e.taxRate,
		MoneyFactor:      mf,
		TierMoneyFactors: make(map[string]float64, len(models.CreditTiers)),
		TierTerms:        make(map[string]int, len(models.CreditTiers)),
		TierPayments:     make(map[string]float64, len(models.CreditTiers)),
		Fees:             e.fees,
	}

	for _, tier := range models.CreditTiers {
		tierMF := Round4(mf * tierMultipliers[tier])
		tierTerm := tierTerm(tier, term)

		offer.TierMoneyFactors[tier] = tierMF
		offer.TierTerms[tier] = tierTerm
		offer.TierPayments[tier] = ForwardPayment(tierMF, sellingPrice, residualValue, tierTerm, e.taxRate)
	}

	return offer, nil
}

// ReverseMoneyFactor solves the lease payment formula backwards: given the
// advertised payment, recover the money factor that produces it. Clamped at
// zero so an over-discounted advertised payment never yields a negative rate.
func ReverseMoneyFactor(payment, sellingPrice, residualValue float64, termMonths int, taxRate float64) float64 {
	basePayment := payment / (1 + taxRate)
	depreciation := (sellingPrice - residualValue) / float64(termMonths)
	financeCharge := basePayment - depreciation
	return math.Max(0, financeCharge/(sellingPrice+residualValue))
}

// ForwardPayment computes the monthly payment from a money factor. This is the
// verification direction of ReverseMoneyFactor and drives tier payment tables.
func ForwardPayment(moneyFactor, sellingPrice, residualValue float64, termMonths int, taxRate float64) float64 {
	depreciation := (sellingPrice - residualValue) / float64(termMonths)
	financeCharge := (sellingPrice + residualValue) * moneyFactor
	return Round2((depreciation + financeCharge) * (1 + taxRate))
}

// tierTerm adjusts the lease term per credit band: strong credit keeps the
// base term, weak credit is stretched toward 48 months.
func tierTerm(tier string, baseTerm int) int {
	switch tier {
	case "740+", "700-739", "675-699":
		return baseTerm
	case "640-674":
		if baseTerm+12 < 48 {
			return baseTerm + 12
		}
		return 48
	default: // 601-639 and 0-600
		return 48
	}
}

// ParseMoney extracts a dollar amount from a raw scraped string.
// Examples: "$459/mo" → 459, "MSRP $41,995" → 41995, "" → 0.
func ParseMoney(raw string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	match := moneyRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return val
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round4 rounds to four decimals, the conventional money-factor precision.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
