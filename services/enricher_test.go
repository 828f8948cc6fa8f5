package services

import (
	"errors"
	"math"
	"testing"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

func testDefaults() EnrichmentDefaults {
	return EnrichmentDefaults{
		DiscountPct: 0.05,
		ResidualPct: 0.60,
		TermMonths:  36,
		Payment:     399,
	}
}

func testFees() models.FeeSchedule {
	return models.FeeSchedule{Acquisition: 895, Documentation: 85, Disposition: 395}
}

func TestReverseMoneyFactor(t *testing.T) {
	// selling 30000, residual 18000, term 36, payment 450, tax 9.25%
	mf := ReverseMoneyFactor(450, 30000, 18000, 36, 0.0925)

	if math.Abs(mf-0.00164) > 0.0001 {
		t.Errorf("money factor: got %.5f, want ≈0.00164", mf)
	}
}

func TestMoneyFactorRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		payment  float64
		selling  float64
		residual float64
		term     int
		tax      float64
	}{
		{"mid-size sedan", 450, 30000, 18000, 36, 0.0925},
		{"luxury suv", 899, 72000, 43000, 36, 0.0825},
		{"compact", 249, 24000, 15500, 39, 0.06},
		{"long term", 520, 45000, 22000, 48, 0.0925},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := ReverseMoneyFactor(tt.payment, tt.selling, tt.residual, tt.term, tt.tax)
			back := ForwardPayment(mf, tt.selling, tt.residual, tt.term, tt.tax)

			if math.Abs(back-tt.payment) > 1 {
				t.Errorf("round trip: got %.2f, want within $1 of %.2f", back, tt.payment)
			}
		})
	}
}

func TestReverseMoneyFactorClampsAtZero(t *testing.T) {
	// Payment far below depreciation can't produce a negative rate.
	mf := ReverseMoneyFactor(100, 30000, 18000, 36, 0.0925)
	if mf != 0 {
		t.Errorf("money factor: got %.5f, want 0", mf)
	}
}

func TestEnrichTierMonotonicity(t *testing.T) {
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())

	offer, err := e.Enrich(&models.RawOffer{
		ExternalID: "STK1001",
		RawMSRP:    "$41,995",
		RawPayment: "$459/mo",
		TermMonths: 36,
	})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}

	for i := 1; i < len(models.CreditTiers); i++ {
		better, worse := models.CreditTiers[i-1], models.CreditTiers[i]
		if offer.TierMoneyFactors[worse] < offer.TierMoneyFactors[better] {
			t.Errorf("tier %s MF %.4f below tier %s MF %.4f",
				worse, offer.TierMoneyFactors[worse], better, offer.TierMoneyFactors[better])
		}
	}
}

func TestEnrichTierTerms(t *testing.T) {
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())

	offer, err := e.Enrich(&models.RawOffer{
		ExternalID: "STK1002",
		RawMSRP:    "$35,000",
		RawPayment: "$399",
		TermMonths: 36,
	})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}

	tests := []struct {
		tier string
		want int
	}{
		{"740+", 36},
		{"700-739", 36},
		{"675-699", 36},
		{"640-674", 48},
		{"601-639", 48},
		{"0-600", 48},
	}

	for _, tt := range tests {
		if got := offer.TierTerms[tt.tier]; got != tt.want {
			t.Errorf("tier %s term: got %d, want %d", tt.tier, got, tt.want)
		}
	}
}

func TestEnrichTierTermCaps(t *testing.T) {
	// 640-674 uses min(base+12, 48): a 42-month base still caps at 48.
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())

	offer, err := e.Enrich(&models.RawOffer{
		ExternalID: "STK1003",
		RawMSRP:    "$35,000",
		RawPayment: "$399",
		TermMonths: 42,
	})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}

	if got := offer.TierTerms["640-674"]; got != 48 {
		t.Errorf("640-674 term: got %d, want 48", got)
	}
}

func TestEnrichDefaults(t *testing.T) {
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())

	// Missing payment and term degrade to defaults, never fail the offer.
	offer, err := e.Enrich(&models.RawOffer{
		ExternalID: "STK1004",
		RawMSRP:    "$40,000",
	})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}

	if offer.Discount != 2000 {
		t.Errorf("discount: got %.2f, want 2000 (5%% of MSRP)", offer.Discount)
	}
	if offer.SellingPrice != 38000 {
		t.Errorf("selling price: got %.2f, want 38000", offer.SellingPrice)
	}
	if offer.ResidualValue != 24000 {
		t.Errorf("residual: got %.2f, want 24000 (60%% of MSRP)", offer.ResidualValue)
	}
	if offer.TierTerms["740+"] != 36 {
		t.Errorf("default term: got %d, want 36", offer.TierTerms["740+"])
	}
}

func TestEnrichInvalidInput(t *testing.T) {
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())

	tests := []struct {
		name string
		raw  models.RawOffer
	}{
		{"missing msrp", models.RawOffer{ExternalID: "X1", RawPayment: "$399"}},
		{"negative term", models.RawOffer{ExternalID: "X2", RawMSRP: "$30,000", TermMonths: -12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Enrich(&tt.raw)
			var enrichErr *models.EnrichmentError
			if !errors.As(err, &enrichErr) {
				t.Fatalf("got %v, want EnrichmentError", err)
			}
			if enrichErr.ExternalID != tt.raw.ExternalID {
				t.Errorf("error external id: got %s, want %s", enrichErr.ExternalID, tt.raw.ExternalID)
			}
		})
	}
}

func TestEnrichIsDeterministic(t *testing.T) {
	e := NewEnricher(newTestLogger(), 0.0925, testFees(), testDefaults())
	raw := models.RawOffer{ExternalID: "STK1005", RawMSRP: "$52,500", RawPayment: "$615/mo", TermMonths: 36}

	first, err := e.Enrich(&raw)
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	second, err := e.Enrich(&raw)
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}

	if first.MoneyFactor != second.MoneyFactor {
		t.Errorf("money factor differs across identical inputs: %.6f vs %.6f",
			first.MoneyFactor, second.MoneyFactor)
	}
	for _, tier := range models.CreditTiers {
		if first.TierPayments[tier] != second.TierPayments[tier] {
			t.Errorf("tier %s payment differs: %.2f vs %.2f",
				tier, first.TierPayments[tier], second.TierPayments[tier])
		}
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"$459/mo", 459},
		{"MSRP $41,995", 41995},
		{"$1,200.50", 1200.50},
		{"", 0},
		{"call for price", 0},
	}

	for _, tt := range tests {
		if got := ParseMoney(tt.raw); got != tt.want {
			t.Errorf("ParseMoney(%q) = %.2f; want %.2f", tt.raw, got, tt.want)
		}
	}
}
