package matcher

import (
	"fmt"
	"math"

	"po-reconciliation-service/internal/extractor"
	"po-reconciliation-service/internal/normalizer"

	"github.com/shopspring/decimal"
)

// FactorScore is one factor's similarity. A neutral factor carries no signal
// and is left out of the weighted sum.
type FactorScore struct {
	Value   float64 `json:"value"`
	Neutral bool    `json:"neutral"`
}

func neutral() FactorScore {
	return FactorScore{Neutral: true}
}

func scored(v float64) FactorScore {
	return FactorScore{Value: clamp01(v)}
}

func (f FactorScore) String() string {
	if f.Neutral {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", f.Value)
}

// FactorBreakdown explains a pair's score factor by factor
type FactorBreakdown struct {
	Code        FactorScore `json:"code_similarity"`
	Quantity    FactorScore `json:"quantity_similarity"`
	Price       FactorScore `json:"price_similarity"`
	Description FactorScore `json:"description_similarity"`
}

// MatchCandidatePair is the scored comparison of one PO item with one
// candidate item.
type MatchCandidatePair struct {
	POIndex        int             `json:"po_index"`
	CandidateIndex int             `json:"candidate_index"`
	Score          float64         `json:"score"`
	Breakdown      FactorBreakdown `json:"breakdown"`
}

// Scorer computes multi-factor similarity under one configuration
type Scorer struct {
	config *MatchingConfig

	qtyTolerance, qtyMaxDeviation     decimal.Decimal
	priceTolerance, priceMaxDeviation decimal.Decimal
}

// NewScorer creates a scorer. The configuration is expected to be valid.
func NewScorer(config *MatchingConfig) *Scorer {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Scorer{
		config:            config,
		qtyTolerance:      decimal.NewFromFloat(config.QuantityTolerance),
		qtyMaxDeviation:   decimal.NewFromFloat(config.QuantityMaxDeviation),
		priceTolerance:    decimal.NewFromFloat(config.PriceTolerance),
		priceMaxDeviation: decimal.NewFromFloat(config.PriceMaxDeviation),
	}
}

// Score compares po with candidate. It is pure and safe for concurrent use.
func (s *Scorer) Score(po, candidate *extractor.NormalizedItem) MatchCandidatePair {
	b := FactorBreakdown{
		Code:        CodeSimilarity(po, candidate),
		Quantity:    s.QuantitySimilarity(po.Quantity, candidate.Quantity),
		Price:       s.PriceSimilarity(po.Price, candidate.Price),
		Description: DescriptionSimilarity(po, candidate),
	}

	return MatchCandidatePair{
		POIndex:        po.Index,
		CandidateIndex: candidate.Index,
		Score:          s.combine(b),
		Breakdown:      b,
	}
}

// combine renormalizes the weights over the non-neutral factors
func (s *Scorer) combine(b FactorBreakdown) float64 {
	w := s.config.Weights
	var sum, weight float64
	for _, f := range []struct {
		score  FactorScore
		weight float64
	}{
		{b.Code, w.Code},
		{b.Quantity, w.Quantity},
		{b.Price, w.Price},
		{b.Description, w.Description},
	} {
		if f.score.Neutral {
			continue
		}
		sum += f.weight * f.score.Value
		weight += f.weight
	}

	if weight == 0 {
		return 0
	}
	return clamp01(sum / weight)
}

// CodeSimilarity is the Jaccard overlap of the code tokens. It is never
// neutral: two empty sets score 0.
func CodeSimilarity(a, b *extractor.NormalizedItem) FactorScore {
	return scored(normalizer.Jaccard(a.CodeTokens, b.CodeTokens))
}

// DescriptionSimilarity is the Jaccard overlap of the description tokens,
// neutral when neither side has any.
func DescriptionSimilarity(a, b *extractor.NormalizedItem) FactorScore {
	if a.DescriptionTokens.Len() == 0 && b.DescriptionTokens.Len() == 0 {
		return neutral()
	}
	return scored(normalizer.Jaccard(a.DescriptionTokens, b.DescriptionTokens))
}

// QuantitySimilarity is neutral when either quantity is missing and 0 when
// the units cannot be compared.
func (s *Scorer) QuantitySimilarity(a, b *extractor.Measure) FactorScore {
	if a == nil || b == nil {
		return neutral()
	}
	if !a.Comparable(b) {
		return scored(0)
	}
	return scored(band(a.Value, b.Value, s.qtyTolerance, s.qtyMaxDeviation))
}

// PriceSimilarity is neutral when either price is missing or the currencies
// differ.
func (s *Scorer) PriceSimilarity(a, b *extractor.Money) FactorScore {
	if a == nil || b == nil || a.Currency != b.Currency {
		return neutral()
	}
	return scored(band(a.Amount, b.Amount, s.priceTolerance, s.priceMaxDeviation))
}

// RelativeDeviation returns |a-b| / max(|a|,|b|), and 0 when both are 0.
func RelativeDeviation(a, b decimal.Decimal) decimal.Decimal {
	denom := decimal.Max(a.Abs(), b.Abs())
	if denom.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().DivRound(denom, 12)
}

// band is 1 within tolerance, 0 at or beyond maxDeviation, and linear between.
func band(a, b, tolerance, maxDeviation decimal.Decimal) float64 {
	d := RelativeDeviation(a, b)
	switch {
	case d.LessThanOrEqual(tolerance):
		return 1
	case d.GreaterThanOrEqual(maxDeviation):
		return 0
	}
	v, _ := maxDeviation.Sub(d).DivRound(maxDeviation.Sub(tolerance), 12).Float64()
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
