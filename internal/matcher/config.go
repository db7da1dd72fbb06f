// Package matcher provides the line-item scoring and assignment engine and its
// configuration.
//
// This package matches purchase order items against sales order or datasheet
// items whose codes, units and descriptions were written by different systems:
//   - Code similarity over canonical code tokens
//   - Quantity closeness after unit conversion, within a tolerance band
//   - Price closeness when both sides quote the same currency
//   - Description similarity over free-text tokens
//
// The engine uses a multi-stage approach:
//  1. Field extraction and normalization of every item
//  2. Pairwise scoring, in parallel over PO rows
//  3. Deterministic ordering of all scored pairs
//  4. Greedy one-to-one assignment above a confidence threshold
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.MinConfidence = 0.7
//
//	engine := matcher.NewMatchingEngine(config, nil, nil)
//	assignment, err := engine.Assign(poItems, candidates)
package matcher

import (
	"fmt"
	"math"
	"runtime"

	"po-reconciliation-service/pkg/errors"
)

// MatchType represents the confidence band of an accepted match. It helps
// decide how much manual review a match needs.
type MatchType int

const (
	// MatchExact represents a match that agrees on every available factor.
	MatchExact MatchType = iota

	// MatchClose represents a match with minor differences, typically a
	// quantity or price inside the decay band.
	MatchClose

	// MatchFuzzy represents a match that only just clears the threshold.
	// These matches usually need a manual look.
	MatchFuzzy

	// MatchNone indicates no candidate reached the minimum confidence.
	MatchNone
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	switch mt {
	case MatchExact:
		return "Exact"
	case MatchClose:
		return "Close"
	case MatchFuzzy:
		return "Fuzzy"
	case MatchNone:
		return "None"
	default:
		return "Unknown"
	}
}

// weightSumTolerance is how far the factor weights may drift from 1.
const weightSumTolerance = 1e-6

// MatchingConfig holds the scoring weights, tolerance bands and threshold for
// one reconciliation run. A run fails before any matching work if the
// configuration is invalid.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): balanced approach for most documents
//   - StrictMatchingConfig(): tight tolerances and a high threshold
//   - RelaxedMatchingConfig(): loose tolerances for exploratory runs
type MatchingConfig struct {
	// MinConfidence is the lowest score at which a pair is accepted (0.0 to 1.0)
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`

	// QuantityTolerance is the relative deviation still treated as equal
	QuantityTolerance float64 `json:"quantity_tolerance" mapstructure:"quantity_tolerance"`

	// QuantityMaxDeviation is the relative deviation at which the quantity factor reaches 0
	QuantityMaxDeviation float64 `json:"quantity_max_deviation" mapstructure:"quantity_max_deviation"`

	// PriceTolerance is the relative deviation still treated as equal
	PriceTolerance float64 `json:"price_tolerance" mapstructure:"price_tolerance"`

	// PriceMaxDeviation is the relative deviation at which the price factor reaches 0
	PriceMaxDeviation float64 `json:"price_max_deviation" mapstructure:"price_max_deviation"`

	// Workers bounds the goroutines used for pairwise scoring; 0 means GOMAXPROCS
	Workers int `json:"workers" mapstructure:"workers"`

	// DuplicateSimilarity is the Jaro-Winkler similarity above which PO codes are reported as duplicates
	DuplicateSimilarity float64 `json:"duplicate_similarity" mapstructure:"duplicate_similarity"`

	// ReportProgress logs scoring throughput for large runs
	ReportProgress bool `json:"report_progress" mapstructure:"report_progress"`

	// Weights are the relative importance of each factor; they must sum to 1
	Weights MatchingWeights `json:"weights" mapstructure:"weights"`
}

// MatchingWeights defines the relative importance of each scoring factor
type MatchingWeights struct {
	Code        float64 `json:"code" mapstructure:"code"`
	Quantity    float64 `json:"quantity" mapstructure:"quantity"`
	Price       float64 `json:"price" mapstructure:"price"`
	Description float64 `json:"description" mapstructure:"description"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MinConfidence:        0.6,
		QuantityTolerance:    0.01,
		QuantityMaxDeviation: 0.10,
		PriceTolerance:       0.01,
		PriceMaxDeviation:    0.10,
		DuplicateSimilarity:  0.97,
		Weights: MatchingWeights{
			Code:        0.5,
			Quantity:    0.2,
			Price:       0.15,
			Description: 0.15,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MinConfidence:        0.8,
		QuantityTolerance:    0.0,
		QuantityMaxDeviation: 0.05,
		PriceTolerance:       0.0,
		PriceMaxDeviation:    0.05,
		DuplicateSimilarity:  0.99,
		Weights: MatchingWeights{
			Code:        0.6,
			Quantity:    0.2,
			Price:       0.1,
			Description: 0.1,
		},
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MinConfidence:        0.45,
		QuantityTolerance:    0.05,
		QuantityMaxDeviation: 0.25,
		PriceTolerance:       0.05,
		PriceMaxDeviation:    0.25,
		DuplicateSimilarity:  0.95,
		Weights: MatchingWeights{
			Code:        0.4,
			Quantity:    0.2,
			Price:       0.15,
			Description: 0.25,
		},
	}
}

// Validate checks if the matching configuration is valid. Every failure is a
// configuration error.
func (mc *MatchingConfig) Validate() error {
	if math.IsNaN(mc.MinConfidence) || mc.MinConfidence < 0.0 || mc.MinConfidence > 1.0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_confidence", mc.MinConfidence,
			fmt.Errorf("minimum confidence must be between 0.0 and 1.0: %f", mc.MinConfidence))
	}

	if err := validateBand("quantity", mc.QuantityTolerance, mc.QuantityMaxDeviation); err != nil {
		return err
	}
	if err := validateBand("price", mc.PriceTolerance, mc.PriceMaxDeviation); err != nil {
		return err
	}

	if mc.Workers < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", mc.Workers,
			fmt.Errorf("workers cannot be negative: %d", mc.Workers))
	}

	if math.IsNaN(mc.DuplicateSimilarity) || mc.DuplicateSimilarity < 0.0 || mc.DuplicateSimilarity > 1.0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "duplicate_similarity", mc.DuplicateSimilarity,
			fmt.Errorf("duplicate similarity must be between 0.0 and 1.0: %f", mc.DuplicateSimilarity))
	}

	return mc.Weights.Validate()
}

func validateBand(name string, tolerance, maxDeviation float64) error {
	if math.IsNaN(tolerance) || tolerance < 0.0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, name+"_tolerance", tolerance,
			fmt.Errorf("%s tolerance cannot be negative: %f", name, tolerance))
	}
	if math.IsNaN(maxDeviation) || maxDeviation <= tolerance {
		return errors.ConfigurationError(errors.CodeConfigConflict, name+"_max_deviation", maxDeviation,
			fmt.Errorf("%s max deviation %f must exceed tolerance %f", name, maxDeviation, tolerance))
	}
	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"weights.code", mw.Code},
		{"weights.quantity", mw.Quantity},
		{"weights.price", mw.Price},
		{"weights.description", mw.Description},
	} {
		if math.IsNaN(w.value) || w.value < 0.0 || w.value > 1.0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, w.name, w.value,
				fmt.Errorf("weight must be between 0.0 and 1.0: %f", w.value))
		}
	}

	if total := mw.Sum(); math.Abs(total-1.0) > weightSumTolerance {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "weights", total,
			fmt.Errorf("weights must sum to 1.0, got %f", total))
	}

	return nil
}

// Sum returns the total of all four weights
func (mw MatchingWeights) Sum() float64 {
	return mw.Code + mw.Quantity + mw.Price + mw.Description
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// workerCount resolves Workers against the number of PO rows to score
func (mc *MatchingConfig) workerCount(rows int) int {
	n := mc.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > rows {
		n = rows
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ClassifyScore maps an accepted score onto a confidence band
func (mc *MatchingConfig) ClassifyScore(score float64) MatchType {
	switch {
	case score < mc.MinConfidence:
		return MatchNone
	case score >= 0.999:
		return MatchExact
	case score >= 0.85:
		return MatchClose
	default:
		return MatchFuzzy
	}
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{MinConfidence: %.2f, Weights: code=%.2f qty=%.2f price=%.2f desc=%.2f, QuantityBand: %.2f-%.2f, PriceBand: %.2f-%.2f}",
		mc.MinConfidence, mc.Weights.Code, mc.Weights.Quantity, mc.Weights.Price, mc.Weights.Description,
		mc.QuantityTolerance, mc.QuantityMaxDeviation, mc.PriceTolerance, mc.PriceMaxDeviation)
}
