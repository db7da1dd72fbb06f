package matcher

import (
	"math"
	"testing"

	"po-reconciliation-service/pkg/errors"
)

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *MatchingConfig)
		wantErr bool
		setting string
	}{
		{"default", func(c *MatchingConfig) {}, false, ""},
		{"weights off by a rounding error", func(c *MatchingConfig) { c.Weights.Code += 1e-9 }, false, ""},
		{"weights do not sum to one", func(c *MatchingConfig) { c.Weights.Price = 0.2 }, true, "weights"},
		{"negative weight", func(c *MatchingConfig) { c.Weights.Code = -0.1; c.Weights.Description = 0.75 }, true, "weights.code"},
		{"weight above one", func(c *MatchingConfig) { c.Weights = MatchingWeights{Code: 1.5, Quantity: -0.5} }, true, "weights.code"},
		{"min confidence above one", func(c *MatchingConfig) { c.MinConfidence = 1.01 }, true, "min_confidence"},
		{"min confidence negative", func(c *MatchingConfig) { c.MinConfidence = -0.1 }, true, "min_confidence"},
		{"min confidence NaN", func(c *MatchingConfig) { c.MinConfidence = math.NaN() }, true, "min_confidence"},
		{"negative tolerance", func(c *MatchingConfig) { c.QuantityTolerance = -0.01 }, true, "quantity_tolerance"},
		{"max deviation not above tolerance", func(c *MatchingConfig) { c.PriceMaxDeviation = 0.01 }, true, "price_max_deviation"},
		{"negative workers", func(c *MatchingConfig) { c.Workers = -1 }, true, "workers"},
		{"duplicate similarity NaN", func(c *MatchingConfig) { c.DuplicateSimilarity = math.NaN() }, true, "duplicate_similarity"},
		{"duplicate similarity above one", func(c *MatchingConfig) { c.DuplicateSimilarity = 1.2 }, true, "duplicate_similarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)

			err := config.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			rerr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected a ReconcilerError, got %T", err)
			}
			if rerr.Category != errors.CategoryConfiguration {
				t.Errorf("expected configuration category, got %s", rerr.Category)
			}
			if rerr.Context["setting"] != tt.setting {
				t.Errorf("expected setting %q, got %v", tt.setting, rerr.Context["setting"])
			}
		})
	}
}

func TestConfigFactoriesAreValid(t *testing.T) {
	for name, config := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		if err := config.Validate(); err != nil {
			t.Errorf("%s config invalid: %v", name, err)
		}
	}

	if StrictMatchingConfig().MinConfidence <= DefaultMatchingConfig().MinConfidence {
		t.Error("strict config should have a higher threshold than the default")
	}
	if RelaxedMatchingConfig().MinConfidence >= DefaultMatchingConfig().MinConfidence {
		t.Error("relaxed config should have a lower threshold than the default")
	}
}

func TestMatchingConfigClone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()

	clone.Weights.Code = 0.1
	clone.MinConfidence = 0.9

	if original.Weights.Code != 0.5 || original.MinConfidence != 0.6 {
		t.Error("modifying the clone changed the original")
	}

	var nilConfig *MatchingConfig
	if nilConfig.Clone() != nil {
		t.Error("expected nil clone of nil config")
	}
}

func TestClassifyScore(t *testing.T) {
	config := DefaultMatchingConfig()

	tests := []struct {
		score float64
		want  MatchType
	}{
		{1, MatchExact},
		{0.9, MatchClose},
		{0.7, MatchFuzzy},
		{0.6, MatchFuzzy},
		{0.59, MatchNone},
	}

	for _, tt := range tests {
		if got := config.ClassifyScore(tt.score); got != tt.want {
			t.Errorf("ClassifyScore(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestWorkerCount(t *testing.T) {
	config := DefaultMatchingConfig()
	config.Workers = 4

	if got := config.workerCount(2); got != 2 {
		t.Errorf("expected workers capped by rows, got %d", got)
	}
	if got := config.workerCount(0); got != 1 {
		t.Errorf("expected at least one worker, got %d", got)
	}
	config.Workers = 0
	if got := config.workerCount(1000); got < 1 {
		t.Errorf("expected GOMAXPROCS workers, got %d", got)
	}
}
