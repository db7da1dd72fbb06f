package reconciler

import (
	"fmt"
	"strings"
	"time"

	"po-reconciliation-service/internal/extractor"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/pkg/logger"
)

// DataPreprocessor cleans parsed line items before matching. It never
// modifies its input; cleaned items are copies.
type DataPreprocessor struct {
	config *PreprocessingConfig
	logger logger.Logger
}

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	// String normalization options
	TrimWhitespace bool `json:"trim_whitespace" mapstructure:"trim_whitespace"`
	UppercaseCodes bool `json:"uppercase_codes" mapstructure:"uppercase_codes"`

	// FixCommonErrors upper-cases units and maps currency symbols onto ISO codes
	FixCommonErrors bool `json:"fix_common_errors" mapstructure:"fix_common_errors"`

	// RemoveDuplicates drops rows identical on every field. It changes the
	// PO item count, so it is off by default.
	RemoveDuplicates bool `json:"remove_duplicates" mapstructure:"remove_duplicates"`

	// ValidateItems counts LineItem.Validate issues; items are kept either way
	ValidateItems bool `json:"validate_items" mapstructure:"validate_items"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:   true,
		UppercaseCodes:   false,
		FixCommonErrors:  true,
		RemoveDuplicates: false,
		ValidateItems:    true,
	}
}

// PreprocessingStats contains statistics about one preprocessing pass
type PreprocessingStats struct {
	TotalRecordsProcessed int           `json:"total_records_processed"`
	RecordsFixed          int           `json:"records_fixed"`
	RecordsRemoved        int           `json:"records_removed"`
	ValidationIssues      int           `json:"validation_issues"`
	ProcessingTime        time.Duration `json:"processing_time"`
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}

	return &DataPreprocessor{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("preprocessor"),
	}
}

// PreprocessItems returns cleaned copies of items in input order
func (dp *DataPreprocessor) PreprocessItems(items []*models.LineItem) ([]*models.LineItem, *PreprocessingStats) {
	start := time.Now()
	stats := &PreprocessingStats{}
	processed := make([]*models.LineItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}
		stats.TotalRecordsProcessed++

		clean, fixed := dp.preprocessItem(item)
		if fixed {
			stats.RecordsFixed++
		}
		if dp.config.ValidateItems {
			stats.ValidationIssues += len(clean.Validate())
		}
		processed = append(processed, clean)
	}

	if dp.config.RemoveDuplicates {
		before := len(processed)
		processed = removeDuplicateItems(processed)
		stats.RecordsRemoved = before - len(processed)
	}

	stats.ProcessingTime = time.Since(start)
	dp.logger.WithFields(logger.Fields{
		"processed":         stats.TotalRecordsProcessed,
		"fixed":             stats.RecordsFixed,
		"removed":           stats.RecordsRemoved,
		"validation_issues": stats.ValidationIssues,
	}).Debug("Preprocessed line items")

	return processed, stats
}

// preprocessItem copies item and applies the string rules. fixed reports
// whether any field changed.
func (dp *DataPreprocessor) preprocessItem(item *models.LineItem) (*models.LineItem, bool) {
	clean := *item

	clean.RawCode = dp.normalizeString(clean.RawCode)
	if dp.config.UppercaseCodes {
		clean.RawCode = strings.ToUpper(clean.RawCode)
	}
	clean.RawDescription = dp.normalizeString(clean.RawDescription)
	clean.ID = dp.normalizeString(clean.ID)
	clean.Unit = dp.normalizeString(clean.Unit)
	clean.Currency = dp.normalizeString(clean.Currency)
	clean.ProvenanceTag = dp.normalizeString(clean.ProvenanceTag)

	if dp.config.FixCommonErrors {
		clean.Unit = strings.ToUpper(strings.TrimSuffix(clean.Unit, "."))
		if clean.Currency != "" {
			clean.Currency = extractor.NormalizeCurrency(clean.Currency)
		}
	}

	return &clean, clean != *item
}

func (dp *DataPreprocessor) normalizeString(s string) string {
	if dp.config.TrimWhitespace {
		return strings.Join(strings.Fields(s), " ")
	}
	return s
}

// removeDuplicateItems keeps the first of each group of identical rows
func removeDuplicateItems(items []*models.LineItem) []*models.LineItem {
	seen := make(map[string]bool, len(items))
	var unique []*models.LineItem

	for _, item := range items {
		key := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
			item.Source,
			item.RawCode,
			item.RawDescription,
			item.Quantity.Decimal.String()+fmt.Sprint(item.Quantity.Valid),
			item.Unit,
			item.UnitPrice.Decimal.String()+fmt.Sprint(item.UnitPrice.Valid),
			item.Currency)

		if !seen[key] {
			seen[key] = true
			unique = append(unique, item)
		}
	}

	return unique
}
