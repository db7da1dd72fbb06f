// Package reconciler runs a complete PO reconciliation: it loads the
// documents through the parsers package, matches PO items against the
// SO/datasheet candidates and summarizes the outcome.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(matcher.DefaultMatchingConfig(), nil)
//	if err != nil {
//		return err
//	}
//
//	result, err := service.ProcessReconciliation(ctx, &reconciler.ReconciliationRequest{
//		POFile:         "po.xlsx",
//		CandidateFiles: []string{"datasheet.xlsx"},
//		MappingFile:    "code_mappings.csv",
//	})
package reconciler

import (
	"context"
	"fmt"
	"time"

	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/internal/parsers"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	// MaxConcurrentFiles bounds how many candidate documents are parsed at once
	MaxConcurrentFiles int `json:"max_concurrent_files" mapstructure:"max_concurrent_files"`

	// Preprocess cleans parsed items before matching
	Preprocess    bool                 `json:"preprocess" mapstructure:"preprocess"`
	Preprocessing *PreprocessingConfig `json:"preprocessing" mapstructure:"preprocessing"`

	// IncludeParseStats attaches per-file parse statistics to the result
	IncludeParseStats bool `json:"include_parse_stats" mapstructure:"include_parse_stats"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentFiles: 4,
		Preprocess:         true,
		Preprocessing:      DefaultPreprocessingConfig(),
		IncludeParseStats:  true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("max concurrent files must be positive, got %d", c.MaxConcurrentFiles)
	}
	return nil
}

// ReconciliationRequest names the documents of one run
type ReconciliationRequest struct {
	POFile         string   `json:"po_file"`
	CandidateFiles []string `json:"candidate_files"`
	MappingFile    string   `json:"mapping_file,omitempty"`

	// POConfig defaults to DefaultLineItemParserConfig(SourcePO)
	POConfig *parsers.LineItemParserConfig `json:"po_config,omitempty"`

	// CandidateConfig applies to every candidate file without an entry in
	// CandidateConfigs. It defaults to the datasheet source.
	CandidateConfig  *parsers.LineItemParserConfig            `json:"candidate_config,omitempty"`
	CandidateConfigs map[string]*parsers.LineItemParserConfig `json:"candidate_configs,omitempty"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if r.POFile == "" {
		return fmt.Errorf("PO file path is required")
	}
	if len(r.CandidateFiles) == 0 {
		return fmt.Errorf("at least one SO or datasheet file is required")
	}
	if r.POConfig != nil && r.POConfig.Source != models.SourcePO {
		return fmt.Errorf("PO parser configuration must use source %q, got %q", models.SourcePO, r.POConfig.Source)
	}
	for path, config := range r.CandidateConfigs {
		if config != nil && !config.Source.IsCandidate() {
			return fmt.Errorf("candidate file %s must use an SO or datasheet source, got %q", path, config.Source)
		}
	}
	if r.CandidateConfig != nil && !r.CandidateConfig.Source.IsCandidate() {
		return fmt.Errorf("candidate parser configuration must use an SO or datasheet source, got %q", r.CandidateConfig.Source)
	}
	return nil
}

func (r *ReconciliationRequest) poConfig() *parsers.LineItemParserConfig {
	if r.POConfig != nil {
		return r.POConfig
	}
	return parsers.DefaultLineItemParserConfig(models.SourcePO)
}

func (r *ReconciliationRequest) candidateConfig(path string) *parsers.LineItemParserConfig {
	if config, ok := r.CandidateConfigs[path]; ok && config != nil {
		return config
	}
	if r.CandidateConfig != nil {
		return r.CandidateConfig
	}
	return parsers.DefaultLineItemParserConfig(models.SourceDatasheet)
}

// ReconciliationService orchestrates the complete reconciliation process.
// It holds no per-run state, so one service may serve concurrent runs.
type ReconciliationService struct {
	matchingConfig *matcher.MatchingConfig
	config         *Config
	lexicon        *normalizer.Lexicon
	logger         logger.Logger
}

// NewReconciliationService creates a new reconciliation service. Both
// configurations are validated up front; nil selects the defaults.
func NewReconciliationService(matchingConfig *matcher.MatchingConfig, config *Config) (*ReconciliationService, error) {
	if matchingConfig == nil {
		matchingConfig = matcher.DefaultMatchingConfig()
	}
	if config == nil {
		config = DefaultConfig()
	}

	if err := matchingConfig.Validate(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciliation_config", config.MaxConcurrentFiles, err)
	}

	return &ReconciliationService{
		matchingConfig: matchingConfig.Clone(),
		config:         config,
		lexicon:        normalizer.NewLexicon(),
		logger:         logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}, nil
}

// WithLexicon sets the synonyms, affixes and code mappings of every run. A
// request's mapping file is loaded into a copy of it. The lexicon must not be
// modified while runs are in progress.
func (rs *ReconciliationService) WithLexicon(lex *normalizer.Lexicon) *ReconciliationService {
	if lex != nil {
		rs.lexicon = lex
	}
	return rs
}

// GetMatchingConfig returns a copy of the matching configuration
func (rs *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return rs.matchingConfig.Clone()
}

// ProcessReconciliation loads the request's documents and reconciles them
func (rs *ReconciliationService) ProcessReconciliation(ctx context.Context, request *ReconciliationRequest) (*ReconciliationResult, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_request", request.POFile, err).
			WithSuggestion("Provide a PO file and at least one SO or datasheet file")
	}

	start := time.Now()
	log := rs.logger.WithFields(logger.Fields{
		"po_file":         request.POFile,
		"candidate_files": len(request.CandidateFiles),
	})
	log.Info("Starting reconciliation")

	// Step 1: Load code mappings
	lex := rs.lexicon
	var mappingStats *parsers.MappingStats
	if request.MappingFile != "" {
		lex = rs.lexicon.Clone()
		stats, err := parsers.LoadCodeMappingsInto(ctx, request.MappingFile, lex)
		if err != nil {
			return nil, err
		}
		mappingStats = stats
	}

	// Step 2: Parse PO items
	poParser, err := parsers.NewLineItemParser(request.poConfig())
	if err != nil {
		return nil, err
	}
	poItems, poStats, err := poParser.ParseFile(ctx, request.POFile)
	if err != nil {
		return nil, err
	}

	// Step 3: Parse SO and datasheet documents concurrently
	specs := make([]parsers.FileSpec, len(request.CandidateFiles))
	for i, path := range request.CandidateFiles {
		specs[i] = parsers.FileSpec{Path: path, Config: request.candidateConfig(path)}
	}
	results := parsers.NewConcurrentParser(rs.config.MaxConcurrentFiles).ParseFiles(ctx, specs)

	candidates := make([]*models.LineItem, 0)
	parseStats := []*parsers.ParseStats{poStats}
	for _, r := range results {
		if r.Error != nil {
			log.WithError(r.Error).WithField("file_path", r.FilePath).Error("Failed to parse candidate document")
			return nil, r.Error
		}
		candidates = append(candidates, r.Items...)
		parseStats = append(parseStats, r.Stats)
	}
	rs.logParseWarnings(parseStats)

	// Step 4: Clean items
	var prepStats *PreprocessingStats
	if rs.config.Preprocess {
		prep := NewDataPreprocessor(rs.config.Preprocessing)
		var candStats *PreprocessingStats
		poItems, prepStats = prep.PreprocessItems(poItems)
		candidates, candStats = prep.PreprocessItems(candidates)
		prepStats.TotalRecordsProcessed += candStats.TotalRecordsProcessed
		prepStats.RecordsFixed += candStats.RecordsFixed
		prepStats.RecordsRemoved += candStats.RecordsRemoved
		prepStats.ValidationIssues += candStats.ValidationIssues
		prepStats.ProcessingTime += candStats.ProcessingTime
	}

	// Step 5: Match and summarize
	result, err := rs.reconcile(ctx, poItems, candidates, rs.matchingConfig, lex)
	if err != nil {
		return nil, err
	}

	if rs.config.IncludeParseStats {
		result.ParseStats = parseStats
	}
	result.MappingStats = mappingStats
	result.PreprocessingStats = prepStats
	result.ProcessingDuration = time.Since(start)

	log.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"matched":    result.MatchedCount,
		"mismatched": result.MismatchedCount,
		"duration":   result.ProcessingDuration.String(),
	}).Info("Reconciliation completed")

	return result, nil
}

// Reconcile matches in-memory items with the service configuration
func (rs *ReconciliationService) Reconcile(ctx context.Context, po, candidates []*models.LineItem) (*ReconciliationResult, error) {
	return rs.ReconcileWithConfig(ctx, po, candidates, rs.matchingConfig)
}

// ReconcileWithConfig matches in-memory items with a per-call matching
// configuration, which is validated before any work is done.
func (rs *ReconciliationService) ReconcileWithConfig(ctx context.Context, po, candidates []*models.LineItem, config *matcher.MatchingConfig) (*ReconciliationResult, error) {
	if config == nil {
		config = rs.matchingConfig
	}
	start := time.Now()
	result, err := rs.reconcile(ctx, po, candidates, config, rs.lexicon)
	if err != nil {
		return nil, err
	}
	result.ProcessingDuration = time.Since(start)
	return result, nil
}

func (rs *ReconciliationService) reconcile(ctx context.Context, po, candidates []*models.LineItem, config *matcher.MatchingConfig, lex *normalizer.Lexicon) (*ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "reconcile", err)
	}

	engine := matcher.NewMatchingEngine(config.Clone(), normalizer.New(lex), rs.logger)
	assignment, err := engine.Assign(po, candidates)
	if err != nil {
		return nil, err
	}

	return NewSummarizer(config, rs.logger).Summarize(assignment, len(po)), nil
}

// logParseWarnings reports row-level warnings from every document at once
func (rs *ReconciliationService) logParseWarnings(stats []*parsers.ParseStats) {
	collector := errors.NewParseErrorCollector(0, true)
	total := 0
	for _, s := range stats {
		if s == nil {
			continue
		}
		total += s.WarningCount
		for _, w := range s.Warnings {
			collector.Add(w)
		}
	}
	if !collector.HasErrors() {
		return
	}

	summary := collector.GetSummary()
	log := rs.logger.WithFields(logger.Fields{
		"warning_count": total,
		"by_category":   summary.ByCategory,
	})
	if summary.HasCode(errors.CodeInvalidQuantity) || summary.HasCode(errors.CodeInvalidPrice) {
		log = log.WithField("impact", "unreadable quantities and prices are left out of the affected scores")
	}
	log.Warn(errors.FormatParseErrorsForUser(collector.GetErrors()))
}
