package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/internal/parsers"
	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/internal/reporter"
	"po-reconciliation-service/internal/server"
	"po-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// Matching profiles selectable with --profile
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// Viper keys. Config files nest them (matching: {min_confidence: 0.7}) and
// environment variables use RECONCILER_ plus the key with dots replaced by
// underscores (RECONCILER_MATCHING_MIN_CONFIDENCE).
const (
	KeyProfile              = "matching.profile"
	KeyMinConfidence        = "matching.min_confidence"
	KeyQuantityTolerance    = "matching.quantity_tolerance"
	KeyQuantityMaxDeviation = "matching.quantity_max_deviation"
	KeyPriceTolerance       = "matching.price_tolerance"
	KeyPriceMaxDeviation    = "matching.price_max_deviation"
	KeyWorkers              = "matching.workers"
	KeyDuplicateSimilarity  = "matching.duplicate_similarity"
	KeyReportProgress       = "matching.report_progress"
	KeyWeightCode           = "matching.weights.code"
	KeyWeightQuantity       = "matching.weights.quantity"
	KeyWeightPrice          = "matching.weights.price"
	KeyWeightDescription    = "matching.weights.description"

	KeyMaxConcurrentFiles = "reconciler.max_concurrent_files"
	KeyPreprocess         = "reconciler.preprocess"
	KeyRemoveDuplicates   = "reconciler.remove_duplicates"

	KeyReportFormat       = "report.format"
	KeyReportDetails      = "report.include_match_details"
	KeyReportDiscrepancy  = "report.include_discrepancies"
	KeyReportInsights     = "report.include_insights"
	KeyReportStats        = "report.include_processing_stats"
	KeyReportCSVDelimiter = "report.csv_delimiter"

	KeyNormalizerSynonyms = "normalizer.synonyms"
	KeyStripSuffixes      = "normalizer.strip_suffixes"
	KeyStripPrefixes      = "normalizer.strip_prefixes"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogOutput = "log.output"
	KeyLogFile   = "log.file"

	KeyServerAddr    = "server.addr"
	KeyServerMaxBody = "server.max_body_bytes"
)

// Parser keys live under parser.po and parser.candidate
const (
	parserPOPrefix        = "parser.po"
	parserCandidatePrefix = "parser.candidate"
)

// SetDefaults registers the defaults that do not depend on the matching
// profile. Matching keys have no defaults so that an unset key keeps the
// profile's value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyProfile, ProfileDefault)

	rc := reconciler.DefaultConfig()
	v.SetDefault(KeyMaxConcurrentFiles, rc.MaxConcurrentFiles)
	v.SetDefault(KeyPreprocess, rc.Preprocess)
	v.SetDefault(KeyRemoveDuplicates, rc.Preprocessing.RemoveDuplicates)

	v.SetDefault(KeyReportFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyReportCSVDelimiter, ",")

	lc := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(logger.WarnLevel))
	v.SetDefault(KeyLogFormat, string(lc.Format))
	v.SetDefault(KeyLogOutput, string(lc.Output))

	sc := server.DefaultConfig()
	v.SetDefault(KeyServerAddr, sc.Addr)
	v.SetDefault(KeyServerMaxBody, sc.MaxBodyBytes)

	for _, prefix := range []string{parserPOPrefix, parserCandidatePrefix} {
		v.SetDefault(prefix+".header_row", 1)
		v.SetDefault(prefix+".delimiter", ",")
		v.SetDefault(prefix+".max_errors", 100)
	}
}

// BindEnv enables RECONCILER_* environment overrides for every key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// MatchingConfigForProfile returns the matching configuration of a named profile
func MatchingConfigForProfile(profile string) (*matcher.MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileDefault:
		return matcher.DefaultMatchingConfig(), nil
	case ProfileStrict:
		return matcher.StrictMatchingConfig(), nil
	case ProfileRelaxed:
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching profile %q: use %s, %s or %s", profile, ProfileDefault, ProfileStrict, ProfileRelaxed)
	}
}

// CreateMatchingConfig starts from the selected profile and applies every
// matching key that is set
func CreateMatchingConfig(v *viper.Viper) (*matcher.MatchingConfig, error) {
	config, err := MatchingConfigForProfile(v.GetString(KeyProfile))
	if err != nil {
		return nil, err
	}

	floats := map[string]*float64{
		KeyMinConfidence:        &config.MinConfidence,
		KeyQuantityTolerance:    &config.QuantityTolerance,
		KeyQuantityMaxDeviation: &config.QuantityMaxDeviation,
		KeyPriceTolerance:       &config.PriceTolerance,
		KeyPriceMaxDeviation:    &config.PriceMaxDeviation,
		KeyDuplicateSimilarity:  &config.DuplicateSimilarity,
		KeyWeightCode:           &config.Weights.Code,
		KeyWeightQuantity:       &config.Weights.Quantity,
		KeyWeightPrice:          &config.Weights.Price,
		KeyWeightDescription:    &config.Weights.Description,
	}
	for key, field := range floats {
		if v.IsSet(key) {
			*field = v.GetFloat64(key)
		}
	}
	if v.IsSet(KeyWorkers) {
		config.Workers = v.GetInt(KeyWorkers)
	}
	if v.IsSet(KeyReportProgress) {
		config.ReportProgress = v.GetBool(KeyReportProgress)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateLexicon builds the lexicon from the normalizer keys: a token synonym
// map (normalizer.synonyms: {dpcv: dp}) and the affix lists. An unset affix
// key keeps the built-in list; an empty one disables stripping. Code mapping
// tables are loaded into the returned lexicon afterwards.
func CreateLexicon(v *viper.Viper) *normalizer.Lexicon {
	lex := normalizer.NewLexicon()
	for token, canonical := range v.GetStringMapString(KeyNormalizerSynonyms) {
		lex.AddSynonym(token, canonical)
	}
	if v.IsSet(KeyStripSuffixes) {
		lex.SetStripSuffixes(v.GetStringSlice(KeyStripSuffixes)...)
	}
	if v.IsSet(KeyStripPrefixes) {
		lex.SetStripPrefixes(v.GetStringSlice(KeyStripPrefixes)...)
	}
	return lex
}

// CreatePOParserConfig creates the parser configuration for the PO document
func CreatePOParserConfig(v *viper.Viper) (*parsers.LineItemParserConfig, error) {
	return createParserConfig(v, parserPOPrefix, models.SourcePO)
}

// CreateCandidateConfigs creates one parser configuration per candidate
// file. SO files and datasheets share the parser.candidate keys and differ
// only in their source.
func CreateCandidateConfigs(v *viper.Viper, soFiles, datasheetFiles []string) (map[string]*parsers.LineItemParserConfig, error) {
	configs := make(map[string]*parsers.LineItemParserConfig, len(soFiles)+len(datasheetFiles))

	add := func(files []string, source models.Source) error {
		for _, file := range files {
			if _, dup := configs[file]; dup {
				return fmt.Errorf("file %s is listed more than once", file)
			}
			config, err := createParserConfig(v, parserCandidatePrefix, source)
			if err != nil {
				return err
			}
			configs[file] = config
		}
		return nil
	}

	if err := add(soFiles, models.SourceSO); err != nil {
		return nil, err
	}
	if err := add(datasheetFiles, models.SourceDatasheet); err != nil {
		return nil, err
	}
	return configs, nil
}

func createParserConfig(v *viper.Viper, prefix string, source models.Source) (*parsers.LineItemParserConfig, error) {
	config := parsers.DefaultLineItemParserConfig(source)

	columns := map[string]*string{
		"id_column":          &config.IDColumn,
		"code_column":        &config.CodeColumn,
		"description_column": &config.DescriptionColumn,
		"quantity_column":    &config.QuantityColumn,
		"unit_column":        &config.UnitColumn,
		"unit_price_column":  &config.UnitPriceColumn,
		"currency_column":    &config.CurrencyColumn,
		"provenance_column":  &config.ProvenanceColumn,
		"sheet":              &config.Sheet,
		"default_currency":   &config.DefaultCurrency,
	}
	for key, field := range columns {
		if v.IsSet(prefix + "." + key) {
			*field = v.GetString(prefix + "." + key)
		}
	}

	if v.IsSet(prefix + ".header_row") {
		config.HeaderRow = v.GetInt(prefix + ".header_row")
	}
	if v.IsSet(prefix + ".max_errors") {
		config.MaxErrors = v.GetInt(prefix + ".max_errors")
	}
	if v.IsSet(prefix + ".delimiter") {
		delimiter, err := parseDelimiter(v.GetString(prefix + ".delimiter"))
		if err != nil {
			return nil, fmt.Errorf("%s.delimiter: %w", prefix, err)
		}
		config.Delimiter = delimiter
	}

	for field, aliases := range v.GetStringMapStringSlice(prefix + ".column_aliases") {
		config.ColumnAliases[field] = aliases
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s parser config: %w", source, err)
	}
	return config, nil
}

// parseDelimiter accepts a single character or the names "tab" and "semicolon"
func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// CreateReconcilerConfig creates the service configuration
func CreateReconcilerConfig(v *viper.Viper) *reconciler.Config {
	config := reconciler.DefaultConfig()
	config.MaxConcurrentFiles = v.GetInt(KeyMaxConcurrentFiles)
	config.Preprocess = v.GetBool(KeyPreprocess)
	config.Preprocessing.RemoveDuplicates = v.GetBool(KeyRemoveDuplicates)
	return config
}

// CreateReportConfig creates a report configuration for the configured
// format. Each format starts from its own section defaults; report.include_*
// keys override them.
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(v.GetString(KeyReportFormat)))

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeDiscrepancies = true
	case reporter.FormatJSON, reporter.FormatXLSX:
		config.IncludeMatchDetails = true
		config.IncludeDiscrepancies = true
		config.IncludeInsights = true
		config.IncludeProcessingStats = true
	case reporter.FormatCSV:
		config.IncludeMatchDetails = true
		config.CSVHeaders = true
	}

	bools := map[string]*bool{
		KeyReportDetails:     &config.IncludeMatchDetails,
		KeyReportDiscrepancy: &config.IncludeDiscrepancies,
		KeyReportInsights:    &config.IncludeInsights,
		KeyReportStats:       &config.IncludeProcessingStats,
	}
	for key, field := range bools {
		if v.IsSet(key) {
			*field = v.GetBool(key)
		}
	}

	delimiter, err := parseDelimiter(v.GetString(KeyReportCSVDelimiter))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyReportCSVDelimiter, err)
	}
	config.CSVDelimiter = delimiter

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateLoggerConfig creates the logger configuration. Verbose starts from
// the debug preset, which also reports the caller. File output is rotated
// with the production limits and defaults to the production log path.
func CreateLoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	if verbose {
		config = logger.DebugConfig()
	}
	config.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	config.Output = logger.Output(strings.ToLower(v.GetString(KeyLogOutput)))

	if config.Output == logger.FileOutput {
		prod := logger.ProductionConfig()
		config.File = prod.File
		config.MaxSize, config.MaxBackups, config.MaxAge = prod.MaxSize, prod.MaxBackups, prod.MaxAge
		config.Compress = prod.Compress
	}
	if file := v.GetString(KeyLogFile); file != "" {
		config.File = file
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateServerConfig creates the HTTP listener configuration
func CreateServerConfig(v *viper.Viper) (*server.Config, error) {
	config := server.DefaultConfig()
	config.Addr = v.GetString(KeyServerAddr)
	config.MaxBodyBytes = v.GetInt64(KeyServerMaxBody)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateConfig validates that all required configurations are valid
func ValidateConfig(poConfig *parsers.LineItemParserConfig, candidateConfigs map[string]*parsers.LineItemParserConfig, matchingConfig *matcher.MatchingConfig) error {
	if err := poConfig.Validate(); err != nil {
		return fmt.Errorf("invalid PO parser config: %w", err)
	}
	if poConfig.Source != models.SourcePO {
		return fmt.Errorf("PO parser config has source %s", poConfig.Source)
	}

	for file, config := range candidateConfigs {
		if err := config.Validate(); err != nil {
			return fmt.Errorf("invalid parser config for file %s: %w", file, err)
		}
		if !config.Source.IsCandidate() {
			return fmt.Errorf("parser config for file %s has non-candidate source %s", file, config.Source)
		}
	}

	if err := matchingConfig.Validate(); err != nil {
		return fmt.Errorf("invalid matching config: %w", err)
	}

	return nil
}
