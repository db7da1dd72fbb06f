package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"po-reconciliation-service/cmd/reconciler/config"
	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/internal/reporter"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	poFile         string
	candidateFiles []string
	soFiles        []string
	mappingFile    string
	outputFormat   string
	outputFile     string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile PO line items with SO and datasheet line items",
	Long: `Reconcile matches every purchase order line item with at most one sales
order or datasheet line item and reports what matched, what did not, and the
quantity, price and material differences found on accepted matches.

This command requires:
- A PO file (CSV, XLSX or XLS)
- One or more datasheet or SO files (CSV, XLSX or XLS)

Examples:
  # Basic reconciliation
  reconciler reconcile --po-file po.xlsx --candidate-files datasheet.xlsx

  # Sales orders and datasheets together, with a code mapping table
  reconciler reconcile --po-file po.csv --so-files so.csv \
    --candidate-files ds1.csv,ds2.xlsx --mapping-file acode_cpartno.xlsx

  # Strict matching with a custom threshold
  reconciler reconcile --po-file po.csv --candidate-files ds.csv \
    --profile strict --min-confidence 0.85

  # Workbook report
  reconciler reconcile --po-file po.csv --candidate-files ds.csv \
    --output-format xlsx --output-file report.xlsx`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Input flags
	reconcileCmd.Flags().StringVarP(&poFile, "po-file", "p", "", "path to the purchase order file (required)")
	reconcileCmd.Flags().StringSliceVarP(&candidateFiles, "candidate-files", "c", []string{}, "comma-separated paths to datasheet files")
	reconcileCmd.Flags().StringSliceVar(&soFiles, "so-files", []string{}, "comma-separated paths to sales order files")
	reconcileCmd.Flags().StringVarP(&mappingFile, "mapping-file", "m", "", "two-column code mapping table (acode,cpartno)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv, xlsx")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().Bool("details", false, "include per-item matching details")
	reconcileCmd.Flags().Bool("insights", false, "include insights")
	reconcileCmd.Flags().Bool("stats", false, "include processing statistics")

	// Matching configuration flags
	reconcileCmd.Flags().Float64("min-confidence", 0.6, "minimum score for a match (0.0-1.0); overrides the profile")
	reconcileCmd.Flags().String("profile", config.ProfileDefault, "matching profile: default, strict, relaxed")
	reconcileCmd.Flags().Bool("remove-duplicates", false, "drop identical rows before matching")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("po-file")

	// Bind flags to viper
	viper.BindPFlag("po-file", reconcileCmd.Flags().Lookup("po-file"))
	viper.BindPFlag("candidate-files", reconcileCmd.Flags().Lookup("candidate-files"))
	viper.BindPFlag("so-files", reconcileCmd.Flags().Lookup("so-files"))
	viper.BindPFlag("mapping-file", reconcileCmd.Flags().Lookup("mapping-file"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag(config.KeyReportFormat, reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag(config.KeyReportDetails, reconcileCmd.Flags().Lookup("details"))
	viper.BindPFlag(config.KeyReportInsights, reconcileCmd.Flags().Lookup("insights"))
	viper.BindPFlag(config.KeyReportStats, reconcileCmd.Flags().Lookup("stats"))
	viper.BindPFlag(config.KeyMinConfidence, reconcileCmd.Flags().Lookup("min-confidence"))
	viper.BindPFlag(config.KeyProfile, reconcileCmd.Flags().Lookup("profile"))
	viper.BindPFlag(config.KeyRemoveDuplicates, reconcileCmd.Flags().Lookup("remove-duplicates"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	poFile = viper.GetString("po-file")
	candidateFiles = viper.GetStringSlice("candidate-files")
	soFiles = viper.GetStringSlice("so-files")
	mappingFile = viper.GetString("mapping-file")
	outputFormat = strings.ToLower(viper.GetString(config.KeyReportFormat))
	outputFile = viper.GetString("output-file")

	// Validate required flags
	if poFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "po-file", nil, fmt.Errorf("po-file is required"))
	}
	if len(candidateFiles)+len(soFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "candidate-files", nil,
			fmt.Errorf("at least one candidate-file or so-file is required"))
	}

	// Validate file existence
	if err := validateFileExists(poFile, "PO file"); err != nil {
		return err
	}
	for i, file := range soFiles {
		if err := validateFileExists(file, fmt.Sprintf("SO file %d", i+1)); err != nil {
			return err
		}
	}
	for i, file := range candidateFiles {
		if err := validateFileExists(file, fmt.Sprintf("datasheet file %d", i+1)); err != nil {
			return err
		}
	}
	if mappingFile != "" {
		if err := validateFileExists(mappingFile, "mapping file"); err != nil {
			return err
		}
	}

	// Validate output format
	format := reporter.OutputFormat(outputFormat)
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", outputFormat))
	}
	if format.IsBinary() && outputFile == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-file", outputFile,
			fmt.Errorf("%s output cannot be written to the terminal", format)).
			WithSuggestion("Add --output-file report.xlsx")
	}

	// Validate the matching options early so a bad threshold is reported
	// before any file is read
	if _, err := config.CreateMatchingConfig(viper.GetViper()); err != nil {
		if re, ok := errors.AsReconcilerError(err); ok {
			return re
		}
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", viper.GetString(config.KeyProfile), err)
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("Create the output directory first")
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("description", description)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).
			WithContext("description", description)
	}
	file.Close()

	return nil
}

// buildRequest assembles the service request from the validated flags
func buildRequest(v *viper.Viper) (*reconciler.ReconciliationRequest, error) {
	poConfig, err := config.CreatePOParserConfig(v)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser.po", poFile, err)
	}

	candidateConfigs, err := config.CreateCandidateConfigs(v, soFiles, candidateFiles)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser.candidate", candidateFiles, err)
	}

	files := make([]string, 0, len(soFiles)+len(candidateFiles))
	files = append(files, soFiles...)
	files = append(files, candidateFiles...)

	return &reconciler.ReconciliationRequest{
		POFile:           poFile,
		CandidateFiles:   files,
		MappingFile:      mappingFile,
		POConfig:         poConfig,
		CandidateConfigs: candidateConfigs,
	}, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("cli")

	log.WithFields(logger.Fields{
		"po_file":         poFile,
		"so_files":        strings.Join(soFiles, ", "),
		"candidate_files": strings.Join(candidateFiles, ", "),
		"mapping_file":    mappingFile,
		"output_format":   outputFormat,
		"output_file":     outputFile,
	}).Info("Starting reconciliation")

	// Create configurations
	matchingConfig, err := config.CreateMatchingConfig(v)
	if err != nil {
		return err
	}
	request, err := buildRequest(v)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(request.POConfig, request.CandidateConfigs, matchingConfig); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile", nil, err)
	}

	reportConfig, err := config.CreateReportConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report", outputFormat, err)
	}

	// Create reconciliation service
	service, err := reconciler.NewReconciliationService(matchingConfig, config.CreateReconcilerConfig(v))
	if err != nil {
		return err
	}
	service.WithLexicon(config.CreateLexicon(v))

	result, err := service.ProcessReconciliation(ctx, request)
	if err != nil {
		return err
	}

	// Determine output destination
	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer file.Close()
		output = file
	}

	// Generate report
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	if err := generator.GenerateReportSafely(result, output); err != nil {
		return err
	}

	// Show completion message
	if viper.GetBool("verbose") {
		stderr := cmd.ErrOrStderr()
		fmt.Fprintf(stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(stderr, "Run ID: %s\n", result.RunID)
		fmt.Fprintf(stderr, "Processed %d PO items against %d candidate items.\n",
			result.TotalPOItems, candidateTotal(result))
		fmt.Fprintf(stderr, "Matched %d, mismatched %d (%.1f%% match rate).\n",
			result.MatchedCount, result.MismatchedCount, result.MatchRate())
		if len(result.Discrepancies) > 0 {
			fmt.Fprintf(stderr, "Detected %d discrepancies.\n", len(result.Discrepancies))
		}
		fmt.Fprintf(stderr, "Processing time: %v\n", result.ProcessingDuration)
	}

	return nil
}

func candidateTotal(result *reconciler.ReconciliationResult) int {
	total := 0
	for _, c := range result.DocumentSummary {
		if c.Source.IsCandidate() {
			total += c.Items
		}
	}
	return total
}
