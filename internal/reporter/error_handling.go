package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with result validation, logging
// and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Use one of the formats console, json, csv or xlsx")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely validates the result and generates the report,
// falling back to the console format when the requested format fails
func (srg *SafeReportGenerator) GenerateReportSafely(result interface{}, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	reconcilerResult, ok := result.(*reconciler.ReconciliationResult)
	if !ok {
		err := errors.ValidationError(
			errors.CodeInvalidData,
			"result_type",
			fmt.Sprintf("%T", result),
			nil,
		).WithSuggestion("Provide a valid ReconciliationResult")

		srg.logger.WithError(err).Error("Invalid result type for report generation")
		return err
	}

	if err := srg.ValidateResult(reconcilerResult); err != nil {
		srg.logger.WithError(err).Error("Refusing to report an inconsistent result")
		return err
	}

	if err := srg.generateWithFallback(reconcilerResult, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Info("Report generation completed successfully")
	return nil
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(result interface{}, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"result",
			nil,
			nil,
		).WithSuggestion("Provide a valid reconciliation result")
	}

	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}

	return nil
}

// resultCheck returns a description of the first violation it finds, or ""
type resultCheck func(*reconciler.ReconciliationResult) string

var resultChecks = []resultCheck{
	func(r *reconciler.ReconciliationResult) string {
		if r.MatchedCount+r.MismatchedCount != r.TotalPOItems {
			return fmt.Sprintf("matched %d + mismatched %d does not equal total %d",
				r.MatchedCount, r.MismatchedCount, r.TotalPOItems)
		}
		return ""
	},
	func(r *reconciler.ReconciliationResult) string {
		if len(r.UnmatchedItems) != r.MismatchedCount {
			return fmt.Sprintf("%d unmatched items listed for %d mismatched", len(r.UnmatchedItems), r.MismatchedCount)
		}
		return ""
	},
	func(r *reconciler.ReconciliationResult) string {
		used := make(map[int]int, len(r.Matches))
		for _, m := range r.Matches {
			if m.Status != reconciler.StatusMatched {
				continue
			}
			if prev, dup := used[m.CandidateIndex]; dup {
				return fmt.Sprintf("candidate %d assigned to PO items %d and %d", m.CandidateIndex, prev, m.POIndex)
			}
			used[m.CandidateIndex] = m.POIndex
		}
		return ""
	},
	func(r *reconciler.ReconciliationResult) string {
		for _, m := range r.Matches {
			if m.Status == reconciler.StatusMatched && m.Score < r.MinConfidence {
				return fmt.Sprintf("PO item %d matched with score %.4f below threshold %.2f", m.POIndex, m.Score, r.MinConfidence)
			}
		}
		return ""
	},
}

// ValidateResult checks the invariants every report relies on: the counts
// add up, and no candidate is assigned twice or below the threshold
func (srg *SafeReportGenerator) ValidateResult(result *reconciler.ReconciliationResult) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil)
	}

	for _, check := range resultChecks {
		if violation := check(result); violation != "" {
			return errors.ReconciliationError(errors.CodeDataInconsistent, "report_validation", fmt.Errorf("%s", violation)).
				WithContext("run_id", result.RunID)
		}
	}

	if srg.config.Format == FormatCSV && len(result.Matches) == 0 && result.TotalPOItems > 0 {
		srg.logger.Warn("No match details available for CSV output")
	}

	return nil
}

// generateWithFallback attempts to generate the report with fallback strategies
func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.ReconciliationResult, writer io.Writer) error {
	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(result, writer, err)
	}

	if srg.shouldAttemptFormatFallback() {
		return srg.generateWithFormatFallback(result, writer, err)
	}

	return srg.wrapGenerationError(err)
}

// shouldAttemptFormatFallback reports whether the console format can stand
// in for the requested one
func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatConsole
}

// generateWithFormatFallback attempts to generate with a fallback format
func (srg *SafeReportGenerator) generateWithFormatFallback(result *reconciler.ReconciliationResult, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	if err := rewind(writer); err != nil {
		srg.logger.WithError(err).Warn("Could not discard the partial report")
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(result, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

// rewind drops whatever the failed attempt wrote. Regular files are
// truncated and buffers reset; other writers are left as they are.
func rewind(w io.Writer) error {
	switch t := w.(type) {
	case *os.File:
		info, err := t.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if err := t.Truncate(0); err != nil {
			return err
		}
		_, err = t.Seek(0, io.SeekStart)
		return err
	case interface{ Reset() }:
		t.Reset()
	}
	return nil
}

// shouldAttemptOutputFallback determines if an output fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" && file != os.Stdout && file != os.Stderr {
		return isFileError(err)
	}
	return false
}

// generateWithOutputFallback writes the report next to the original file
func (srg *SafeReportGenerator) generateWithOutputFallback(result *reconciler.ReconciliationResult, writer io.Writer, originalErr error) error {
	file, ok := writer.(*os.File)
	if !ok {
		return srg.wrapGenerationError(originalErr)
	}

	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if err := srg.GenerateReport(result, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report generated successfully using output fallback")
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)

	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

// isFileError checks if the error is file-related
func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

// generateBackupPath creates a backup file path
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
