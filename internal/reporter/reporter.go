// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: the plain-text analysis report shown in the terminal
//   - JSON: the full result for programmatic consumption
//   - CSV: one row per PO item with its status, candidate and factor scores
//   - XLSX: a workbook with Summary, Matching Details, Insights and
//     Unmatched Items sheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/reconciler"
)

// reportTitle heads console reports and the XLSX summary sheet
const reportTitle = "PO to SO Conversion Process Analysis Report"

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format should not be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeMatchDetails    bool `json:"include_match_details" mapstructure:"include_match_details"`
	IncludeDiscrepancies   bool `json:"include_discrepancies" mapstructure:"include_discrepancies"`
	IncludeInsights        bool `json:"include_insights" mapstructure:"include_insights"`
	IncludeProcessingStats bool `json:"include_processing_stats" mapstructure:"include_processing_stats"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeMatchDetails:    false,
		IncludeDiscrepancies:   true,
		IncludeInsights:        false,
		IncludeProcessingStats: false,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.Format == FormatCSV {
		switch c.CSVDelimiter {
		case 0, '\n', '\r', '"':
			return fmt.Errorf("invalid CSV delimiter: %q", c.CSVDelimiter)
		}
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport generates a report from reconciliation results and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport writes the plain-text analysis report. Sections
// without content are left out.
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	w := &errWriter{w: writer}

	w.printf("%s\n", reportTitle)
	w.printf("%s\n\n", strings.Repeat("=", 50))

	w.printf("Document Summary:\n")
	for _, c := range result.DocumentSummary {
		w.printf("- %s: %d items\n", c.Source, c.Items)
	}

	w.printf("\nAnalysis Results:\n")
	w.printf("- Total PO Items: %d\n", result.TotalPOItems)
	w.printf("- Successfully Matched: %d\n", result.MatchedCount)
	w.printf("- Mismatched Items: %d\n", result.MismatchedCount)

	if rg.config.IncludeDiscrepancies {
		rg.printDiscrepancies(w, "Quantity Mismatches", result.DiscrepanciesOf(matcher.DiscrepancyQuantity))
		rg.printDiscrepancies(w, "Price Mismatches", result.DiscrepanciesOf(matcher.DiscrepancyPrice))
		rg.printDiscrepancies(w, "Material Specification Mismatches", result.DiscrepanciesOf(matcher.DiscrepancyMaterial))
	}

	if len(result.UnmatchedItems) > 0 {
		w.printf("\nUnmatched Items:\n")
		for _, id := range result.UnmatchedItems {
			w.printf("- %s\n", id)
		}
	}

	if rg.config.IncludeMatchDetails && len(result.Matches) > 0 {
		w.printf("\nMatching Details:\n")
		for _, m := range result.Matches {
			rg.printMatchDetail(w, m)
		}
	}

	if len(result.Recommendations) > 0 {
		w.printf("\nRecommendations:\n")
		for i, rec := range result.Recommendations {
			w.printf("%d. %s\n", i+1, rec)
		}
	}

	if rg.config.IncludeInsights && len(result.Insights) > 0 {
		w.printf("\nInsights:\n")
		for _, in := range result.Insights {
			w.printf("- [%s] %s: %s\n", in.Category, in.Observation, in.Recommendation)
		}
	}

	if rg.config.IncludeProcessingStats {
		rg.printProcessingStats(w, result)
	}

	return w.err
}

func (rg *ReportGenerator) printDiscrepancies(w *errWriter, title string, discrepancies []matcher.Discrepancy) {
	if len(discrepancies) == 0 {
		return
	}
	w.printf("\n%s:\n", title)
	for _, d := range discrepancies {
		w.printf("- %s\n", d)
	}
}

func (rg *ReportGenerator) printMatchDetail(w *errWriter, m reconciler.MatchDetail) {
	if m.Status == reconciler.StatusMatched {
		w.printf("- %s -> %s (score %.2f, %s)\n", m.POItem, m.Candidate, m.Score, m.MatchType)
		return
	}
	if m.BestCandidate == "" {
		w.printf("- %s: no candidates\n", m.POItem)
		return
	}
	w.printf("- %s: no match (best %s, score %.2f)\n", m.POItem, m.BestCandidate, m.BestScore)
}

func (rg *ReportGenerator) printProcessingStats(w *errWriter, result *reconciler.ReconciliationResult) {
	w.printf("\nProcessing Statistics:\n")
	w.printf("- Run ID: %s\n", result.RunID)
	w.printf("- Match Rate: %.1f%%\n", result.MatchRate())
	w.printf("- Processing Duration: %v\n", result.ProcessingDuration)
	for _, s := range result.ParseStats {
		if s != nil {
			w.printf("- %s\n", s)
		}
	}
	if m := result.MappingStats; m != nil {
		w.printf("- Code mappings: %d pairs from %s\n", m.Pairs, m.File)
	}
}

// generateJSONReport writes the result, without the sections the
// configuration leaves out
func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	filtered := rg.filterResultForOutput(result)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filtered)
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.ReconciliationResult) *reconciler.ReconciliationResult {
	filtered := *result
	if !rg.config.IncludeMatchDetails {
		filtered.Matches = nil
	}
	if !rg.config.IncludeDiscrepancies {
		filtered.Discrepancies = nil
		filtered.DuplicateGroups = nil
	}
	if !rg.config.IncludeInsights {
		filtered.Insights = nil
	}
	if !rg.config.IncludeProcessingStats {
		filtered.ParseStats = nil
		filtered.MappingStats = nil
		filtered.PreprocessingStats = nil
	}
	return &filtered
}

// detailHeaders are the columns of the CSV report and the Matching Details sheet
var detailHeaders = []string{
	"PO_Index",
	"PO_Item",
	"Status",
	"Match_Type",
	"Candidate",
	"Candidate_Document",
	"Score",
	"Code_Similarity",
	"Quantity_Similarity",
	"Price_Similarity",
	"Description_Similarity",
	"Best_Candidate",
	"Best_Score",
}

func detailRecord(m reconciler.MatchDetail) []string {
	record := []string{
		fmt.Sprintf("%d", m.POIndex+1),
		m.POItem,
		string(m.Status),
		m.MatchType,
		m.Candidate,
		m.CandidateDoc,
		fmt.Sprintf("%.4f", m.Score),
		"", "", "", "",
		m.BestCandidate,
		fmt.Sprintf("%.4f", m.BestScore),
	}
	if b := m.Breakdown; b != nil {
		record[7] = b.Code.String()
		record[8] = b.Quantity.String()
		record[9] = b.Price.String()
		record[10] = b.Description.String()
	}
	return record
}

// generateCSVReport writes one row per PO item in PO order
func (rg *ReportGenerator) generateCSVReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(detailHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, m := range result.Matches {
		if err := csvWriter.Write(detailRecord(m)); err != nil {
			return fmt.Errorf("failed to write record for PO item %d: %w", m.POIndex+1, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// candidateItemCount sums the non-PO document counts
func candidateItemCount(summary []models.SourceCount) int {
	n := 0
	for _, c := range summary {
		if c.Source != models.SourcePO {
			n += c.Items
		}
	}
	return n
}

// errWriter keeps the first write error so the console report can be
// written without checking every line
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
