package reporter

import (
	"fmt"
	"io"

	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/reconciler"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary   = "Summary"
	sheetDetails   = "Matching Details"
	sheetInsights  = "Insights"
	sheetUnmatched = "Unmatched Items"
)

// generateXLSXReport writes a workbook with one sheet per report section
func (rg *ReportGenerator) generateXLSXReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	for _, name := range []string{sheetDetails, sheetInsights, sheetUnmatched} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	sheets := []struct {
		name  string
		rows  [][]interface{}
		width float64
	}{
		{sheetSummary, summaryRows(result), 28},
		{sheetDetails, detailRows(result), 22},
		{sheetInsights, insightRows(result), 40},
		{sheetUnmatched, unmatchedRows(result), 36},
	}
	for _, s := range sheets {
		if err := writeSheet(f, s.name, s.rows, header, s.width); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", s.name, err)
		}
	}

	return f.Write(writer)
}

// writeSheet writes rows from A1 and styles the first row as a header
func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int, width float64) error {
	maxCols := 0
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}
	if maxCols == 0 {
		return nil
	}

	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(maxCols)
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, width)
}

func summaryRows(result *reconciler.ReconciliationResult) [][]interface{} {
	return [][]interface{}{
		{"Metric", "Value"},
		{"Total PO Items", result.TotalPOItems},
		{"Total SO Items", candidateItemCount(result.DocumentSummary)},
		{"Matched Items", result.MatchedCount},
		{"Unmatched Items", result.MismatchedCount},
		{"Quantity Mismatches", len(result.DiscrepanciesOf(matcher.DiscrepancyQuantity))},
		{"Price Mismatches", len(result.DiscrepanciesOf(matcher.DiscrepancyPrice))},
		{"Material Spec Mismatches", len(result.DiscrepanciesOf(matcher.DiscrepancyMaterial))},
	}
}

func detailRows(result *reconciler.ReconciliationResult) [][]interface{} {
	rows := [][]interface{}{toRow(detailHeaders)}
	for _, m := range result.Matches {
		rows = append(rows, toRow(detailRecord(m)))
	}
	return rows
}

func insightRows(result *reconciler.ReconciliationResult) [][]interface{} {
	rows := [][]interface{}{{"Category", "Observation", "Recommendation"}}
	for _, in := range result.Insights {
		rows = append(rows, []interface{}{in.Category, in.Observation, in.Recommendation})
	}
	for _, rec := range result.Recommendations {
		rows = append(rows, []interface{}{"Process", "", rec})
	}
	return rows
}

func unmatchedRows(result *reconciler.ReconciliationResult) [][]interface{} {
	rows := [][]interface{}{{"PO Item", "Best Candidate", "Best Score"}}
	for _, m := range result.Matches {
		if m.Status == reconciler.StatusMatched {
			continue
		}
		rows = append(rows, []interface{}{m.POItem, m.BestCandidate, m.BestScore})
	}
	return rows
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
