// Package parsers reads PO, SO and datasheet line items from tabular exports.
//
// Real-world exports arrive as CSV files in assorted code pages, as .xlsx
// workbooks, or as legacy .xls files. Every format is turned into the same
// row stream so that header resolution, field cleaning and error reporting
// are shared.
//
// Parser Types:
//   - LineItemParser: line items for one source collection
//   - ConcurrentParser: several documents at once
//   - LoadCodeMappings: equivalence tables for the code normalizer
//
// Example usage:
//
//	config := DefaultLineItemParserConfig(models.SourcePO)
//	parser, err := NewLineItemParser(config)
//	items, stats, err := parser.ParseFile(ctx, "po.xlsx")
//
// Malformed cells never drop a row: a non-numeric quantity or price leaves
// the field empty and records a warning in ParseStats.
package parsers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"
)

// ParseConfig holds configuration for reading a table
type ParseConfig struct {
	HeaderRow        int
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	DetectEncoding   bool
	Sheet            string
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HeaderRow:        1,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		DetectEncoding:   true,
	}
}

// RowReader yields table rows one at a time. *csv.Reader satisfies it.
type RowReader interface {
	Read() ([]string, error)
}

// sliceReader replays rows already loaded from a workbook
type sliceReader struct {
	rows [][]string
	next int
}

func (r *sliceReader) Read() ([]string, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.next]
	r.next++
	return row, nil
}

// BaseParser provides the format-independent part of table parsing
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	if config.HeaderRow < 1 {
		config.HeaderRow = 1
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"header_row":      config.HeaderRow,
		"delimiter":       string(config.Delimiter),
		"detect_encoding": config.DetectEncoding,
		"max_field_size":  config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File        string
	LineNumber  int
	Headers     []string
	HeaderMap   map[string]int
	RecordCount int
	ctx         context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found.
// Names are compared after folding case, underscores and punctuation.
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[headerKey(name)]; exists {
		return index
	}
	return -1
}

// ResolveColumn returns the index and header of the first name present
func (pc *ParseContext) ResolveColumn(names []string) (int, string) {
	for _, name := range names {
		if index := pc.GetColumnIndex(name); index >= 0 {
			return index, pc.Headers[index]
		}
	}
	return -1, ""
}

// OpenFile opens path and maps OS failures onto file errors
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open file")

		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	if info, err := file.Stat(); err == nil && info.IsDir() {
		file.Close()
		return nil, errors.FileError(errors.CodeUnsupportedFile, filePath, fmt.Errorf("path is a directory"))
	}
	return file, nil
}

// OpenRows returns a row stream for r, choosing the reader by the extension
// of name. The returned encoding is the charset CSV input was decoded from.
func (bp *BaseParser) OpenRows(r io.Reader, name string) (RowReader, string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", ".tsv":
		return bp.csvRows(r)
	case ".xlsx", ".xlsm":
		rows, err := readXLSXRows(r, bp.config.Sheet)
		if err != nil {
			return nil, "", errors.FileError(errors.CodeFileCorrupted, name, err)
		}
		return &sliceReader{rows: rows}, "", nil
	case ".xls":
		rows, err := readXLSRows(r)
		if err != nil {
			return nil, "", errors.FileError(errors.CodeFileCorrupted, name, err)
		}
		return &sliceReader{rows: rows}, "", nil
	default:
		return nil, "", errors.FileError(errors.CodeUnsupportedFile, name, fmt.Errorf("extension %q", ext))
	}
}

// ReadHeaders skips to the configured header row and indexes its cells
func (bp *BaseParser) ReadHeaders(reader RowReader, parseCtx *ParseContext) error {
	bp.logger.WithField("header_row", bp.config.HeaderRow).Debug("Reading headers")

	var headers []string
	for parseCtx.LineNumber < bp.config.HeaderRow {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				bp.logger.WithField("file", parseCtx.File).Error("File is empty or contains no header row")
				return errors.ValidationError(
					errors.CodeMissingField,
					"file_content",
					"empty",
					nil,
				).WithSuggestion("Ensure the file contains a header row and data rows")
			}

			bp.logger.WithError(err).Error("Failed to read header row")
			return errors.ParseError(
				errors.CodeInvalidFormat,
				parseCtx.File,
				parseCtx.LineNumber+1,
				"headers",
				"",
				err,
			)
		}
		parseCtx.LineNumber++
		headers = record
	}

	parseCtx.Headers = bp.cleanHeaders(headers)
	bp.buildHeaderMap(parseCtx)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Successfully read headers")
	return nil
}

// cleanHeaders trims cells and names blank ones "Column N"
func (bp *BaseParser) cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		cleaned[i] = header
	}
	return cleaned
}

// buildHeaderMap indexes folded header names; the first duplicate wins
func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		key := headerKey(header)
		if _, exists := parseCtx.HeaderMap[key]; !exists {
			parseCtx.HeaderMap[key] = i
		}
	}
}

// ReadRecord reads the next non-empty record
func (bp *BaseParser) ReadRecord(reader RowReader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			bp.logger.Debug("Record reading cancelled by context")
			return nil, errors.InternalError(
				errors.CodeCancelled,
				"table_parsing",
				parseCtx.ctx.Err(),
			)
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}

			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber+1).Warn("Failed to read record")
			parseCtx.LineNumber++
			return nil, err
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					bp.logger.WithFields(logger.Fields{
						"line_number": parseCtx.LineNumber,
						"column":      i,
						"field_size":  len(field),
						"max_size":    bp.config.MaxFieldSize,
					}).Warn("Field exceeds maximum size limit")

					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.File,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit exceeded"),
					)
				}
			}
		}

		parseCtx.RecordCount++
		return record, nil
	}
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed cell at index, or "" when the column is
// absent or the row is short.
func GetFieldValue(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File           string                       `json:"file"`
	Encoding       string                       `json:"encoding,omitempty"`
	TotalLines     int                          `json:"total_lines"`
	RecordsParsed  int                          `json:"records_parsed"`
	RecordsValid   int                          `json:"records_valid"`
	RecordsSkipped int                          `json:"records_skipped"`
	WarningCount   int                          `json:"warning_count"`
	Warnings       []*errors.EnhancedParseError `json:"warnings,omitempty"`
	Duration       time.Duration                `json:"duration"`

	maxStored int
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string) *ParseStats {
	return &ParseStats{
		File:     file,
		Warnings: make([]*errors.EnhancedParseError, 0),
	}
}

// AddWarning records a recoverable row-level problem. Every warning is
// counted; only the first maxStored are kept when a limit is set.
func (ps *ParseStats) AddWarning(err *errors.EnhancedParseError) {
	ps.WarningCount++
	if ps.maxStored > 0 && len(ps.Warnings) >= ps.maxStored {
		return
	}
	ps.Warnings = append(ps.Warnings, err)
}

// HasWarnings returns true if any row-level problems were recorded
func (ps *ParseStats) HasWarnings() bool {
	return ps.WarningCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d kept, %d skipped), %d warnings",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.RecordsSkipped, ps.WarningCount)
}

// GetSampleWarnings returns a sample of the warnings for logging
func (ps *ParseStats) GetSampleWarnings(maxSamples int) []string {
	if len(ps.Warnings) == 0 {
		return nil
	}

	limit := len(ps.Warnings)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Warnings[i].Error())
	}
	return samples
}
