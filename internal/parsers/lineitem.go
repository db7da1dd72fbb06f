package parsers

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// quantityWithUnit splits cells such as "10 EA" or "2.5M"
var quantityWithUnit = regexp.MustCompile(`^\s*([-+]?[\d,]*\.?\d+)\s*([A-Za-z][A-Za-z."]*)\s*$`)

// columnLayout is the resolved column index per standard field, -1 if absent
type columnLayout struct {
	index   map[string]int
	headers map[string]string
}

func (l columnLayout) value(record []string, field string) string {
	return GetFieldValue(record, l.index[field])
}

// LineItemParser reads line items for one source collection
type LineItemParser struct {
	*BaseParser
	config *LineItemParserConfig
	logger logger.Logger
}

// NewLineItemParser creates a new LineItemParser with the given configuration
func NewLineItemParser(config *LineItemParserConfig) (*LineItemParser, error) {
	if config == nil {
		config = DefaultLineItemParserConfig(models.SourcePO)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"line_item_parser_config",
			config.Source,
			err,
		).WithSuggestion("Check the parser configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HeaderRow = config.HeaderRow
	parseConfig.Delimiter = config.Delimiter
	parseConfig.Sheet = config.Sheet

	log := logger.GetGlobalLogger().WithComponent("line_item_parser").WithField("source", config.Source)
	log.WithFields(logger.Fields{
		"header_row": config.HeaderRow,
		"delimiter":  string(config.Delimiter),
	}).Debug("Created line item parser")

	return &LineItemParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     log,
	}, nil
}

// Config returns the parser configuration
func (p *LineItemParser) Config() *LineItemParserConfig {
	return p.config
}

// ParseFile parses a .csv, .xlsx or .xls document
func (p *LineItemParser) ParseFile(ctx context.Context, filePath string) ([]*models.LineItem, *ParseStats, error) {
	file, err := p.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return p.ParseReader(ctx, file, filePath)
}

// ParseReader parses a document from r; name selects the format and is
// recorded as the items' document.
func (p *LineItemParser) ParseReader(ctx context.Context, r io.Reader, name string) ([]*models.LineItem, *ParseStats, error) {
	start := time.Now()
	p.logger.WithFields(logger.Fields{
		"file_path": name,
		"operation": "parse_line_items",
	}).Info("Starting line item parsing")

	stats := NewParseStats(name)
	reader, charset, err := p.OpenRows(r, name)
	if err != nil {
		return nil, stats, err
	}
	stats.Encoding = charset

	parseCtx := NewParseContext(ctx, name)
	if err := p.ReadHeaders(reader, parseCtx); err != nil {
		return nil, stats, err
	}

	layout, err := p.resolveColumns(parseCtx)
	if err != nil {
		return nil, stats, err
	}

	stats.maxStored = p.config.MaxErrors
	document := filepath.Base(name)
	var items []*models.LineItem

	for {
		record, err := p.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if errors.IsCategory(err, errors.CategoryInternal) {
				p.logger.Warn("Line item parsing was cancelled")
				return items, stats, err
			}

			stats.RecordsSkipped++
			stats.AddWarning(errors.NewEnhancedParseError(errors.CodeInvalidFormat,
				&errors.ParseContext{File: name, Line: parseCtx.LineNumber}, "unreadable row", err))
			continue
		}

		stats.RecordsParsed++

		item, warnings := p.parseRecord(record, layout, parseCtx)
		for _, w := range warnings {
			stats.AddWarning(w)
		}
		if item == nil {
			stats.RecordsSkipped++
			continue
		}
		item.Document = document

		items = append(items, item)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	stats.Duration = time.Since(start)

	p.logger.WithFields(logger.Fields{
		"file_path":      name,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"warning_count":  stats.WarningCount,
		"encoding":       stats.Encoding,
	}).Info("Line item parsing completed")

	if stats.HasWarnings() {
		p.logger.WithField("sample_warnings", stats.GetSampleWarnings(3)).Warn("Encountered warnings during parsing")
	}

	return items, stats, nil
}

// resolveColumns maps standard fields onto header positions. Only the code
// column is required.
func (p *LineItemParser) resolveColumns(parseCtx *ParseContext) (columnLayout, error) {
	layout := columnLayout{
		index:   make(map[string]int, len(standardFields)),
		headers: make(map[string]string, len(standardFields)),
	}

	for _, field := range standardFields {
		index, header := parseCtx.ResolveColumn(p.config.GetColumnNames(field))
		layout.index[field] = index
		layout.headers[field] = header
	}

	if layout.index[FieldCode] < 0 {
		p.logger.WithFields(logger.Fields{
			"expected":          p.config.GetColumnNames(FieldCode),
			"available_headers": parseCtx.Headers,
		}).Error("Required code column is missing")

		return layout, errors.MissingColumnError(parseCtx.File, []string{p.config.CodeColumn}, parseCtx.Headers).ReconcilerError
	}

	p.logger.WithField("columns", layout.headers).Debug("Resolved columns")
	return layout, nil
}

// parseRecord builds a line item. A row with neither code nor description
// yields nil.
func (p *LineItemParser) parseRecord(record []string, layout columnLayout, parseCtx *ParseContext) (*models.LineItem, []*errors.EnhancedParseError) {
	code := layout.value(record, FieldCode)
	desc := layout.value(record, FieldDescription)
	if isBlankCell(code) && isBlankCell(desc) {
		return nil, nil
	}
	if isBlankCell(code) {
		code = ""
	}
	if isBlankCell(desc) {
		desc = ""
	}

	item := models.NewLineItem(p.config.Source, code, desc)
	item.ID = layout.value(record, FieldID)
	item.ProvenanceTag = layout.value(record, FieldProvenance)

	var warnings []*errors.EnhancedParseError

	qtyCell := layout.value(record, FieldQuantity)
	unit := layout.value(record, FieldUnit)
	if qty, parsedUnit, ok := parseQuantityCell(qtyCell); ok {
		item.Quantity = decimal.NewNullDecimal(qty)
		if unit == "" {
			unit = parsedUnit
		}
	} else if models.CleanNumeric(qtyCell) != "" {
		warnings = append(warnings, errors.InvalidQuantityError(parseCtx.File, parseCtx.LineNumber, layout.headers[FieldQuantity], qtyCell))
	}
	item.Unit = unit

	priceCell := layout.value(record, FieldUnitPrice)
	item.UnitPrice = models.ParseNullDecimal(priceCell)
	if !item.UnitPrice.Valid && models.CleanNumeric(priceCell) != "" {
		warnings = append(warnings, errors.InvalidPriceError(parseCtx.File, parseCtx.LineNumber, layout.headers[FieldUnitPrice], priceCell))
	}

	item.Currency = layout.value(record, FieldCurrency)
	if item.Currency == "" && item.UnitPrice.Valid {
		item.Currency = currencyFromCell(priceCell, p.config.DefaultCurrency)
	}

	if code == "" {
		warnings = append(warnings, errors.EmptyValueError(parseCtx.File, parseCtx.LineNumber, layout.headers[FieldCode]))
	}

	return item, warnings
}

// parseQuantityCell accepts a bare number or a number followed by a unit
func parseQuantityCell(cell string) (decimal.Decimal, string, bool) {
	if n := models.ParseNullDecimal(cell); n.Valid {
		return n.Decimal, "", true
	}
	m := quantityWithUnit.FindStringSubmatch(cell)
	if m == nil {
		return decimal.Decimal{}, "", false
	}
	n := models.ParseNullDecimal(m[1])
	if !n.Valid {
		return decimal.Decimal{}, "", false
	}
	return n.Decimal, strings.TrimRight(m[2], "."), true
}

// currencyFromCell infers a currency from a symbol in the price cell
func currencyFromCell(cell, fallback string) string {
	cell = strings.TrimSpace(cell)
	for symbol, code := range map[string]string{"$": "USD", "€": "EUR", "£": "GBP"} {
		if strings.HasPrefix(cell, symbol) {
			return code
		}
	}
	return fallback
}

// isBlankCell treats spreadsheet placeholders as empty
func isBlankCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "null", "none", "n/a":
		return true
	}
	return false
}
