package parsers

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"unicode/utf8"

	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// writeTempFile creates name inside a per-test directory
func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func writeTempXLSX(t *testing.T, name, sheet string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			t.Fatalf("Failed to rename sheet: %v", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("Failed to build cell name: %v", err)
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("Failed to write row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("Failed to save workbook: %v", err)
	}
	return path
}

func newParser(t *testing.T, source models.Source) *LineItemParser {
	t.Helper()
	parser, err := NewLineItemParser(DefaultLineItemParserConfig(source))
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}
	return parser
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.HeaderRow != 1 {
		t.Errorf("Expected header row 1, got %d", config.HeaderRow)
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows || !config.DetectEncoding {
		t.Error("Expected empty rows to be skipped and encoding detection enabled")
	}
}

func TestLineItemParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *LineItemParserConfig)
		wantError bool
	}{
		{"valid config", func(c *LineItemParserConfig) {}, false},
		{"invalid source", func(c *LineItemParserConfig) { c.Source = "invoice" }, true},
		{"empty code column", func(c *LineItemParserConfig) { c.CodeColumn = " " }, true},
		{"zero header row", func(c *LineItemParserConfig) { c.HeaderRow = 0 }, true},
		{"quote delimiter", func(c *LineItemParserConfig) { c.Delimiter = '"' }, true},
		{"negative max errors", func(c *LineItemParserConfig) { c.MaxErrors = -1 }, true},
		{"alias for unknown field", func(c *LineItemParserConfig) { c.ColumnAliases["weight"] = []string{"kg"} }, true},
		{"alias for known field", func(c *LineItemParserConfig) { c.ColumnAliases[FieldCode] = []string{"tag no"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLineItemParserConfig(models.SourceDatasheet)
			tt.mutate(config)

			err := config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}

	if _, err := NewLineItemParser(&LineItemParserConfig{Source: models.SourcePO}); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error from an incomplete config, got %v", err)
	}
}

func TestHeaderKey(t *testing.T) {
	tests := map[string]string{
		"Item_Code":     "item code",
		"  ITEM-CODE. ": "item code",
		"Qty.":          "qty",
		"\ufeffcode":    "code",
		"Part   No #":   "part no",
	}
	for in, want := range tests {
		if got := headerKey(in); got != want {
			t.Errorf("headerKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetColumnNames(t *testing.T) {
	config := DefaultLineItemParserConfig(models.SourcePO)
	config.CodeColumn = "Material"
	config.ColumnAliases[FieldCode] = []string{"Tag No"}

	names := config.GetColumnNames(FieldCode)
	if len(names) < 4 || names[0] != "Material" || names[1] != "Tag No" || names[2] != FieldCode {
		t.Errorf("Unexpected lookup order %v", names)
	}

	clone := config.Clone()
	clone.ColumnAliases[FieldCode][0] = "changed"
	if config.ColumnAliases[FieldCode][0] != "Tag No" {
		t.Error("Clone shares alias slices with the original")
	}
}

func TestParseCSV(t *testing.T) {
	content := "Item Code,Desc,Qty,UOM,Unit Price,Client\n" +
		"DP1014MM,check valve,10,MM,$120,ADNOC\n" +
		"GV 2020,gate valve,TBD,EA,abc,\n" +
		",,,,,\n" +
		"nan,nan,1,EA,,\n" +
		",spare gasket,2,EA,,\n"
	path := writeTempFile(t, "po.csv", []byte(content))

	items, stats, err := newParser(t, models.SourcePO).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	if stats.RecordsParsed != 4 || stats.RecordsValid != 3 || stats.RecordsSkipped != 1 {
		t.Errorf("Unexpected stats: %s", stats)
	}
	if stats.WarningCount != 3 {
		t.Errorf("Expected 3 warnings, got %d: %v", stats.WarningCount, stats.GetSampleWarnings(0))
	}

	first := items[0]
	if first.Source != models.SourcePO || first.RawCode != "DP1014MM" || first.RawDescription != "check valve" {
		t.Errorf("Unexpected first item %s", first)
	}
	if !first.Quantity.Valid || !first.Quantity.Decimal.Equal(decimal.NewFromInt(10)) || first.Unit != "MM" {
		t.Errorf("Unexpected quantity %v %s", first.Quantity, first.Unit)
	}
	if !first.UnitPrice.Valid || !first.UnitPrice.Decimal.Equal(decimal.NewFromInt(120)) || first.Currency != "USD" {
		t.Errorf("Unexpected price %v %s", first.UnitPrice, first.Currency)
	}
	if first.ProvenanceTag != "ADNOC" || first.Document != "po.csv" {
		t.Errorf("Unexpected provenance %q or document %q", first.ProvenanceTag, first.Document)
	}

	second := items[1]
	if second.Quantity.Valid || second.UnitPrice.Valid {
		t.Error("Non-numeric quantity and price should be left empty")
	}
	if second.Unit != "EA" {
		t.Errorf("Expected unit to be kept, got %q", second.Unit)
	}

	if items[2].RawCode != "" || items[2].RawDescription != "spare gasket" {
		t.Errorf("Expected codeless item to be kept, got %s", items[2])
	}
}

func TestParseQuantityWithUnit(t *testing.T) {
	path := writeTempFile(t, "ds.csv", []byte("code;quantity\nA1;10 EA\nA2;2.5M\nA3;1,000\n"))

	config := DefaultLineItemParserConfig(models.SourceDatasheet)
	config.Delimiter = ';'
	parser, err := NewLineItemParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	items, _, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	want := []struct {
		qty  string
		unit string
	}{
		{"10", "EA"},
		{"2.5", "M"},
		{"1000", ""},
	}
	if len(items) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		if !items[i].Quantity.Valid || !items[i].Quantity.Decimal.Equal(decimal.RequireFromString(w.qty)) {
			t.Errorf("Item %d: expected quantity %s, got %v", i, w.qty, items[i].Quantity)
		}
		if items[i].Unit != w.unit {
			t.Errorf("Item %d: expected unit %q, got %q", i, w.unit, items[i].Unit)
		}
	}
}

func TestParseHeaderRow(t *testing.T) {
	content := "Purchase Order 4500012345\nVendor: ACME\npart no,description\nDP 1014,valve\n"
	path := writeTempFile(t, "po.csv", []byte(content))

	config := DefaultLineItemParserConfig(models.SourcePO)
	config.HeaderRow = 3
	parser, err := NewLineItemParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	items, _, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(items) != 1 || items[0].RawCode != "DP 1014" {
		t.Errorf("Expected the row below the third line, got %v", items)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		category errors.ErrorCategory
		code     errors.ErrorCode
	}{
		{
			name:     "missing code column",
			path:     func(t *testing.T) string { return writeTempFile(t, "po.csv", []byte("name,qty\nvalve,1\n")) },
			category: errors.CategoryParse,
			code:     errors.CodeMissingColumn,
		},
		{
			name:     "file not found",
			path:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.csv") },
			category: errors.CategoryFile,
			code:     errors.CodeFileNotFound,
		},
		{
			name:     "unsupported extension",
			path:     func(t *testing.T) string { return writeTempFile(t, "po.pdf", []byte("%PDF-1.4")) },
			category: errors.CategoryFile,
			code:     errors.CodeUnsupportedFile,
		},
		{
			name:     "empty file",
			path:     func(t *testing.T) string { return writeTempFile(t, "po.csv", nil) },
			category: errors.CategoryValidation,
			code:     errors.CodeMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newParser(t, models.SourcePO).ParseFile(context.Background(), tt.path(t))
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			rerr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("Expected a ReconcilerError, got %T: %v", err, err)
			}
			if rerr.Category != tt.category || rerr.Code != tt.code {
				t.Errorf("Expected %s/%s, got %s/%s", tt.category, tt.code, rerr.Category, rerr.Code)
			}
		})
	}
}

func TestParseMalformedXLS(t *testing.T) {
	path := writeTempFile(t, "legacy.xls", []byte("this is not an OLE2 compound document"))

	_, _, err := newParser(t, models.SourceSO).ParseFile(context.Background(), path)
	if err == nil {
		t.Fatal("Expected error for a malformed .xls file")
	}
}

func TestParseCancelled(t *testing.T) {
	path := writeTempFile(t, "po.csv", []byte("code\nA1\nA2\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newParser(t, models.SourcePO).ParseFile(ctx, path)
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeCancelled {
		t.Errorf("Expected cancellation error, got %v", err)
	}
}

func TestParseLegacyEncoding(t *testing.T) {
	text := "code,description\n" +
		"V1,Vanne à bille en acier inoxydable à passage intégral, qualité supérieure pour la société\n" +
		"V2,Clapet anti-retour à battant en fonte ductile, réf. spéciale été\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	path := writeTempFile(t, "ds.csv", []byte(encoded))

	items, stats, err := newParser(t, models.SourceDatasheet).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if stats.Encoding == "utf-8" {
		t.Error("Expected a legacy encoding to be detected")
	}
	if len(items) != 2 || items[0].RawCode != "V1" {
		t.Fatalf("Unexpected items %v", items)
	}
	for _, item := range items {
		if !utf8.ValidString(item.RawDescription) {
			t.Errorf("Description was not decoded to UTF-8: %q", item.RawDescription)
		}
	}
}

func TestDetectCharset(t *testing.T) {
	if got := detectCharset([]byte("code,description\nDP 1014,vanne à bille\n")); got != "utf-8" {
		t.Errorf("Expected utf-8 for valid input, got %q", got)
	}

	// "é" is two bytes; cutting after the first must not count as invalid
	cut := []byte("code,réf")[:7]
	if !validUTF8Prefix(cut) {
		t.Error("Expected a rune cut at the end of the sample to be tolerated")
	}
	if validUTF8Prefix([]byte{'a', 0xE9, 'b'}) {
		t.Error("Expected Latin-1 bytes to be rejected")
	}
}

func TestParseXLSX(t *testing.T) {
	path := writeTempXLSX(t, "so.xlsx", "Items", [][]interface{}{
		{"ACODE", "Description", "Qty", "Unit"},
		{"DP 1014 MM", "check valve", 10, "MM"},
		{"GV-2020 (KOC)", "gate valve", 4.5, "EA"},
	})

	config := DefaultLineItemParserConfig(models.SourceSO)
	config.Sheet = "Items"
	parser, err := NewLineItemParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	items, stats, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(items) != 2 || stats.WarningCount != 0 {
		t.Fatalf("Expected 2 clean items, got %d with %d warnings", len(items), stats.WarningCount)
	}
	if items[1].RawCode != "GV-2020 (KOC)" || !items[1].Quantity.Decimal.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Unexpected second item %s", items[1])
	}

	config.Sheet = "Missing"
	parser, _ = NewLineItemParser(config)
	if _, _, err := parser.ParseFile(context.Background(), path); err == nil {
		t.Error("Expected error for a missing sheet")
	}
}

func TestLoadCodeMappings(t *testing.T) {
	path := writeTempFile(t, "erp_codes.csv", []byte("acode,cpartno\nA77,DP1014\nnan,X9\n100234,A77\n"))

	lex := normalizer.NewLexicon()
	stats, err := LoadCodeMappingsInto(context.Background(), path, lex)
	if err != nil {
		t.Fatalf("LoadCodeMappingsInto() error = %v", err)
	}
	if stats.Pairs != 2 || stats.Skipped != 1 || stats.Rows != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	for _, code := range []string{"A77", "DP 1014", "100234"} {
		got, ok := lex.Canonical(code)
		if !ok || got != "100234" {
			t.Errorf("Canonical(%q) = %q, %v; want 100234", code, got, ok)
		}
	}
	if _, ok := lex.Canonical("X9"); ok {
		t.Error("Expected the row with a nan cell to be skipped")
	}
}

func TestLoadCodeMappingsFormats(t *testing.T) {
	t.Run("xlsx with upper-case headers", func(t *testing.T) {
		path := writeTempXLSX(t, "erp_codes.xlsx", "Sheet1", [][]interface{}{
			{"ACODE", "CPARTNO"},
			{"FLG 6IN", "FLANGE 6IN"},
		})
		lex, err := LoadCodeMappings(context.Background(), path)
		if err != nil {
			t.Fatalf("LoadCodeMappings() error = %v", err)
		}
		if lex.Size() != 2 {
			t.Errorf("Expected 2 mapped codes, got %d", lex.Size())
		}
	})

	t.Run("from and to columns", func(t *testing.T) {
		path := writeTempFile(t, "map.csv", []byte("from,to\nSY-40,STRAINER Y 40\n"))
		lex, err := LoadCodeMappings(context.Background(), path)
		if err != nil {
			t.Fatalf("LoadCodeMappings() error = %v", err)
		}
		a, _ := lex.Canonical("SY 40")
		b, _ := lex.Canonical("STRAINER Y 40")
		if a == "" || a != b {
			t.Errorf("Expected shared canonical form, got %q and %q", a, b)
		}
	})

	t.Run("unknown columns", func(t *testing.T) {
		path := writeTempFile(t, "map.csv", []byte("left,right\nA,B\n"))
		_, err := LoadCodeMappings(context.Background(), path)
		if !errors.IsCategory(err, errors.CategoryParse) {
			t.Errorf("Expected parse error, got %v", err)
		}
	})
}

func TestConcurrentParserKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var files []FileSpec
	for i, content := range []string{"code\nA1\nA2\n", "code\nB1\n", "code\nC1\nC2\nC3\n"} {
		path := filepath.Join(dir, string(rune('a'+i))+".csv")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		files = append(files, FileSpec{Path: path, Config: DefaultLineItemParserConfig(models.SourceDatasheet)})
	}
	files = append(files, FileSpec{Path: filepath.Join(dir, "missing.csv"), Config: DefaultLineItemParserConfig(models.SourceDatasheet)})

	results := NewConcurrentParser(2).ParseFiles(context.Background(), files)
	if len(results) != len(files) {
		t.Fatalf("Expected %d results, got %d", len(files), len(results))
	}

	var codes []string
	for i, r := range results[:3] {
		if r.Error != nil {
			t.Fatalf("File %d: unexpected error %v", i, r.Error)
		}
		for _, item := range r.Items {
			codes = append(codes, item.RawCode)
		}
	}
	want := []string{"A1", "A2", "B1", "C1", "C2", "C3"}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("Expected items in file order %v, got %v", want, codes)
	}
	if results[3].Error == nil {
		t.Error("Expected error for the missing file")
	}
}
