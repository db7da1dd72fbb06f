package parsers

import (
	"fmt"
	"strings"

	"po-reconciliation-service/internal/models"
)

// Standard field names used to look up columns
const (
	FieldID          = "id"
	FieldCode        = "code"
	FieldDescription = "description"
	FieldQuantity    = "quantity"
	FieldUnit        = "unit"
	FieldUnitPrice   = "unit_price"
	FieldCurrency    = "currency"
	FieldProvenance  = "provenance"
)

// standardFields lists every field in header-resolution order
var standardFields = []string{
	FieldID, FieldCode, FieldDescription, FieldQuantity,
	FieldUnit, FieldUnitPrice, FieldCurrency, FieldProvenance,
}

// defaultAliases are the header spellings seen in ERP and datasheet exports
var defaultAliases = map[string][]string{
	FieldID:          {"line", "line no", "item no", "s no", "sr no", "sl no", "pos"},
	FieldCode:        {"acode", "item code", "part no", "partno", "cpartno", "part number", "material code"},
	FieldDescription: {"desc", "item description", "material description", "specification"},
	FieldQuantity:    {"qty", "quantity ordered", "ord qty"},
	FieldUnit:        {"uom", "unit of measure", "units"},
	FieldUnitPrice:   {"unit price", "price", "rate", "unit rate"},
	FieldCurrency:    {"curr", "ccy"},
	FieldProvenance:  {"client", "company", "source tag", "tag"},
}

// LineItemParserConfig describes how to read a line-item table
type LineItemParserConfig struct {
	Source            models.Source       `json:"source" mapstructure:"source"`
	IDColumn          string              `json:"id_column" mapstructure:"id_column"`
	CodeColumn        string              `json:"code_column" mapstructure:"code_column"`
	DescriptionColumn string              `json:"description_column" mapstructure:"description_column"`
	QuantityColumn    string              `json:"quantity_column" mapstructure:"quantity_column"`
	UnitColumn        string              `json:"unit_column" mapstructure:"unit_column"`
	UnitPriceColumn   string              `json:"unit_price_column" mapstructure:"unit_price_column"`
	CurrencyColumn    string              `json:"currency_column" mapstructure:"currency_column"`
	ProvenanceColumn  string              `json:"provenance_column" mapstructure:"provenance_column"`
	ColumnAliases     map[string][]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`

	// HeaderRow is the 1-based row holding column names
	HeaderRow       int    `json:"header_row" mapstructure:"header_row"`
	Delimiter       rune   `json:"delimiter" mapstructure:"delimiter"`
	Sheet           string `json:"sheet,omitempty" mapstructure:"sheet"`
	DefaultCurrency string `json:"default_currency,omitempty" mapstructure:"default_currency"`
	MaxErrors       int    `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultLineItemParserConfig returns a configuration for the given source
func DefaultLineItemParserConfig(source models.Source) *LineItemParserConfig {
	return &LineItemParserConfig{
		Source:            source,
		IDColumn:          "id",
		CodeColumn:        "code",
		DescriptionColumn: "description",
		QuantityColumn:    "quantity",
		UnitColumn:        "unit",
		UnitPriceColumn:   "unit_price",
		CurrencyColumn:    "currency",
		ProvenanceColumn:  "provenance",
		ColumnAliases:     make(map[string][]string),
		HeaderRow:         1,
		Delimiter:         ',',
		MaxErrors:         100,
	}
}

// Validate checks if the parser configuration is valid
func (c *LineItemParserConfig) Validate() error {
	if !c.Source.IsValid() {
		return fmt.Errorf("invalid source %q", c.Source)
	}
	if strings.TrimSpace(c.CodeColumn) == "" {
		return fmt.Errorf("code column cannot be empty")
	}
	if c.HeaderRow < 1 {
		return fmt.Errorf("header row must be 1-based, got %d", c.HeaderRow)
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", c.MaxErrors)
	}
	for field := range c.ColumnAliases {
		if !isStandardField(field) {
			return fmt.Errorf("alias for unknown field %q", field)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration
func (c *LineItemParserConfig) Clone() *LineItemParserConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.ColumnAliases = make(map[string][]string, len(c.ColumnAliases))
	for k, v := range c.ColumnAliases {
		clone.ColumnAliases[k] = append([]string(nil), v...)
	}
	return &clone
}

// GetColumnNames returns the header names accepted for a standard field: the
// configured column first, then user aliases, then the built-in aliases.
func (c *LineItemParserConfig) GetColumnNames(standardName string) []string {
	var names []string
	if configured := c.configuredColumn(standardName); configured != "" {
		names = append(names, configured)
	}
	names = append(names, c.ColumnAliases[standardName]...)
	names = append(names, standardName)
	names = append(names, defaultAliases[standardName]...)
	return names
}

func (c *LineItemParserConfig) configuredColumn(standardName string) string {
	switch standardName {
	case FieldID:
		return c.IDColumn
	case FieldCode:
		return c.CodeColumn
	case FieldDescription:
		return c.DescriptionColumn
	case FieldQuantity:
		return c.QuantityColumn
	case FieldUnit:
		return c.UnitColumn
	case FieldUnitPrice:
		return c.UnitPriceColumn
	case FieldCurrency:
		return c.CurrencyColumn
	case FieldProvenance:
		return c.ProvenanceColumn
	default:
		return ""
	}
}

func isStandardField(name string) bool {
	for _, f := range standardFields {
		if f == name {
			return true
		}
	}
	return false
}

// headerKey folds a header cell so "Item_Code", "item code" and "ITEM-CODE."
// compare equal.
func headerKey(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(h)
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ", "#", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// MappingColumns are the header pairs accepted in a code mapping table
var MappingColumns = [][2]string{
	{"acode", "cpartno"},
	{"from", "to"},
	{"code_a", "code_b"},
}
