package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source identifies which document collection a line item came from
type Source string

const (
	// SourcePO marks purchase order items
	SourcePO Source = "PO"
	// SourceSO marks sales order items
	SourceSO Source = "SO"
	// SourceDatasheet marks datasheet items
	SourceDatasheet Source = "Datasheet"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is one of the known collections
func (s Source) IsValid() bool {
	return s == SourcePO || s == SourceSO || s == SourceDatasheet
}

// IsCandidate reports whether items from this source can be matched against PO items
func (s Source) IsCandidate() bool {
	return s == SourceSO || s == SourceDatasheet
}

// ParseSource converts a string into a Source, case-insensitively
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PO", "PURCHASE ORDER":
		return SourcePO, nil
	case "SO", "SALES ORDER":
		return SourceSO, nil
	case "DATASHEET", "DS":
		return SourceDatasheet, nil
	default:
		return "", fmt.Errorf("invalid source: %s", s)
	}
}

// LineItem is one row from a PO, SO or datasheet. It is read-only after ingestion.
type LineItem struct {
	Source         Source              `json:"source"`
	ID             string              `json:"id,omitempty"`
	RawCode        string              `json:"code"`
	RawDescription string              `json:"description"`
	Quantity       decimal.NullDecimal `json:"quantity"`
	Unit           string              `json:"unit,omitempty"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	Currency       string              `json:"currency,omitempty"`
	ProvenanceTag  string              `json:"provenance_tag,omitempty"`
	Document       string              `json:"document,omitempty"`
}

// NewLineItem creates a line item without quantity or price
func NewLineItem(source Source, code, description string) *LineItem {
	return &LineItem{
		Source:         source,
		RawCode:        code,
		RawDescription: description,
	}
}

// WithQuantity sets the quantity and unit
func (li *LineItem) WithQuantity(qty decimal.Decimal, unit string) *LineItem {
	li.Quantity = decimal.NewNullDecimal(qty)
	li.Unit = unit
	return li
}

// WithPrice sets the unit price and currency
func (li *LineItem) WithPrice(price decimal.Decimal, currency string) *LineItem {
	li.UnitPrice = decimal.NewNullDecimal(price)
	li.Currency = currency
	return li
}

// DisplayID returns the identifier used in reports: the raw code, followed by
// the description unless it is empty or already part of the code. A provenance
// tag not already present is appended in parentheses.
func (li *LineItem) DisplayID() string {
	code := strings.TrimSpace(li.RawCode)
	desc := strings.TrimSpace(li.RawDescription)

	var id string
	switch {
	case code == "" && desc == "":
		if li.ID != "" {
			return li.ID
		}
		return "<blank>"
	case code == "":
		id = desc
	case desc == "" || strings.Contains(strings.ToUpper(code), strings.ToUpper(desc)):
		id = code
	default:
		id = code + " " + desc
	}

	if tag := strings.TrimSpace(li.ProvenanceTag); tag != "" && !strings.Contains(strings.ToUpper(id), strings.ToUpper(tag)) {
		id += " (" + tag + ")"
	}
	return id
}

// Validate reports the malformed-input conditions found on the item. The
// conditions are advisory: matching degrades instead of failing.
func (li *LineItem) Validate() []string {
	var issues []string

	if !li.Source.IsValid() {
		issues = append(issues, fmt.Sprintf("invalid source: %q", li.Source))
	}
	if strings.TrimSpace(li.RawCode) == "" {
		issues = append(issues, "missing code")
	}
	if strings.TrimSpace(li.RawDescription) == "" {
		issues = append(issues, "missing description")
	}
	if li.Quantity.Valid && li.Quantity.Decimal.IsNegative() {
		issues = append(issues, fmt.Sprintf("negative quantity: %s", li.Quantity.Decimal))
	}
	if li.UnitPrice.Valid && li.UnitPrice.Decimal.IsNegative() {
		issues = append(issues, fmt.Sprintf("negative unit price: %s", li.UnitPrice.Decimal))
	}

	return issues
}

// String returns a string representation of the LineItem
func (li *LineItem) String() string {
	qty := "-"
	if li.Quantity.Valid {
		qty = strings.TrimSpace(li.Quantity.Decimal.String() + " " + li.Unit)
	}
	price := "-"
	if li.UnitPrice.Valid {
		price = strings.TrimSpace(li.UnitPrice.Decimal.String() + " " + li.Currency)
	}
	return fmt.Sprintf("LineItem{Source: %s, Code: %s, Description: %s, Qty: %s, Price: %s}",
		li.Source, li.RawCode, li.RawDescription, qty, price)
}

// UnmarshalJSON accepts quantity and unit_price as JSON numbers, numeric
// strings, or null. An unparseable value leaves the field invalid.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	type Alias LineItem
	aux := &struct {
		Quantity  json.RawMessage `json:"quantity"`
		UnitPrice json.RawMessage `json:"unit_price"`
		*Alias
	}{
		Alias: (*Alias)(li),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	li.Quantity = ParseNullDecimal(rawToString(aux.Quantity))
	li.UnitPrice = ParseNullDecimal(rawToString(aux.UnitPrice))
	return nil
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ParseNullDecimal parses a numeric cell. Thousands separators, a decimal
// comma, currency symbols and surrounding whitespace are tolerated; anything else gives an
// invalid NullDecimal.
func ParseNullDecimal(s string) decimal.NullDecimal {
	cleaned := CleanNumeric(s)
	if cleaned == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// CleanNumeric strips formatting characters from a numeric string. A lone
// comma followed by one or two digits, with no period anywhere, is a decimal
// comma ("1,5" is 1.5); any other comma separates thousands ("1,234").
func CleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "nan", "n/a", "-":
		return ""
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimLeft(s, "$€£")
	if i := strings.IndexByte(s, ','); i >= 0 && i == strings.LastIndexByte(s, ',') && !strings.Contains(s, ".") {
		if frac := strings.TrimSuffix(s[i+1:], ")"); len(frac) >= 1 && len(frac) <= 2 && isDigits(frac) {
			s = s[:i] + "." + s[i+1:]
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.Trim(s, "()")
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CountBySource tallies items per source in the order each source is first seen
func CountBySource(items []*LineItem) []SourceCount {
	var counts []SourceCount
	index := make(map[Source]int)
	for _, item := range items {
		if item == nil {
			continue
		}
		i, ok := index[item.Source]
		if !ok {
			i = len(counts)
			index[item.Source] = i
			counts = append(counts, SourceCount{Source: item.Source})
		}
		counts[i].Items++
	}
	return counts
}

// SourceCount is the number of items read from one source collection
type SourceCount struct {
	Source Source `json:"source"`
	Items  int    `json:"items"`
}
