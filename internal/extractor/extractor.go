// Package extractor derives the comparable attributes of a line item: canonical
// tokens, a unit-converted quantity and a price with its currency.
package extractor

import (
	"fmt"
	"strings"

	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/internal/units"
	"po-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Measure is a quantity expressed in its family's canonical unit when the unit
// is recognised, or in its original unit otherwise.
type Measure struct {
	Value     decimal.Decimal `json:"value"`
	Unit      string          `json:"unit"`
	Family    units.Family    `json:"family,omitempty"`
	Converted bool            `json:"converted"`
}

// Comparable reports whether two measures can be compared numerically
func (m *Measure) Comparable(other *Measure) bool {
	if m == nil || other == nil {
		return false
	}
	if m.Converted && other.Converted {
		return m.Family == other.Family
	}
	return !m.Converted && !other.Converted && m.Unit == other.Unit
}

func (m *Measure) String() string {
	return strings.TrimSpace(m.Value.String() + " " + m.Unit)
}

// Money is an amount in one currency. There is no currency conversion.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m *Money) String() string {
	return strings.TrimSpace(m.Amount.String() + " " + m.Currency)
}

// NormalizedItem is the run-scoped, comparable form of a LineItem
type NormalizedItem struct {
	Index             int                 `json:"index"`
	Item              *models.LineItem    `json:"-"`
	CodeTokens        normalizer.TokenSet `json:"code_tokens"`
	DescriptionTokens normalizer.TokenSet `json:"description_tokens"`
	Provenance        []string            `json:"provenance,omitempty"`
	Units             map[string]string   `json:"units,omitempty"`
	Quantity          *Measure            `json:"quantity,omitempty"`
	Price             *Money              `json:"price,omitempty"`
	Issues            []string            `json:"issues,omitempty"`
}

// CodeKey is a stable string for the item's code tokens
func (n *NormalizedItem) CodeKey() string {
	return n.CodeTokens.Key()
}

// Extractor builds NormalizedItems with one Normalizer
type Extractor struct {
	normalizer *normalizer.Normalizer
	logger     logger.Logger
}

// New creates an extractor. A nil normalizer uses the default lexicon.
func New(n *normalizer.Normalizer, log logger.Logger) *Extractor {
	if n == nil {
		n = normalizer.New(normalizer.NewLexicon())
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Extractor{
		normalizer: n,
		logger:     log.WithComponent("extractor"),
	}
}

// Extract never fails. Missing or malformed fields degrade to empty token sets
// or absent quantity and price, and are listed in Issues.
func (e *Extractor) Extract(item *models.LineItem, index int) *NormalizedItem {
	if item == nil {
		item = &models.LineItem{}
	}

	res := e.normalizer.Normalize(item.RawCode, item.RawDescription)
	out := &NormalizedItem{
		Index:             index,
		Item:              item,
		CodeTokens:        res.CodeTokens,
		DescriptionTokens: res.DescriptionTokens,
		Provenance:        res.Provenance,
		Units:             res.Units,
		Quantity:          ExtractQuantity(item.Quantity, item.Unit),
		Price:             ExtractPrice(item.UnitPrice, item.Currency),
	}

	if tag := strings.ToUpper(strings.TrimSpace(item.ProvenanceTag)); tag != "" && !contains(out.Provenance, tag) {
		out.Provenance = append(out.Provenance, tag)
	}

	if strings.TrimSpace(item.RawCode) == "" {
		out.Issues = append(out.Issues, "missing code")
	}
	if strings.TrimSpace(item.RawDescription) == "" {
		out.Issues = append(out.Issues, "missing description")
	}
	if item.Quantity.Valid && out.Quantity == nil {
		out.Issues = append(out.Issues, fmt.Sprintf("unusable quantity %s", item.Quantity.Decimal))
	}

	if len(out.Issues) > 0 {
		e.logger.WithFields(logger.Fields{
			"source": item.Source,
			"index":  index,
			"item":   item.DisplayID(),
			"issues": strings.Join(out.Issues, "; "),
		}).Debug("Line item has malformed fields")
	}

	return out
}

// ExtractAll extracts items in order
func (e *Extractor) ExtractAll(items []*models.LineItem) []*NormalizedItem {
	out := make([]*NormalizedItem, len(items))
	for i, item := range items {
		out[i] = e.Extract(item, i)
	}
	return out
}

// ExtractQuantity converts a quantity into its canonical unit. It returns nil
// when the quantity is absent or negative.
func ExtractQuantity(qty decimal.NullDecimal, unit string) *Measure {
	if !qty.Valid || qty.Decimal.IsNegative() {
		return nil
	}
	value, canonical, family, ok := units.Convert(qty.Decimal, unit)
	return &Measure{
		Value:     value,
		Unit:      canonical,
		Family:    family,
		Converted: ok,
	}
}

// ExtractPrice pairs a price with its normalized currency. It returns nil
// when the price is absent or negative.
func ExtractPrice(price decimal.NullDecimal, currency string) *Money {
	if !price.Valid || price.Decimal.IsNegative() {
		return nil
	}
	return &Money{Amount: price.Decimal, Currency: NormalizeCurrency(currency)}
}

// NormalizeCurrency upper-cases a currency code and maps common symbols
func NormalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "$", "US$", "USD$":
		return "USD"
	case "€":
		return "EUR"
	case "£":
		return "GBP"
	case "AED", "DHS", "DH":
		return "AED"
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
