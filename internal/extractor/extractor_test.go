package extractor

import (
	"bytes"
	"strings"
	"testing"

	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/internal/units"
	"po-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func TestExtract(t *testing.T) {
	ex := New(nil, logger.NewWithWriter(&bytes.Buffer{}, logger.ErrorLevel, logger.TextFormat))

	item := models.NewLineItem(models.SourcePO, "DP1014MM", "ADNOC").
		WithQuantity(decimal.NewFromInt(10), "mm").
		WithPrice(decimal.RequireFromString("4.20"), "$")
	item.ProvenanceTag = "adnoc"

	n := ex.Extract(item, 3)

	if n.Index != 3 || n.Item != item {
		t.Errorf("expected back reference and index, got %d %p", n.Index, n.Item)
	}
	if n.CodeKey() != "1014 DP" {
		t.Errorf("unexpected code key %q", n.CodeKey())
	}
	if n.Quantity == nil || !n.Quantity.Value.Equal(decimal.RequireFromString("0.01")) || n.Quantity.Unit != "M" {
		t.Errorf("unexpected quantity %+v", n.Quantity)
	}
	if n.Quantity.Family != units.FamilyLength || !n.Quantity.Converted {
		t.Errorf("expected converted length, got %+v", n.Quantity)
	}
	if n.Price == nil || n.Price.Currency != "USD" || !n.Price.Amount.Equal(decimal.RequireFromString("4.2")) {
		t.Errorf("unexpected price %+v", n.Price)
	}
	if len(n.Provenance) != 1 || n.Provenance[0] != "ADNOC" {
		t.Errorf("unexpected provenance %v", n.Provenance)
	}
	if len(n.Issues) != 0 {
		t.Errorf("expected no issues, got %v", n.Issues)
	}
}

func TestExtractMalformedInput(t *testing.T) {
	var buf bytes.Buffer
	ex := New(nil, logger.NewWithWriter(&buf, logger.DebugLevel, logger.TextFormat))

	item := &models.LineItem{Source: models.SourceSO}
	n := ex.Extract(item, 0)

	if n.CodeTokens.Len() != 0 || n.DescriptionTokens.Len() != 0 {
		t.Errorf("expected empty token sets, got %v %v", n.CodeTokens, n.DescriptionTokens)
	}
	if n.Quantity != nil || n.Price != nil {
		t.Error("expected absent quantity and price")
	}
	if len(n.Issues) != 2 {
		t.Errorf("expected 2 issues, got %v", n.Issues)
	}
	if !strings.Contains(buf.String(), "malformed fields") {
		t.Errorf("expected a debug log entry, got %q", buf.String())
	}

	if got := ex.Extract(nil, 1); got == nil || got.Item == nil {
		t.Error("nil item should extract to an empty normalized item")
	}
}

func TestExtractUsesLexicon(t *testing.T) {
	lex := normalizer.NewLexicon()
	lex.AddEquivalence("DP1014", "778-12")
	ex := New(normalizer.New(lex), nil)

	a := ex.Extract(models.NewLineItem(models.SourcePO, "DP 1014", ""), 0)
	b := ex.Extract(models.NewLineItem(models.SourceDatasheet, "778 12", ""), 0)
	if a.CodeKey() != b.CodeKey() {
		t.Errorf("expected mapped codes to share a key, got %q and %q", a.CodeKey(), b.CodeKey())
	}
}

func TestMeasureComparable(t *testing.T) {
	mm := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(1)), "MM")
	ft := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(1)), "FT")
	kg := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(1)), "KG")
	drum := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(1)), "drum")
	drum2 := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(2)), "DRUM")
	box := ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(1)), "box")

	tests := []struct {
		name string
		a, b *Measure
		want bool
	}{
		{"same family", mm, ft, true},
		{"different family", mm, kg, false},
		{"same unconverted unit", drum, drum2, true},
		{"different unconverted units", drum, box, false},
		{"converted vs unconverted", mm, drum, false},
		{"missing", mm, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Comparable(tt.b); got != tt.want {
				t.Errorf("Comparable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractQuantityAndPrice(t *testing.T) {
	if ExtractQuantity(decimal.NullDecimal{}, "EA") != nil {
		t.Error("invalid quantity must give nil")
	}
	if ExtractQuantity(decimal.NewNullDecimal(decimal.NewFromInt(-2)), "EA") != nil {
		t.Error("negative quantity must give nil")
	}
	if ExtractPrice(decimal.NullDecimal{}, "USD") != nil {
		t.Error("invalid price must give nil")
	}

	tests := []struct {
		in, want string
	}{
		{"$", "USD"},
		{" usd ", "USD"},
		{"€", "EUR"},
		{"dhs", "AED"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCurrency(tt.in); got != tt.want {
			t.Errorf("NormalizeCurrency(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
