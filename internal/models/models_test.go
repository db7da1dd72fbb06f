package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSource_IsValid(t *testing.T) {
	tests := []struct {
		source    Source
		valid     bool
		candidate bool
	}{
		{SourcePO, true, false},
		{SourceSO, true, true},
		{SourceDatasheet, true, true},
		{"INVOICE", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := tt.source.IsValid(); got != tt.valid {
				t.Errorf("Source.IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.source.IsCandidate(); got != tt.candidate {
				t.Errorf("Source.IsCandidate() = %v, want %v", got, tt.candidate)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		input   string
		want    Source
		wantErr bool
	}{
		{"po", SourcePO, false},
		{" Sales Order ", SourceSO, false},
		{"datasheet", SourceDatasheet, false},
		{"invoice", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSource(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSource(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestLineItem_DisplayID(t *testing.T) {
	tests := []struct {
		name string
		item LineItem
		want string
	}{
		{"code only", LineItem{RawCode: "DP 1014 MM (ADNOC)"}, "DP 1014 MM (ADNOC)"},
		{"code and description", LineItem{RawCode: "DP1014MM", RawDescription: "Check valve"}, "DP1014MM Check valve"},
		{"description in code", LineItem{RawCode: "DP 1014 MM ADNOC", RawDescription: "adnoc"}, "DP 1014 MM ADNOC"},
		{"provenance tag appended", LineItem{RawCode: "DP 1014 MM", ProvenanceTag: "ADNOC"}, "DP 1014 MM (ADNOC)"},
		{"description only", LineItem{RawDescription: "Gasket"}, "Gasket"},
		{"falls back to id", LineItem{ID: "L7"}, "L7"},
		{"blank", LineItem{}, "<blank>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.DisplayID(); got != tt.want {
				t.Errorf("DisplayID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineItem_Validate(t *testing.T) {
	valid := NewLineItem(SourcePO, "DP1014MM", "ADNOC").
		WithQuantity(decimal.NewFromInt(10), "MM").
		WithPrice(decimal.RequireFromString("12.50"), "USD")
	if issues := valid.Validate(); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}

	broken := &LineItem{
		Source:   "X",
		Quantity: decimal.NewNullDecimal(decimal.NewFromInt(-1)),
	}
	issues := broken.Validate()
	if len(issues) != 4 {
		t.Errorf("expected 4 issues, got %d: %v", len(issues), issues)
	}
}

func TestLineItem_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantQty   string
		wantPrice string
	}{
		{"numbers", `{"source":"PO","code":"A1","quantity":10,"unit_price":2.5}`, "10", "2.5"},
		{"strings", `{"source":"SO","code":"A1","quantity":"1,000","unit_price":"$3.10"}`, "1000", "3.1"},
		{"null and missing", `{"source":"SO","code":"A1","quantity":null}`, "", ""},
		{"malformed", `{"source":"SO","code":"A1","quantity":"ten"}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item LineItem
			if err := json.Unmarshal([]byte(tt.input), &item); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if item.RawCode != "A1" {
				t.Errorf("expected code A1, got %q", item.RawCode)
			}
			checkNull(t, "quantity", item.Quantity, tt.wantQty)
			checkNull(t, "unit_price", item.UnitPrice, tt.wantPrice)
		})
	}
}

func checkNull(t *testing.T, field string, got decimal.NullDecimal, want string) {
	t.Helper()
	if want == "" {
		if got.Valid {
			t.Errorf("%s: expected invalid, got %s", field, got.Decimal)
		}
		return
	}
	if !got.Valid || !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: expected %s, got %v", field, want, got)
	}
}

func TestParseNullDecimal(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10", "10"},
		{" 1,250.50 ", "1250.5"},
		{"1,5", "1.5"},
		{"12,50", "12.5"},
		{"(1,5)", "-1.5"},
		{"€3,75", "3.75"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"1,234.50", "1234.5"},
		{"(12)", "-12"},
		{"€7", "7"},
		{"nan", ""},
		{"N/A", ""},
		{"abc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			checkNull(t, tt.input, ParseNullDecimal(tt.input), tt.want)
		})
	}
}

func TestCountBySource(t *testing.T) {
	items := []*LineItem{
		NewLineItem(SourcePO, "A", ""),
		NewLineItem(SourceDatasheet, "B", ""),
		nil,
		NewLineItem(SourceDatasheet, "C", ""),
	}

	counts := CountBySource(items)
	if len(counts) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(counts))
	}
	if counts[0].Source != SourcePO || counts[0].Items != 1 {
		t.Errorf("unexpected first count %+v", counts[0])
	}
	if counts[1].Source != SourceDatasheet || counts[1].Items != 2 {
		t.Errorf("unexpected second count %+v", counts[1])
	}
}
