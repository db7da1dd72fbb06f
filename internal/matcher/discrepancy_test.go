package matcher

import (
	"strings"
	"testing"

	"po-reconciliation-service/internal/extractor"
	"po-reconciliation-service/internal/models"
)

func TestAnalyzeDiscrepancies(t *testing.T) {
	po := []*models.LineItem{
		withQty(poItem("DP 1014 (ADNOC)", ""), "100", "EA"),
		withPrice(withQty(poItem("GV 2020", ""), "5", "EA"), "100", "USD"),
		withQty(poItem("BV 330", ""), "1", "EA"),
	}
	cands := []*models.LineItem{
		withQty(dsItem("DP 1014 (KOC)", ""), "105", "EA"),
		withPrice(withQty(dsItem("GV-2020", ""), "5", "EA"), "104", "USD"),
		withQty(dsItem("BV330", ""), "1", "PCS"),
	}

	a, err := newTestEngine(nil).Assign(po, cands)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MatchedCount() != 3 {
		t.Fatalf("expected all 3 items matched, got %d", a.MatchedCount())
	}

	got := NewDiscrepancyAnalyzer(nil).Analyze(a)
	if len(got) != 3 {
		t.Fatalf("expected 3 discrepancies, got %d: %+v", len(got), got)
	}

	want := []struct {
		typ     DiscrepancyType
		poIndex int
		detail  string
	}{
		{DiscrepancyQuantity, 0, "PO 100 EA vs"},
		{DiscrepancyMaterial, 0, "ADNOC"},
		{DiscrepancyPrice, 1, "3.8% deviation"},
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].POIndex != w.poIndex {
			t.Errorf("discrepancy %d: got %s on PO %d, want %s on PO %d", i, got[i].Type, got[i].POIndex, w.typ, w.poIndex)
		}
		if !strings.Contains(got[i].String(), w.detail) {
			t.Errorf("discrepancy %d: expected %q in %q", i, w.detail, got[i].String())
		}
	}
}

func TestQuantityDeviationIncompatibleUnits(t *testing.T) {
	got := quantityDeviation(measure("1", "KG"), measure("1", "M"))
	if got != "incompatible units KG/M" {
		t.Errorf("unexpected deviation text %q", got)
	}
}

func TestDetectDuplicates(t *testing.T) {
	ex := extractor.New(nil, quietLogger())
	items := ex.ExtractAll([]*models.LineItem{
		poItem("DP 1014", ""),
		poItem("GV 2020", ""),
		poItem("DP-1014 MR", ""),
		poItem("", "no code"),
		poItem("DP 7788", ""),
		poItem("GV 2021", ""),
	})

	groups := NewDiscrepancyAnalyzer(nil).DetectDuplicates(items)
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d: %+v", len(groups), groups)
	}

	g := groups[0]
	if g.GroupID != "DUP_1" {
		t.Errorf("unexpected group id %q", g.GroupID)
	}
	if len(g.POIndexes) != 2 || g.POIndexes[0] != 0 || g.POIndexes[1] != 2 {
		t.Errorf("unexpected members %v", g.POIndexes)
	}
	if g.Confidence != 1 || g.Reason != "identical canonical codes" {
		t.Errorf("unexpected confidence %f / reason %q", g.Confidence, g.Reason)
	}

	loose := DefaultMatchingConfig()
	loose.DuplicateSimilarity = 0.9
	if groups := NewDiscrepancyAnalyzer(loose).DetectDuplicates(items); len(groups) < 2 {
		t.Errorf("expected a looser threshold to find more groups, got %d", len(groups))
	}
}
