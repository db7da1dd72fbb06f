package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"po-reconciliation-service/internal/extractor"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// DiscrepancyType classifies a difference found on an accepted match
type DiscrepancyType string

const (
	DiscrepancyQuantity DiscrepancyType = "quantity"
	DiscrepancyPrice    DiscrepancyType = "price"
	DiscrepancyMaterial DiscrepancyType = "material_spec"
)

// Discrepancy is a difference between a PO item and the candidate it was
// matched to.
type Discrepancy struct {
	Type           DiscrepancyType `json:"type"`
	POIndex        int             `json:"po_index"`
	CandidateIndex int             `json:"candidate_index"`
	POItem         string          `json:"po_item"`
	Candidate      string          `json:"candidate"`
	POValue        string          `json:"po_value"`
	CandidateValue string          `json:"candidate_value"`
	Deviation      string          `json:"deviation,omitempty"`
}

// String renders the discrepancy on one line for console reports
func (d Discrepancy) String() string {
	s := fmt.Sprintf("%s: PO %s vs %s %s", d.POItem, d.POValue, d.Candidate, d.CandidateValue)
	if d.Deviation != "" {
		s += " (" + d.Deviation + ")"
	}
	return s
}

// DuplicateGroup represents PO items whose codes are near-identical
type DuplicateGroup struct {
	GroupID    string   `json:"group_id"`
	POIndexes  []int    `json:"po_indexes"`
	Items      []string `json:"items"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
}

// DiscrepancyAnalyzer inspects a finished assignment for differences that a
// reviewer should look at.
type DiscrepancyAnalyzer struct {
	Config *MatchingConfig
}

// NewDiscrepancyAnalyzer creates a new analyzer
func NewDiscrepancyAnalyzer(config *MatchingConfig) *DiscrepancyAnalyzer {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &DiscrepancyAnalyzer{Config: config}
}

// Analyze returns quantity, price and material-spec discrepancies on matched
// pairs, in PO order.
func (da *DiscrepancyAnalyzer) Analyze(a *Assignment) []Discrepancy {
	var out []Discrepancy

	for _, e := range a.Entries {
		if !e.Matched() || e.Pair == nil {
			continue
		}
		po, cand := a.POItems[e.POIndex], a.Candidates[e.CandidateIndex]
		base := Discrepancy{
			POIndex:        e.POIndex,
			CandidateIndex: e.CandidateIndex,
			POItem:         po.Item.DisplayID(),
			Candidate:      cand.Item.DisplayID(),
		}

		if f := e.Pair.Breakdown.Quantity; !f.Neutral && f.Value < 1 {
			d := base
			d.Type = DiscrepancyQuantity
			d.POValue = quantityText(po)
			d.CandidateValue = quantityText(cand)
			d.Deviation = quantityDeviation(po.Quantity, cand.Quantity)
			out = append(out, d)
		}

		if f := e.Pair.Breakdown.Price; !f.Neutral && f.Value < 1 {
			d := base
			d.Type = DiscrepancyPrice
			d.POValue = po.Price.String()
			d.CandidateValue = cand.Price.String()
			d.Deviation = formatDeviation(RelativeDeviation(po.Price.Amount, cand.Price.Amount).InexactFloat64())
			out = append(out, d)
		}

		if len(po.Provenance) > 0 && len(cand.Provenance) > 0 && provenanceKey(po) != provenanceKey(cand) {
			d := base
			d.Type = DiscrepancyMaterial
			d.POValue = provenanceKey(po)
			d.CandidateValue = provenanceKey(cand)
			out = append(out, d)
		}
	}

	return out
}

func quantityText(n *extractor.NormalizedItem) string {
	q := n.Item.Quantity
	if !q.Valid {
		return "-"
	}
	return strings.TrimSpace(q.Decimal.String() + " " + strings.ToUpper(strings.TrimSpace(n.Item.Unit)))
}

func quantityDeviation(a, b *extractor.Measure) string {
	if !a.Comparable(b) {
		return fmt.Sprintf("incompatible units %s/%s", a.Unit, b.Unit)
	}
	return formatDeviation(RelativeDeviation(a.Value, b.Value).InexactFloat64())
}

func formatDeviation(d float64) string {
	return fmt.Sprintf("%.1f%% deviation", d*100)
}

func provenanceKey(n *extractor.NormalizedItem) string {
	tags := append([]string(nil), n.Provenance...)
	sort.Strings(tags)
	return strings.Join(tags, ", ")
}

// DetectDuplicates groups PO items whose canonical code keys have a
// Jaro-Winkler similarity of at least Config.DuplicateSimilarity. Items
// without code tokens are ignored.
func (da *DiscrepancyAnalyzer) DetectDuplicates(items []*extractor.NormalizedItem) []DuplicateGroup {
	var groups []DuplicateGroup
	processed := make([]bool, len(items))
	jw := metrics.NewJaroWinkler()

	for i, first := range items {
		key := first.CodeKey()
		if processed[i] || key == "" {
			continue
		}

		group := DuplicateGroup{
			POIndexes:  []int{i},
			Items:      []string{first.Item.DisplayID()},
			Confidence: 1,
		}

		for j := i + 1; j < len(items); j++ {
			other := items[j].CodeKey()
			if processed[j] || other == "" {
				continue
			}
			sim := strutil.Similarity(key, other, jw)
			if sim >= da.Config.DuplicateSimilarity {
				processed[j] = true
				group.POIndexes = append(group.POIndexes, j)
				group.Items = append(group.Items, items[j].Item.DisplayID())
				group.Confidence = math.Min(group.Confidence, sim)
			}
		}
		processed[i] = true

		if len(group.POIndexes) > 1 {
			group.GroupID = fmt.Sprintf("DUP_%d", len(groups)+1)
			group.Reason = duplicateReason(group.Confidence)
			groups = append(groups, group)
		}
	}

	return groups
}

func duplicateReason(confidence float64) string {
	if confidence >= 1 {
		return "identical canonical codes"
	}
	return fmt.Sprintf("near-identical codes (similarity %.2f)", confidence)
}
