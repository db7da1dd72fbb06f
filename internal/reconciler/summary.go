package reconciler

import (
	"fmt"
	"strings"
	"time"

	"po-reconciliation-service/internal/extractor"
	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/parsers"
	"po-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// Recommendation texts, emitted in this order
const (
	RecommendStandardizeCodes   = "Standardize code formats across PO and SO documents"
	RecommendAutomatedChecks    = "Implement automated quantity and price verification"
	RecommendMaterialFormats    = "Establish consistent material specification formats"
	RecommendValidationChecks   = "Consider adding validation checks in the PO to SO conversion process"
	RecommendCentralizedMapping = "Maintain a centralized mapping between different code formats"
)

const (
	// lowCodeSimilarity is the best code similarity below which an unmatched
	// item is treated as a format problem rather than a near miss
	lowCodeSimilarity = 0.3

	// targetMatchRate is the match rate, in percent, below which an insight
	// is reported
	targetMatchRate = 95.0
)

// MatchStatus is the outcome for one PO item
type MatchStatus string

const (
	StatusMatched    MatchStatus = "MATCHED"
	StatusMismatched MatchStatus = "MISMATCHED"
)

// MatchDetail explains the outcome for one PO item
type MatchDetail struct {
	POIndex        int                      `json:"po_index"`
	POItem         string                   `json:"po_item"`
	Status         MatchStatus              `json:"status"`
	MatchType      string                   `json:"match_type"`
	CandidateIndex int                      `json:"candidate_index"`
	Candidate      string                   `json:"candidate,omitempty"`
	CandidateDoc   string                   `json:"candidate_document,omitempty"`
	Score          float64                  `json:"score"`
	Breakdown      *matcher.FactorBreakdown `json:"breakdown,omitempty"`
	BestCandidate  string                   `json:"best_candidate,omitempty"`
	BestScore      float64                  `json:"best_score"`
}

// Insight is one row of the insights table
type Insight struct {
	Category       string `json:"category"`
	Observation    string `json:"observation"`
	Recommendation string `json:"recommendation"`
}

// ReconciliationResult is the outcome of one run. MatchedCount plus
// MismatchedCount always equals TotalPOItems, and UnmatchedItems holds one
// display id per mismatched PO item.
type ReconciliationResult struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	DocumentSummary []models.SourceCount `json:"document_summary"`
	TotalPOItems    int                  `json:"total_po_items"`
	MatchedCount    int                  `json:"matched_count"`
	MismatchedCount int                  `json:"mismatched_count"`
	UnmatchedItems  []string             `json:"unmatched_items"`
	Recommendations []string             `json:"recommendations"`

	Matches             []MatchDetail            `json:"matches,omitempty"`
	Discrepancies       []matcher.Discrepancy    `json:"discrepancies,omitempty"`
	DuplicateGroups     []matcher.DuplicateGroup `json:"duplicate_groups,omitempty"`
	Insights            []Insight                `json:"insights,omitempty"`
	UnmatchedCandidates []string                 `json:"unmatched_candidates,omitempty"`
	MinConfidence       float64                  `json:"min_confidence"`

	ParseStats         []*parsers.ParseStats `json:"parse_stats,omitempty"`
	MappingStats       *parsers.MappingStats `json:"mapping_stats,omitempty"`
	PreprocessingStats *PreprocessingStats   `json:"preprocessing_stats,omitempty"`
	ProcessingDuration time.Duration         `json:"processing_duration"`
}

// MatchRate returns the matched share of PO items in percent
func (r *ReconciliationResult) MatchRate() float64 {
	if r.TotalPOItems == 0 {
		return 0
	}
	return float64(r.MatchedCount) / float64(r.TotalPOItems) * 100
}

// DiscrepanciesOf returns the discrepancies of one type in PO order
func (r *ReconciliationResult) DiscrepanciesOf(t matcher.DiscrepancyType) []matcher.Discrepancy {
	var out []matcher.Discrepancy
	for _, d := range r.Discrepancies {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// Summarizer turns an assignment into a ReconciliationResult. It performs
// no I/O besides logging.
type Summarizer struct {
	config *matcher.MatchingConfig
	logger logger.Logger
}

// NewSummarizer creates a summarizer. The config supplies the discrepancy
// tolerances and the duplicate threshold.
func NewSummarizer(config *matcher.MatchingConfig, log logger.Logger) *Summarizer {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Summarizer{config: config, logger: log.WithComponent("summarizer")}
}

// Summarize builds a result with the default configuration
func Summarize(a *matcher.Assignment, totalPO int) *ReconciliationResult {
	return NewSummarizer(nil, nil).Summarize(a, totalPO)
}

// Summarize counts matched and mismatched PO items and derives the
// recommendations. Counts come from the assignment entries; totalPO is only
// cross-checked.
func (s *Summarizer) Summarize(a *matcher.Assignment, totalPO int) *ReconciliationResult {
	if a == nil {
		a = &matcher.Assignment{}
	}

	result := &ReconciliationResult{
		RunID:           uuid.NewString(),
		GeneratedAt:     time.Now().UTC(),
		TotalPOItems:    len(a.Entries),
		UnmatchedItems:  []string{},
		Recommendations: []string{},
		MinConfidence:   a.MinConfidence,
	}

	if totalPO != len(a.Entries) {
		s.logger.WithFields(logger.Fields{
			"total_po": totalPO,
			"entries":  len(a.Entries),
		}).Warn("PO item count disagrees with the assignment; using the assignment")
	}

	result.DocumentSummary = models.CountBySource(append(lineItems(a.POItems), lineItems(a.Candidates)...))

	result.Matches = make([]MatchDetail, 0, len(a.Entries))
	for _, e := range a.Entries {
		detail := s.matchDetail(a, e)
		if e.Matched() {
			result.MatchedCount++
		} else {
			result.MismatchedCount++
			result.UnmatchedItems = append(result.UnmatchedItems, detail.POItem)
		}
		result.Matches = append(result.Matches, detail)
	}

	for _, c := range a.UnmatchedCandidates() {
		result.UnmatchedCandidates = append(result.UnmatchedCandidates, displayID(c))
	}

	analyzer := matcher.NewDiscrepancyAnalyzer(s.config)
	result.Discrepancies = analyzer.Analyze(a)
	result.DuplicateGroups = analyzer.DetectDuplicates(a.POItems)

	result.Recommendations = s.recommendations(a, result.Discrepancies)
	result.Insights = s.insights(a, result)

	s.logger.WithFields(logger.Fields{
		"run_id":          result.RunID,
		"total_po_items":  result.TotalPOItems,
		"matched":         result.MatchedCount,
		"mismatched":      result.MismatchedCount,
		"discrepancies":   len(result.Discrepancies),
		"recommendations": len(result.Recommendations),
	}).Info("Reconciliation summary built")

	return result
}

func (s *Summarizer) matchDetail(a *matcher.Assignment, e matcher.AssignmentEntry) MatchDetail {
	detail := MatchDetail{
		POIndex:        e.POIndex,
		POItem:         displayID(itemAt(a.POItems, e.POIndex)),
		Status:         StatusMismatched,
		MatchType:      e.MatchType.String(),
		CandidateIndex: e.CandidateIndex,
		Score:          e.Score,
	}

	if e.Matched() {
		detail.Status = StatusMatched
		if cand := itemAt(a.Candidates, e.CandidateIndex); cand != nil {
			detail.Candidate = displayID(cand)
			detail.CandidateDoc = cand.Item.Document
		}
		if e.Pair != nil {
			breakdown := e.Pair.Breakdown
			detail.Breakdown = &breakdown
		}
	}

	if e.Best != nil {
		detail.BestScore = e.Best.Score
		detail.BestCandidate = displayID(itemAt(a.Candidates, e.Best.CandidateIndex))
		if detail.Breakdown == nil {
			breakdown := e.Best.Breakdown
			detail.Breakdown = &breakdown
		}
	}

	return detail
}

// recommendations applies the heuristics in a fixed order. A panic in any
// rule drops the recommendations but leaves the counts intact.
func (s *Summarizer) recommendations(a *matcher.Assignment, discrepancies []matcher.Discrepancy) (recs []string) {
	recs = []string{}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Recommendation generation failed")
			recs = []string{}
		}
	}()

	var unmatched []matcher.AssignmentEntry
	withBest, neutral := 0, 0
	for _, e := range a.Entries {
		if !e.Matched() {
			unmatched = append(unmatched, e)
		}
		if e.Best != nil {
			withBest++
			if e.Best.Breakdown.Quantity.Neutral || e.Best.Breakdown.Price.Neutral {
				neutral++
			}
		}
	}

	if len(unmatched) > 0 {
		allLow := true
		for _, e := range unmatched {
			if bestCodeSimilarity(e) >= lowCodeSimilarity {
				allLow = false
				break
			}
		}
		if allLow {
			recs = append(recs, RecommendStandardizeCodes)
		}
	}

	if withBest > 0 && neutral*2 >= withBest {
		recs = append(recs, RecommendAutomatedChecks)
	}

	var material, valueMismatch bool
	for _, d := range discrepancies {
		switch d.Type {
		case matcher.DiscrepancyMaterial:
			material = true
		case matcher.DiscrepancyQuantity, matcher.DiscrepancyPrice:
			valueMismatch = true
		}
	}
	if material {
		recs = append(recs, RecommendMaterialFormats)
	}
	if valueMismatch {
		recs = append(recs, RecommendValidationChecks)
	}

	for _, e := range unmatched {
		if sim := bestCodeSimilarity(e); sim > 0 && sim < 1 {
			recs = append(recs, RecommendCentralizedMapping)
			break
		}
	}

	return recs
}

// insights reports the match rate, MR-suffixed PO codes and quantity
// mismatches when they call for attention.
func (s *Summarizer) insights(a *matcher.Assignment, result *ReconciliationResult) []Insight {
	var out []Insight

	if result.TotalPOItems > 0 && result.MatchRate() < targetMatchRate {
		out = append(out, Insight{
			Category:       "Matching",
			Observation:    fmt.Sprintf("Match rate is %.1f%%", result.MatchRate()),
			Recommendation: "Review unmatched items",
		})
	}

	mr := 0
	for _, n := range a.POItems {
		if n != nil && n.Item != nil && strings.HasSuffix(strings.ToUpper(strings.TrimSpace(n.Item.RawCode)), "MR") {
			mr++
		}
	}
	if mr > 0 {
		out = append(out, Insight{
			Category:       "Code Patterns",
			Observation:    fmt.Sprintf("%d items with MR suffix", mr),
			Recommendation: "Standardize MR suffix handling",
		})
	}

	if n := len(result.DiscrepanciesOf(matcher.DiscrepancyQuantity)); n > 0 {
		out = append(out, Insight{
			Category:       "Quantities",
			Observation:    fmt.Sprintf("%d quantity mismatches", n),
			Recommendation: "Verify quantity mappings",
		})
	}

	return out
}

// bestCodeSimilarity is the code factor of the best pair considered, or 0
// when there were no candidates.
func bestCodeSimilarity(e matcher.AssignmentEntry) float64 {
	if e.Best == nil {
		return 0
	}
	return e.Best.Breakdown.Code.Value
}

func itemAt(items []*extractor.NormalizedItem, i int) *extractor.NormalizedItem {
	if i < 0 || i >= len(items) {
		return nil
	}
	return items[i]
}

func displayID(n *extractor.NormalizedItem) string {
	if n == nil || n.Item == nil {
		return ""
	}
	return n.Item.DisplayID()
}

func lineItems(items []*extractor.NormalizedItem) []*models.LineItem {
	out := make([]*models.LineItem, 0, len(items))
	for _, n := range items {
		if n != nil {
			out = append(out, n.Item)
		}
	}
	return out
}
