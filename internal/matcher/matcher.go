package matcher

import (
	"sort"
	"sync"
	"time"

	"po-reconciliation-service/internal/extractor"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/pkg/logger"
)

// progressThreshold is the pair count above which scoring progress is logged
const progressThreshold = 10000

// MatchingEngine is the core engine responsible for line-item matching
type MatchingEngine struct {
	Config    *MatchingConfig
	extractor *extractor.Extractor
	logger    logger.Logger
}

// AssignmentEntry is the outcome for one PO item
type AssignmentEntry struct {
	POIndex        int                 `json:"po_index"`
	CandidateIndex int                 `json:"candidate_index"`
	Score          float64             `json:"score"`
	MatchType      MatchType           `json:"match_type"`
	Pair           *MatchCandidatePair `json:"pair,omitempty"`
	Best           *MatchCandidatePair `json:"best,omitempty"`
}

// Matched reports whether the PO item was assigned a candidate
func (e AssignmentEntry) Matched() bool {
	return e.CandidateIndex >= 0
}

// Assignment maps every PO item to at most one candidate. No candidate is
// assigned to more than one PO item.
type Assignment struct {
	Entries       []AssignmentEntry
	POItems       []*extractor.NormalizedItem
	Candidates    []*extractor.NormalizedItem
	MinConfidence float64
	Duration      time.Duration
}

// MatchedCount returns the number of assigned PO items
func (a *Assignment) MatchedCount() int {
	n := 0
	for _, e := range a.Entries {
		if e.Matched() {
			n++
		}
	}
	return n
}

// UnmatchedCandidates returns the candidates no PO item was assigned to, in
// candidate order.
func (a *Assignment) UnmatchedCandidates() []*extractor.NormalizedItem {
	used := make(map[int]bool, len(a.Entries))
	for _, e := range a.Entries {
		if e.Matched() {
			used[e.CandidateIndex] = true
		}
	}
	var out []*extractor.NormalizedItem
	for i, c := range a.Candidates {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out
}

// NewMatchingEngine creates a new matching engine. A nil config uses the
// defaults; a nil normalizer uses the default lexicon.
func NewMatchingEngine(config *MatchingConfig, norm *normalizer.Normalizer, log logger.Logger) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &MatchingEngine{
		Config:    config,
		extractor: extractor.New(norm, log),
		logger:    log.WithComponent("matcher"),
	}
}

// Assign is a convenience wrapper using the default configuration with the
// given threshold.
func Assign(po, candidates []*models.LineItem, minConfidence float64) (*Assignment, error) {
	config := DefaultMatchingConfig()
	config.MinConfidence = minConfidence
	return NewMatchingEngine(config, nil, nil).Assign(po, candidates)
}

// Assign scores every PO/candidate pair and greedily accepts the best pairs
// above the configured threshold. Only an invalid configuration is an error;
// an empty candidate list leaves every PO item unassigned.
func (me *MatchingEngine) Assign(po, candidates []*models.LineItem) (*Assignment, error) {
	if err := me.Config.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	assignment := &Assignment{
		Entries:       make([]AssignmentEntry, len(po)),
		POItems:       me.extractor.ExtractAll(po),
		Candidates:    me.extractor.ExtractAll(candidates),
		MinConfidence: me.Config.MinConfidence,
	}
	for i := range assignment.Entries {
		assignment.Entries[i] = AssignmentEntry{POIndex: i, CandidateIndex: -1, MatchType: MatchNone}
	}

	pairs := me.scoreAll(assignment.POItems, assignment.Candidates)
	recordBest(assignment.Entries, pairs)

	SortPairs(pairs)
	me.greedy(assignment.Entries, pairs, len(candidates))

	assignment.Duration = time.Since(start)
	me.logger.WithFields(logger.Fields{
		"po_items":   len(po),
		"candidates": len(candidates),
		"pairs":      len(pairs),
		"matched":    assignment.MatchedCount(),
		"duration":   assignment.Duration.String(),
	}).Info("Assignment completed")

	return assignment, nil
}

// scoreAll fills a slice indexed by (po, candidate), so the result does not
// depend on goroutine scheduling.
func (me *MatchingEngine) scoreAll(po, candidates []*extractor.NormalizedItem) []MatchCandidatePair {
	total := len(po) * len(candidates)
	pairs := make([]MatchCandidatePair, total)
	if total == 0 {
		return pairs
	}

	scorer := NewScorer(me.Config)

	var tracker *logger.ProgressTracker
	if me.Config.ReportProgress || total >= progressThreshold {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "pair_scoring",
			Total:     int64(total),
			Logger:    me.logger,
		})
	}

	semaphore := make(chan struct{}, me.Config.workerCount(len(po)))
	var wg sync.WaitGroup

	for i := range po {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			base := row * len(candidates)
			for j, c := range candidates {
				pairs[base+j] = scorer.Score(po[row], c)
			}
			if tracker != nil {
				tracker.Add(int64(len(candidates)))
			}
		}(i)
	}
	wg.Wait()

	if tracker != nil {
		tracker.Complete()
	}
	return pairs
}

// recordBest keeps, per PO item, the highest-ranked pair regardless of the
// threshold. Reports use it to explain why an item stayed unmatched.
func recordBest(entries []AssignmentEntry, pairs []MatchCandidatePair) {
	for i := range pairs {
		p := &pairs[i]
		e := &entries[p.POIndex]
		if e.Best == nil || pairLess(*p, *e.Best) {
			best := *p
			e.Best = &best
		}
	}
}

// SortPairs orders pairs by score descending, then code similarity
// descending, then candidate order, then PO order.
func SortPairs(pairs []MatchCandidatePair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairLess(pairs[i], pairs[j])
	})
}

func pairLess(a, b MatchCandidatePair) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Breakdown.Code.Value != b.Breakdown.Code.Value {
		return a.Breakdown.Code.Value > b.Breakdown.Code.Value
	}
	if a.CandidateIndex != b.CandidateIndex {
		return a.CandidateIndex < b.CandidateIndex
	}
	return a.POIndex < b.POIndex
}

func (me *MatchingEngine) greedy(entries []AssignmentEntry, pairs []MatchCandidatePair, candidateCount int) {
	taken := make([]bool, candidateCount)
	remaining := len(entries)

	for i := range pairs {
		p := pairs[i]
		if p.Score < me.Config.MinConfidence || remaining == 0 {
			// sorted descending, nothing further can qualify
			break
		}
		e := &entries[p.POIndex]
		if e.Matched() || taken[p.CandidateIndex] {
			continue
		}

		taken[p.CandidateIndex] = true
		remaining--
		e.CandidateIndex = p.CandidateIndex
		e.Score = p.Score
		e.MatchType = me.Config.ClassifyScore(p.Score)
		e.Pair = &p
	}
}
