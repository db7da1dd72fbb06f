package parsers

import (
	"context"
	"sync"

	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/pkg/errors"
)

// FileSpec names a document and the configuration used to read it
type FileSpec struct {
	Path   string
	Config *LineItemParserConfig
}

// ConcurrentParseResult holds the result of parsing one document
type ConcurrentParseResult struct {
	FilePath string
	Items    []*models.LineItem
	Stats    *ParseStats
	Error    error
}

// ConcurrentParser parses several documents at once, bounded by a semaphore
type ConcurrentParser struct {
	maxConcurrency int
	semaphore      chan struct{}
}

// NewConcurrentParser creates a new concurrent parser
func NewConcurrentParser(maxConcurrency int) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	return &ConcurrentParser{
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
	}
}

// ParseFiles parses every file and returns the results in input order, so
// that concatenating them gives the same item order on every run.
func (cp *ConcurrentParser) ParseFiles(ctx context.Context, files []FileSpec) []*ConcurrentParseResult {
	results := make([]*ConcurrentParseResult, len(files))

	var wg sync.WaitGroup
	for i, spec := range files {
		wg.Add(1)

		go func(i int, spec FileSpec) {
			defer wg.Done()

			result := &ConcurrentParseResult{FilePath: spec.Path}
			results[i] = result

			select {
			case cp.semaphore <- struct{}{}:
				defer func() { <-cp.semaphore }()
			case <-ctx.Done():
				result.Error = errors.InternalError(errors.CodeCancelled, "parse "+spec.Path, ctx.Err())
				return
			}

			parser, err := NewLineItemParser(spec.Config)
			if err != nil {
				result.Error = err
				return
			}

			result.Items, result.Stats, result.Error = parser.ParseFile(ctx, spec.Path)
		}(i, spec)
	}

	wg.Wait()
	return results
}
