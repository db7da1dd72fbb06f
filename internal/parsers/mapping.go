package parsers

import (
	"context"
	"io"

	"po-reconciliation-service/internal/normalizer"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"
)

// MappingStats summarizes a loaded code mapping table
type MappingStats struct {
	File    string    `json:"file"`
	Columns [2]string `json:"columns"`
	Rows    int       `json:"rows"`
	Pairs   int       `json:"pairs"`
	Skipped int       `json:"skipped"`
}

// LoadCodeMappings reads a two-column equivalence table (acode/cpartno,
// from/to or code_a/code_b) into a new lexicon.
func LoadCodeMappings(ctx context.Context, path string) (*normalizer.Lexicon, error) {
	lex := normalizer.NewLexicon()
	if _, err := LoadCodeMappingsInto(ctx, path, lex); err != nil {
		return nil, err
	}
	return lex, nil
}

// LoadCodeMappingsInto adds the pairs found in path to lex. Rows with a blank
// or "nan" cell on either side are skipped.
func LoadCodeMappingsInto(ctx context.Context, path string, lex *normalizer.Lexicon) (*MappingStats, error) {
	if lex == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "load_code_mappings", nil)
	}
	log := logger.GetGlobalLogger().WithComponent("mapping_loader")
	bp := NewBaseParser(DefaultParseConfig())

	file, err := bp.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, _, err := bp.OpenRows(file, path)
	if err != nil {
		return nil, err
	}

	parseCtx := NewParseContext(ctx, path)
	if err := bp.ReadHeaders(reader, parseCtx); err != nil {
		return nil, err
	}

	stats := &MappingStats{File: path}
	from, to := -1, -1
	for _, pair := range MappingColumns {
		a, b := parseCtx.GetColumnIndex(pair[0]), parseCtx.GetColumnIndex(pair[1])
		if a >= 0 && b >= 0 {
			from, to = a, b
			stats.Columns = [2]string{parseCtx.Headers[a], parseCtx.Headers[b]}
			break
		}
	}
	if from < 0 {
		return nil, errors.MissingColumnError(path, MappingColumns[0][:], parseCtx.Headers).
			WithSuggestion("name the mapping columns acode and cpartno, from and to, or code_a and code_b").
			ReconcilerError
	}

	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if errors.IsCategory(err, errors.CategoryInternal) {
				return nil, err
			}
			stats.Skipped++
			continue
		}

		stats.Rows++
		a, b := GetFieldValue(record, from), GetFieldValue(record, to)
		if isBlankCell(a) || isBlankCell(b) {
			stats.Skipped++
			continue
		}
		lex.AddEquivalence(a, b)
		stats.Pairs++
	}

	log.WithFields(logger.Fields{
		"file_path":    path,
		"columns":      stats.Columns,
		"pairs":        stats.Pairs,
		"skipped":      stats.Skipped,
		"lexicon_size": lex.Size(),
	}).Info("Loaded code mappings")

	return stats, nil
}
