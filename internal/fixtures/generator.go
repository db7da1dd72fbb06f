// Package fixtures generates synthetic PO and candidate documents with a
// known answer: which PO rows have a counterpart and which do not. It backs
// the generate command and the large-input tests.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"po-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// Code prefixes. PO codes and candidate-only codes never share a token, so a
// candidate-only row cannot reach the default threshold against any PO row.
var (
	poPrefixes        = []string{"VLV", "FLG", "GSK", "BLT", "NPL"}
	candidatePrefixes = []string{"SPR", "ACT", "HSE"}
	descriptions      = []string{
		"gate valve class 150",
		"weld neck flange",
		"spiral wound gasket",
		"stud bolt with nuts",
		"pipe nipple sch 80",
		"ball valve full bore",
	}
)

// Variant rewrites a code the way another system would write it
type Variant func(code string) string

// Variants are the code rewrites applied to the counterparts of PO rows
var Variants = []Variant{
	func(code string) string { return code },
	func(code string) string { return strings.ReplaceAll(code, " ", "-") },
	func(code string) string { return strings.ReplaceAll(code, " ", "") },
	strings.ToLower,
}

// Config controls dataset generation
type Config struct {
	// Count is the number of PO rows
	Count int
	// MatchRatio is the share of PO rows that get a counterpart (0.0 to 1.0)
	MatchRatio float64
	// CandidateOnly is the number of candidate rows without a PO counterpart
	CandidateOnly int
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	Currency      string
	Source        models.Source
	Seed          int64
}

// DefaultConfig returns a small dataset configuration
func DefaultConfig() Config {
	return Config{
		Count:         100,
		MatchRatio:    0.8,
		CandidateOnly: 10,
		MinPrice:      decimal.NewFromInt(5),
		MaxPrice:      decimal.NewFromInt(5000),
		Currency:      "USD",
		Source:        models.SourceDatasheet,
		Seed:          1,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Count < 0 || c.CandidateOnly < 0 {
		return fmt.Errorf("counts must not be negative: %d PO rows, %d candidate-only rows", c.Count, c.CandidateOnly)
	}
	if c.MatchRatio < 0 || c.MatchRatio > 1 {
		return fmt.Errorf("match ratio must be between 0.0 and 1.0: %f", c.MatchRatio)
	}
	if c.MaxPrice.LessThan(c.MinPrice) || c.MinPrice.IsNegative() {
		return fmt.Errorf("invalid price range %s to %s", c.MinPrice, c.MaxPrice)
	}
	if !c.Source.IsCandidate() {
		return fmt.Errorf("candidate source must be SO or Datasheet, got %q", c.Source)
	}
	return nil
}

// Dataset is a generated PO document, its candidate document and the
// expected assignment
type Dataset struct {
	PO         []*models.LineItem
	Candidates []*models.LineItem
	// Pairs maps a PO index to the index of its counterpart
	Pairs map[int]int
}

// ExpectedMatches returns the number of PO rows that have a counterpart
func (d *Dataset) ExpectedMatches() int {
	return len(d.Pairs)
}

// Generate builds a dataset. The same configuration always yields the same
// dataset. Candidates are shuffled so that document order carries no signal.
func Generate(config Config) (*Dataset, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(config.Seed))

	paired := int(float64(config.Count) * config.MatchRatio)
	ds := &Dataset{Pairs: make(map[int]int, paired)}

	var counterparts []*models.LineItem
	var owners []int
	for i := 0; i < config.Count; i++ {
		code := fmt.Sprintf("%s %d", poPrefixes[i%len(poPrefixes)], 1000+i)
		item := models.NewLineItem(models.SourcePO, code, descriptions[rng.Intn(len(descriptions))]).
			WithQuantity(decimal.NewFromInt(int64(1+rng.Intn(50))), "EA").
			WithPrice(randomPrice(rng, config.MinPrice, config.MaxPrice), config.Currency)
		item.ID = fmt.Sprintf("PO-%05d", i+1)
		item.Document = "generated_po.csv"
		ds.PO = append(ds.PO, item)

		if i >= paired {
			continue
		}
		variant := Variants[rng.Intn(len(Variants))]
		counterpart := models.NewLineItem(config.Source, variant(code), item.RawDescription).
			WithQuantity(item.Quantity.Decimal, item.Unit).
			WithPrice(item.UnitPrice.Decimal, config.Currency)
		counterparts = append(counterparts, counterpart)
		owners = append(owners, i)
	}

	for j := 0; j < config.CandidateOnly; j++ {
		code := fmt.Sprintf("%s %d", candidatePrefixes[j%len(candidatePrefixes)], 9000+j)
		item := models.NewLineItem(config.Source, code, descriptions[rng.Intn(len(descriptions))]).
			WithQuantity(decimal.NewFromInt(int64(1+rng.Intn(50))), "EA").
			WithPrice(randomPrice(rng, config.MinPrice, config.MaxPrice), config.Currency)
		counterparts = append(counterparts, item)
		owners = append(owners, -1)
	}

	order := rng.Perm(len(counterparts))
	for pos, k := range order {
		item := counterparts[k]
		item.ID = fmt.Sprintf("C-%05d", pos+1)
		item.Document = "generated_candidates.csv"
		ds.Candidates = append(ds.Candidates, item)
		if owners[k] >= 0 {
			ds.Pairs[owners[k]] = pos
		}
	}

	return ds, nil
}

func randomPrice(rng *rand.Rand, min, max decimal.Decimal) decimal.Decimal {
	span := max.Sub(min)
	return decimal.NewFromFloat(rng.Float64()).Mul(span).Add(min).Round(2)
}

// csvHeader uses column names every line item parser recognizes
var csvHeader = []string{"code", "description", "quantity", "unit", "unit_price", "currency"}

// WriteCSV writes items to path as a line item table
func WriteCSV(path string, items []*models.LineItem) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range items {
		record := []string{item.RawCode, item.RawDescription, "", item.Unit, "", item.Currency}
		if item.Quantity.Valid {
			record[2] = item.Quantity.Decimal.String()
		}
		if item.UnitPrice.Valid {
			record[4] = item.UnitPrice.Decimal.StringFixed(2)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDataset writes the PO and candidate documents into dir and returns
// their paths
func WriteDataset(dir string, ds *Dataset) (poPath, candidatePath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	poPath = filepath.Join(dir, "generated_po.csv")
	candidatePath = filepath.Join(dir, "generated_candidates.csv")
	if err := WriteCSV(poPath, ds.PO); err != nil {
		return "", "", err
	}
	if err := WriteCSV(candidatePath, ds.Candidates); err != nil {
		return "", "", err
	}
	return poPath, candidatePath, nil
}
