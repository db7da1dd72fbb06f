package cmd

import (
	"fmt"

	"po-reconciliation-service/internal/fixtures"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// generateCmd writes a synthetic PO and candidate document pair
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic PO and candidate document pair",
	Long: `Generate writes generated_po.csv and generated_candidates.csv into the
output directory. A share of the PO rows get a counterpart whose code is
written differently (dashes, no spaces, lower case); the rest have none.
The same seed always produces the same files.

Examples:
  reconciler generate --output-dir ./generated --count 5000 --match-ratio 0.9
  reconciler generate --output-dir ./generated --source SO --seed 42`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	defaults := fixtures.DefaultConfig()
	generateCmd.Flags().String("output-dir", "generated", "directory for the generated files")
	generateCmd.Flags().Int("count", defaults.Count, "number of PO rows")
	generateCmd.Flags().Float64("match-ratio", defaults.MatchRatio, "share of PO rows with a counterpart (0.0-1.0)")
	generateCmd.Flags().Int("candidate-only", defaults.CandidateOnly, "candidate rows without a PO counterpart")
	generateCmd.Flags().Float64("max-price", defaults.MaxPrice.InexactFloat64(), "highest unit price")
	generateCmd.Flags().String("source", models.SourceDatasheet.String(), "candidate source: SO or Datasheet")
	generateCmd.Flags().Int64("seed", defaults.Seed, "random seed")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	config := fixtures.DefaultConfig()

	dir, _ := flags.GetString("output-dir")
	config.Count, _ = flags.GetInt("count")
	config.MatchRatio, _ = flags.GetFloat64("match-ratio")
	config.CandidateOnly, _ = flags.GetInt("candidate-only")
	config.Seed, _ = flags.GetInt64("seed")
	maxPrice, _ := flags.GetFloat64("max-price")
	config.MaxPrice = decimal.NewFromFloat(maxPrice)

	sourceName, _ := flags.GetString("source")
	source, err := models.ParseSource(sourceName)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "source", sourceName, err)
	}
	config.Source = source

	ds, err := fixtures.Generate(config)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "generate", nil, err)
	}
	poPath, candidatePath, err := fixtures.WriteDataset(dir, ds)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, dir, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated %d PO rows in %s\n", len(ds.PO), poPath)
	fmt.Fprintf(out, "Generated %d %s rows in %s\n", len(ds.Candidates), source, candidatePath)
	fmt.Fprintf(out, "Expected matches: %d\n", ds.ExpectedMatches())
	fmt.Fprintf(out, "Seed used: %d\n", config.Seed)
	return nil
}
