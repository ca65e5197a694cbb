package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/combination"
	"github.com/warp/settlement-engine/observability"
)

func init() {
	rootCmd.AddCommand(suggestCmd)
	suggestCmd.Flags().String("target", "", "Budget the rounded amount must not exceed (required)")
	suggestCmd.Flags().Int("min-rate", 0, "Lowest rate to consider")
	suggestCmd.Flags().Int("max-rate", 0, "Highest rate to consider")
	suggestCmd.Flags().Bool("round-hundred", false, "Round amounts to 100 instead of 5")
	suggestCmd.Flags().IntP("limit", "n", 20, "Number of candidates to print (max 200)")
	suggestCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	_ = suggestCmd.MarkFlagRequired("target")
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest (quantity, rate) pairs for a target amount",
	Long: `Searches quantities 0.10 to 500.00 and rates in steps of 5 between
--min-rate and --max-rate for products that round cleanly to 5 (or 100)
without exceeding --target. Best matches first.`,
	Args: cobra.NoArgs,
	RunE: runSuggest,
}

func runSuggest(cmd *cobra.Command, args []string) error {
	targetStr, _ := cmd.Flags().GetString("target")
	minRate, _ := cmd.Flags().GetInt("min-rate")
	maxRate, _ := cmd.Flags().GetInt("max-rate")
	hundred, _ := cmd.Flags().GetBool("round-hundred")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return fmt.Errorf("invalid --target %q: %w", targetStr, err)
	}

	start := time.Now()
	candidates, err := combination.Generate(combination.Request{
		TargetAmount:   target,
		MinRate:        minRate,
		MaxRate:        maxRate,
		RoundToHundred: hundred,
	})
	if err != nil {
		return err
	}
	observability.ObserveCombinationSearch(time.Since(start), len(candidates))

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ToCandidateDTOs(candidates))
	}

	if len(candidates) == 0 {
		fmt.Fprintln(out, "No candidates.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "QUANTITY\tRATE\tAMOUNT\tREMAINDER\t")
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n",
			c.Quantity.StringFixed(2), c.Rate, c.RoundedAmount.StringFixed(0), c.Remainder.StringFixed(2))
	}
	return tw.Flush()
}
