package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flaketrace/internal/flaky"
	"flaketrace/internal/format"
	"flaketrace/internal/history"
)

func newBatchCmd(a *app, flags *rootFlags) *cobra.Command {
	var (
		minScore  float64
		durations bool
	)
	cmd := &cobra.Command{
		Use:   "batch <history-file>...",
		Short: "Score every test in the given histories, most flaky first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutput(flags.output)
			inputs, err := loadInputs(args)
			if err != nil {
				return err
			}

			results := a.scorer.AnalyzeMultiple(cmd.Context(), inputs)
			summary := flaky.Summarize(results)
			shown := results[:0:0]
			for _, r := range results {
				if r.Flakiness.Score >= minScore {
					shown = append(shown, r)
				}
			}

			w := cmd.OutOrStdout()
			if out.json {
				return writeJSON(w, struct {
					Results []flaky.Analysis `json:"results"`
					Summary flaky.Summary    `json:"summary"`
				}{shown, summary})
			}
			fmt.Fprintln(w, format.FlakyTable(out.mode, shown))
			fmt.Fprintln(w)
			fmt.Fprintln(w, format.SummaryTable(out.mode, summary))
			if durations {
				byID := make(map[string]flaky.Input, len(inputs))
				for _, in := range inputs {
					byID[in.TestID] = in
				}
				rows := make([]format.DurationRow, 0, len(shown))
				for _, r := range shown {
					in := byID[r.TestID]
					rows = append(rows, format.DurationRow{TestName: displayName(in), Stats: history.Durations(in.Runs)})
				}
				fmt.Fprintln(w)
				fmt.Fprintln(w, format.DurationTable(out.mode, rows))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Only list tests scoring at least this much (the summary covers all)")
	cmd.Flags().BoolVar(&durations, "durations", false, "Append per-test duration statistics")
	return cmd
}
