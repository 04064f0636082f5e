package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flaketrace/internal/flaky"
	"flaketrace/internal/format"
	"flaketrace/internal/history"
)

func newScoreCmd(a *app, flags *rootFlags) *cobra.Command {
	var testID string
	cmd := &cobra.Command{
		Use:   "score <history-file>...",
		Short: "Score one test's run history for flakiness",
		Long: `Score reads one or more history files (JSON, YAML or JUnit XML) and
scores a single test. When the files hold several tests, select one with
--test-id.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutput(flags.output)
			inputs, err := loadInputs(args)
			if err != nil {
				return err
			}
			in, err := selectInput(inputs, testID)
			if err != nil {
				return err
			}

			res := a.scorer.Score(in.TestID, in.TestName, in.Runs, in.RecentFailures)
			w := cmd.OutOrStdout()
			if out.json {
				return writeJSON(w, res)
			}
			fmt.Fprintln(w, format.FlakyTable(out.mode, []flaky.Analysis{res}))
			fmt.Fprintf(w, "\n%s\n\n", res.Recommendation.Reason)
			fmt.Fprintln(w, format.DurationTable(out.mode, []format.DurationRow{{
				TestName: displayName(in), Stats: history.Durations(in.Runs),
			}}))
			return nil
		},
	}
	cmd.Flags().StringVar(&testID, "test-id", "", "Test to score when the input holds several")
	return cmd
}

func selectInput(inputs []flaky.Input, testID string) (flaky.Input, error) {
	if testID == "" {
		switch len(inputs) {
		case 0:
			return flaky.Input{}, fmt.Errorf("no tests found in input")
		case 1:
			return inputs[0], nil
		}
		ids := make([]string, 0, len(inputs))
		for _, in := range inputs {
			ids = append(ids, in.TestID)
		}
		return flaky.Input{}, fmt.Errorf("input holds %d tests, choose one with --test-id (%s)", len(inputs), strings.Join(ids, ", "))
	}
	for _, in := range inputs {
		if in.TestID == testID {
			return in, nil
		}
	}
	return flaky.Input{}, fmt.Errorf("test %q not found in input", testID)
}

func displayName(in flaky.Input) string {
	if in.TestName != "" {
		return in.TestName
	}
	return in.TestID
}
