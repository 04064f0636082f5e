package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flaketrace/internal/format"
	"flaketrace/internal/ingest"
	"flaketrace/internal/rootcause"
)

func newRCACmd(a *app, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rca <failure-file>...",
		Short: "Explain why test runs failed",
		Long: `Rca classifies failures into a root-cause category with a confidence, an
explanation and a suggested fix.

Each argument is a failure record (JSON or YAML, artifact files resolved
relative to it) or a JUnit XML report, in which case every failed testcase
is analysed from its error text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := parseOutput(flags.output)
			var failures []rootcause.Failure
			for _, p := range args {
				if isJUnit(p) {
					reports, err := ingest.LoadJUnit(p)
					if err != nil {
						return err
					}
					failures = append(failures, ingest.FailuresFromJUnit(reports...)...)
					continue
				}
				f, err := ingest.LoadFailure(p)
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				failures = append(failures, f)
			}
			if len(failures) == 0 {
				return fmt.Errorf("no failures found in input")
			}

			results := make([]rootcause.Analysis, 0, len(failures))
			for _, f := range failures {
				results = append(results, a.analyzer.Analyze(cmd.Context(), f))
			}

			w := cmd.OutOrStdout()
			if out.json {
				if len(results) == 1 {
					return writeJSON(w, results[0])
				}
				return writeJSON(w, results)
			}
			for i, r := range results {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprint(w, format.RootCauseReport(out.mode, r))
			}
			return nil
		},
	}
	return cmd
}
