package main

import (
	"github.com/spf13/cobra"

	"github.com/solarcommand/discovery-cli/internal/pipeline"
)

var (
	traceLimit    int
	traceCounty   string
	traceMinScore int
	traceActivate bool
)

var skipTraceCmd = &cobra.Command{
	Use:   "skip-trace",
	Short: "Skip-trace owner contacts for scored leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.RunOptions{
			County:       traceCounty,
			TraceLimit:   traceLimit,
			AutoActivate: traceActivate,
		}
		if traceLimit <= 0 {
			opts.TraceLimit = cfg.Enrich.TraceLimit
		}
		if cmd.Flags().Changed("min-score") {
			opts.MinScore = &traceMinScore
		}

		summary, err := env.Runner.SkipTrace(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	skipTraceCmd.Flags().IntVar(&traceLimit, "limit", 0, "max leads to trace (default from config)")
	skipTraceCmd.Flags().StringVar(&traceCounty, "county", "", "restrict to one county")
	skipTraceCmd.Flags().IntVar(&traceMinScore, "min-score", 0, "only trace leads at or above this score")
	skipTraceCmd.Flags().BoolVar(&traceActivate, "auto-activate", false, "activate traced leads that clear compliance")
	rootCmd.AddCommand(skipTraceCmd)
}
