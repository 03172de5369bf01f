package main

import (
	"github.com/spf13/cobra"

	"github.com/solarcommand/discovery-cli/internal/pipeline"
)

var (
	pipeCounty        string
	pipeSource        string
	pipeDiscoverLimit int
	pipeTraceLimit    int
	pipeMinScore      int
	pipeAutoActivate  bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full discover → score → skip-trace → activate sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.RunOptions{
			County:         pipeCounty,
			SourceID:       pipeSource,
			DiscoveryLimit: pipeDiscoverLimit,
			TraceLimit:     pipeTraceLimit,
			AutoActivate:   pipeAutoActivate,
		}
		if opts.SourceID == "" {
			opts.SourceID = cfg.Pipeline.SourceID
		}
		if opts.DiscoveryLimit <= 0 {
			opts.DiscoveryLimit = cfg.Pipeline.DiscoveryLimit
		}
		if opts.TraceLimit <= 0 {
			opts.TraceLimit = cfg.Enrich.TraceLimit
		}
		if cmd.Flags().Changed("min-score") {
			opts.MinScore = &pipeMinScore
		}

		summary, err := env.Runner.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	pipelineCmd.Flags().StringVar(&pipeCounty, "county", "", "county to run (required)")
	pipelineCmd.Flags().StringVar(&pipeSource, "source", "", "discovery source id (default from config)")
	pipelineCmd.Flags().IntVar(&pipeDiscoverLimit, "discovery-limit", 0, "max records to ingest")
	pipelineCmd.Flags().IntVar(&pipeTraceLimit, "trace-limit", 0, "max leads to skip-trace")
	pipelineCmd.Flags().IntVar(&pipeMinScore, "min-score", 0, "only trace/activate leads at or above this score")
	pipelineCmd.Flags().BoolVar(&pipeAutoActivate, "auto-activate", false, "activate leads that clear compliance")
	_ = pipelineCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(pipelineCmd)
}
