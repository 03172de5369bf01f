package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/solarcommand/discovery-cli/internal/pipeline"
)

var (
	discoverCounty string
	discoverSource string
	discoverLimit  int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery ingestion pass and score the new leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.RunOptions{
			County:         discoverCounty,
			SourceID:       discoverSource,
			DiscoveryLimit: discoverLimit,
		}
		if opts.SourceID == "" {
			opts.SourceID = cfg.Pipeline.SourceID
		}
		if opts.DiscoveryLimit <= 0 {
			opts.DiscoveryLimit = cfg.Pipeline.DiscoveryLimit
		}

		summary, err := env.Runner.Discover(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	discoverCmd.Flags().StringVar(&discoverCounty, "county", "", "county to ingest (required)")
	discoverCmd.Flags().StringVar(&discoverSource, "source", "", "source id (default from config)")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 0, "max records to ingest (default from config)")
	_ = discoverCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(discoverCmd)
}
