package main

import (
	"github.com/spf13/cobra"
)

var (
	sourceSyncCounty string
	sourceSyncLimit  int
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and run the configured data sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		return printJSON(env.Sources.Registry().List())
	},
}

var sourcesSyncCmd = &cobra.Command{
	Use:   "sync <source-id>",
	Short: "Run one source sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Sources.Sync(cmd.Context(), args[0], sourceSyncCounty, sourceSyncLimit)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var sourcesTestCmd = &cobra.Command{
	Use:   "test <source-id>",
	Short: "Probe a source's upstream endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		conn, ok := env.Sources.Connector(args[0])
		if !ok {
			return printJSON(map[string]string{"source_id": args[0], "status": "no connector"})
		}
		if err := conn.TestConnection(cmd.Context()); err != nil {
			return printJSON(map[string]string{"source_id": args[0], "status": "failed", "error": err.Error()})
		}
		return printJSON(map[string]string{"source_id": args[0], "status": "ok"})
	},
}

var sourcesHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show seven-day sync health per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		health, err := env.Sources.HealthAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(health)
	},
}

func init() {
	sourcesSyncCmd.Flags().StringVar(&sourceSyncCounty, "county", "", "county to sync")
	sourcesSyncCmd.Flags().IntVar(&sourceSyncLimit, "limit", 0, "max records")
	sourcesCmd.AddCommand(sourcesListCmd, sourcesSyncCmd, sourcesTestCmd, sourcesHealthCmd)
	rootCmd.AddCommand(sourcesCmd)
}
