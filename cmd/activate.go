package main

import (
	"github.com/spf13/cobra"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

var (
	activateActor    string
	activateOverride bool
	rejectReason     string
)

var activateCmd = &cobra.Command{
	Use:   "activate <lead-id>",
	Short: "Activate one lead through the compliance gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "activate")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Activator.Activate(cmd.Context(), args[0], activateActor, activateOverride)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var activateBatchCmd = &cobra.Command{
	Use:   "batch <lead-id>...",
	Short: "Activate a batch of leads, skipping ineligible ones",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "activate")
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Activator.ApproveBatch(cmd.Context(), args, activateActor)
		if err != nil {
			return err
		}
		return printJSON(outcome)
	},
}

var activateRejectCmd = &cobra.Command{
	Use:   "reject <lead-id>",
	Short: "Reject a lead with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "activate")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Activator.Reject(cmd.Context(), args[0], rejectReason); err != nil {
			return err
		}
		return printJSON(map[string]string{"lead_id": args[0], "status": "rejected"})
	},
}

var activateQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List leads waiting in activation_ready",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "activate")
		if err != nil {
			return err
		}
		defer env.Close()

		leads, total, err := env.Store.ListLeads(cmd.Context(), store.LeadFilter{
			Statuses: []model.LeadStatus{model.StatusActivationReady},
			PageSize: 200,
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"leads": leads, "total": total})
	},
}

func init() {
	activateCmd.PersistentFlags().StringVar(&activateActor, "actor", "cli", "who is approving the activation")
	activateCmd.Flags().BoolVar(&activateOverride, "override", false, "bypass score and compliance checks")
	activateRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason (required)")
	_ = activateRejectCmd.MarkFlagRequired("reason")
	activateCmd.AddCommand(activateBatchCmd, activateRejectCmd, activateQueueCmd)
	rootCmd.AddCommand(activateCmd)
}
