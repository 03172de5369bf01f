package main

import (
	"github.com/spf13/cobra"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

var scoreCounty string

var scoreCmd = &cobra.Command{
	Use:   "score [lead-id...]",
	Short: "Score leads (all unscored leads when no ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		ids := args
		if len(ids) == 0 {
			leads, _, err := env.Store.ListLeads(cmd.Context(), store.LeadFilter{
				County:   scoreCounty,
				Statuses: []model.LeadStatus{model.StatusDiscovered, model.StatusScoring},
				PageSize: 1000,
			})
			if err != nil {
				return err
			}
			for _, lead := range leads {
				ids = append(ids, lead.ID)
			}
		}

		out := struct {
			Scored int      `json:"scored"`
			Failed []string `json:"failed,omitempty"`
		}{}
		for _, id := range ids {
			if _, err := env.Scorer.ScoreLead(cmd.Context(), id); err != nil {
				out.Failed = append(out.Failed, id)
				continue
			}
			out.Scored++
		}
		return printJSON(out)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreCounty, "county", "", "restrict to one county")
	rootCmd.AddCommand(scoreCmd)
}
