package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var suppressReason string

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage the internal suppression list",
}

var suppressAddCmd = &cobra.Command{
	Use:   "add <value>",
	Short: "Add a single normalized value to the suppression list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "suppress")
		if err != nil {
			return err
		}
		defer env.Close()

		value := strings.TrimSpace(args[0])
		if value == "" {
			return eris.New("suppress: value is empty")
		}
		if err := env.Store.AddSuppression(cmd.Context(), value, suppressReason); err != nil {
			return err
		}
		return printJSON(map[string]string{"value": value, "reason": suppressReason})
	},
}

var suppressImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk import suppression values, one per line",
	Long: `Import reads one normalized value per line, skipping blanks and '#'
comments, and upserts the batch into the suppression list. Values already
present keep their row but pick up the new reason.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "suppress")
		if err != nil {
			return err
		}
		defer env.Close()

		values, err := readSuppressionFile(args[0])
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return eris.Errorf("suppress: no values found in %s", args[0])
		}

		n, err := env.Store.BulkAddSuppressions(cmd.Context(), values, suppressReason)
		if err != nil {
			return err
		}
		zap.L().Info("suppression import complete",
			zap.String("file", args[0]),
			zap.Int("read", len(values)),
			zap.Int("loaded", n))
		return printJSON(map[string]any{"read": len(values), "loaded": n, "reason": suppressReason})
	},
}

// readSuppressionFile reads one value per line, skipping blanks and
// '#' comments.
func readSuppressionFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open suppression file %s", path)
	}
	defer func() { _ = f.Close() }()

	var values []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read suppression file %s", path)
	}
	return values, nil
}

func init() {
	suppressCmd.PersistentFlags().StringVar(&suppressReason, "reason", "manual", "why the values are suppressed")
	suppressCmd.AddCommand(suppressAddCmd, suppressImportCmd)
	rootCmd.AddCommand(suppressCmd)
}
