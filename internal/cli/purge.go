package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"campaignd/internal/config"
	logx "campaignd/pkg/logx"
)

// PurgeCmd returns the purge command
func PurgeCmd(g *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete ledger records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				cfg, err := config.NewConfigManager(g.configPath).Parse()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				st, err := config.ResolveStorage(cfg.Storage)
				if err != nil {
					return err
				}
				days = st.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}

			ledger, _, err := openLedger(g.configPath, false, logx.Nop())
			if err != nil {
				return err
			}
			defer ledger.Close()

			n, err := ledger.PurgeOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d record%s older than %d days\n", n, plural(int(n)), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default: storage.retention_days)")
	return cmd
}
