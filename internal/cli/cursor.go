package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	logx "campaignd/pkg/logx"
)

// CursorCmd returns the cursor command and its set subcommand.
func CursorCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Show the rotation cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, _, err := openLedger(g.configPath, true, logx.Nop())
			if err != nil {
				return err
			}
			defer ledger.Close()

			n, err := ledger.Cursor(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <n>",
		Short: "Set the rotation cursor",
		Long: `Set where tomorrow's destination window starts. Values past the end
of the pool are wrapped when the next cycle plans.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("cursor must be a non-negative integer, got %q", args[0])
			}
			ledger, _, err := openLedger(g.configPath, false, logx.Nop())
			if err != nil {
				return err
			}
			defer ledger.Close()

			if err := ledger.SetCursor(cmd.Context(), n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor set to %d\n", n)
			return nil
		},
	})
	return cmd
}
