package cli

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

// RootCmd returns the campaignd command tree.
func RootCmd(version string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:     "campaignd",
		Short:   "Daily link campaign worker",
		Version: version,
		Long: `campaignd posts one link per day to a rotating window of destinations.

Each cycle syncs the source files, picks today's link and destination
window, authenticates the browser actor and posts once per destination,
then sleeps until the next day. Outcomes are kept in a local ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "./campaignd.yaml", "path to the config file (yaml or json)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file holding credentials")

	root.AddCommand(RunCmd(g))
	root.AddCommand(SuperviseCmd(g))
	root.AddCommand(StatusCmd(g))
	root.AddCommand(CursorCmd(g))
	root.AddCommand(PurgeCmd(g))
	return root
}
