package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"campaignd/internal/actor"
	"campaignd/internal/storage"
	logx "campaignd/pkg/logx"
	"campaignd/pkg/systemd"
)

// StatusCmd returns the status command
func StatusCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		unit  string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the rotation cursor, today's outcomes and recent records",
		Long: `Display what the worker has done, read from the ledger without
modifying it. Safe to run while the worker is active.

With --unit, the systemd unit state is shown as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, loc, err := openLedger(g.configPath, true, logx.Nop())
			if err != nil {
				return err
			}
			defer ledger.Close()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			if unit != "" {
				printUnit(ctx, out, unit)
			}
			return printStatus(ctx, out, ledger, loc, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent records to show")
	cmd.Flags().StringVar(&unit, "unit", "", "systemd unit running the worker (e.g. campaignd)")
	return cmd
}

func printUnit(ctx context.Context, out io.Writer, unit string) {
	st, err := systemd.QueryUnit(ctx, unit)
	if err != nil {
		fmt.Fprintf(out, "Unit: %s (%v)\n\n", unit, err)
		return
	}
	state := fmt.Sprintf("%s (%s)", st.Active, st.SubState)
	if st.Running() {
		state = color.New(color.FgGreen).Sprint(state)
		if !st.ActiveSince.IsZero() {
			state += fmt.Sprintf(" since %s", st.ActiveSince.Format(time.DateTime))
		}
	} else {
		state = color.New(color.FgRed).Sprint(state)
	}
	fmt.Fprintf(out, "Unit: %s %s\n\n", st.Name, state)
}

func printStatus(ctx context.Context, out io.Writer, ledger storage.Ledger, loc *time.Location, limit int) error {
	cursor, err := ledger.Cursor(ctx)
	if err != nil {
		return err
	}
	summary, err := ledger.DailySummary(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Cursor: %d\n", cursor)
	fmt.Fprintf(out, "Today (%s):", time.Now().In(loc).Format(storage.DateLayout))
	if len(summary) == 0 {
		fmt.Fprintln(out, " no records")
	} else {
		fmt.Fprintln(out)
		outcomes := make([]string, 0, len(summary))
		for o := range summary {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			fmt.Fprintf(out, "  %-28s %d\n", outcomeLabel(o), summary[o])
		}
	}

	if limit <= 0 {
		return nil
	}
	recent, err := ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Recent:")
	if len(recent) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	for _, r := range recent {
		fmt.Fprintf(out, "  %s  %-28s %s (%d attempt%s)\n",
			r.At.In(loc).Format("2006-01-02 15:04"),
			outcomeLabel(r.Outcome),
			r.Destination,
			r.Attempts, plural(r.Attempts))
	}
	return nil
}

func outcomeLabel(s string) string {
	switch actor.ParseOutcome(s).Class() {
	case actor.ClassSuccess:
		return color.New(color.FgGreen).Sprint(s)
	case actor.ClassFatal:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
