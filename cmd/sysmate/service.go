package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
	"sysmate/internal/dispatch"
)

var (
	serviceRefresh bool
	serviceLines   int
)

func init() {
	rootCmd.AddCommand(cmdService)
	cmdService.AddCommand(cmdServiceList, cmdServiceLogs)
	cmdServiceList.Flags().BoolVarP(&serviceRefresh, "refresh", "r", false, "Re-read units from systemd instead of the cached list")
	cmdServiceLogs.Flags().IntVarP(&serviceLines, "lines", "n", 50, "Number of journal lines")

	for _, spec := range []struct {
		use   string
		short string
		kind  dispatch.Kind
	}{
		{"start", "Start a unit", dispatch.KindServiceStart},
		{"stop", "Stop a unit", dispatch.KindServiceStop},
		{"restart", "Restart a unit", dispatch.KindServiceRestart},
		{"enable", "Enable a unit at boot", dispatch.KindServiceEnable},
		{"disable", "Disable a unit at boot", dispatch.KindServiceDisable},
	} {
		cmdService.AddCommand(actionCommand(spec.use+" <unit>", spec.short, spec.kind, func(args []string) dispatch.Target {
			return dispatch.Target{Service: args[0]}
		}))
	}
}

var cmdService = &cobra.Command{
	Use:     "service",
	Aliases: []string{"svc"},
	Short:   "Inspect and control systemd units",
}

var cmdServiceList = &cobra.Command{
	Use:   "list [query]",
	Short: "List service units",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		units, err := controller().Services(cmd.Context(), query, serviceRefresh, requestTimeout())
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No units found")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UNIT\tACTIVE\tSUB\tENABLED\tDESCRIPTION")
		for _, u := range units {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, unitStateText(u.Active), u.Sub, dash(u.Enablement), u.Description)
		}
		return tw.Flush()
	},
}

var cmdServiceLogs = &cobra.Command{
	Use:   "logs <unit>",
	Short: "Show the recent journal of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := controller().ServiceLogs(cmd.Context(), args[0], serviceLines, requestTimeout())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

// actionCommand builds a subcommand that submits one action and prints its outcome.
func actionCommand(use, short string, kind dispatch.Kind, target func(args []string) dispatch.Target) *cobra.Command {
	var async bool
	nargs := cobra.ExactArgs(1)
	if target == nil {
		nargs = cobra.NoArgs
	}
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  nargs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := app.ActionParams{Kind: kind, Timeout: actionTimeout(), Async: async}
			if target != nil {
				params.Target = target(args)
			}
			out, err := controller().Submit(cmd.Context(), params)
			if out.ActionID != "" {
				printOutcome(cmd.OutOrStdout(), out)
			}
			return err
		},
	}
	c.Flags().BoolVar(&async, "async", false, "Return once the daemon accepted the action")
	return c
}

// actionTimeout leaves room for the interactive authorization prompt.
func actionTimeout() time.Duration {
	return max(requestTimeout(), 2*time.Minute)
}
