package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
	"sysmate/internal/model"
	"sysmate/internal/modules"
)

var (
	watchKinds []string
	watchName  string
)

func init() {
	rootCmd.AddCommand(cmdWatch)
	cmdWatch.Flags().StringSliceVarP(&watchKinds, "kind", "k", nil, "Only these event kinds (appeared, updated, ended, action_result)")
	cmdWatch.Flags().StringVarP(&watchName, "name", "n", "", "Only processes whose name contains this text")
}

var cmdWatch = &cobra.Command{
	Use:   "watch",
	Short: "Stream registry changes and action results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		params := app.WatchParams{NameContains: watchName}
		for _, k := range watchKinds {
			params.Kinds = append(params.Kinds, model.EventKind(k))
		}
		out := cmd.OutOrStdout()
		return controller().Watch(ctx, params, func(ev model.ChangeEvent) error {
			ts := ev.At.Format("15:04:05")
			switch ev.Kind {
			case model.EventResync:
				fmt.Fprintf(out, "%s %s tick %d\n", ts, faintColor.Sprint("resync"), ev.Tick)
			case model.EventActionResult:
				fmt.Fprintf(out, "%s ", ts)
				printOutcome(out, ev.Action)
			case model.EventAppeared:
				fmt.Fprintf(out, "%s %s %d %s\n", ts, okColor.Sprint("+"), ev.Process.Identity.PID, ev.Process.Name)
			case model.EventEnded:
				fmt.Fprintf(out, "%s %s %d %s\n", ts, errColor.Sprint("-"), ev.Process.Identity.PID, ev.Process.Name)
			default:
				fmt.Fprintf(out, "%s ~ %d %s cpu %.1f%% rss %s\n", ts, ev.Process.Identity.PID, ev.Process.Name,
					ev.Process.CPUPercent, modules.FormatSize(ev.Process.RSSBytes))
			}
			return nil
		})
	},
}
