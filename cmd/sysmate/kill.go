package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
)

var (
	killUsers []string
	killName  string
	killPIDs  []int
	killAll   bool
	killForce bool
)

func init() {
	rootCmd.AddCommand(cmdKill)
	cmdKill.Flags().StringSliceVarP(&killUsers, "user", "u", nil, "Match processes owned by these users")
	cmdKill.Flags().StringVarP(&killName, "name", "n", "", "Match names or command lines containing this text")
	cmdKill.Flags().IntSliceVarP(&killPIDs, "pid", "p", nil, "Filter by PID (repeatable)")
	cmdKill.Flags().BoolVar(&killAll, "all", false, "Kill every process that matches the selector")
	cmdKill.Flags().BoolVarP(&killForce, "force", "9", false, "Send SIGKILL instead of SIGTERM")
}

var cmdKill = &cobra.Command{
	Use:   "kill",
	Short: "Terminate live processes through the daemon",
	Long:  "Selects processes via the same filters as `ps` and asks the daemon to signal each one. Every signal is a separate privileged action that must be authorized.",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := controller().Kill(cmd.Context(), app.KillParams{
			Filters: app.ListFilters{
				NameContains: killName,
				Users:        killUsers,
				PIDs:         killPIDs,
			},
			AllowAll:        killAll,
			Force:           killForce,
			Timeout:         actionTimeout(),
			RequireSelector: true,
		})
		out := cmd.OutOrStdout()
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
		for _, event := range res.Events {
			name := dash(event.Proc.Name)
			switch event.Kind {
			case "success":
				fmt.Fprintf(out, "%s pid=%d name=%s\n", okColor.Sprint("Killed"), event.Proc.Identity.PID, name)
			case "denied":
				fmt.Fprintf(out, "%s pid=%d name=%s: %v\n", errColor.Sprint("Denied"), event.Proc.Identity.PID, name, event.Err)
			case "vanished":
				fmt.Fprintf(out, "%s pid=%d name=%s\n", warnColor.Sprint("Already gone"), event.Proc.Identity.PID, name)
			default:
				fmt.Fprintf(out, "%s pid=%d name=%s: %v\n", errColor.Sprint("Failed to kill"), event.Proc.Identity.PID, name, event.Err)
			}
		}
		return err
	},
}
