package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
	"sysmate/internal/dispatch"
	"sysmate/internal/model"
)

var (
	actionWait    bool
	actionTarget  dispatch.Target
	actionProcess string
	actionAsync   bool
)

func init() {
	rootCmd.AddCommand(cmdAction, cmdCancel)
	cmdAction.AddCommand(cmdActionSubmit)
	cmdAction.Flags().BoolVarP(&actionWait, "wait", "w", false, "Block until the action finishes")

	f := cmdActionSubmit.Flags()
	f.StringVar(&actionProcess, "process", "", "Target process identity (pid@start)")
	f.StringVar(&actionTarget.Service, "unit", "", "Target systemd unit")
	f.StringVar(&actionTarget.Path, "path", "", "Target path")
	f.StringVar(&actionTarget.Package, "package", "", "Target package")
	f.BoolVar(&actionAsync, "async", false, "Return once the daemon accepted the action")
}

var cmdAction = &cobra.Command{
	Use:   "action <id>",
	Short: "Show the outcome of a submitted action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := requestTimeout()
		if actionWait {
			timeout = actionTimeout()
		}
		out, err := controller().Action(cmd.Context(), args[0], actionWait, timeout)
		if out.ActionID != "" {
			printOutcome(cmd.OutOrStdout(), out)
		}
		return err
	},
}

var cmdActionSubmit = &cobra.Command{
	Use:   "submit <kind>",
	Short: "Submit any privileged action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := dispatch.ParseKind(args[0])
		if err != nil {
			return err
		}
		target := actionTarget
		if actionProcess != "" {
			if target.Process, err = model.ParseIdentity(actionProcess); err != nil {
				return err
			}
		}
		out, err := controller().Submit(cmd.Context(), app.ActionParams{
			Kind:    kind,
			Target:  target,
			Timeout: actionTimeout(),
			Async:   actionAsync,
		})
		if out.ActionID != "" {
			printOutcome(cmd.OutOrStdout(), out)
		}
		return err
	},
}

var cmdCancel = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := controller().Cancel(cmd.Context(), args[0], requestTimeout()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Action %s cancelled\n", args[0])
		return nil
	},
}
