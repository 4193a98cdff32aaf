package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var (
	daemonForceRestart bool
	stopForce          bool
)

func init() {
	rootCmd.AddCommand(cmdDaemon, cmdStop)
	cmdDaemon.Flags().BoolVarP(&daemonForceRestart, "force", "f", false, "Restart the daemon if it is already running")
	cmdStop.Flags().BoolVarP(&stopForce, "force", "f", false, "Send SIGKILL if the daemon ignores SIGTERM")
}

var cmdDaemon = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sysmate daemon in the foreground",
	Long:  `The daemon samples processes, serves the registry and executes privileged actions. If a daemon is already running nothing happens unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := controller()
		out := cmd.OutOrStdout()
		status, err := ctrl.Status()
		if status.Running {
			if !daemonForceRestart {
				var message string
				switch {
				case err != nil:
					message = fmt.Sprintf("Error checking if daemon is running: %v", err)
				case status.PID != 0:
					message = fmt.Sprintf("Daemon is already running (pid %d). Stop it manually or re-run with --force.", status.PID)
				default:
					message = "Daemon is already running. Stop it manually or re-run with --force."
				}
				fmt.Fprintln(out, message)
				return nil
			}
			fmt.Fprintln(out, "Stopping existing daemon process...")
			if err := ctrl.StopDaemon(true); err != nil {
				return err
			}
		}

		handle, err := ctrl.StartDaemon()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, okColor.Sprint("Started daemon process"))
		runSpin := spinner.New(spinner.CharSets[21], 120*time.Millisecond, spinner.WithWriter(out))
		runSpin.Suffix = " Running..."
		runSpin.Start()

		sigc := make(chan os.Signal, 2)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		select {
		case <-sigc:
		case <-handle.Done():
			// core stopped on its own, Close reports why
		}
		runSpin.Stop()
		return handle.Close()
	},
}

var cmdStop = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := controller().StopDaemon(stopForce); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
		return nil
	},
}
