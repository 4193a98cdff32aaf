// Command sysmated runs the sysmate daemon without the CLI around it; it is
// what the systemd unit starts.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sysmate/internal/daemon"
	apperrors "sysmate/internal/errors"
	"sysmate/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	force := flag.Bool("force", false, "Stop an existing daemon before starting")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	os.Exit(apperrors.ExitCode(run(*configPath, *force)))
}

func run(configPath string, force bool) error {
	log := logging.NewDefaultLogger().With(logging.String("component", "sysmated"))

	if daemon.IsRunning() {
		if !force {
			pid, err := daemon.RunningPID()
			if err != nil {
				log.Error("daemon appears running but pid check failed", err)
				return err
			}
			log.Info("daemon is already running; use --force to restart", logging.Int("pid", pid))
			return nil
		}
		log.Info("stopping existing daemon")
		if err := daemon.StopRunningDaemon(true); err != nil {
			log.Error("failed to stop running daemon", err)
			return err
		}
	}

	srv, err := daemon.StartDaemon(configPath, daemon.Options{Version: version})
	if err != nil {
		log.Error("failed to start daemon", err)
		return err
	}
	log.Info("daemon started", logging.Int("pid", os.Getpid()), logging.String("version", version))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		log.Info("stopping daemon", logging.String("signal", sig.String()))
	case <-srv.Done():
		log.Warn("daemon core stopped")
	}
	if err := srv.Close(); err != nil {
		log.Error("error shutting down daemon", err)
		return err
	}
	log.Info("daemon stopped")
	return nil
}
