package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"sysmate/internal/dispatch"
	"sysmate/internal/model"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	faintColor = color.New(color.Faint)
)

func errorText(err error) string {
	return errColor.Sprint("error: ") + err.Error()
}

// stateText colours an action state.
func stateText(state string) string {
	switch dispatch.State(state) {
	case dispatch.StateExecuted:
		return okColor.Sprint(state)
	case dispatch.StateDenied, dispatch.StateFailed:
		return errColor.Sprint(state)
	case dispatch.StateCancelled:
		return warnColor.Sprint(state)
	}
	return faintColor.Sprint(state)
}

// unitStateText colours a systemd ActiveState.
func unitStateText(active string) string {
	switch active {
	case "active":
		return okColor.Sprint(active)
	case "failed":
		return errColor.Sprint(active)
	case "inactive":
		return faintColor.Sprint(active)
	}
	return warnColor.Sprint(active)
}

func printOutcome(w io.Writer, out model.ActionOutcome) {
	fmt.Fprintf(w, "[%s] %s %s: %s", out.ActionID, out.Kind, out.Target, stateText(out.State))
	if out.Reason != "" {
		fmt.Fprintf(w, " (%s)", out.Reason)
	}
	if !out.StartedAt.IsZero() && !out.FinishedAt.IsZero() {
		fmt.Fprintf(w, " in %s", out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
	if text := strings.TrimSpace(out.Output); text != "" {
		fmt.Fprintln(w, faintColor.Sprint(text))
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
