package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sysmate/internal/app"
	"sysmate/internal/model"
	"sysmate/internal/modules"
)

var (
	psUsers  []string
	psPIDs   []int
	psName   string
	psAll    bool
	psSort   string
	psLimit  int
	psSystem bool
)

func init() {
	rootCmd.AddCommand(cmdPs, cmdShow)
	cmdPs.Flags().StringSliceVarP(&psUsers, "user", "u", nil, "Match processes owned by these users")
	cmdPs.Flags().IntSliceVarP(&psPIDs, "pid", "p", nil, "Filter by PID (repeatable)")
	cmdPs.Flags().StringVarP(&psName, "name", "n", "", "Match names or command lines containing this text")
	cmdPs.Flags().BoolVarP(&psAll, "all", "a", false, "Include processes that recently ended")
	cmdPs.Flags().StringVarP(&psSort, "sort", "s", "cpu", "Sort by cpu, mem, pid or name")
	cmdPs.Flags().IntVarP(&psLimit, "limit", "l", 0, "Show at most this many processes (0 for all)")
	cmdPs.Flags().BoolVar(&psSystem, "system", true, "Print the machine-wide summary line")
}

var cmdPs = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"top", "list"},
	Short:   "List processes from the daemon registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := modules.ParseSortKey(psSort); err != nil {
			return err
		}
		snap, err := controller().List(cmd.Context(), app.ListParams{
			Filters: app.ListFilters{
				NameContains: psName,
				Users:        psUsers,
				PIDs:         psPIDs,
				ActiveOnly:   !psAll,
			},
			Sort:    psSort,
			Limit:   psLimit,
			Timeout: requestTimeout(),
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if psSystem {
			printSystem(cmd, snap)
		}
		if len(snap.Processes) == 0 {
			fmt.Fprintln(out, "No processes match the provided selectors")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tUSER\tCPU%\tRSS\tREAD/s\tWRITE/s\tSTATE\tNAME")
		for _, p := range snap.Processes {
			fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\t%s\t%s\t%s\t%s\n",
				p.Identity.PID, dash(p.User), p.CPUPercent, modules.FormatSize(p.RSSBytes),
				modules.FormatSize(uint64(p.DiskReadBps)), modules.FormatSize(uint64(p.DiskWriteBps)),
				lifecycleText(p.State), dash(p.Name))
		}
		return tw.Flush()
	},
}

var cmdShow = &cobra.Command{
	Use:   "show <pid|pid@start>",
	Short: "Show one process in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := controller().Process(cmd.Context(), args[0], requestTimeout())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "identity:   %s\n", p.Identity)
		fmt.Fprintf(out, "name:       %s\n", dash(p.Name))
		fmt.Fprintf(out, "user:       %s\n", dash(p.User))
		fmt.Fprintf(out, "state:      %s\n", lifecycleText(p.State))
		fmt.Fprintf(out, "cmdline:    %s\n", dash(p.Cmdline))
		fmt.Fprintf(out, "cpu:        %.1f%%\n", p.CPUPercent)
		fmt.Fprintf(out, "rss:        %s\n", modules.FormatSize(p.RSSBytes))
		fmt.Fprintf(out, "disk r/w:   %s/s %s/s\n", modules.FormatSize(uint64(p.DiskReadBps)), modules.FormatSize(uint64(p.DiskWriteBps)))
		fmt.Fprintf(out, "first seen: %s\n", p.FirstSeen.Format("2006-01-02 15:04:05"))
		if !p.GoneAt.IsZero() {
			fmt.Fprintf(out, "gone at:    %s\n", p.GoneAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func printSystem(cmd *cobra.Command, snap app.Snapshot) {
	out := cmd.OutOrStdout()
	sys := snap.Meta.System
	if !sys.Valid {
		fmt.Fprintln(out, faintColor.Sprint("system: waiting for the second sample"))
	} else {
		fmt.Fprintf(out, "cpu %.1f%%  mem %.1f%% (%s/%s)  load %.2f %.2f %.2f  procs %d  tick %d\n",
			sys.CPUPercent, sys.MemPercent, modules.FormatSize(sys.MemUsedBytes), modules.FormatSize(sys.MemTotalBytes),
			sys.Load1, sys.Load5, sys.Load15, snap.Meta.Active, snap.Meta.Tick)
	}
	if snap.Meta.Stale {
		fmt.Fprintln(out, warnColor.Sprintf("warning: sampling failing (%d in a row); data is stale", snap.Meta.Failures))
	}
}

func lifecycleText(state model.Lifecycle) string {
	if state == model.Active {
		return okColor.Sprint(state)
	}
	return faintColor.Sprint(state)
}
