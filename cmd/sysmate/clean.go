package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sysmate/internal/modules"
)

var cleanRescan bool

func init() {
	rootCmd.AddCommand(cmdClean)
	cmdClean.AddCommand(cmdCleanScan, cmdCleanRun)
	cmdCleanScan.Flags().BoolVarP(&cleanRescan, "rescan", "r", false, "Measure again instead of using the last scan")
}

var cmdClean = &cobra.Command{
	Use:   "clean",
	Short: "Find and remove reclaimable files",
}

var cmdCleanScan = &cobra.Command{
	Use:   "scan",
	Short: "Measure every cleanup category",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := controller().CleanScan(cmd.Context(), cleanRescan, actionTimeout())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tSIZE\tFILES\tDESCRIPTION")
		var total uint64
		for _, item := range items {
			total += item.Size
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", item.Category, modules.FormatSize(item.Size), item.Files, item.Description)
		}
		fmt.Fprintf(tw, "%s\t%s\t\t\n", okColor.Sprint("total"), modules.FormatSize(total))
		return tw.Flush()
	},
}

var cmdCleanRun = &cobra.Command{
	Use:       "run <category>",
	Short:     "Clean one category (" + strings.Join(modules.Categories(), ", ") + ")",
	Args:      cobra.ExactArgs(1),
	ValidArgs: modules.Categories(),
	RunE: func(cmd *cobra.Command, args []string) error {
		outs, err := controller().Clean(cmd.Context(), args[0], actionTimeout())
		for _, out := range outs {
			printOutcome(cmd.OutOrStdout(), out)
		}
		if err == nil && len(outs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clean")
		}
		return err
	},
}
