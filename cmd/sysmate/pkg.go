package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sysmate/internal/dispatch"
)

var pkgRefresh bool

func init() {
	rootCmd.AddCommand(cmdPkg)
	cmdPkg.AddCommand(cmdPkgList, cmdPkgSearch)
	cmdPkgList.Flags().BoolVarP(&pkgRefresh, "refresh", "r", false, "Re-read the package database")

	byName := func(args []string) dispatch.Target { return dispatch.Target{Package: args[0]} }
	cmdPkg.AddCommand(
		actionCommand("install <package>", "Install a package", dispatch.KindPackageInstall, byName),
		actionCommand("remove <package>", "Remove a package", dispatch.KindPackageRemove, byName),
		actionCommand("upgrade", "Upgrade every upgradable package", dispatch.KindPackageUpgrade, nil),
		actionCommand("autoremove", "Remove packages nothing depends on", dispatch.KindPackageAutoremove, nil),
	)
}

var cmdPkg = &cobra.Command{
	Use:   "pkg",
	Short: "Query and manage APT packages",
}

var cmdPkgList = &cobra.Command{
	Use:   "list",
	Short: "Show package statistics and upgradable packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := controller().Packages(cmd.Context(), pkgRefresh, actionTimeout())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "installed %d  upgradable %s  auto-removable %d\n",
			resp.Stats.Installed, warnColor.Sprint(resp.Stats.Upgradable), resp.Stats.AutoRemovable)
		if len(resp.Upgradable) == 0 {
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PACKAGE\tCURRENT\tCANDIDATE\tARCH")
		for _, p := range resp.Upgradable {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, dash(p.Current), p.Version, dash(p.Arch))
		}
		return tw.Flush()
	},
}

var cmdPkgSearch = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the APT cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkgs, err := controller().SearchPackages(cmd.Context(), args[0], actionTimeout())
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No packages found")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range pkgs {
			fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
		}
		return tw.Flush()
	},
}
