package main

import (
	"fmt"
	"os"

	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/internal/packages"
	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage Python packages for pages",
	Long: `Install and manage the Python packages pages list in their config.

Packages are downloaded directly from PyPI (no pip required) into
--packages-dir, the directory render and serve mount into the interpreter.
Only pure Python wheels are supported - packages with C extensions won't work.`,
}

var depsInstallCmd = &cobra.Command{
	Use:   "install [packages...]",
	Short: "Install packages from PyPI",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsInstall,
}

var depsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	RunE:  runDepsList,
}

var depsRemoveCmd = &cobra.Command{
	Use:   "remove [packages...]",
	Short: "Remove packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsRemove,
}

var depsCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
}

var depsCacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the compiled module cache",
	RunE:  runDepsCacheClear,
}

func init() {
	depsCmd.PersistentFlags().String("index", packages.DefaultIndex, "Package index URL")
	depsCmd.AddCommand(depsInstallCmd, depsListCmd, depsRemoveCmd, depsCacheCmd)
	depsCacheCmd.AddCommand(depsCacheClearCmd)
	rootCmd.AddCommand(depsCmd)
}

func newInstaller(cmd *cobra.Command) *packages.Installer {
	dir, _ := cmd.Flags().GetString("packages-dir")
	index, _ := cmd.Flags().GetString("index")
	return packages.NewInstaller(dir,
		packages.WithIndex(index),
		packages.WithFetcher(newFetcher(cmd)),
	)
}

func runDepsInstall(cmd *cobra.Command, args []string) error {
	inst := newInstaller(cmd)
	out := cmd.OutOrStdout()
	for _, spec := range args {
		fmt.Fprintf(out, "Installing %s...\n", packages.ParseSpec(spec))
		if err := inst.Install(cmd.Context(), spec); err != nil {
			return fmt.Errorf("install %s: %w", spec, err)
		}
	}
	fmt.Fprintln(out, "Done.")
	return nil
}

func runDepsList(cmd *cobra.Command, args []string) error {
	inst := newInstaller(cmd)
	names, err := inst.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No packages installed.")
		return nil
	}
	fmt.Fprintf(out, "Packages in %s:\n", inst.Dir())
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}

func runDepsRemove(cmd *cobra.Command, args []string) error {
	inst := newInstaller(cmd)
	for _, name := range args {
		if err := inst.Remove(name); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to remove %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
	}
	return nil
}

func runDepsCacheClear(cmd *cobra.Command, args []string) error {
	if err := os.RemoveAll(executor.DefaultCacheDir()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}
