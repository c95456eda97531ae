package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/internal/app"
	"github.com/caffeineduck/datalab/packages"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage packages mounted into the engine",
	Long: `Install and manage packages available to engine code at /packages.

Python packages come from PyPI; only pure Python wheels are supported.
R packages come from the WebAssembly R repository.

Use --lang r to manage R packages (default: python).`,
}

var depsInstallCmd = &cobra.Command{
	Use:   "install [packages...]",
	Short: "Install packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsInstall,
}

var depsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE:  runDepsList,
}

var depsRemoveCmd = &cobra.Command{
	Use:   "remove [packages...]",
	Short: "Remove packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsRemove,
}

func init() {
	depsCmd.AddCommand(depsInstallCmd, depsListCmd, depsRemoveCmd)
	rootCmd.AddCommand(depsCmd)
}

func depsInstaller(cmd *cobra.Command) (packages.Installer, error) {
	langFlag, _ := cmd.Flags().GetString("lang")
	lang, err := resolveLanguage(langFlag, "")
	if err != nil {
		return nil, err
	}
	return app.NewInstaller(cfg, lang, logger), nil
}

func runDepsInstall(cmd *cobra.Command, args []string) error {
	inst, err := depsInstaller(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := inst.Install(ctx, args); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed into %s\n", inst.Dir())
	return nil
}

func runDepsList(cmd *cobra.Command, args []string) error {
	inst, err := depsInstaller(cmd)
	if err != nil {
		return err
	}
	names, err := packages.Installed(inst.Dir())
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
	inst, err := depsInstaller(cmd)
	if err != nil {
		return err
	}
	dir := inst.Dir()
	out := cmd.OutOrStdout()

	for _, pkg := range args {
		if pkg == "" || pkg != filepath.Base(pkg) || strings.HasPrefix(pkg, ".") {
			return fmt.Errorf("invalid package name %q", pkg)
		}
		if err := os.RemoveAll(filepath.Join(dir, pkg)); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to remove %s: %v\n", pkg, err)
			continue
		}

		entries, _ := os.ReadDir(dir)
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), pkg) && strings.HasSuffix(entry.Name(), ".dist-info") {
				os.RemoveAll(filepath.Join(dir, entry.Name()))
			}
		}
		fmt.Fprintf(out, "Removed %s\n", pkg)
	}
	return nil
}
