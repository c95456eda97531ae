package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/internal/app"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [language...]",
	Short: "Download engine artifacts and packages ahead of time",
	Long: `Download and cache the WebAssembly engine and its default packages so the
first session starts without network access.

With no arguments every language is fetched.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Bool("no-packages", false, "Fetch only the engine artifact")
	fetchCmd.Flags().Bool("purge", false, "Delete cached artifacts before fetching")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	noPackages, _ := cmd.Flags().GetBool("no-packages")
	purge, _ := cmd.Flags().GetBool("purge")

	langs := args
	if len(langs) == 0 {
		langs = app.Languages()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if purge {
		if err := a.Fetcher.Purge(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, name := range langs {
		lang, err := a.Language(name)
		if err != nil {
			return err
		}

		url := a.ArtifactURL(name)
		if url == "" {
			return fmt.Errorf("%s: no artifact url configured (set %s.artifact_url)", name, name)
		}
		data, err := a.Fetcher.Fetch(ctx, url)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(out, "%s: engine %s (%d bytes)\n", name, a.Fetcher.Path(url), len(data))

		if noPackages || len(lang.Packages()) == 0 {
			continue
		}
		inst := a.Installer(name)
		if err := inst.Install(ctx, lang.Packages()); err != nil {
			if !lang.PackagesOptional() {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.WithField("lang", name).WithError(err).Warn("optional packages not installed")
		}
		fmt.Fprintf(out, "%s: packages in %s\n", name, inst.Dir())
	}
	return nil
}
