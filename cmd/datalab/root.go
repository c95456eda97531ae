package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/internal/app"
	"github.com/caffeineduck/datalab/internal/config"
	"github.com/caffeineduck/datalab/internal/logging"
	"github.com/caffeineduck/datalab/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "datalab",
	Short: "Python and R data notebooks on WebAssembly",
	Long: `datalab - run Python and R against shared datasets inside a WebAssembly engine.

The engine is downloaded on first use and cached. Datasets are fetched from the
configured source (http, dir, s3 or sqlite) and bound into the engine as
<name>_data (parsed table) and <name>_csv (raw text).

Settings come from datalab.yaml (in . or ~/.datalab), DATALAB_* environment
variables and flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./datalab.yaml or ~/.datalab/datalab.yaml)")
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language: python, r (default: from file extension, else python)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		c.Log.Level = lvl
	}
	cfg = c
	logger = logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if cfg.File != "" {
		logger.WithField("file", cfg.File).Debug("config loaded")
	}
	return nil
}

// resolveLanguage picks the language from the flag, then the file extension,
// then python.
func resolveLanguage(langFlag, filename string) (string, error) {
	lang := strings.ToLower(langFlag)
	if lang == "" && filename != "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".py":
			lang = "python"
		case ".r":
			lang = "r"
		}
	}
	switch lang {
	case "", "python", "py":
		return "python", nil
	case "r":
		return "r", nil
	}
	return "", fmt.Errorf("%w: %q (want python or r)", app.ErrUnknownLanguage, langFlag)
}

func newApp(ctx context.Context, m *metrics.Metrics) (*app.App, error) {
	return app.New(ctx, cfg, logger, m)
}

// printEvents writes bootstrap progress and failures to w as they happen.
// Output events are left to the caller, which prints Results itself.
func printEvents(a *adapter.Adapter, w io.Writer) func() {
	return a.Subscribe(func(ev adapter.Event) {
		if ev.Type != adapter.EventOutput {
			fmt.Fprintln(w, ev.Message)
		}
	})
}
