// Package app wires configuration into runnable adapters: the wazero
// executor, artifact fetcher, package installers and dataset source shared
// by the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/artifact"
	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/executor"
	"github.com/caffeineduck/datalab/hostfunc"
	"github.com/caffeineduck/datalab/internal/config"
	"github.com/caffeineduck/datalab/internal/metrics"
	"github.com/caffeineduck/datalab/language/python"
	"github.com/caffeineduck/datalab/language/r"
	"github.com/caffeineduck/datalab/packages"
)

// Language is a dialect that can also boot under the executor.
type Language interface {
	adapter.Dialect
	executor.Language
}

var ErrUnknownLanguage = errors.New("unknown language")

// App holds the process-wide runtime pieces.
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	Source  dataset.Source
	Fetcher *artifact.Fetcher

	exec    *executor.Executor
	closers []io.Closer
}

// New builds the runtime from cfg. The executor is created lazily by the
// first adapter so commands that never boot an engine stay cheap.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}
	src, closer, err := NewSource(ctx, cfg.Datasets)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:  cfg,
		Log:     logger,
		Metrics: m,
		Source:  src,
		Fetcher: artifact.NewFetcher(cfg.ArtifactDir(), logger),
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

// NewSource builds the configured dataset source wrapped in an LRU cache.
// The closer is non-nil for sources holding resources.
func NewSource(ctx context.Context, cfg config.DatasetsConfig) (dataset.Source, io.Closer, error) {
	var (
		src    dataset.Source
		closer io.Closer
	)
	switch cfg.Source {
	case "http":
		src = dataset.NewHTTPSource(cfg.BaseURL)
	case "dir":
		src = dataset.NewDirSource(cfg.Dir)
	case "s3":
		s3src, err := dataset.NewS3Source(ctx, dataset.S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.Endpoint != "",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 dataset source: %w", err)
		}
		src = s3src
	case "sqlite":
		db, err := dataset.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite dataset source: %w", err)
		}
		src, closer = db, db
	default:
		return nil, nil, fmt.Errorf("unknown dataset source %q", cfg.Source)
	}
	return dataset.NewCached(src, cfg.CacheSize, cfg.CacheTTL), closer, nil
}

// Languages lists the supported language names.
func Languages() []string { return []string{"python", "r"} }

// Language returns the dialect for name with the configured packages.
func (a *App) Language(name string) (Language, error) {
	switch name {
	case "python":
		return python.New(a.Config.Python.Packages...), nil
	case "r":
		return r.New(a.Config.R.Packages...), nil
	}
	return nil, fmt.Errorf("%w: %q (want python or r)", ErrUnknownLanguage, name)
}

// ArtifactURL is where the interpreter for name is downloaded from.
func (a *App) ArtifactURL(name string) string {
	if name == "r" {
		return a.Config.R.ArtifactURL
	}
	return a.Config.Python.ArtifactURL
}

// Installer returns the package installer for name.
func (a *App) Installer(name string) packages.Installer {
	return NewInstaller(a.Config, name, a.Log)
}

// NewInstaller returns the package installer for lang without building the
// rest of the runtime.
func NewInstaller(cfg *config.Config, lang string, logger *logrus.Logger) packages.Installer {
	dir := cfg.PackagesDir(lang)
	if lang == "r" {
		return packages.NewRRepo(dir, cfg.R.RepoURL, logger)
	}
	return packages.NewPyPI(dir, cfg.Python.IndexURL, logger)
}

func (a *App) executor() (*executor.Executor, error) {
	if a.exec != nil {
		return a.exec, nil
	}
	exec, err := executor.New(
		executor.WithDiskCache(a.Config.CompiledDir()),
		executor.WithMemoryLimit(executor.MemoryPages(a.Config.Runtime.Memory)),
		executor.WithLogger(a.Log),
	)
	if err != nil {
		return nil, err
	}
	a.exec = exec
	a.closers = append(a.closers, exec)
	return exec, nil
}

// NewAdapter returns an unstarted adapter for name. Call Initialize to
// boot its engine.
func (a *App) NewAdapter(name string, opts ...adapter.Option) (*adapter.Adapter, error) {
	lang, err := a.Language(name)
	if err != nil {
		return nil, err
	}
	exec, err := a.executor()
	if err != nil {
		return nil, err
	}

	prov := executor.NewProvisioner(exec, lang, a.Fetcher, a.ArtifactURL(name),
		executor.WithSessionTimeout(a.Config.Runtime.Timeout),
		executor.WithInstaller(a.Installer(name)),
		executor.WithRegistry(hostfunc.NewDefaultRegistry(a.Source)),
	)

	base := []adapter.Option{
		adapter.WithLogger(a.Log),
		adapter.WithMetrics(a.Metrics),
		adapter.WithSlowAfter(a.Config.Runtime.SlowAfter),
	}
	return adapter.New(lang, prov, a.Source, append(base, opts...)...), nil
}

// Close releases the executor and any dataset source resources.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.exec = nil
	return errors.Join(errs...)
}
