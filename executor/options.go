package executor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/hostfunc"
	"github.com/caffeineduck/datalab/packages"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	logger           *logrus.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{}
}

// WithDiskCache enables a persistent compilation cache so restarts skip
// recompiling interpreters. Optionally provide a custom directory; otherwise
// uses datalab/compiled under the XDG cache home.
//
// Examples:
//
//	executor.New(executor.WithDiskCache())            // default dir
//	executor.New(executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to WASM modules.
// Each page is 64KB. Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithLogger sets the logger for the executor and its sessions.
func WithLogger(l *logrus.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = l
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
	MemoryLimit2GB   uint32 = 32768 // 2 GB
)

// MemoryPages converts megabytes to 64KB pages.
func MemoryPages(mb int) uint32 {
	if mb <= 0 {
		return 0
	}
	return uint32(mb) * 16
}

// PackagesMount is where the package directory appears inside a session.
const PackagesMount = "/packages"

type sessionConfig struct {
	timeout      time.Duration
	startTimeout time.Duration
	packagesDir  string
	installer    packages.Installer
	registry     *hostfunc.Registry
	env          map[string]string
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		timeout:      30 * time.Second,
		startTimeout: 60 * time.Second,
		env:          make(map[string]string),
	}
}

type SessionOption func(*sessionConfig)

// WithSessionTimeout bounds every command sent to the session. A command
// that runs past it terminates the interpreter. Zero disables the bound.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithStartTimeout bounds how long the interpreter may take to reach its
// session loop.
func WithStartTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.startTimeout = d
	}
}

// WithPackages mounts dir read-only at /packages.
func WithPackages(dir string) SessionOption {
	return func(c *sessionConfig) {
		c.packagesDir = dir
	}
}

// WithInstaller sets the installer used by InstallPackages. Its directory
// is mounted at /packages.
func WithInstaller(i packages.Installer) SessionOption {
	return func(c *sessionConfig) {
		c.installer = i
		if i != nil && c.packagesDir == "" {
			c.packagesDir = i.Dir()
		}
	}
}

// WithRegistry sets the host functions the interpreter may call.
func WithRegistry(r *hostfunc.Registry) SessionOption {
	return func(c *sessionConfig) {
		c.registry = r
	}
}

// WithEnv adds an environment variable.
func WithEnv(key, value string) SessionOption {
	return func(c *sessionConfig) {
		c.env[key] = value
	}
}
