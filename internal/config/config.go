// Package config loads datalab settings from datalab.yaml, DATALAB_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/datalab/artifact"
	"github.com/caffeineduck/datalab/language/python"
	"github.com/caffeineduck/datalab/packages"
)

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port" yaml:"port"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

type RuntimeConfig struct {
	CacheDir    string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	Memory      int           `mapstructure:"memory" yaml:"memory"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SlowAfter   time.Duration `mapstructure:"slow_after" yaml:"slow_after"`
	PackagesDir string        `mapstructure:"packages_dir" yaml:"packages_dir"`
}

type PythonConfig struct {
	ArtifactURL string   `mapstructure:"artifact_url" yaml:"artifact_url"`
	Packages    []string `mapstructure:"packages" yaml:"packages"`
	IndexURL    string   `mapstructure:"index_url" yaml:"index_url"`
}

type RConfig struct {
	ArtifactURL string   `mapstructure:"artifact_url" yaml:"artifact_url"`
	Packages    []string `mapstructure:"packages" yaml:"packages"`
	RepoURL     string   `mapstructure:"repo_url" yaml:"repo_url"`
}

type DatasetsConfig struct {
	Source    string        `mapstructure:"source" yaml:"source"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Dir       string        `mapstructure:"dir" yaml:"dir"`
	Bucket    string        `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string        `mapstructure:"prefix" yaml:"prefix"`
	Region    string        `mapstructure:"region" yaml:"region"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	DBPath    string        `mapstructure:"db_path" yaml:"db_path"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Runtime  RuntimeConfig  `mapstructure:"runtime" yaml:"runtime"`
	Python   PythonConfig   `mapstructure:"python" yaml:"python"`
	R        RConfig        `mapstructure:"r" yaml:"r"`
	Datasets DatasetsConfig `mapstructure:"datasets" yaml:"datasets"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl", 30*time.Minute)

	v.SetDefault("runtime.cache_dir", artifact.CacheRoot())
	v.SetDefault("runtime.memory", 1024)
	v.SetDefault("runtime.timeout", 60*time.Second)
	v.SetDefault("runtime.slow_after", 20*time.Second)
	v.SetDefault("runtime.packages_dir", "")

	v.SetDefault("python.artifact_url", python.DefaultArtifactURL)
	v.SetDefault("python.packages", []string{})
	v.SetDefault("python.index_url", packages.DefaultIndexURL)

	v.SetDefault("r.artifact_url", "")
	v.SetDefault("r.packages", []string{"ggplot2", "dplyr", "tidyr"})
	v.SetDefault("r.repo_url", packages.DefaultRepoURL)

	v.SetDefault("datasets.source", "http")
	v.SetDefault("datasets.base_url", "http://localhost:8000")
	v.SetDefault("datasets.dir", "datasets")
	v.SetDefault("datasets.bucket", "")
	v.SetDefault("datasets.prefix", "datasets/")
	v.SetDefault("datasets.region", "us-east-1")
	v.SetDefault("datasets.endpoint", "")
	v.SetDefault("datasets.db_path", "datalab.db")
	v.SetDefault("datasets.cache_size", 16)
	v.SetDefault("datasets.cache_ttl", 10*time.Minute)
}

// Load reads configuration. With an empty path it searches for datalab.yaml
// in the working directory and $HOME/.datalab; a missing file is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("datalab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.datalab")
	}

	v.SetEnvPrefix("DATALAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Datasets.Source {
	case "http", "dir", "s3", "sqlite":
	default:
		return fmt.Errorf("datasets.source: unknown source %q (want http, dir, s3 or sqlite)", c.Datasets.Source)
	}
	if c.Datasets.Source == "s3" && c.Datasets.Bucket == "" {
		return errors.New("datasets.bucket is required for the s3 source")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}

// PackagesDir is the host directory mounted at /packages for lang.
func (c *Config) PackagesDir(lang string) string {
	if c.Runtime.PackagesDir != "" {
		return filepath.Join(c.Runtime.PackagesDir, lang)
	}
	return filepath.Join(c.Runtime.CacheDir, "packages", lang)
}

// ArtifactDir is where engine artifacts are cached.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.Runtime.CacheDir, "artifacts")
}

// CompiledDir is the wazero compilation cache.
func (c *Config) CompiledDir() string {
	return filepath.Join(c.Runtime.CacheDir, "compiled")
}

// MarshalYAML renders durations as strings such as "30m0s".
func (s ServerConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"port":        s.Port,
		"session_ttl": s.SessionTTL.String(),
	}, nil
}

func (r RuntimeConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"cache_dir":    r.CacheDir,
		"memory":       r.Memory,
		"timeout":      r.Timeout.String(),
		"slow_after":   r.SlowAfter.String(),
		"packages_dir": r.PackagesDir,
	}, nil
}

func (d DatasetsConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"source":     d.Source,
		"base_url":   d.BaseURL,
		"dir":        d.Dir,
		"bucket":     d.Bucket,
		"prefix":     d.Prefix,
		"region":     d.Region,
		"endpoint":   d.Endpoint,
		"db_path":    d.DBPath,
		"cache_size": d.CacheSize,
		"cache_ttl":  d.CacheTTL.String(),
	}, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
