package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/internal/config"
	"github.com/caffeineduck/datalab/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iris.csv"), []byte("a,b\n1,2\n"), 0o644))
	return &config.Config{
		Runtime: config.RuntimeConfig{
			CacheDir:  filepath.Join(dir, "cache"),
			Memory:    256,
			Timeout:   time.Second,
			SlowAfter: time.Second,
		},
		Python: config.PythonConfig{ArtifactURL: "http://127.0.0.1:1/python.wasm"},
		Datasets: config.DatasetsConfig{
			Source:    "dir",
			Dir:       dir,
			CacheSize: 4,
			CacheTTL:  time.Minute,
		},
	}
}

func newApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), logging.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewSourceDir(t *testing.T) {
	a := newApp(t)
	text, err := a.Source.Fetch(context.Background(), "iris")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", text)
}

func TestNewSourceSQLite(t *testing.T) {
	cfg := config.DatasetsConfig{
		Source:    "sqlite",
		DBPath:    filepath.Join(t.TempDir(), "data.db"),
		CacheSize: 4,
		CacheTTL:  time.Minute,
	}
	src, closer, err := NewSource(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	_, err = src.Fetch(context.Background(), "missing")
	assert.Error(t, err)
}

func TestNewSourceUnknown(t *testing.T) {
	_, _, err := NewSource(context.Background(), config.DatasetsConfig{Source: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown dataset source "ftp"`)
}

func TestLanguage(t *testing.T) {
	a := newApp(t)
	for _, name := range Languages() {
		lang, err := a.Language(name)
		require.NoError(t, err)
		assert.Equal(t, name, lang.Name())
	}

	_, err := a.Language("julia")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestLanguagePackagesFromConfig(t *testing.T) {
	a := newApp(t)
	a.Config.Python.Packages = []string{"polars"}
	lang, err := a.Language("python")
	require.NoError(t, err)
	assert.Equal(t, []string{"polars"}, lang.Packages())
}

func TestInstallerDirs(t *testing.T) {
	a := newApp(t)
	assert.Equal(t, a.Config.PackagesDir("python"), a.Installer("python").Dir())
	assert.Equal(t, a.Config.PackagesDir("r"), a.Installer("r").Dir())
}

func TestNewAdapterUnstarted(t *testing.T) {
	a := newApp(t)
	ad, err := a.NewAdapter("python")
	require.NoError(t, err)
	assert.Equal(t, "python", ad.Language())
	assert.Equal(t, engine.Absent, ad.State().Status)

	_, err = a.NewAdapter("julia")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestNewAdapterFetchFailure(t *testing.T) {
	a := newApp(t)
	ad, err := a.NewAdapter("python")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.Error(t, ad.Initialize(ctx))
	assert.Equal(t, engine.Failed, ad.State().Status)
}

func TestClose(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logrus.New(), nil)
	require.NoError(t, err)
	_, err = a.NewAdapter("r")
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
