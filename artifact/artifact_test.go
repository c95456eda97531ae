package artifact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCachesDownloads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("\x00asm-bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), nil)
	url := srv.URL + "/python.wasm"

	data, err := f.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "\x00asm-bytes", string(data))
	assert.True(t, f.Cached(url))
	assert.Equal(t, ".wasm", filepath.Ext(f.Path(url)))

	data, err = f.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "\x00asm-bytes", string(data))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), nil)

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"bad status", srv.URL + "/missing.wasm", http.StatusNotFound},
		{"refused", "http://127.0.0.1:1/python.wasm", 0},
		{"missing local file", filepath.Join(t.TempDir(), "nope.wasm"), 0},
		{"empty url", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), tt.url)
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.True(t, te.Transport())
			assert.Equal(t, tt.wantStatus, te.Status)
			assert.False(t, f.Cached(tt.url))
		})
	}
}

func TestFetchEmptyURL(t *testing.T) {
	f := NewFetcher(t.TempDir(), nil)
	_, err := f.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.wasm")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0644))

	f := NewFetcher(t.TempDir(), nil)
	data, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "local", string(data))
}

func TestPurge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewFetcher(filepath.Join(t.TempDir(), "cache"), nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/a.wasm")
	require.NoError(t, err)

	require.NoError(t, f.Purge())
	assert.False(t, f.Cached(srv.URL+"/a.wasm"))
	require.NoError(t, f.Purge())
}

func TestDefaultDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	assert.Equal(t, "/tmp/xdg/datalab/artifacts", DefaultDir())
}
