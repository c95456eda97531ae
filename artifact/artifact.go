// Package artifact downloads engine bootstrap artifacts and keeps them in a
// local cache so an engine only crosses the network once per URL.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
)

// MaxSize bounds a single artifact download.
const MaxSize = 512 << 20

// TransportError reports a failure to move the artifact bytes: a refused
// connection, a bad status, a short read or an unreadable local file.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport marks the error as a transport failure for bootstrap
// classification.
func (e *TransportError) Transport() bool { return true }

// ErrNoURL is returned when an engine has no artifact location configured.
var ErrNoURL = errors.New("no artifact URL configured")

// Fetcher downloads artifacts over HTTP. Downloads are stored under Dir,
// keyed by the SHA-256 of the URL. URLs without a scheme are read from the
// local filesystem and never cached.
type Fetcher struct {
	Dir    string
	Client *http.Client

	log *logrus.Entry
}

// NewFetcher returns a Fetcher caching into dir. An empty dir uses
// DefaultDir; a nil logger uses logrus.New.
func NewFetcher(dir string, logger *logrus.Logger) *Fetcher {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Fetcher{
		Dir:    dir,
		Client: &http.Client{Timeout: 10 * time.Minute},
		log:    logger.WithField("component", "artifact"),
	}
}

// Path returns where the artifact for url is cached.
func (f *Fetcher) Path(url string) string {
	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:16])
	if ext := filepath.Ext(strings.SplitN(url, "?", 2)[0]); ext != "" && len(ext) <= 8 {
		name += ext
	}
	return filepath.Join(f.Dir, name)
}

// Cached reports whether url is already in the local cache.
func (f *Fetcher) Cached(url string) bool {
	_, err := os.Stat(f.Path(url))
	return err == nil
}

// Fetch returns the artifact bytes for url, downloading them on a cache
// miss.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, &TransportError{Err: ErrNoURL}
	}
	if !strings.Contains(url, "://") {
		data, err := os.ReadFile(url)
		if err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
		return data, nil
	}

	path := f.Path(url)
	if data, err := os.ReadFile(path); err == nil {
		f.log.WithField("path", path).Debug("artifact cache hit")
		return data, nil
	}

	f.log.WithField("url", url).Info("downloading artifact")
	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := f.store(path, data); err != nil {
		f.log.WithError(err).Warn("cache artifact")
	}
	return data, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if len(data) > MaxSize {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("artifact exceeds %d bytes", MaxSize)}
	}
	return data, nil
}

func (f *Fetcher) store(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Purge removes every cached artifact.
func (f *Fetcher) Purge() error {
	if err := os.RemoveAll(f.Dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DefaultDir is the artifacts directory under CacheRoot.
func DefaultDir() string {
	return filepath.Join(CacheRoot(), "artifacts")
}

// CacheRoot is the datalab directory under the XDG cache home.
func CacheRoot() string {
	return filepath.Join(xdg.CacheHome, "datalab")
}
