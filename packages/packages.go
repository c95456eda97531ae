// Package packages installs interpreter packages into a host directory that
// sessions mount read-only at /packages.
package packages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Installer makes packages available under its directory.
type Installer interface {
	Install(ctx context.Context, names []string) error
	Dir() string
}

// Parallel is how many packages are downloaded at once.
const Parallel = 4

// BlockedError is returned for a package that cannot run under WASI and is
// not already present in the package directory.
type BlockedError struct {
	Name   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s is not supported in WASM (%s); place a WASI build in the packages directory", e.Name, e.Reason)
}

// installAll runs install for every name not already satisfied, a few at a
// time. The first error cancels the rest.
func installAll(ctx context.Context, names []string, present func(string) bool, install func(context.Context, string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(Parallel)
	for _, name := range names {
		if present(name) {
			continue
		}
		g.Go(func() error {
			if err := install(ctx, name); err != nil {
				return fmt.Errorf("install %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func get(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("not found: %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// safeJoin joins an archive member name onto dir, rejecting names that
// escape it.
func safeJoin(dir, name string) (string, error) {
	dest := filepath.Join(dir, name)
	if dest != filepath.Clean(dir) && !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return dest, nil
}

func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Installed lists the package directories under dir, skipping metadata.
func Installed(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasSuffix(name, ".dist-info") || strings.HasPrefix(name, "__") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func entryFor(logger *logrus.Logger, lang string) *logrus.Entry {
	if logger == nil {
		logger = logrus.New()
	}
	return logger.WithFields(logrus.Fields{"component": "packages", "lang": lang})
}
