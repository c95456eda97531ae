package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirSource reads <Root>/<name>.csv from the local filesystem.
type DirSource struct {
	Root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (s *DirSource) Fetch(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(s.Root, FileName(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return string(data), fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// List returns dataset names available under Root.
func (s *DirSource) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Root, "*.csv"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		name := base[:len(base)-len(".csv")]
		if ValidName(name) {
			names = append(names, name)
		}
	}
	return names, nil
}
