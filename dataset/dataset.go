// Package dataset fetches sample datasets as raw comma-separated text.
//
// A Source resolves a dataset name to its CSV text. Sources are addressed by
// name only; the path, object key or row a name maps to is the source's
// business. When a fetch fails part-way, sources return whatever text they
// read together with the error so callers can report how far they got.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound    = errors.New("dataset not found")
	ErrInvalidName = errors.New("invalid dataset name")
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Source fetches the raw text of a dataset by name.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, name string) (string, error)

func (f SourceFunc) Fetch(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// ValidName reports whether name can be used as a dataset identifier. Names
// become engine globals (name_data, name_csv), so only identifiers pass.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// FileName returns the conventional file name for a dataset.
func FileName(name string) string {
	return name + ".csv"
}
