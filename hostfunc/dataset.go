package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caffeineduck/datalab/dataset"
)

// Names of the built-in host functions.
const (
	DatasetFetch = "dataset_fetch"
	TimeNow      = "time_now"
)

// NewDatasetFunc returns a host function that reads a dataset's raw CSV
// text from src. It expects {"name": "<dataset>"}.
func NewDatasetFunc(src dataset.Source) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		name, ok := args["name"].(string)
		if !ok || name == "" {
			return nil, errors.New("name is required")
		}
		if !dataset.ValidName(name) {
			return nil, fmt.Errorf("%w: %q", dataset.ErrInvalidName, name)
		}
		raw, err := src.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}

// Now reports the host clock in seconds since the epoch.
func Now(ctx context.Context, args map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}

// NewDefaultRegistry registers time_now and, when src is non-nil,
// dataset_fetch.
func NewDefaultRegistry(src dataset.Source) *Registry {
	r := NewRegistry()
	r.Register(TimeNow, Now)
	if src != nil {
		r.Register(DatasetFetch, NewDatasetFunc(src))
	}
	return r
}
