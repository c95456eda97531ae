package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/caffeineduck/datalab/engine"
)

// Clear removes user-defined globals from the engine. Reserved names and
// dataset bindings (*_data, *_csv) survive. All qualifying names go in a
// single Remove call, so clearing is all-or-nothing and repeatable.
//
// On a ready adapter Clear always reports the confirmation. An engine
// error is logged, and a lost engine leaves the adapter failed.
func (a *Adapter) Clear(ctx context.Context) Result {
	if !a.Ready() {
		return a.notReadyResult()
	}
	if !a.acquire() {
		return a.busyResult()
	}
	defer a.release()

	eng, ok := a.current()
	if !ok {
		return a.notReadyResult()
	}

	removed, err := a.clearGlobals(ctx, eng)
	if err != nil {
		a.log.WithError(err).Warn("clear environment")
		if errors.Is(err, engine.ErrClosed) {
			a.lost(ctx, eng, err)
		}
	} else {
		a.log.WithField("removed", removed).Info("environment cleared")
	}

	a.mu.Lock()
	a.plot = ""
	a.mu.Unlock()

	return a.finish(Result{Output: a.dialect.Messages().Cleared})
}

func (a *Adapter) clearGlobals(ctx context.Context, eng engine.Engine) (int, error) {
	globals, err := eng.Globals(ctx)
	if err != nil {
		return 0, err
	}

	var doomed []string
	for _, g := range globals {
		if a.clearable(g) {
			doomed = append(doomed, g)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	return len(doomed), eng.Remove(ctx, doomed)
}

func (a *Adapter) clearable(name string) bool {
	return !a.dialect.Reserved(name) &&
		!strings.HasSuffix(name, engine.DataSuffix) &&
		!strings.HasSuffix(name, engine.RawSuffix)
}
