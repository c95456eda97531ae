package adapter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/dataset"
)

// LoadDataset fetches a dataset by name and binds it in the engine as
// name_data (parsed) and name_csv (raw). Loading the same name again
// re-fetches and re-binds; the load registry keeps every load.
func (a *Adapter) LoadDataset(ctx context.Context, name string) Result {
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

	start := time.Now()
	log := a.log.WithField("dataset", name)
	a.publish(EventProgress, fmt.Sprintf("Loading dataset '%s'...", name), KindNone)

	failed := func(raw string, err error) Result {
		a.metrics.DatasetLoad(a.dialect.Name(), "error")
		log.WithError(err).Warn("dataset load failed")
		return a.finish(Result{
			Output:   fetchDiagnostic(name, raw, err),
			Kind:     KindDatasetFetch,
			Err:      err,
			Duration: time.Since(start),
		})
	}

	if !dataset.ValidName(name) {
		return failed("", fmt.Errorf("%w: %q", dataset.ErrInvalidName, name))
	}

	raw, err := a.source.Fetch(ctx, name)
	if err != nil {
		return failed(raw, err)
	}

	table, err := dataset.Summarize(raw)
	if err != nil {
		return failed(raw, err)
	}

	var preview bytes.Buffer
	prev := eng.RedirectOutput(&preview)
	err = eng.Eval(ctx, a.dialect.BindCode(name, raw)+"\n"+a.dialect.PreviewCode(name))
	eng.RedirectOutput(prev)
	if err != nil {
		return failed(raw, err)
	}

	a.ns.Put(name, raw)
	a.ns.Record(name)

	if snippet := a.dialect.UsageSnippet(name); snippet != "" {
		a.mu.Lock()
		a.editor += snippet
		a.mu.Unlock()
	}

	a.metrics.DatasetLoad(a.dialect.Name(), "ok")
	log.WithFields(logrus.Fields{
		"rows":    table.Rows,
		"columns": len(table.Columns),
	}).Info("dataset loaded")

	return a.finish(Result{
		Output:   Confirmation(a.dialect, name, table) + preview.String(),
		Duration: time.Since(start),
	})
}

// LoadedDatasets returns the load registry in load order.
func (a *Adapter) LoadedDatasets() []string {
	return a.ns.Registry()
}
