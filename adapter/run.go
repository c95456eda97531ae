package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/engine"
)

// Run executes code against the engine and returns its captured output.
//
// Before every run, datasets recorded in the namespace are replayed into the
// engine: name_csv is re-bound if the engine lost it and name_data is always
// re-derived. Code that references a *_data binding while none exists is
// rejected without being evaluated.
func (a *Adapter) Run(ctx context.Context, code string) Result {
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
	a.publish(EventProgress, msgRunning, KindNone)

	a.replay(ctx, eng)

	var r Result
	if mentionsDataset(code) && !a.hasDataBinding(ctx, eng) {
		r = Result{Output: msgMissingDataset, Kind: KindMissingDataset}
	} else if a.dialect.Strategy() == Scoped {
		r = a.runScoped(ctx, eng, code)
	} else {
		r = a.runDirect(ctx, eng, code)
	}
	r.Duration = time.Since(start)

	if errors.Is(r.Err, engine.ErrClosed) {
		a.lost(ctx, eng, r.Err)
	}

	a.mu.Lock()
	a.plot = r.Plot
	a.mu.Unlock()

	a.metrics.Run(a.dialect.Name(), r.Kind.String(), r.Duration)
	if r.Kind != KindNone {
		a.log.WithFields(logrus.Fields{
			"kind":     r.Kind.String(),
			"duration": r.Duration,
		}).WithError(r.Err).Warn("run failed")
	}
	return a.finish(r)
}

// replay re-binds every dataset in the namespace. Failures are logged; the
// missing-dataset check or the user's own code reports them.
func (a *Adapter) replay(ctx context.Context, eng engine.Engine) {
	bindings := a.ns.Bindings()
	if len(bindings) == 0 {
		return
	}

	globals, err := eng.Globals(ctx)
	if err != nil {
		a.log.WithError(err).Warn("list globals for replay")
	}
	present := make(map[string]bool, len(globals))
	for _, g := range globals {
		present[g] = true
	}

	prev := eng.RedirectOutput(io.Discard)
	defer eng.RedirectOutput(prev)

	for _, b := range bindings {
		code := a.dialect.RestoreCode(b.Name)
		if !present[engine.RawName(b.Name)] {
			code = a.dialect.BindCode(b.Name, b.Raw)
		}
		if err := eng.Eval(ctx, code); err != nil {
			a.log.WithField("dataset", b.Name).WithError(err).Warn("replay dataset")
		}
	}
}

func (a *Adapter) hasDataBinding(ctx context.Context, eng engine.Engine) bool {
	globals, err := eng.Globals(ctx)
	if err != nil {
		a.log.WithError(err).Warn("list globals")
		return false
	}
	for _, g := range globals {
		if strings.HasSuffix(g, engine.DataSuffix) && !a.dialect.Reserved(g) {
			return true
		}
	}
	return false
}

// runDirect evaluates with stdout redirected into a buffer. The previous
// sink is restored whatever happens.
func (a *Adapter) runDirect(ctx context.Context, eng engine.Engine, code string) Result {
	var buf bytes.Buffer
	prev := eng.RedirectOutput(&buf)
	err := eng.Eval(ctx, code)
	eng.RedirectOutput(prev)

	if err != nil {
		return a.execFailure(err)
	}
	return Result{Output: nonEmpty(buf.String())}
}

// runScoped evaluates through the engine's scoped API, retrying bridge
// faults under the dialect's policy. Anything the scoped path cannot
// deliver falls back to direct evaluation.
func (a *Adapter) runScoped(ctx context.Context, eng engine.Engine, code string) Result {
	hint := a.dialect.PlotHint(code)

	scoped, ok := eng.(engine.Scoped)
	if !ok {
		r := a.runFallback(ctx, eng, code)
		r.Plot = hint
		return r
	}

	var chunks []engine.Chunk
	policy := a.dialect.RunRetry()
	policy.Retryable = a.dialect.IsBridgeFault
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = scoped.EvalScoped(ctx, code)
		return err
	}, func(attempt int, err error) {
		a.metrics.BridgeRetry(a.dialect.Name())
		a.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     policy.MaxAttempts,
		}).WithError(err).Warn("scoped evaluation bridge fault, retrying")
	})
	if err != nil {
		a.log.WithError(err).Warn("scoped evaluation failed, falling back to direct evaluation")
		r := a.runFallback(ctx, eng, code)
		r.Plot = hint
		return r
	}

	out, failure := joinChunks(chunks)
	r := Result{Output: nonEmpty(out), Plot: hint}
	if failure != "" {
		r.Kind = KindEngineFault
		r.Err = errors.New(failure)
		if mentionsDataset(failure) {
			r.Kind = KindMissingDataset
			r.Output = msgDatasetHint + failure
		}
	}
	return r
}

func (a *Adapter) runFallback(ctx context.Context, eng engine.Engine, code string) Result {
	r := a.runDirect(ctx, eng, code)
	if r.Err != nil && a.dialect.IsBridgeFault(r.Err) {
		return Result{Output: a.dialect.Messages().BridgeFailed, Kind: KindBridgeFault, Err: r.Err}
	}
	return r
}

// execFailure classifies an error raised by user code.
func (a *Adapter) execFailure(err error) Result {
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Result{Output: formatExec(a.dialect.Messages().ExecError, msg), Kind: KindEngineFault, Err: err}
	case mentionsDataset(msg):
		return Result{Output: msgDatasetHint + msg, Kind: KindMissingDataset, Err: err}
	case a.dialect.IsBridgeFault(err):
		return Result{Output: formatExec(a.dialect.Messages().ExecError, msg), Kind: KindBridgeFault, Err: err}
	default:
		return Result{Output: formatExec(a.dialect.Messages().ExecError, msg), Kind: KindEngineFault, Err: err}
	}
}

func formatExec(format, msg string) string {
	if format == "" {
		return "Error: " + msg
	}
	return strings.ReplaceAll(format, "%s", msg)
}

// joinChunks renders scoped output one chunk per line with blank chunks
// dropped. Stdout and stderr pass through; error chunks are prefixed with
// "Error: " and also returned as the failure text.
func joinChunks(chunks []engine.Chunk) (out, failure string) {
	var lines, errs []string
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		switch c.Stream {
		case engine.Error:
			lines = append(lines, "Error: "+c.Text)
			errs = append(errs, c.Text)
		default:
			lines = append(lines, c.Text)
		}
	}
	return strings.Join(lines, "\n"), strings.Join(errs, "\n")
}

func nonEmpty(out string) string {
	if out == "" {
		return NoOutput
	}
	return out
}
