package adapter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/engine"
)

// Initialize runs the bootstrap sequence: fetch the engine artifact, start
// the engine, evaluate setup code, install packages. It returns nil when the
// handle is ready, ErrBusy when another operation holds the adapter, or a
// *StepError naming the step that failed.
func (a *Adapter) Initialize(ctx context.Context) error {
	if !a.acquire() {
		return ErrBusy
	}
	defer a.release()

	if a.Ready() {
		return nil
	}
	return a.bootstrap(ctx)
}

// Retry clears a previous failure and restarts the bootstrap from the first
// step. It is a no-op on a ready adapter.
func (a *Adapter) Retry(ctx context.Context) error {
	if !a.acquire() {
		return ErrBusy
	}
	defer a.release()

	if a.Ready() {
		return nil
	}
	a.log.Info("retrying bootstrap")
	return a.bootstrap(ctx)
}

func (a *Adapter) bootstrap(ctx context.Context) error {
	start := time.Now()
	a.setStatus(engine.Pending)

	if a.slowAfter > 0 {
		timer := time.AfterFunc(a.slowAfter, a.advise)
		defer timer.Stop()
	}

	eng, step, err := a.provision(ctx)
	if err != nil {
		return a.fail(ctx, eng, step, err)
	}

	a.mu.Lock()
	a.handle = eng
	a.status = engine.Ready
	a.mu.Unlock()

	a.metrics.Bootstrap(a.dialect.Name(), "ok")
	a.log.WithField("duration", time.Since(start)).Info("engine ready")
	a.publish(EventReady, a.dialect.Messages().Ready, KindNone)
	return nil
}

// provision performs the ordered steps. On failure it returns the engine
// started so far, if any, so it can be closed.
func (a *Adapter) provision(ctx context.Context) (engine.Engine, Step, error) {
	d := a.dialect

	a.progress(StepFetch)
	artifact, err := a.provisioner.Fetch(ctx)
	if err != nil {
		return nil, StepFetch, err
	}

	a.progress(StepStart)
	var eng engine.Engine
	startPolicy := d.StartRetry()
	err = startPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		eng, err = a.provisioner.Start(ctx, artifact)
		return err
	}, func(attempt int, err error) {
		a.log.WithFields(logrus.Fields{
			"step":    StepStart.String(),
			"attempt": attempt,
			"max":     startPolicy.MaxAttempts,
		}).WithError(err).Warn("engine start failed, retrying")
	})
	if err != nil {
		return nil, StepStart, err
	}

	if code := d.SetupCode(); code != "" {
		a.progress(StepSetup)
		prev := eng.RedirectOutput(io.Discard)
		err := eng.Eval(ctx, code)
		eng.RedirectOutput(prev)
		if err != nil {
			return eng, StepSetup, fmt.Errorf("setup: %w", err)
		}
	}

	if pkgs := d.Packages(); len(pkgs) > 0 {
		a.progress(StepInstall)
		if err := eng.InstallPackages(ctx, pkgs); err != nil {
			if !d.PackagesOptional() {
				return eng, StepInstall, fmt.Errorf("install packages: %w", err)
			}
			a.log.WithField("packages", pkgs).WithError(err).Warn("package installation failed, continuing without packages")
		}
	}

	return eng, 0, nil
}

func (a *Adapter) fail(ctx context.Context, eng engine.Engine, step Step, err error) error {
	if eng != nil {
		if cerr := eng.Close(ctx); cerr != nil {
			a.log.WithError(cerr).Warn("close engine after failed bootstrap")
		}
	}

	kind := a.dialect.ClassifyBootstrap(step, err)
	a.setStatus(engine.Failed)
	a.metrics.Bootstrap(a.dialect.Name(), kind.String())
	a.log.WithFields(logrus.Fields{
		"step": step.String(),
		"kind": kind.String(),
	}).WithError(err).Error("bootstrap failed")

	a.publish(EventFailed, a.dialect.Diagnose(kind, err), kind)
	return &StepError{Step: step, Kind: kind, Err: err}
}

// lost drops a handle whose engine shut down under a running operation.
// Datasets stay in the namespace and are replayed into the engine that
// Retry brings up.
func (a *Adapter) lost(ctx context.Context, eng engine.Engine, err error) {
	if cerr := eng.Close(ctx); cerr != nil {
		a.log.WithError(cerr).Debug("close lost engine")
	}
	a.mu.Lock()
	if a.handle == eng {
		a.handle = nil
		a.status = engine.Failed
	}
	a.mu.Unlock()
	a.log.WithError(err).Error("engine lost, retry to start a new one")
}

func (a *Adapter) progress(step Step) {
	a.log.WithField("step", step.String()).Debug("bootstrap step")
	if msg, ok := a.dialect.Messages().Progress[step]; ok && msg != "" {
		a.publish(EventProgress, msg, KindNone)
	}
}

// advise publishes the slow-bootstrap advisory if the bootstrap is still in
// flight. It never aborts the load.
func (a *Adapter) advise() {
	a.mu.RLock()
	pending := a.status == engine.Pending
	a.mu.RUnlock()
	if !pending {
		return
	}
	a.log.WithField("after", a.slowAfter).Warn("bootstrap is slow")
	a.publish(EventAdvisory, a.dialect.Messages().Slow, KindBootstrapTimeout)
}

func (a *Adapter) setStatus(s engine.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}
