// Package adapter drives one embedded language engine through its lifecycle:
// bootstrap, code execution with output capture, dataset injection and
// environment reset. All user-facing operations are fail-soft and return a
// Result whose Output is always a non-empty message.
//
// An Adapter admits one operation at a time. Overlapping calls are rejected
// with ErrBusy, never queued.
package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/internal/metrics"
)

// DefaultSlowAfter is how long a bootstrap may run before the advisory
// message is published.
const DefaultSlowAfter = 20 * time.Second

// Provisioner acquires an engine artifact and starts an engine from it.
type Provisioner interface {
	Fetch(ctx context.Context) ([]byte, error)
	Start(ctx context.Context, artifact []byte) (engine.Engine, error)
}

// EventType classifies adapter events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventAdvisory EventType = "advisory"
	EventOutput   EventType = "output"
	EventReady    EventType = "ready"
	EventFailed   EventType = "failed"
)

// Event is published to observers whenever the output buffer changes.
type Event struct {
	Type    EventType `json:"type"`
	Lang    string    `json:"lang"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
	Time    time.Time `json:"time"`
}

// Snapshot is a point-in-time copy of the observable adapter state.
type Snapshot struct {
	Language       string        `json:"language"`
	Status         engine.Status `json:"status"`
	Ready          bool          `json:"ready"`
	Busy           bool          `json:"busy"`
	LastOutput     string        `json:"last_output"`
	LoadedDatasets []string      `json:"loaded_datasets"`
	LastErrorKind  ErrorKind     `json:"last_error_kind"`
	Editor         string        `json:"editor"`
	Plot           string        `json:"plot,omitempty"`
}

type Option func(*Adapter)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(log *logrus.Logger) Option {
	return func(a *Adapter) {
		if log != nil {
			a.log = log.WithField("lang", a.dialect.Name())
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithSlowAfter sets the bootstrap advisory delay. Zero disables it.
func WithSlowAfter(d time.Duration) Option {
	return func(a *Adapter) {
		a.slowAfter = d
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(fn func(Event)) Option {
	return func(a *Adapter) {
		a.observers[a.nextObserver] = fn
		a.nextObserver++
	}
}

// Adapter is the runtime adapter for one language.
type Adapter struct {
	dialect     Dialect
	provisioner Provisioner
	source      dataset.Source
	ns          *engine.Namespace

	log       *logrus.Entry
	metrics   *metrics.Metrics
	slowAfter time.Duration

	busy atomic.Bool

	mu         sync.RWMutex
	status     engine.Status
	handle     engine.Engine
	lastOutput string
	lastKind   ErrorKind
	editor     string
	plot       string

	obsMu        sync.Mutex
	observers    map[int]func(Event)
	nextObserver int
}

func New(d Dialect, p Provisioner, src dataset.Source, opts ...Option) *Adapter {
	a := &Adapter{
		dialect:     d,
		provisioner: p,
		source:      src,
		ns:          engine.NewNamespace(),
		log:         logrus.New().WithField("lang", d.Name()),
		slowAfter:   DefaultSlowAfter,
		status:      engine.Absent,
		editor:      d.Example(),
		observers:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Language returns the dialect name.
func (a *Adapter) Language() string {
	return a.dialect.Name()
}

// Dialect returns the adapter's dialect.
func (a *Adapter) Dialect() Dialect {
	return a.dialect
}

// Subscribe registers fn for every future event. The returned function
// removes it.
func (a *Adapter) Subscribe(fn func(Event)) func() {
	a.obsMu.Lock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = fn
	a.obsMu.Unlock()

	return func() {
		a.obsMu.Lock()
		delete(a.observers, id)
		a.obsMu.Unlock()
	}
}

func (a *Adapter) State() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Language:       a.dialect.Name(),
		Status:         a.status,
		Ready:          a.status == engine.Ready,
		Busy:           a.busy.Load(),
		LastOutput:     a.lastOutput,
		LoadedDatasets: a.ns.Registry(),
		LastErrorKind:  a.lastKind,
		Editor:         a.editor,
		Plot:           a.plot,
	}
}

// Ready reports whether the engine handle is usable.
func (a *Adapter) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status == engine.Ready
}

func (a *Adapter) Editor() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.editor
}

func (a *Adapter) SetEditor(code string) {
	a.mu.Lock()
	a.editor = code
	a.mu.Unlock()
}

// Namespace exposes the session-owned dataset store.
func (a *Adapter) Namespace() *engine.Namespace {
	return a.ns
}

// Close releases the engine. The adapter returns to the absent state.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	h := a.handle
	a.handle = nil
	a.status = engine.Absent
	a.mu.Unlock()

	a.ns.Reset()
	if h == nil {
		return nil
	}
	return h.Close(ctx)
}

// acquire claims the single operation slot.
func (a *Adapter) acquire() bool {
	return a.busy.CompareAndSwap(false, true)
}

func (a *Adapter) release() {
	a.busy.Store(false)
}

func (a *Adapter) current() (engine.Engine, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handle, a.status == engine.Ready && a.handle != nil
}

// publish overwrites the output buffer and notifies observers.
func (a *Adapter) publish(typ EventType, msg string, kind ErrorKind) {
	a.mu.Lock()
	a.lastOutput = msg
	if typ != EventProgress && typ != EventAdvisory {
		a.lastKind = kind
	}
	a.mu.Unlock()

	ev := Event{Type: typ, Lang: a.dialect.Name(), Message: msg, Kind: kind, Time: time.Now()}

	a.obsMu.Lock()
	fns := make([]func(Event), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// finish publishes a result as output and returns it.
func (a *Adapter) finish(r Result) Result {
	a.publish(EventOutput, r.Output, r.Kind)
	return r
}

func (a *Adapter) busyResult() Result {
	return Result{Output: msgBusy, Err: ErrBusy}
}

func (a *Adapter) notReadyResult() Result {
	return a.finish(Result{Output: a.dialect.Messages().Loading, Err: ErrNotReady})
}
