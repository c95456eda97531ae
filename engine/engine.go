// Package engine defines the capability set of an embedded language engine
// and the namespace store that sits next to it.
//
// Engines are opaque: the runtime adapter only ever sees the methods below.
// The wazero-backed implementation lives in the executor package; tests use
// the fake in engine/enginetest.
package engine

import (
	"context"
	"errors"
	"io"
)

// ErrBridge marks a fault in the host/engine channel itself, as opposed to
// an error raised by evaluated code. Bridge faults are worth retrying.
var ErrBridge = errors.New("engine bridge fault")

// ErrClosed is returned by an engine that has shut down, either because
// Close was called or because the interpreter exited or was terminated.
var ErrClosed = errors.New("engine closed")

// Engine is an initialized language interpreter.
//
// Implementations are not required to be safe for concurrent use. Callers
// serialize access (the adapter does so with its single-slot gate).
type Engine interface {
	// Eval runs code in the engine's global namespace. Anything the code
	// prints goes to the current output sink.
	Eval(ctx context.Context, code string) error

	// RedirectOutput replaces the standard output sink and returns the
	// previous one so it can be restored.
	RedirectOutput(w io.Writer) io.Writer

	// InstallPackages makes the named packages importable.
	InstallPackages(ctx context.Context, names []string) error

	// Globals lists the names currently bound in the global namespace.
	Globals(ctx context.Context) ([]string, error)

	// Remove unbinds the given global names in a single pass.
	Remove(ctx context.Context, names []string) error

	Close(ctx context.Context) error
}

// Stream identifies which output stream a Chunk came from. Stderr carries
// diagnostics such as warnings and messages; Error carries the condition
// that aborted the evaluation.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	Error  Stream = "error"
)

// Chunk is one piece of captured output from a scoped evaluation.
type Chunk struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Scoped is implemented by engines that can evaluate code inside a
// disposable scope which captures its own streams. The scope is purged
// after each call.
type Scoped interface {
	EvalScoped(ctx context.Context, code string) ([]Chunk, error)
}

// Status is the lifecycle state of an engine handle.
type Status int

const (
	Absent Status = iota
	Pending
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets Status appear as a string in JSON snapshots.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
