package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/engine"
)

var (
	ErrBusy     = errors.New("adapter busy")
	ErrNotReady = errors.New("engine not ready")
)

// ErrorKind is the category a failure is reported under.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindBootstrapTransport
	KindBootstrapEngine
	KindBootstrapTimeout
	KindMissingDataset
	KindEngineFault
	KindBridgeFault
	KindDatasetFetch
	KindUnknown
)

var kindNames = map[ErrorKind]string{
	KindNone:               "none",
	KindBootstrapTransport: "bootstrap_transport",
	KindBootstrapEngine:    "bootstrap_engine",
	KindBootstrapTimeout:   "bootstrap_timeout",
	KindMissingDataset:     "missing_dataset",
	KindEngineFault:        "engine_fault",
	KindBridgeFault:        "bridge_fault",
	KindDatasetFetch:       "dataset_fetch",
	KindUnknown:            "unknown",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// StepError reports which bootstrap step failed and how it was classified.
type StepError struct {
	Step Step
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("bootstrap %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Transport is implemented by errors that come from moving bytes over the
// network rather than from the engine.
type Transport interface {
	Transport() bool
}

// DefaultBootstrapKind classifies by step: fetching is transport, every
// later step is the engine. Errors that identify as transport win.
func DefaultBootstrapKind(step Step, err error) ErrorKind {
	var t Transport
	switch {
	case errors.As(err, &t) && t.Transport():
		return KindBootstrapTransport
	case errors.Is(err, context.Canceled):
		return KindUnknown
	case step == StepFetch:
		return KindBootstrapTransport
	case step == StepStart, step == StepSetup, step == StepInstall:
		return KindBootstrapEngine
	default:
		return KindUnknown
	}
}

// Result is the fail-soft outcome of a user-facing operation. Output is
// never empty.
type Result struct {
	Output   string
	Kind     ErrorKind
	Err      error
	Plot     string
	Duration time.Duration
}

// OK reports whether the operation completed without a classified failure.
func (r Result) OK() bool {
	return r.Kind == KindNone && r.Err == nil
}

const (
	msgBusy    = "Another operation is still running... Please wait."
	msgRunning = "Running code..."
	// NoOutput is the output of a successful run that printed nothing.
	NoOutput = "Code executed successfully (no output)"

	msgMissingDataset = "Error: Dataset not found. Please load a dataset first (Load Iris, Load Sales, or Load Students)."
	msgDatasetHint    = "Error: Dataset not found. Please load a dataset first.\n\nOriginal error: "
)

// mentionsDataset reports whether text refers to a parsed dataset binding.
func mentionsDataset(text string) bool {
	return strings.Contains(text, engine.DataSuffix)
}

func fetchDiagnostic(name, raw string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error loading dataset: %v\n\n", err)
	b.WriteString("Debug info:\n")
	fmt.Fprintf(&b, "- Dataset: %s\n", name)
	fmt.Fprintf(&b, "- CSV length: %d chars\n", len([]rune(raw)))
	fmt.Fprintf(&b, "- First 100 chars: %s...", dataset.Preview(raw, 100))
	return b.String()
}
