// Package enginetest provides in-memory engine and provisioner doubles so
// adapter behavior can be exercised without a WebAssembly runtime.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/datalab/engine"
)

var (
	assignRe  = regexp.MustCompile(`^([A-Za-z_.][A-Za-z0-9_.]*)\s*(?:<-|=)\s*(.*)$`)
	printRe   = regexp.MustCompile(`^print\((.*)\)$`)
	arithRe   = regexp.MustCompile(`^(-?\d+)\s*([-+*])\s*(-?\d+)$`)
	refRe     = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9_]*(?:_data|_csv))\b`)
	literalRe = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
)

// ErrBridge is the fault returned by ScopedFake while BridgeFaults remain.
var ErrBridge = fmt.Errorf("Can't determine payloadType of message: %w", engine.ErrBridge)

// Fake is a line-oriented toy interpreter. It understands assignments
// (x = ... / x <- ...) and print(...) of string literals, integer
// arithmetic, and bound names. References to *_data or *_csv names that are
// not bound raise a NameError, which is enough to observe dataset replay.
type Fake struct {
	// Outputs maps an exact code string to text printed instead of
	// interpreting print lines.
	Outputs map[string]string
	// EvalErr, if set, is consulted before every evaluation.
	EvalErr func(code string) error
	// InstallErr is returned from InstallPackages.
	InstallErr error
	// RemoveErr is returned from Remove.
	RemoveErr error

	mu        sync.Mutex
	out       io.Writer
	globals   map[string]string
	evals     []string
	installed []string
	removes   int
	closed    bool
}

func NewFake() *Fake {
	return &Fake{
		out:     io.Discard,
		globals: make(map[string]string),
		Outputs: make(map[string]string),
	}
}

func (f *Fake) Eval(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.ErrClosed
	}
	f.evals = append(f.evals, code)

	if f.EvalErr != nil {
		if err := f.EvalErr(code); err != nil {
			return err
		}
	}

	scripted, hasScript := f.Outputs[code]
	assigned := make(map[string]string)

	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := f.checkRefs(line, assigned); err != nil {
			return err
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			assigned[m[1]] = m[2]
			continue
		}
		if hasScript {
			continue
		}
		if m := printRe.FindStringSubmatch(line); m != nil {
			fmt.Fprintln(f.out, f.render(m[1], assigned))
		}
	}

	for k, v := range assigned {
		f.globals[k] = v
	}
	if hasScript {
		io.WriteString(f.out, scripted)
	}
	return nil
}

func (f *Fake) checkRefs(line string, assigned map[string]string) error {
	stripped := literalRe.ReplaceAllString(line, `""`)
	if m := assignRe.FindStringSubmatch(stripped); m != nil {
		stripped = m[2]
	}
	for _, idx := range refRe.FindAllStringSubmatchIndex(stripped, -1) {
		if idx[2] > 0 && stripped[idx[2]-1] == '.' {
			// attribute access such as pd.read_csv
			continue
		}
		name := stripped[idx[2]:idx[3]]
		if _, ok := assigned[name]; ok {
			continue
		}
		if _, ok := f.globals[name]; ok {
			continue
		}
		return fmt.Errorf("NameError: name '%s' is not defined", name)
	}
	return nil
}

func (f *Fake) render(expr string, assigned map[string]string) string {
	expr = strings.TrimSpace(expr)
	if s, err := strconv.Unquote(expr); err == nil {
		return s
	}
	if m := arithRe.FindStringSubmatch(expr); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[3])
		switch m[2] {
		case "+":
			return strconv.Itoa(a + b)
		case "-":
			return strconv.Itoa(a - b)
		case "*":
			return strconv.Itoa(a * b)
		}
	}
	if v, ok := assigned[expr]; ok {
		return v
	}
	if v, ok := f.globals[expr]; ok {
		return v
	}
	return expr
}

func (f *Fake) RedirectOutput(w io.Writer) io.Writer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	prev := f.out
	f.out = w
	return prev
}

func (f *Fake) InstallPackages(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InstallErr != nil {
		return f.InstallErr
	}
	f.installed = append(f.installed, names...)
	return nil
}

func (f *Fake) Globals(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.globals))
	for k := range f.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) Remove(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	if f.closed {
		return engine.ErrClosed
	}
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	for _, n := range names {
		delete(f.globals, n)
	}
	return nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Set binds a global directly, as if user code had assigned it.
func (f *Fake) Set(name, value string) {
	f.mu.Lock()
	f.globals[name] = value
	f.mu.Unlock()
}

// Value returns the right-hand side last assigned to a global.
func (f *Fake) Value(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.globals[name]
	return v, ok
}

// Evals returns every code string passed to Eval, in order.
func (f *Fake) Evals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.evals))
	copy(out, f.evals)
	return out
}

// Installed returns the packages installed so far.
func (f *Fake) Installed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.installed...)
}

// Removes counts Remove calls.
func (f *Fake) Removes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removes
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ScopedFake adds engine.Scoped to Fake. The first BridgeFaults scoped calls
// fail with ErrBridge.
type ScopedFake struct {
	*Fake
	BridgeFaults int
	// Notes maps an exact code string to lines reported on the stderr
	// stream, the way warnings and messages are.
	Notes map[string][]string

	scopedMu    sync.Mutex
	scopedCalls int
}

func NewScopedFake(bridgeFaults int) *ScopedFake {
	return &ScopedFake{Fake: NewFake(), BridgeFaults: bridgeFaults}
}

func (s *ScopedFake) EvalScoped(ctx context.Context, code string) ([]engine.Chunk, error) {
	s.scopedMu.Lock()
	s.scopedCalls++
	n := s.scopedCalls
	s.scopedMu.Unlock()

	if n <= s.BridgeFaults {
		return nil, ErrBridge
	}

	var buf bytes.Buffer
	prev := s.RedirectOutput(&buf)
	err := s.Eval(ctx, code)
	s.RedirectOutput(prev)

	var chunks []engine.Chunk
	if out := strings.TrimRight(buf.String(), "\n"); out != "" {
		for _, line := range strings.Split(out, "\n") {
			chunks = append(chunks, engine.Chunk{Stream: engine.Stdout, Text: line})
		}
	}
	for _, note := range s.Notes[code] {
		chunks = append(chunks, engine.Chunk{Stream: engine.Stderr, Text: note})
	}
	if err != nil {
		chunks = append(chunks, engine.Chunk{Stream: engine.Error, Text: err.Error()})
	}
	return chunks, nil
}

// ScopedCalls counts EvalScoped calls.
func (s *ScopedFake) ScopedCalls() int {
	s.scopedMu.Lock()
	defer s.scopedMu.Unlock()
	return s.scopedCalls
}
