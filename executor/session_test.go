package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/hostfunc"
	"github.com/caffeineduck/datalab/language/python"
)

var (
	_ engine.Engine       = (*Session)(nil)
	_ engine.Scoped       = (*Session)(nil)
	_ adapter.Provisioner = (*Provisioner)(nil)
)

// mockWasm is testdata/mock.go built for wasip1, or nil when the toolchain
// cannot cross-compile it.
var mockWasm []byte

func TestMain(m *testing.M) {
	mockWasm = buildMock()
	os.Exit(m.Run())
}

func buildMock() []byte {
	dir, err := os.MkdirTemp("", "datalab-mock")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "mock.wasm")
	cmd := osexec.Command("go", "build", "-o", out, "./testdata/mock.go")
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	if err := cmd.Run(); err != nil {
		return nil
	}
	data, _ := os.ReadFile(out)
	return data
}

type mockLang struct{}

func (mockLang) Name() string              { return "mock" }
func (mockLang) Args(boot string) []string { return []string{"mock"} }
func (mockLang) BootScript() string        { return "" }
func (mockLang) Env() map[string]string    { return map[string]string{"MOCK": "1"} }

type fakeInstaller struct {
	dir   string
	names []string
	err   error
}

func (f *fakeInstaller) Dir() string { return f.dir }

func (f *fakeInstaller) Install(ctx context.Context, names []string) error {
	f.names = append(f.names, names...)
	return f.err
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	exec, err := New()
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	t.Cleanup(func() { exec.Close() })
	return exec
}

func newMockSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	if mockWasm == nil {
		t.Skip("mock interpreter could not be built for wasip1")
	}
	session, err := newTestExecutor(t).NewSession(context.Background(), mockLang{}, mockWasm, opts...)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	t.Cleanup(func() { session.Close(context.Background()) })
	return session
}

func TestSessionEvalAndRedirect(t *testing.T) {
	session := newMockSession(t)
	ctx := context.Background()

	var buf bytes.Buffer
	prev := session.RedirectOutput(&buf)
	if err := session.Eval(ctx, "print hello\nwarn careful"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	session.RedirectOutput(prev)

	if got := buf.String(); got != "hello\ncareful\n" {
		t.Errorf("output = %q, want %q", got, "hello\ncareful\n")
	}

	if err := session.Eval(ctx, "print dropped"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if strings.Contains(buf.String(), "dropped") {
		t.Error("output reached a sink that was swapped out")
	}
}

func TestSessionEvalError(t *testing.T) {
	session := newMockSession(t)

	err := session.Eval(context.Background(), "fail ZeroDivisionError: division by zero")
	if err == nil || err.Error() != "ZeroDivisionError: division by zero" {
		t.Fatalf("err = %v", err)
	}

	// the session survives user errors
	if err := session.Eval(context.Background(), "print ok"); err != nil {
		t.Fatalf("eval after error failed: %v", err)
	}
}

func TestSessionGlobalsAndRemove(t *testing.T) {
	session := newMockSession(t)
	ctx := context.Background()

	if err := session.Eval(ctx, "set iris_csv=a\nset iris_data=b\nset x=1"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	names, err := session.Globals(ctx)
	if err != nil {
		t.Fatalf("globals failed: %v", err)
	}
	if strings.Join(names, ",") != "iris_csv,iris_data,x" {
		t.Errorf("globals = %v", names)
	}

	if err := session.Remove(ctx, []string{"x", "absent"}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	names, _ = session.Globals(ctx)
	if strings.Join(names, ",") != "iris_csv,iris_data" {
		t.Errorf("globals after remove = %v", names)
	}
}

func TestSessionScoped(t *testing.T) {
	session := newMockSession(t)

	chunks, err := session.EvalScoped(context.Background(), "print 2\nwarn careful\nfail boom")
	if err != nil {
		t.Fatalf("scoped eval failed: %v", err)
	}
	want := []engine.Chunk{
		{Stream: engine.Stdout, Text: "2"},
		{Stream: engine.Stderr, Text: "careful"},
		{Stream: engine.Error, Text: "boom"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %+v, want %+v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestSessionHostCall(t *testing.T) {
	registry := hostfunc.NewDefaultRegistry(dataset.SourceFunc(func(ctx context.Context, name string) (string, error) {
		if name == "iris" {
			return "sepal,species", nil
		}
		return "", dataset.ErrNotFound
	}))
	session := newMockSession(t, WithRegistry(registry))
	ctx := context.Background()

	var buf bytes.Buffer
	session.RedirectOutput(&buf)
	if err := session.Eval(ctx, "call dataset_fetch iris"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if buf.String() != "sepal,species\n" {
		t.Errorf("output = %q", buf.String())
	}

	err := session.Eval(ctx, "call dataset_fetch sales")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSessionInstallPackages(t *testing.T) {
	inst := &fakeInstaller{dir: t.TempDir()}
	session := newMockSession(t, WithInstaller(inst))
	ctx := context.Background()

	if err := session.InstallPackages(ctx, []string{"dplyr", "tidyr"}); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if strings.Join(inst.names, ",") != "dplyr,tidyr" {
		t.Errorf("installed = %v", inst.names)
	}

	inst.err = errors.New("index unreachable")
	if err := session.InstallPackages(ctx, []string{"ggplot2"}); err == nil {
		t.Error("expected installer error")
	}
}

func TestSessionInstallWithoutInstaller(t *testing.T) {
	session := newMockSession(t)
	if err := session.InstallPackages(context.Background(), []string{"pandas"}); !errors.Is(err, ErrNoInstaller) {
		t.Errorf("err = %v, want ErrNoInstaller", err)
	}
	if err := session.InstallPackages(context.Background(), nil); err != nil {
		t.Errorf("installing nothing failed: %v", err)
	}
}

func TestSessionTimeoutTerminates(t *testing.T) {
	session := newMockSession(t, WithSessionTimeout(200*time.Millisecond))

	err := session.Eval(context.Background(), "spin")
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !errors.Is(err, engine.ErrClosed) {
		t.Errorf("timeout should close the session: %v", err)
	}
	if err := session.Eval(context.Background(), "print 1"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestSessionInterpreterExit(t *testing.T) {
	session := newMockSession(t)

	err := session.Eval(context.Background(), "exit")
	if !errors.Is(err, engine.ErrClosed) {
		t.Fatalf("err = %v, want engine.ErrClosed", err)
	}
}

func TestSessionClose(t *testing.T) {
	session := newMockSession(t)
	ctx := context.Background()

	if err := session.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if _, err := session.Globals(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestCompileCache(t *testing.T) {
	if mockWasm == nil {
		t.Skip("mock interpreter could not be built for wasip1")
	}
	exec := newTestExecutor(t)
	ctx := context.Background()

	a, err := exec.Compile(ctx, mockLang{}, mockWasm)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	b, err := exec.Compile(ctx, mockLang{}, mockWasm)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if a != b {
		t.Error("same artifact compiled twice")
	}

	if _, err := exec.Compile(ctx, mockLang{}, []byte("not wasm")); err == nil {
		t.Error("expected compile error for invalid module")
	}

	exec.Close()
	if _, err := exec.Compile(ctx, mockLang{}, mockWasm); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("err = %v, want ErrExecutorClosed", err)
	}
}

func TestCompileKey(t *testing.T) {
	a := compileKey("python", []byte("one"))
	if a != compileKey("python", []byte("one")) {
		t.Error("key is not stable")
	}
	if a == compileKey("python", []byte("two")) {
		t.Error("different artifacts share a key")
	}
	if a == compileKey("r", []byte("one")) {
		t.Error("different languages share a key")
	}
}

type fetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func TestProvisionerFetchError(t *testing.T) {
	p := NewProvisioner(newTestExecutor(t), mockLang{}, fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}), "https://example.invalid/mock.wasm")

	_, err := p.Fetch(context.Background())
	if err == nil || err.Error() != "mock interpreter: connection refused" {
		t.Errorf("err = %v", err)
	}
}

func TestProvisionerStartsSession(t *testing.T) {
	if mockWasm == nil {
		t.Skip("mock interpreter could not be built for wasip1")
	}
	p := NewProvisioner(newTestExecutor(t), mockLang{}, fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return mockWasm, nil
	}), "mock.wasm")

	ctx := context.Background()
	wasm, err := p.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	eng, err := p.Start(ctx, wasm)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer eng.Close(ctx)

	if err := eng.Eval(ctx, "set x=1"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
}

func TestStartCancelled(t *testing.T) {
	if mockWasm == nil {
		t.Skip("mock interpreter could not be built for wasip1")
	}
	exec := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.NewSession(ctx, mockLang{}, mockWasm); err == nil {
		t.Error("expected start to fail with a cancelled context")
	}
}

// TestPythonSession runs against a real CPython WASI build when
// DATALAB_PYTHON_WASM names one.
func TestPythonSession(t *testing.T) {
	path := os.Getenv("DATALAB_PYTHON_WASM")
	if path == "" {
		t.Skip("DATALAB_PYTHON_WASM not set")
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}

	registry := hostfunc.NewDefaultRegistry(dataset.SourceFunc(func(ctx context.Context, name string) (string, error) {
		return "a,b\n1,2\n", nil
	}))
	session, err := newTestExecutor(t).NewSession(context.Background(), python.New(), wasm, WithRegistry(registry))
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	defer session.Close(context.Background())
	ctx := context.Background()

	var buf bytes.Buffer
	session.RedirectOutput(&buf)
	if err := session.Eval(ctx, "x = 41\nprint(x + 1)"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("output = %q", buf.String())
	}

	if err := session.Eval(ctx, "1/0"); err == nil || !strings.Contains(err.Error(), "ZeroDivisionError") {
		t.Errorf("err = %v", err)
	}

	chunks, err := session.EvalScoped(ctx, "print('a')\nraise ValueError('b')")
	if err != nil {
		t.Fatalf("scoped failed: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Text != "a" || chunks[1].Stream != engine.Error {
		t.Errorf("chunks = %+v", chunks)
	}

	buf.Reset()
	if err := session.Eval(ctx, python.New().BindCode("tiny", "a,b\n1,2\n3,4\n")+"\n"+python.New().PreviewCode("tiny")); err != nil {
		t.Fatalf("bind dataset failed: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "a") || !strings.Contains(out, "3") {
		t.Errorf("preview output = %q", out)
	}

	buf.Reset()
	if err := session.Eval(ctx, "print(_fetch_dataset('iris'), end='')"); err != nil {
		t.Fatalf("host call failed: %v", err)
	}
	if buf.String() != "a,b\n1,2\n" {
		t.Errorf("host call output = %q", buf.String())
	}

	if err := session.Remove(ctx, []string{"x"}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	names, err := session.Globals(ctx)
	if err != nil {
		t.Fatalf("globals failed: %v", err)
	}
	for _, n := range names {
		if n == "x" {
			t.Error("x survived remove")
		}
	}
}
