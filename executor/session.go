package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"

	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/hostfunc"
)

var (
	ErrSessionClosed = fmt.Errorf("session closed: %w", engine.ErrClosed)
	ErrNoInstaller   = errors.New("no package installer configured")
)

// Session is a long-lived interpreter. It implements engine.Engine and
// engine.Scoped. Commands are serialized; callers still get a clear error
// rather than interleaved output if they overlap.
type Session struct {
	exec *Executor
	lang Language
	cfg  sessionConfig
	log  *logrus.Entry

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	out         *switchWriter
	protocol    *sessionProtocol
	cancel      context.CancelFunc
	exited      chan struct{}
	exitErr     error

	mu      sync.Mutex
	execMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
}

// NewSession compiles wasm for lang and starts the interpreter. It returns
// once the session loop signals ready.
func (e *Executor) NewSession(ctx context.Context, lang Language, wasm []byte, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	compiled, err := e.Compile(ctx, lang, wasm)
	if err != nil {
		return nil, err
	}

	s := &Session{
		exec:   e,
		lang:   lang,
		cfg:    cfg,
		log:    e.log.WithField("lang", lang.Name()),
		out:    newSwitchWriter(),
		exited: make(chan struct{}),
	}
	if err := s.start(ctx, compiled); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start(ctx context.Context, compiled wazero.CompiledModule) error {
	// The interpreter outlives the caller's context; Close cancels it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	registry := s.cfg.registry
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	s.stdinReader, s.stdin = io.Pipe()
	s.protocol = newSessionProtocol(runCtx, registry, s.stdin, &s.writeMu, s.out)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(s.out).
		WithStderr(s.protocol).
		WithStdin(s.stdinReader).
		WithArgs(s.lang.Args(s.lang.BootScript())...).
		WithName("")

	if s.cfg.packagesDir != "" {
		fsConfig := wazero.NewFSConfig().WithReadOnlyDirMount(s.cfg.packagesDir, PackagesMount)
		moduleConfig = moduleConfig.WithFSConfig(fsConfig)
	}
	for k, v := range s.lang.Env() {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}
	for k, v := range s.cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		mod, err := s.exec.runtime.InstantiateModule(runCtx, compiled, moduleConfig)
		if mod != nil {
			mod.Close(context.Background())
		}
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()

	var timeout <-chan time.Time
	if s.cfg.startTimeout > 0 {
		t := time.NewTimer(s.cfg.startTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.protocol.Ready():
		s.log.Debug("session ready")
		return nil
	case <-s.exited:
		s.terminate()
		return fmt.Errorf("start session: interpreter exited before ready: %v", s.exitError())
	case <-ctx.Done():
		s.terminate()
		return fmt.Errorf("start session: %w", ctx.Err())
	case <-timeout:
		s.terminate()
		return fmt.Errorf("start session: timeout after %v", s.cfg.startTimeout)
	}
}

func (s *Session) exitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitErr == nil {
		return errors.New("exit code 0")
	}
	return s.exitErr
}

// command sends one framed command and waits for its reply.
func (s *Session) command(ctx context.Context, kind, payload string) (string, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}

	if s.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		defer cancel()
	}

	s.protocol.Reset()

	s.writeMu.Lock()
	_, err := s.stdin.Write(encodeCommand(kind, payload))
	s.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("write command: %w", ErrSessionClosed)
	}

	select {
	case r := <-s.protocol.Replies():
		return r.value, r.err
	case <-s.exited:
		s.terminate()
		return "", fmt.Errorf("interpreter exited: %w", ErrSessionClosed)
	case <-ctx.Done():
		// The interpreter may still be running the command; its reply
		// would be taken for the next one's.
		s.terminate()
		s.log.WithField("command", kind).Warn("command did not finish, session terminated")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout after %v: %w", s.cfg.timeout, ErrSessionClosed)
		}
		return "", fmt.Errorf("%w: %w", ctx.Err(), ErrSessionClosed)
	}
}

// Eval runs code in the interpreter's global namespace.
func (s *Session) Eval(ctx context.Context, code string) error {
	_, err := s.command(ctx, commandEval, code)
	return err
}

// EvalScoped runs code with its streams captured by the session loop and
// returns them as chunks.
func (s *Session) EvalScoped(ctx context.Context, code string) ([]engine.Chunk, error) {
	payload, err := s.command(ctx, commandScoped, code)
	if err != nil {
		return nil, err
	}
	return decodeFrames(payload)
}

// RedirectOutput replaces the stdout sink and returns the previous one.
func (s *Session) RedirectOutput(w io.Writer) io.Writer {
	return s.out.Swap(w)
}

// Globals lists the names bound in the interpreter's global namespace.
func (s *Session) Globals(ctx context.Context) ([]string, error) {
	payload, err := s.command(ctx, commandList, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range strings.Split(payload, "\n") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Remove unbinds names in one command.
func (s *Session) Remove(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.command(ctx, commandRemove, strings.Join(names, "\n"))
	return err
}

// InstallPackages installs into the mounted package directory, then asks
// the interpreter to drop its import caches.
func (s *Session) InstallPackages(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if s.cfg.installer == nil {
		return ErrNoInstaller
	}
	if err := s.cfg.installer.Install(ctx, names); err != nil {
		return err
	}
	_, err := s.command(ctx, commandReload, "")
	return err
}

// Close asks the interpreter to exit and releases the module.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// The write blocks until the loop reads it; terminate unblocks it.
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.stdin.Write(encodeCommand(commandExit, ""))
	}()

	select {
	case <-s.exited:
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
	s.terminate()
	return nil
}

// terminate closes the pipes and cancels the interpreter.
func (s *Session) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	// Closing stdinReader gives the interpreter EOF if it is blocked on a read.
	s.stdinReader.Close()
	s.stdin.Close()
	s.cancel()
}

// switchWriter is a stdout sink that can be swapped while the interpreter
// runs.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSwitchWriter() *switchWriter {
	return &switchWriter{w: io.Discard}
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(p)
	return len(p), nil
}

func (s *switchWriter) Swap(w io.Writer) io.Writer {
	if w == nil {
		w = io.Discard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}
