package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/hostfunc"
)

// Protocol constants shared with the session loops in the language
// packages. Signals travel on stderr as \x1eLAB_<KIND>[:payload]\x1e and host
// calls as \x1eLAB:{json}\x1e.
const (
	signalSep     = "\x1e"
	signalMarker  = signalSep + "LAB"
	signalReady   = "LAB_READY"
	signalDone    = "LAB_DONE"
	signalError   = "LAB_ERROR:"
	signalValue   = "LAB_VALUE:"
	signalCall    = "LAB:"
	commandEval   = "eval"
	commandScoped = "scoped"
	commandList   = "globals"
	commandRemove = "remove"
	commandReload = "invalidate"
	commandExit   = "exit"
)

type messageType int

const (
	messageNone messageType = iota
	messageReady
	messageDone
	messageError
	messageValue
	messageCall
)

type message struct {
	typ     messageType
	payload string
}

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// reply is what a command resolves to.
type reply struct {
	value string
	err   error
}

// encodeCommand frames a command for the session loop's stdin.
func encodeCommand(kind, payload string) []byte {
	return []byte(kind + " " + strconv.Itoa(len(payload)) + "\n" + payload)
}

// parseMessage interprets the text between two separators.
func parseMessage(token string) (message, bool) {
	switch {
	case token == signalReady:
		return message{typ: messageReady}, true
	case token == signalDone:
		return message{typ: messageDone}, true
	case strings.HasPrefix(token, signalError):
		return message{typ: messageError, payload: token[len(signalError):]}, true
	case strings.HasPrefix(token, signalValue):
		return message{typ: messageValue, payload: token[len(signalValue):]}, true
	case strings.HasPrefix(token, signalCall):
		return message{typ: messageCall, payload: token[len(signalCall):]}, true
	}
	return message{}, false
}

// nextMessage scans content for the first complete message. It returns the
// plain text before it, the message, and what follows. When no complete
// message is present, text is everything that can safely be passed through
// and rest is a possible partial message to keep buffering.
func nextMessage(content string) (text string, msg message, rest string, ok bool) {
	idx := strings.Index(content, signalMarker)
	if idx == -1 {
		keep := partialMarker(content)
		return content[:len(content)-keep], message{}, content[len(content)-keep:], false
	}

	end := strings.Index(content[idx+1:], signalSep)
	if end == -1 {
		return content[:idx], message{}, content[idx:], false
	}
	end += idx + 1

	msg, ok = parseMessage(content[idx+1 : end])
	if !ok {
		// not ours: pass the separator through and keep scanning after it
		return content[:idx+1], message{}, content[idx+1:], false
	}
	return content[:idx], msg, content[end+1:], true
}

// partialMarker returns how many trailing bytes of content could be the
// start of a signal marker.
func partialMarker(content string) int {
	for n := len(signalMarker) - 1; n > 0; n-- {
		if strings.HasSuffix(content, signalMarker[:n]) {
			return n
		}
	}
	return 0
}

// decodeFrames parses a scoped evaluation payload: a run of
// "<stream> <bytes>\n<text>" frames.
func decodeFrames(payload string) ([]engine.Chunk, error) {
	var chunks []engine.Chunk
	for payload != "" {
		nl := strings.IndexByte(payload, '\n')
		if nl == -1 {
			return nil, fmt.Errorf("%w: unterminated frame header %q", engine.ErrBridge, payload)
		}
		stream, size, found := strings.Cut(payload[:nl], " ")
		n, err := strconv.Atoi(size)
		if !found || err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad frame header %q", engine.ErrBridge, payload[:nl])
		}
		switch engine.Stream(stream) {
		case engine.Stdout, engine.Stderr, engine.Error:
		default:
			return nil, fmt.Errorf("%w: unknown stream %q", engine.ErrBridge, stream)
		}
		body := payload[nl+1:]
		if len(body) < n {
			return nil, fmt.Errorf("%w: frame wants %d bytes, have %d", engine.ErrBridge, n, len(body))
		}
		chunks = append(chunks, engine.Chunk{Stream: engine.Stream(stream), Text: body[:n]})
		payload = body[n:]
	}
	return chunks, nil
}

// sessionProtocol sits on the interpreter's stderr. Plain text passes to
// the output sink; signals resolve the in-flight command; host calls are
// dispatched to the registry and answered on stdin.
type sessionProtocol struct {
	ctx      context.Context
	registry *hostfunc.Registry
	stdin    io.Writer
	out      io.Writer

	buf     bytes.Buffer
	readyCh chan struct{}
	replyCh chan reply
	ready   bool

	mu      sync.Mutex
	writeMu *sync.Mutex
}

func newSessionProtocol(ctx context.Context, registry *hostfunc.Registry, stdin io.Writer, writeMu *sync.Mutex, out io.Writer) *sessionProtocol {
	return &sessionProtocol{
		ctx:      ctx,
		registry: registry,
		stdin:    stdin,
		out:      out,
		writeMu:  writeMu,
		readyCh:  make(chan struct{}),
		replyCh:  make(chan reply, 1),
	}
}

func (p *sessionProtocol) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for {
		text, msg, rest, ok := nextMessage(p.buf.String())
		if text != "" {
			p.out.Write([]byte(text))
		}
		p.buf.Reset()
		p.buf.WriteString(rest)
		if !ok {
			if text == "" {
				break
			}
			continue
		}
		p.handle(msg)
	}
	return len(data), nil
}

func (p *sessionProtocol) handle(msg message) {
	switch msg.typ {
	case messageReady:
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
	case messageDone:
		p.resolve(reply{})
	case messageValue:
		p.resolve(reply{value: msg.payload})
	case messageError:
		p.resolve(reply{err: errors.New(msg.payload)})
	case messageCall:
		var req callRequest
		if err := json.Unmarshal([]byte(msg.payload), &req); err != nil {
			go p.respond(callResponse{Error: "invalid call format"})
			return
		}
		// Execute and respond in goroutine to avoid blocking Write()
		go func() {
			p.respond(p.executeCall(req))
		}()
	}
}

func (p *sessionProtocol) resolve(r reply) {
	select {
	case p.replyCh <- r:
	default:
	}
}

func (p *sessionProtocol) executeCall(req callRequest) callResponse {
	if p.registry == nil {
		return callResponse{Error: "unknown function: " + req.Fn}
	}
	fn, ok := p.registry.Get(req.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}

	result, err := fn(p.ctx, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (p *sessionProtocol) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.stdin.Write(append(data, '\n'))
}

func (p *sessionProtocol) Ready() <-chan struct{} {
	return p.readyCh
}

func (p *sessionProtocol) Replies() <-chan reply {
	return p.replyCh
}

// Reset drops a stale reply before a new command is sent.
func (p *sessionProtocol) Reset() {
	select {
	case <-p.replyCh:
	default:
	}
}
