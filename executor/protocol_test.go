package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/hostfunc"
)

func TestNextMessage(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantText string
		wantType messageType
		wantBody string
		wantRest string
		wantOK   bool
	}{
		{"no message", "hello world", "hello world", messageNone, "", "", false},
		{"empty content", "", "", messageNone, "", "", false},
		{"ready", "boot\x1eLAB_READY\x1etail", "boot", messageReady, "", "tail", true},
		{"done", "\x1eLAB_DONE\x1e", "", messageDone, "", "", true},
		{"error", "x\x1eLAB_ERROR:NameError: boom\x1e", "x", messageError, "NameError: boom", "", true},
		{"value", "\x1eLAB_VALUE:a\nb\x1erest", "", messageValue, "a\nb", "rest", true},
		{"call", "pre\x1eLAB:{\"fn\":\"time_now\"}\x1e", "pre", messageCall, `{"fn":"time_now"}`, "", true},
		{"incomplete", "text\x1eLAB_VAL", "text", messageNone, "", "\x1eLAB_VAL", false},
		{"partial marker", "text\x1eLA", "text", messageNone, "", "\x1eLA", false},
		{"lone separator", "a\x1e", "a", messageNone, "", "\x1e", false},
		{"unknown token", "a\x1eLAB_NOPE\x1eb", "a\x1e", messageNone, "", "LAB_NOPE\x1eb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, msg, rest, ok := nextMessage(tt.content)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if msg.typ != tt.wantType {
				t.Errorf("type = %d, want %d", msg.typ, tt.wantType)
			}
			if msg.payload != tt.wantBody {
				t.Errorf("payload = %q, want %q", msg.payload, tt.wantBody)
			}
			if rest != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		kind    string
		payload string
		want    string
	}{
		{commandEval, "print(1)", "eval 8\nprint(1)"},
		{commandList, "", "globals 0\n"},
		{commandRemove, "x\ny", "remove 3\nx\ny"},
		{commandEval, "é", "eval 2\né"},
	}
	for _, tt := range tests {
		if got := string(encodeCommand(tt.kind, tt.payload)); got != tt.want {
			t.Errorf("encodeCommand(%q, %q) = %q, want %q", tt.kind, tt.payload, got, tt.want)
		}
	}
}

func TestDecodeFrames(t *testing.T) {
	chunks, err := decodeFrames("stdout 1\n2stdout 5\nhellostderr 4\noopserror 4\nboom")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []engine.Chunk{
		{Stream: engine.Stdout, Text: "2"},
		{Stream: engine.Stdout, Text: "hello"},
		{Stream: engine.Stderr, Text: "oops"},
		{Stream: engine.Error, Text: "boom"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}

	if chunks, err := decodeFrames(""); err != nil || len(chunks) != 0 {
		t.Errorf("empty payload = %v, %v; want no chunks", chunks, err)
	}
}

func TestDecodeFramesMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no newline", "stdout 3"},
		{"bad size", "stdout x\nabc"},
		{"negative size", "stdout -1\n"},
		{"unknown stream", "stdlog 1\na"},
		{"short body", "stdout 10\nabc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrames(tt.payload)
			if !errors.Is(err, engine.ErrBridge) {
				t.Errorf("err = %v, want bridge fault", err)
			}
		})
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProtocolSplitWrites(t *testing.T) {
	var out lockedBuffer
	var mu sync.Mutex
	p := newSessionProtocol(context.Background(), nil, io.Discard, &mu, &out)

	for _, part := range []string{"warn", "ing\n\x1e", "LAB_RE", "ADY\x1e", "\x1eLAB_VALUE:x", "\ny\x1e"} {
		p.Write([]byte(part))
	}

	select {
	case <-p.Ready():
	default:
		t.Fatal("ready signal not seen")
	}
	select {
	case r := <-p.Replies():
		if r.value != "x\ny" || r.err != nil {
			t.Errorf("reply = %+v, want value x\\ny", r)
		}
	default:
		t.Fatal("value reply not seen")
	}
	if got := out.String(); got != "warning\n" {
		t.Errorf("passthrough = %q, want %q", got, "warning\n")
	}
}

func TestProtocolErrorReply(t *testing.T) {
	var mu sync.Mutex
	p := newSessionProtocol(context.Background(), nil, io.Discard, &mu, io.Discard)
	p.Write([]byte("\x1eLAB_ERROR:ZeroDivisionError: division by zero\x1e"))

	r := <-p.Replies()
	if r.err == nil || r.err.Error() != "ZeroDivisionError: division by zero" {
		t.Errorf("err = %v", r.err)
	}

	p.Write([]byte("\x1eLAB_DONE\x1e"))
	p.Reset()
	select {
	case r := <-p.Replies():
		t.Errorf("stale reply survived reset: %+v", r)
	default:
	}
}

func TestProtocolHostCall(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["name"], nil
	})
	registry.Register("broken", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("nope")
	})

	tests := []struct {
		name string
		call string
		want callResponse
	}{
		{"success", `{"fn":"echo","args":{"name":"iris"}}`, callResponse{Data: "iris"}},
		{"error", `{"fn":"broken","args":{}}`, callResponse{Error: "nope"}},
		{"unknown", `{"fn":"missing","args":{}}`, callResponse{Error: "unknown function: missing"}},
		{"invalid", `{invalid}`, callResponse{Error: "invalid call format"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w := io.Pipe()
			defer r.Close()
			var mu sync.Mutex
			p := newSessionProtocol(context.Background(), registry, w, &mu, io.Discard)

			lines := make(chan string, 1)
			go func() {
				line, _ := bufio.NewReader(r).ReadString('\n')
				lines <- line
			}()

			p.Write([]byte("\x1eLAB:" + tt.call + "\x1e"))

			select {
			case line := <-lines:
				var got callResponse
				if err := json.Unmarshal([]byte(line), &got); err != nil {
					t.Fatalf("bad response %q: %v", line, err)
				}
				if got != tt.want {
					t.Errorf("response = %+v, want %+v", got, tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no response written")
			}
		})
	}
}

func TestSwitchWriter(t *testing.T) {
	w := newSwitchWriter()
	w.Write([]byte("dropped"))

	var buf bytes.Buffer
	prev := w.Swap(&buf)
	if prev != io.Discard {
		t.Errorf("initial sink = %v, want io.Discard", prev)
	}
	w.Write([]byte("kept"))
	if w.Swap(nil) != &buf {
		t.Error("swap did not return the previous sink")
	}
	w.Write([]byte("dropped again"))

	if buf.String() != "kept" {
		t.Errorf("buf = %q, want kept", buf.String())
	}
}
