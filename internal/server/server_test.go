package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/engine/enginetest"
	"github.com/caffeineduck/datalab/internal/logging"
	"github.com/caffeineduck/datalab/internal/metrics"
	"github.com/caffeineduck/datalab/language/python"
)

var testDatasets = map[string]string{
	"iris": "sepal_length,species\n5.1,setosa\n4.9,setosa\n",
}

func testSource() dataset.Source {
	return dataset.SourceFunc(func(ctx context.Context, name string) (string, error) {
		if text, ok := testDatasets[name]; ok {
			return text, nil
		}
		return "", fmt.Errorf("%w: %s", dataset.ErrNotFound, name)
	})
}

// fakeFactory builds python adapters over fake engines. A non-nil hold
// blocks every bootstrap until it is closed.
func fakeFactory(hold chan struct{}) Factory {
	return func(lang string) (*adapter.Adapter, error) {
		if lang != "python" {
			return nil, fmt.Errorf("unknown language %q", lang)
		}
		p := &enginetest.Provisioner{Engine: enginetest.NewFake(), Hold: hold}
		return adapter.New(python.New(), p, testSource(), adapter.WithLogger(logging.Discard())), nil
	}
}

func newTestServer(t *testing.T, hold chan struct{}, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s := New(fakeFactory(hold), time.Hour, opts...)
	t.Cleanup(func() {
		if hold != nil {
			select {
			case <-hold:
			default:
				close(hold)
			}
		}
		s.Shutdown(context.Background())
	})
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createReady creates a python session and waits for its bootstrap.
func createReady(t *testing.T, s *Server) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/sessions", `{"lang":"python"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[sessionResponse](t, w).ID
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		sess, ok := s.Sessions().Get(id)
		return ok && sess.Adapter.Ready()
	}, 5*time.Second, 10*time.Millisecond)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestCreateSessionValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing lang", `{}`, "lang is required"},
		{"empty body", ``, "lang is required"},
		{"unknown lang", `{"lang":"julia"}`, `unknown language "julia"`},
		{"bad json", `{"lang":`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode[map[string]string](t, w)["error"], tt.want)
		})
	}
	assert.Equal(t, 0, s.Sessions().Len())
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	id := createReady(t, s)

	w := do(t, s, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[sessionResponse](t, w)
	assert.Equal(t, "python", resp.State.Language)
	assert.True(t, resp.State.Ready)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = do(t, s, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunAndEditor(t *testing.T) {
	s := newTestServer(t, nil)
	id := createReady(t, s)

	w := do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(1+1)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resultResponse](t, w)
	assert.Contains(t, res.Output, "2")
	assert.Equal(t, adapter.KindNone, res.Kind)
	assert.Empty(t, res.Error)

	w = do(t, s, http.MethodPut, "/api/sessions/"+id+"/editor", `{"code":"print(\"from editor\")"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `print("from editor")`, decode[sessionResponse](t, w).State.Editor)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", ``)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[resultResponse](t, w).Output, "from editor")
}

func TestRunFailureIsSoft(t *testing.T) {
	s := newTestServer(t, nil)
	id := createReady(t, s)

	w := do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(iris_data)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resultResponse](t, w)
	assert.Equal(t, adapter.KindMissingDataset, res.Kind)
	assert.Contains(t, res.Output, "Dataset not found")
}

func TestLoadDatasetAndClear(t *testing.T) {
	s := newTestServer(t, nil)
	id := createReady(t, s)

	w := do(t, s, http.MethodPost, "/api/sessions/"+id+"/datasets", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/datasets", `{"name":"iris"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resultResponse](t, w)
	assert.Contains(t, res.Output, "Shape: (2, 2)")

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"x = 1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/clear", ``)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[resultResponse](t, w).Error)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(iris_data)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, adapter.KindNone, decode[resultResponse](t, w).Kind)

	w = do(t, s, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, []string{"iris"}, decode[sessionResponse](t, w).State.LoadedDatasets)
}

func TestBusyDuringBootstrap(t *testing.T) {
	hold := make(chan struct{})
	s := newTestServer(t, hold)

	w := do(t, s, http.MethodPost, "/api/sessions", `{"lang":"python"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[sessionResponse](t, w).ID

	require.Eventually(t, func() bool {
		sess, _ := s.Sessions().Get(id)
		return sess.Adapter.State().Busy
	}, 5*time.Second, 10*time.Millisecond)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/retry", ``)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(1)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[resultResponse](t, w).Error, "not ready")

	close(hold)
	require.Eventually(t, func() bool {
		sess, _ := s.Sessions().Get(id)
		return sess.Adapter.Ready()
	}, 5*time.Second, 10*time.Millisecond)

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/retry", ``)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[sessionResponse](t, w).Error)
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"run", "datasets", "clear", "retry"} {
		w := do(t, s, http.MethodPost, "/api/sessions/nope/"+path, `{}`)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(nil)
	s := newTestServer(t, nil, WithMetrics(m))
	id := createReady(t, s)
	do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(1)"}`)

	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "datalab_http_requests_total")
	assert.Contains(t, w.Body.String(), "datalab_sessions_active 1")
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) wsOutgoing {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wsOutgoing
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	id := createReady(t, s)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	state := readUntil(t, conn, "state")
	require.NotNil(t, state.State)
	assert.True(t, state.State.Ready)

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "run", Content: "print(40+2)"}))

	// events arrive on their own goroutine, so they may trail the result
	var result *resultResponse
	var output bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for result == nil || !output {
		var msg wsOutgoing
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "result":
			result = msg.Result
		case "event":
			if msg.Event.Type == adapter.EventOutput {
				output = true
				assert.Contains(t, msg.Event.Message, "42")
			}
		}
	}
	assert.Contains(t, result.Output, "42")

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "bogus"}))
	assert.Equal(t, "invalid message", readUntil(t, conn, "error").Error)
}

func TestWebSocketUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

// stallingEngine blocks on "wait()" until released. Like the interpreter
// host, it terminates when the command's context ends.
type stallingEngine struct {
	*enginetest.Fake
	started chan struct{}
	release chan struct{}
}

func (e *stallingEngine) Eval(ctx context.Context, code string) error {
	if code != "wait()" {
		return e.Fake.Eval(ctx, code)
	}
	close(e.started)
	select {
	case <-e.release:
		return nil
	case <-ctx.Done():
		e.Fake.Close(ctx)
		return fmt.Errorf("interpreter terminated: %w", engine.ErrClosed)
	}
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	eng := &stallingEngine{Fake: enginetest.NewFake(), started: make(chan struct{}), release: make(chan struct{})}
	factory := func(lang string) (*adapter.Adapter, error) {
		p := &enginetest.Provisioner{Engine: eng}
		return adapter.New(python.New(), p, testSource(), adapter.WithLogger(logging.Discard())), nil
	}
	s := New(factory, time.Hour, WithLogger(logging.Discard()))
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	id := createReady(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/run", strings.NewReader(`{"code":"wait()"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Handler().ServeHTTP(w, req)
	}()

	<-eng.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(eng.release)
	<-done

	assert.Equal(t, http.StatusOK, w.Code)
	sess, ok := s.Sessions().Get(id)
	require.True(t, ok)
	assert.True(t, sess.Adapter.Ready())
	assert.False(t, eng.Closed())

	res := decode[resultResponse](t, do(t, s, http.MethodPost, "/api/sessions/"+id+"/run", `{"code":"print(1+1)"}`))
	assert.Contains(t, res.Output, "2")
}
