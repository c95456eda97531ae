package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/adapter"
)

// eventBuffer bounds the events queued for a slow client. Events beyond it
// are dropped; the client can resync from the state message.
const eventBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsIncoming is a request from the client. Type is run, load, clear, retry
// or state.
type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutgoing is sent to the client. Events carry Event, replies to run,
// load and clear carry Result, state replies carry State.
type wsOutgoing struct {
	Type   string            `json:"type"`
	Event  *adapter.Event    `json:"event,omitempty"`
	Result *resultResponse   `json:"result,omitempty"`
	State  *adapter.Snapshot `json:"state,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  *logrus.Entry
}

func (c *wsConn) send(v wsOutgoing) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Warn("websocket marshal")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).Debug("websocket write")
	}
}

func (c *wsConn) sendState(a *adapter.Adapter) {
	st := a.State()
	c.send(wsOutgoing{Type: "state", State: &st})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, log: s.log.WithField("session", sess.ID)}

	events := make(chan adapter.Event, eventBuffer)
	unsubscribe := sess.Adapter.Subscribe(func(ev adapter.Event) {
		select {
		case events <- ev:
		default:
			c.log.Debug("websocket event dropped")
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			select {
			case ev := <-events:
				c.send(wsOutgoing{Type: "event", Event: &ev})
			case <-ctx.Done():
				return
			}
		}
	}()

	c.sendState(sess.Adapter)

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("websocket read")
			}
			return
		}
		s.sessions.Get(sess.ID) // refresh idle timer
		s.processWebSocketMessage(sess.Context(), c, sess.Adapter, msg)
	}
}

func (s *Server) processWebSocketMessage(ctx context.Context, c *wsConn, a *adapter.Adapter, msg wsIncoming) {
	var res adapter.Result
	switch msg.Type {
	case "run":
		code := msg.Content
		if code == "" {
			code = a.Editor()
		}
		res = a.Run(ctx, code)
	case "load":
		res = a.LoadDataset(ctx, msg.Content)
	case "clear":
		res = a.Clear(ctx)
	case "retry":
		if err := a.Retry(ctx); err != nil {
			c.send(wsOutgoing{Type: "error", Error: err.Error()})
		}
		c.sendState(a)
		return
	case "state":
		c.sendState(a)
		return
	default:
		c.send(wsOutgoing{Type: "error", Error: "invalid message"})
		return
	}

	resp := newResultResponse(res)
	c.send(wsOutgoing{Type: "result", Result: &resp})
}
