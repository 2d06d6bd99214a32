package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/resume-interviewer/internal/events"
)

const (
	// wsReadLimit bounds a single client frame.
	wsReadLimit = 64 << 10
	// wsWriteWait is the deadline for one outbound frame.
	wsWriteWait = 10 * time.Second
	// wsEventBuffer is the per-connection event subscription depth.
	wsEventBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsRequest is a client frame. Type is one of start, answer, chat,
// reset or ping; ID is echoed back on the matching result.
type wsRequest struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsResponse is a server frame: a result for a request, a lifecycle
// event about the connected subject, an error, or a pong.
type wsResponse struct {
	ID     int64         `json:"id,omitempty"`
	Type   string        `json:"type"`
	Result any           `json:"result,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v wsResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// handleWebSocket runs a live interview session for one subject. Client
// frames drive the interview; lifecycle events about the subject are
// pushed as they happen, so agent progress is visible during a turn.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	c := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if s.bus != nil {
		sub := s.bus.Subscribe(wsEventBuffer, events.ForSubject(subject))
		defer s.bus.Unsubscribe(sub)
		go s.forwardEvents(ctx, c, sub)
	}

	s.logger.Info("websocket connected", "subject", subject)
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("websocket closed", "subject", subject)
			} else {
				s.logger.Debug("websocket read failed", "subject", subject, "error", err)
			}
			return
		}

		resp := s.dispatch(ctx, subject, req)
		if err := c.send(resp); err != nil {
			s.logger.Debug("websocket write failed", "subject", subject, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, subject string, req wsRequest) wsResponse {
	var (
		result any
		err    error
	)
	switch req.Type {
	case "ping":
		return wsResponse{ID: req.ID, Type: "pong"}
	case "start":
		result, err = s.svc.Start(ctx, subject)
	case "answer":
		result, err = s.svc.Answer(ctx, subject, req.Field, req.Value)
	case "chat":
		result, err = s.svc.Chat(ctx, subject, req.Message)
	case "reset":
		result, err = s.svc.Reset(ctx, subject)
	default:
		return wsResponse{ID: req.ID, Type: "error", Error: "unknown request type " + req.Type}
	}
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			s.logger.Error("websocket request failed", "subject", subject, "type", req.Type, "error", err)
		}
		return wsResponse{ID: req.ID, Type: "error", Error: err.Error()}
	}
	return wsResponse{ID: req.ID, Type: "result", Result: result}
}

func (s *Server) forwardEvents(ctx context.Context, c *wsConn, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := c.send(wsResponse{Type: "event", Event: &e}); err != nil {
				s.logger.Debug("websocket event write failed", "error", err)
				return
			}
		}
	}
}
