package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message types a websocket client may send.
const (
	MessageChat   = "chat"
	MessageCancel = "cancel"
)

// Message is one client frame. Type defaults to chat.
type Message struct {
	Type             string            `json:"type,omitempty"`
	SessionID        string            `json:"sessionId,omitempty"`
	Message          string            `json:"message,omitempty"`
	EphemeralObjects []json.RawMessage `json:"ephemeralObjects,omitempty"`
	TopK             int               `json:"topK,omitempty"`
}

// errorFrame is sent when a turn cannot start or ends without done.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

const wsWriteTimeout = 10 * time.Second

// handleWebSocket runs chat turns over one connection. Turns run one at a
// time; each event is written as its own JSON frame. A cancel frame aborts
// the turn in progress.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	user := userID(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var current atomic.Pointer[chat.Turn]
	incoming := make(chan Message, 4)

	go func() {
		defer close(incoming)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("websocket read failed", "error", err)
				}
				cancel()
				return
			}

			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				msg = Message{Type: "invalid"}
			}
			if msg.Type == MessageCancel {
				if t := current.Load(); t != nil {
					t.Cancel()
				}
				continue
			}

			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range incoming {
		if msg.Type != "" && msg.Type != MessageChat {
			s.sendFrame(conn, errorFrame{Type: "error", Error: "unsupported message"})
			continue
		}

		turnCtx, turnCancel := s.turnContext(ctx)
		turn, err := s.deps.Coordinator.Start(turnCtx, chat.Request{
			UserID:           user,
			SessionID:        msg.SessionID,
			Message:          msg.Message,
			EphemeralObjects: msg.EphemeralObjects,
			TopK:             msg.TopK,
		})
		if err != nil {
			turnCancel()
			s.sendFrame(conn, errorFrame{Type: "error", Error: err.Error()})
			continue
		}

		current.Store(turn)
		for e := range turn.Events() {
			if err := s.sendFrame(conn, e); err != nil {
				turn.Cancel()
			}
		}
		current.Store(nil)
		turnCancel()

		if err := turn.Err(); err != nil {
			frame := errorFrame{Type: "error", Error: err.Error()}
			if models.IsCanceled(err) {
				frame.Type = "aborted"
			}
			s.sendFrame(conn, frame)
		}
	}
}

func (s *Server) sendFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("error sending websocket frame", "error", err)
		return err
	}
	return nil
}
