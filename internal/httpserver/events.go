package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/homesync-voice/internal/session"
)

// controlMessage is what clients send on the event socket.
// Types: "start", "stop", "toggle", "config". Only "toggle" stops a live session.
type controlMessage struct {
	Type     string `json:"type"`
	Persona  string `json:"persona,omitempty"`
	Language string `json:"language,omitempty"`
	User     string `json:"user,omitempty"`
}

func (m controlMessage) request() session.Request {
	return session.Request{Persona: m.Persona, Language: m.Language, User: m.User}
}

type statusMessage struct {
	Type string `json:"type"`
	session.Status
}

type ackMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The control surface is served to a local companion app.
		return true
	},
}

// voiceEvents streams session updates and accepts control messages.
// All writes happen on this goroutine.
func (s *Server) voiceEvents(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade")
		return nil
	}
	defer func() { _ = conn.Close() }()

	updates, unsubscribe := s.deps.Voice.Subscribe(64)
	defer unsubscribe()

	replies := make(chan ackMessage, 8)
	readDone := make(chan struct{})
	go s.readControl(c.Request().Context(), conn, replies, readDone)

	if err := writeWS(conn, statusMessage{Type: "status", Status: s.deps.Voice.Status()}); err != nil {
		return nil
	}
	for {
		select {
		case <-readDone:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeWS(conn, u); err != nil {
				s.log.Debug().Err(err).Msg("ws write")
				return nil
			}
		case r := <-replies:
			if err := writeWS(conn, r); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) readControl(ctx context.Context, conn *websocket.Conn, replies chan<- ackMessage, done chan<- struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m controlMessage
		if err := json.Unmarshal(data, &m); err != nil {
			s.reply(replies, ackMessage{Type: "error", Error: "invalid control message"})
			continue
		}
		s.reply(replies, s.control(ctx, m))
	}
}

func (s *Server) control(ctx context.Context, m controlMessage) ackMessage {
	kind := strings.ToLower(m.Type)
	ack := ackMessage{Type: "ack", Command: kind}
	var err error
	switch kind {
	case "start", "toggle":
		start := s.deps.Voice.StartIfIdle
		if kind == "toggle" {
			start = s.deps.Voice.Start
		}
		var res session.StartResult
		res, err = start(ctx, m.request())
		ack.Result = res.String()
	case "stop":
		s.deps.Voice.Stop()
		ack.Result = "stopped"
	case "config":
		var restarted bool
		restarted, err = s.deps.Voice.Reconfigure(ctx, m.request())
		ack.Result = "stored"
		if restarted {
			ack.Result = "restarted"
		}
	default:
		return ackMessage{Type: "error", Command: kind, Error: "unknown command"}
	}
	if err != nil {
		return ackMessage{Type: "error", Command: kind, Error: err.Error()}
	}
	return ack
}

func (s *Server) reply(replies chan<- ackMessage, m ackMessage) {
	select {
	case replies <- m:
	default:
		s.log.Debug().Str("command", m.Command).Msg("ws reply dropped")
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	return conn.WriteJSON(v)
}
