// Package relayserver accepts relay websocket connections and feeds
// inbound events to the notification pipeline. It speaks just enough
// of the relay protocol to take EVENT frames; nothing is stored or
// served back.
package relayserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"notepush/internal/nostr"
	"notepush/internal/pipeline"
)

// A connection is dropped after this many protocol errors in a row.
const maxConsecutiveErrors = 10

const blockedReason = "blocked: this relay does not store events"

// Server handles inbound relay connections.
type Server struct {
	log      *slog.Logger
	pipe     *pipeline.Pipeline
	upgrader websocket.Upgrader
}

// NewServer builds a relay front-end over the given pipeline.
func NewServer(log *slog.Logger, pipe *pipeline.Pipeline) *Server {
	return &Server{
		log:  log,
		pipe: pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection loop until
// the peer disconnects or misbehaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.serve(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, remote string) {
	consecutiveErrors := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("connection closed", "remote", remote, "error", err)
			}
			return
		}

		if s.handleFrame(ctx, conn, remote, data) {
			consecutiveErrors = 0
			continue
		}
		consecutiveErrors++
		if consecutiveErrors >= maxConsecutiveErrors {
			s.log.Warn("dropping connection after repeated protocol errors", "remote", remote)
			return
		}
	}
}

// handleFrame processes one frame and reports whether it was
// well-formed.
func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, remote string, data []byte) bool {
	msg, err := nostr.ParseClientMessage(data)
	if err != nil {
		s.log.Debug("malformed frame", "remote", remote, "error", err)
		s.writeNotice(conn, "could not parse message")
		return false
	}

	if msg.Type != "EVENT" {
		s.writeNotice(conn, "unsupported message type: "+msg.Type)
		return true
	}

	event := msg.Event
	if err := nostr.Verify(event); err != nil {
		s.log.Debug("rejecting invalid event", "remote", remote, "error", err)
		s.writeOK(conn, event.ID, "invalid: bad id or signature")
		return false
	}

	report, err := s.pipe.Process(ctx, event)
	if err != nil {
		s.log.Error("processing event failed", "event_id", event.ID, "error", err)
	} else {
		s.log.Info("processed event",
			"event_id", event.ID,
			"kind", event.Kind,
			"considered", report.Considered,
			"dispatched", report.Dispatched,
			"skipped", report.Skipped,
		)
	}

	// Events are never accepted for storage, even after a successful
	// notification pass.
	s.writeOK(conn, event.ID, blockedReason)
	return true
}

func (s *Server) writeOK(conn *websocket.Conn, eventID, reason string) {
	frame, err := nostr.OKFrame(eventID, false, reason)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.log.Debug("writing OK frame failed", "error", err)
	}
}

func (s *Server) writeNotice(conn *websocket.Conn, message string) {
	frame, err := nostr.NoticeFrame(message)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.log.Debug("writing NOTICE frame failed", "error", err)
	}
}
