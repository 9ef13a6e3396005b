package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/terminal"
)

// handleWebSocket owns one client connection. The connection id doubles as
// the terminal session id, so disconnecting destroys the session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.origins.allowsUpgrade(r) {
		respondError(w, http.StatusForbidden, errors.New("origin not allowed"))
		return
	}
	if !s.wsLimiter.Acquire() {
		respondError(w, http.StatusTooManyRequests, errors.New("too many connections"))
		return
	}
	defer s.wsLimiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	id := uuid.NewString()
	log := s.logger.With("client", id)
	c := s.hub.register(id, conn)
	log.Info("client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	go keepAlive(ctx, conn, wsPingInterval, log, cancel)

	go func() {
		defer cancel()
		s.readClient(ctx, c)
	}()

	go func() {
		defer cancel()
		if err := c.writeLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("websocket write error", "error", err)
		}
	}()

	<-ctx.Done()
	s.hub.removeClient(c)
	s.terminals.Destroy(id)
	c.close(websocket.StatusNormalClosure, "closed")
	log.Info("client disconnected")
}

func (s *Server) readClient(ctx context.Context, c *client) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed frame", "client", c.id, "error", err)
			continue
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *client, msg inboundMessage) {
	switch strings.TrimSpace(msg.Type) {
	case msgTerminalCreate:
		if _, err := s.terminals.Create(c.id, c); err != nil {
			s.logger.Warn("terminal create failed", "client", c.id, "error", err)
		}
	case msgTerminalInput:
		if err := s.terminals.Input(c.id, msg.Data); err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeNoSession) {
				_ = c.Send(terminal.EventData, "\r\n[no terminal session; send terminal:create first]\r\n")
				return
			}
			s.logger.Warn("terminal input failed", "client", c.id, "error", err)
		}
	case msgTerminalResize:
		if msg.Cols <= 0 || msg.Rows <= 0 {
			return
		}
		if err := s.terminals.Resize(c.id, msg.Cols, msg.Rows); err != nil {
			s.logger.Debug("terminal resize ignored", "client", c.id, "error", err)
		}
	default:
		// ignore unknown message types
	}
}
