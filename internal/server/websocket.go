package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/chat"
)

// serveWS runs one websocket conversation. Every inbound frame is handled
// synchronously and answered with exactly one outbound frame.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := session(c)
	ctx := c.Request.Context()

	hello := internal.WSResponse{Type: "connected", SessionID: sess.ID, Messages: sess.Messages()}
	if err := conn.WriteJSON(hello); err != nil {
		log.Printf("[ws] failed to send connected message: %v", err)
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] closed unexpectedly: %v", err)
			}
			return
		}

		var in internal.WSIncoming
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = conn.WriteJSON(internal.WSResponse{Type: "error", Error: "invalid message format, send JSON with a 'type' field"})
			continue
		}

		out := s.handleFrame(ctx, sess, in)
		if err := conn.WriteJSON(out); err != nil {
			log.Printf("[ws] write failed: %v", err)
			return
		}
	}
}

func exchangeFrame(ex chat.Exchange) internal.WSResponse {
	reply := ex.Reply
	return internal.WSResponse{Type: "reply", Reply: &reply, Tag: ex.Tag, Proactive: ex.Proactive}
}

func (s *Server) handleFrame(ctx context.Context, sess *chat.Session, in internal.WSIncoming) internal.WSResponse {
	switch in.Type {
	case "", "message":
		ex, err := s.shell.Submit(ctx, sess, in.Content)
		if err != nil {
			return errorFrame(err)
		}
		return exchangeFrame(ex)
	case "question":
		ex, err := s.shell.AskQuickQuestion(ctx, sess, in.Index)
		if err != nil {
			return errorFrame(err)
		}
		return exchangeFrame(ex)
	case "reset":
		entry, err := s.shell.Archive(ctx, sess)
		if err != nil {
			return errorFrame(err)
		}
		return internal.WSResponse{Type: "archived", Archived: &entry, Messages: sess.Messages()}
	case "restore":
		if _, err := s.shell.Restore(ctx, sess, in.Index); err != nil {
			return errorFrame(err)
		}
		return internal.WSResponse{Type: "history", Messages: sess.Messages()}
	default:
		return internal.WSResponse{Type: "error", Error: "unknown frame type " + in.Type}
	}
}

func errorFrame(err error) internal.WSResponse {
	return internal.WSResponse{Type: "error", Error: err.Error()}
}
