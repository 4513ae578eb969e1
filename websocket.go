package mutegrid

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/IDisposable/mutegrid/internal/mute"
	"github.com/IDisposable/mutegrid/internal/peer"
)

// handleWebSocket serves the control protocol on one connection: read,
// write, and subscribe of named controls, plus the event feed. This is the
// server half of what internal/peer's Client speaks, so a conductor and any
// UI share one endpoint.
func handleWebSocket(surface controlSurface, c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // LAN control surface, origin checks add nothing here
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to accept websocket connection")
		return
	}

	connectionID := uuid.NewString()
	wsLogger := logger.With().Str("component", "websocket").Str("connectionID", connectionID).Logger()
	ctx := c.Request.Context()

	// Subscription pushes go through an outbox so a field notification
	// never blocks on a slow connection; overflow drops the push and the
	// client resyncs from its next read.
	outbox := make(chan peer.Message, 64)
	writerCtx, cancelWriter := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case msg := <-outbox:
				writeCtx, cancel := context.WithTimeout(writerCtx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, msg)
				cancel()
				if err != nil {
					return
				}
			case <-writerCtx.Done():
				return
			}
		}
	}()

	var subscribed []*mute.Field
	defer func() {
		cancelWriter()
		for _, f := range subscribed {
			f.Unsubscribe(connectionID)
		}
		surface.Events().Unsubscribe(connectionID)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg peer.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			wsLogger.Debug().Err(err).Msg("websocket connection closed")
			return
		}

		switch msg.Type {
		case peer.MsgRead, peer.MsgWrite, peer.MsgSubscribe:
			reply := handleControlMessage(surface, connectionID, outbox, msg, &subscribed)
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, reply)
			cancel()
			if err != nil {
				wsLogger.Warn().Err(err).Msg("failed to write websocket reply")
				return
			}
		case "subscribe-events":
			surface.Events().Subscribe(connectionID, conn, ctx, &wsLogger)
		default:
			wsLogger.Debug().Str("type", msg.Type).Msg("ignoring unknown websocket message type")
		}
	}
}

func handleControlMessage(surface controlSurface, connectionID string, outbox chan peer.Message, msg peer.Message, subscribed *[]*mute.Field) peer.Message {
	field, ok := surface.Control(msg.Control)
	if !ok {
		return peer.Message{Type: peer.MsgError, ID: msg.ID, Control: msg.Control, Error: mute.ErrUnknownControl.Error()}
	}

	switch msg.Type {
	case peer.MsgWrite:
		field.Set(msg.Value)
	case peer.MsgSubscribe:
		name := msg.Control
		field.Subscribe(connectionID, func(value string) {
			select {
			case outbox <- peer.Message{Type: peer.MsgValue, Control: name, Value: value}:
			default:
			}
		})
		*subscribed = append(*subscribed, field)
	}

	return peer.Message{Type: peer.MsgValue, ID: msg.ID, Control: msg.Control, Value: field.Value()}
}
