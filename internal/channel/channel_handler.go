package channel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// SnapshotFunc returns the currently visible notices of a department.
type SnapshotFunc func(ctx context.Context, department string) (interface{}, error)

const snapshotTimeout = 5 * time.Second

// ChannelHandler serves the display-client websocket endpoint.
type ChannelHandler struct {
	registry *Registry
	snapshot SnapshotFunc
}

// NewChannelHandler creates a handler. snapshot may be nil, in which case
// snapshot requests are answered with an error frame.
func NewChannelHandler(registry *Registry, snapshot SnapshotFunc) *ChannelHandler {
	return &ChannelHandler{
		registry: registry,
		snapshot: snapshot,
	}
}

// HandleUpgrade rejects plain HTTP requests to the websocket route.
func (h *ChannelHandler) HandleUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection returns the 'GET /ws' handler.
func (h *ChannelHandler) HandleConnection() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *ChannelHandler) serve(conn *websocket.Conn) {
	client := newClient(conn)
	go client.writePump()
	log.Debugf("[Channel] client %s connected", client.id)

	defer func() {
		h.registry.Leave(client)
		client.close()
		<-client.done
		log.Debugf("[Channel] client %s disconnected", client.id)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[Channel] client %s read error: %v", client.id, err)
			}
			return
		}
		h.handleMessage(client, msg)
	}
}

func (h *ChannelHandler) handleMessage(client *Client, msg []byte) {
	var req ClientMessage
	if err := json.Unmarshal(msg, &req); err != nil {
		h.reply(client, ServerFrame{Type: FrameError, Error: "malformed request"})
		return
	}
	department := Normalize(req.Department)

	switch req.Action {
	case ActionJoin:
		if err := h.registry.Join(client, department); err != nil {
			h.reply(client, ServerFrame{Type: FrameError, Department: department, Error: err.Error()})
			return
		}
		log.Infof("[Channel] client %s joined %s", client.id, department)
		h.reply(client, ServerFrame{Type: FrameJoined, Department: department})
		h.sendSnapshot(client, department)

	case ActionLeave:
		if department == "" {
			h.registry.Leave(client)
		} else {
			h.registry.LeaveDepartment(client, department)
		}
		h.reply(client, ServerFrame{Type: FrameLeft, Department: department})

	case ActionSnapshot:
		if !h.registry.Known(department) {
			h.reply(client, ServerFrame{Type: FrameError, Department: department, Error: ErrUnknownDepartment.Error()})
			return
		}
		h.sendSnapshot(client, department)

	default:
		h.reply(client, ServerFrame{Type: FrameError, Error: "unknown action"})
	}
}

func (h *ChannelHandler) sendSnapshot(client *Client, department string) {
	if h.snapshot == nil {
		h.reply(client, ServerFrame{Type: FrameError, Department: department, Error: "snapshot unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	notices, err := h.snapshot(ctx, department)
	if err != nil {
		log.Errorf("[Channel] snapshot for %s failed: %v", department, err)
		h.reply(client, ServerFrame{Type: FrameError, Department: department, Error: "snapshot failed"})
		return
	}
	h.reply(client, ServerFrame{Type: FrameSnapshot, Department: department, Notices: notices})
}

func (h *ChannelHandler) reply(client *Client, frame ServerFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Errorf("[Channel] encode frame: %v", err)
		return
	}
	if !client.Send(b) {
		log.Warnf("[Channel] client %s send buffer full, dropped %s frame", client.id, frame.Type)
	}
}
