package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// FeedEvent is one line of the live channel feed.
type FeedEvent struct {
	Type     string            `json:"type"` // state, call, lock_failed, event_error
	Time     time.Time         `json:"time"`
	Device   int               `json:"device"`
	Channel  int               `json:"channel"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	Detail   string            `json:"detail,omitempty"`
	Snapshot *channel.Snapshot `json:"snapshot,omitempty"`
}

// Hub fans channel activity out to websocket subscribers. It implements
// channel.Observer; a slow subscriber loses events instead of stalling a channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	dropped atomic.Uint64
}

type feedClient struct {
	send    chan FeedEvent
	devices map[int]bool // nil receives every device
}

func NewHub() *Hub {
	return &Hub{clients: map[*feedClient]struct{}{}}
}

func (h *Hub) subscribe(devices map[int]bool, buffer int) *feedClient {
	cl := &feedClient{send: make(chan FeedEvent, buffer), devices: devices}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	return cl
}

func (h *Hub) unsubscribe(cl *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(ev FeedEvent) {
	ev.Time = time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if cl.devices != nil && !cl.devices[ev.Device] {
			continue
		}
		select {
		case cl.send <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) EventHandled(device, object int, code k3l.EventCode, err error) {
	if err == nil {
		return
	}
	h.publish(FeedEvent{Type: "event_error", Device: device, Channel: object, Detail: code.String() + ": " + err.Error()})
}

func (h *Hub) LockFailed(device, object int) {
	h.publish(FeedEvent{Type: "lock_failed", Device: device, Channel: object})
}

func (h *Hub) StateChanged(snap channel.Snapshot, from, to channel.State) {
	h.publish(FeedEvent{Type: "state", Device: snap.Device, Channel: snap.Object, From: from.String(), To: to.String(), Snapshot: &snap})
}

func (h *Hub) CallStarted(device, object int, dir pbx.Direction) {
	h.publish(FeedEvent{Type: "call", Device: device, Channel: object, Detail: dir.String()})
}

func (h *Hub) AudioOverrun(int, int)  {}
func (h *Hub) AudioUnderrun(int, int) {}

// EventsHandler serves the feed over a websocket.
type EventsHandler struct {
	hub *Hub
	reg *board.Registry
}

func NewEventsHandler(hub *Hub, reg *board.Registry) *EventsHandler {
	return &EventsHandler{hub: hub, reg: reg}
}

func (h *EventsHandler) WS(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var devices map[int]bool
	if allowed := allowedBoards(user); allowed != nil {
		devices = map[int]bool{}
		for _, serial := range allowed {
			if b, err := h.reg.BySerial(serial); err == nil {
				devices[b.Device()] = true
			}
		}
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	cl := h.hub.subscribe(devices, 256)
	defer h.hub.unsubscribe(cl)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case ev := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
