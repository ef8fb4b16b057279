package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/pccr10001/trunkie/internal/calling"
	"github.com/pccr10001/trunkie/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errNoMonitor = errors.New("calling manager not initialized")

// MonitorHandler serves WebRTC signaling for listening in on a channel.
type MonitorHandler struct {
	boards  *BoardHandler
	callMgr *calling.Manager
}

func NewMonitorHandler(boards *BoardHandler, callMgr *calling.Manager) *MonitorHandler {
	return &MonitorHandler{boards: boards, callMgr: callMgr}
}

// List shows the open monitor sessions.
func (h *MonitorHandler) List(c *gin.Context) {
	if h.callMgr == nil {
		c.JSON(http.StatusOK, []calling.SessionInfo{})
		return
	}
	c.JSON(http.StatusOK, h.callMgr.Sessions())
}

func (h *MonitorHandler) WS(c *gin.Context) {
	if h.callMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoMonitor.Error()})
		return
	}
	ch, ok := h.boards.channelFor(c)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	target := calling.Target{Device: ch.Device(), Object: ch.Object()}
	m := &monitorConn{
		conn:    conn,
		callMgr: h.callMgr,
		target:  target,
		log:     logger.ForChannel(target.Device, target.Object),
	}
	m.run()
}

// monitorConn is one browser signaling connection. Messages come from the read
// loop and from pion callbacks; only the writer goroutine touches the socket.
type monitorConn struct {
	conn    *websocket.Conn
	callMgr *calling.Manager
	target  calling.Target
	log     *zap.SugaredLogger

	writes chan calling.SignalMessage
}

func (m *monitorConn) send(msg calling.SignalMessage) {
	select {
	case m.writes <- msg:
	default:
		m.log.Warnf("Monitor signaling backlog full, dropping %s", msg.Type)
	}
}

func (m *monitorConn) writer(done <-chan struct{}) {
	for {
		select {
		case <-done:
			// flush what is already queued, e.g. a setup error
			for {
				select {
				case msg := <-m.writes:
					if m.write(msg) != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-m.writes:
			if err := m.write(msg); err != nil {
				m.log.Warnf("Write %s failed: %v", msg.Type, err)
				return
			}
		}
	}
}

func (m *monitorConn) write(msg calling.SignalMessage) error {
	_ = m.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return m.conn.WriteJSON(msg)
}

func (m *monitorConn) run() {
	m.writes = make(chan calling.SignalMessage, 64)
	done := make(chan struct{})
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		m.writer(done)
	}()
	defer func() {
		close(done)
		<-flushed
	}()

	session, err := m.callMgr.EnsureSession(m.target)
	if err != nil {
		m.send(calling.ErrorSignal(err))
		return
	}
	defer func() { _ = m.callMgr.CloseSession(m.target) }()

	pc := session.Peer.PeerConnection()
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			_ = m.callMgr.CloseSession(m.target)
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		cand := candidate.ToJSON()
		m.send(calling.SignalMessage{Type: calling.SignalCandidate, Candidate: &cand})
	})

	m.send(calling.SignalMessage{Type: calling.SignalReady, Text: "monitoring " + m.target.Key()})

	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := calling.ParseSignalMessage(raw)
		if err != nil {
			m.send(calling.ErrorSignal(err))
			continue
		}
		if msg.Type == calling.SignalHangup {
			return
		}
		if err := m.handle(pc, msg); err != nil {
			m.send(calling.ErrorSignal(err))
		}
	}
}

func (m *monitorConn) handle(pc *webrtc.PeerConnection, msg *calling.SignalMessage) error {
	switch msg.Type {
	case calling.SignalOffer:
		if err := pc.SetRemoteDescription(*msg.Offer); err != nil {
			return err
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return err
		}
		local, err := calling.WaitForLocalDescription(pc, 10*time.Second)
		if err != nil {
			return err
		}
		m.send(calling.SignalMessage{Type: calling.SignalAnswer, Answer: local})
		return m.callMgr.EnsureAudio(m.target)
	case calling.SignalCandidate:
		return pc.AddICECandidate(*msg.Candidate)
	case calling.SignalTalk:
		on := *msg.Talk
		if err := m.callMgr.SetTalk(m.target, on); err != nil {
			return err
		}
		m.send(calling.SignalMessage{Type: calling.SignalTalk, Talk: &on})
	}
	return nil
}
