package calling

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/pccr10001/trunkie/pkg/logger"
)

var (
	ErrNoSession       = errors.New("webrtc session not initialized")
	ErrAudioNotStarted = errors.New("monitor audio not started")
)

// Target addresses the trunk channel a browser session monitors.
type Target struct {
	Device int `json:"device"`
	Object int `json:"channel"`
}

func (t Target) Key() string { return fmt.Sprintf("B%dC%d", t.Device, t.Object) }

// LineFunc resolves a target to its channel.
type LineFunc func(device, object int) (Line, error)

type Session struct {
	Peer    *WebRTCPeer
	Bridge  *AudioBridge
	Target  Target
	Started time.Time
}

// SessionInfo describes a monitor session for listings.
type SessionInfo struct {
	Target    Target    `json:"target"`
	Started   time.Time `json:"started"`
	Connected bool      `json:"connected"`
	Audio     bool      `json:"audio"`
	Talking   bool      `json:"talking"`
	Stats     PeerStats `json:"stats"`
}

// Manager keeps at most one browser session per channel.
type Manager struct {
	log   *zap.SugaredLogger
	cfg   Config
	lines LineFunc

	api       *webrtc.API
	webrtcCfg webrtc.Configuration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, lines LineFunc) (*Manager, error) {
	media, err := newMediaEngine()
	if err != nil {
		return nil, err
	}

	setting := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 || cfg.UDPPortMax > 0 {
		if err := setting.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, err
		}
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	return &Manager{
		log:       logger.Named("calling"),
		cfg:       cfg,
		lines:     lines,
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(setting)),
		webrtcCfg: webrtc.Configuration{ICEServers: iceServers},
		sessions:  map[string]*Session{},
	}, nil
}

// EnsureSession returns the browser session for target, creating its peer.
func (m *Manager) EnsureSession(target Target) (*Session, error) {
	key := target.Key()
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	if _, err := m.lines(target.Device, target.Object); err != nil {
		return nil, err
	}

	peer, err := NewWebRTCPeer(m.api, m.webrtcCfg, m.cfg.Codec, m.log.With("target", key))
	if err != nil {
		return nil, err
	}

	s := &Session{Peer: peer, Target: target, Started: time.Now()}
	m.sessions[key] = s
	m.log.Infof("[%s] Monitor session opened", key)
	return s, nil
}

// EnsureAudio taps the channel and starts streaming it to the browser.
func (m *Manager) EnsureAudio(target Target) error {
	key := target.Key()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || s.Peer == nil {
		return fmt.Errorf("%s: %w", key, ErrNoSession)
	}
	if s.Bridge != nil {
		return nil
	}

	line, err := m.lines(target.Device, target.Object)
	if err != nil {
		return err
	}
	bridge := NewAudioBridge(m.cfg, line, "monitor:"+key)
	bridge.Start()

	s.Bridge = bridge
	s.Peer.SetAudioSink(bridge.PushFromWebRTC)
	go m.uplink(key, s.Peer, bridge)
	return nil
}

// SetTalk lets the browser speak into the call.
func (m *Manager) SetTalk(target Target, on bool) error {
	s := m.GetSession(target)
	if s == nil || s.Bridge == nil {
		return fmt.Errorf("%s: %w", target.Key(), ErrAudioNotStarted)
	}
	s.Bridge.SetTalk(on)
	m.log.Infof("[%s] Talk-back %t", target.Key(), on)
	return nil
}

// uplink forwards mixed frames until the bridge closes. Frames produced before
// the peer connects are dropped.
func (m *Manager) uplink(key string, peer *WebRTCPeer, bridge *AudioBridge) {
	failed := false
	for samples := range bridge.CaptureFrames() {
		if !peer.Connected() {
			continue
		}
		if err := peer.SendFrame(samples); err != nil {
			if !failed {
				m.log.Warnf("[%s] Send audio to browser failed: %v", key, err)
			}
			failed = true
			continue
		}
		failed = false
	}
}

func (m *Manager) GetSession(target Target) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[target.Key()]
}

// Sessions lists open sessions ordered by board and channel.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := SessionInfo{Target: s.Target, Started: s.Started}
		if s.Peer != nil {
			info.Connected = s.Peer.Connected()
			info.Stats = s.Peer.Stats()
		}
		if s.Bridge != nil {
			info.Audio = true
			info.Talking = s.Bridge.Talking()
		}
		out = append(out, info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Target, out[j].Target
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		return a.Object < b.Object
	})
	return out
}

func (m *Manager) CloseSession(target Target) error {
	key := target.Key()
	m.mu.Lock()
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	m.log.Infof("[%s] Monitor session closed after %s", key, time.Since(s.Started).Round(time.Second))

	var errs []error
	if s.Bridge != nil {
		errs = append(errs, s.Bridge.Close())
	}
	errs = append(errs, s.Peer.Close())
	return errors.Join(errs...)
}

func (m *Manager) CloseAll() error {
	var errs []error
	for _, info := range m.Sessions() {
		errs = append(errs, m.CloseSession(info.Target))
	}
	return errors.Join(errs...)
}

func (m *Manager) IsConnected(target Target) bool {
	s := m.GetSession(target)
	return s != nil && s.Peer != nil && s.Peer.Connected()
}
