package calling

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/g711"
)

const clockRate = 8000

// codecFor maps a trunk law to its RTP codec and static payload type.
func codecFor(c frame.Codec) (webrtc.RTPCodecCapability, uint8) {
	if c == frame.ULaw {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: clockRate, Channels: 1}, 0
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: clockRate, Channels: 1}, 8
}

// newMediaEngine offers both G.711 laws so a browser can answer with either.
func newMediaEngine() (*webrtc.MediaEngine, error) {
	media := &webrtc.MediaEngine{}
	for _, c := range []frame.Codec{frame.ULaw, frame.ALaw} {
		capability, pt := codecFor(c)
		err := media.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability,
			PayloadType:        webrtc.PayloadType(pt),
		}, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", capability.MimeType, err)
		}
	}
	return media, nil
}

// PeerStats counts RTP traffic of one monitor peer.
type PeerStats struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	DecodeErrors    uint64 `json:"decode_errors"`
}

// rtpStream numbers the outgoing packets of one track.
type rtpStream struct {
	ssrc      uint32
	seq       uint16
	timestamp uint32
}

func newRTPStream() rtpStream {
	return rtpStream{ssrc: rand.Uint32(), seq: uint16(rand.Uint32())}
}

func (s *rtpStream) next(pt uint8, payload []byte) *rtp.Packet {
	pkt := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    pt,
		SequenceNumber: s.seq,
		Timestamp:      s.timestamp,
		SSRC:           s.ssrc,
	}, Payload: payload}
	s.seq++
	s.timestamp += uint32(len(payload)) // one byte per sample in G.711
	return pkt
}

// WebRTCPeer is the browser end of a monitor session: one outgoing G.711 track
// and, for talk-back, the decoded remote audio handed to a sink.
type WebRTCPeer struct {
	pc          *webrtc.PeerConnection
	track       *webrtc.TrackLocalStaticRTP
	codec       frame.Codec
	payloadType uint8
	log         *zap.SugaredLogger

	sendMu sync.Mutex
	stream rtpStream

	sinkMu sync.RWMutex
	sink   func([]int16)

	sent, received, decodeErrors atomic.Uint64
}

func NewWebRTCPeer(api *webrtc.API, cfg webrtc.Configuration, codec frame.Codec, log *zap.SugaredLogger) (*WebRTCPeer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	capability, pt := codecFor(codec)
	track, err := webrtc.NewTrackLocalStaticRTP(capability, "audio", "trunkie-monitor")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	peer := &WebRTCPeer{
		pc:          pc,
		track:       track,
		codec:       codec,
		payloadType: pt,
		log:         log,
		stream:      newRTPStream(),
	}

	// RTCP has to be drained or the interceptors stall.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnTrack(peer.readRemote)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.log.Infof("Peer connection state: %s", state)
	})
	return peer, nil
}

func (p *WebRTCPeer) readRemote(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	mime := remote.Codec().MimeType
	p.log.Infof("Remote audio track codec=%s", mime)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		p.received.Add(1)
		samples, err := decodeRemotePayload(mime, pkt.Payload)
		if err != nil {
			if p.decodeErrors.Add(1) == 1 {
				p.log.Warnf("Decode remote payload failed: %v", err)
			}
			continue
		}
		p.sinkMu.RLock()
		sink := p.sink
		p.sinkMu.RUnlock()
		if sink != nil {
			sink(samples)
		}
	}
}

func (p *WebRTCPeer) SetAudioSink(sink func([]int16)) {
	p.sinkMu.Lock()
	p.sink = sink
	p.sinkMu.Unlock()
}

func (p *WebRTCPeer) Close() error {
	if p.pc == nil {
		return nil
	}
	return p.pc.Close()
}

func (p *WebRTCPeer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

func (p *WebRTCPeer) Connected() bool {
	return p.pc != nil && p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

func (p *WebRTCPeer) Stats() PeerStats {
	return PeerStats{
		PacketsSent:     p.sent.Load(),
		PacketsReceived: p.received.Load(),
		DecodeErrors:    p.decodeErrors.Load(),
	}
}

// SendFrame encodes one frame of linear samples with the track's law and
// writes it as the next RTP packet.
func (p *WebRTCPeer) SendFrame(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	payload := g711.Encode(p.codec, samples)

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if err := p.track.WriteRTP(p.stream.next(p.payloadType, payload)); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}

func decodeRemotePayload(mimeType string, payload []byte) ([]int16, error) {
	switch mimeType {
	case webrtc.MimeTypePCMU:
		return g711.Decode(frame.ULaw, payload), nil
	case webrtc.MimeTypePCMA:
		return g711.Decode(frame.ALaw, payload), nil
	}
	return nil, fmt.Errorf("unsupported incoming codec: %s", mimeType)
}

var errLocalDescription = errors.New("wait local description timeout")

// WaitForLocalDescription blocks until ICE gathering has produced a local
// description or timeout passes.
func WaitForLocalDescription(pc *webrtc.PeerConnection, timeout time.Duration) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gathered:
	case <-time.After(timeout):
		if desc := pc.LocalDescription(); desc != nil {
			return desc, nil
		}
		return nil, errLocalDescription
	}
	return pc.LocalDescription(), nil
}
