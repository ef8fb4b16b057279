package calling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/g711"
)

// Line is the part of a trunk channel a monitor needs.
type Line interface {
	AddTap(name string, t channel.Tap)
	RemoveTap(name string) bool
	WriteFrame(p []byte) bool
}

// AudioBridge taps a channel and turns both directions into one PCM stream for
// the browser. With talk enabled, browser audio is written back to the trunk.
type AudioBridge struct {
	cfg  Config
	line Line
	name string

	rx, tx, up   *ringbuffer.RingBuffer
	rxBuf, txBuf []byte
	upBuf        []byte
	talk         atomic.Bool

	captureFrameCh chan []int16

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewAudioBridge(cfg Config, line Line, name string) *AudioBridge {
	frameBytes := cfg.FrameBytes()
	return &AudioBridge{
		cfg:            cfg,
		line:           line,
		name:           name,
		rx:             ringbuffer.New(cfg.BufferBytes()),
		tx:             ringbuffer.New(cfg.BufferBytes()),
		up:             ringbuffer.New(cfg.BufferBytes()),
		rxBuf:          make([]byte, frameBytes),
		txBuf:          make([]byte, frameBytes),
		upBuf:          make([]byte, frameBytes),
		captureFrameCh: make(chan []int16, 128),
		stopCh:         make(chan struct{}),
	}
}

func (b *AudioBridge) Start() {
	b.line.AddTap(b.name, b)
	b.wg.Add(1)
	go b.loop()
}

func (b *AudioBridge) CaptureFrames() <-chan []int16 {
	return b.captureFrameCh
}

func (b *AudioBridge) SetTalk(on bool) {
	b.talk.Store(on)
	if !on {
		b.up.Reset()
	}
}

func (b *AudioBridge) Talking() bool { return b.talk.Load() }

// RX and TX implement channel.Tap.
func (b *AudioBridge) RX(p []byte) { _, _ = b.rx.Write(p) }
func (b *AudioBridge) TX(p []byte) { _, _ = b.tx.Write(p) }

// PushFromWebRTC queues browser audio for the trunk while talk is on.
func (b *AudioBridge) PushFromWebRTC(samples []int16) {
	if len(samples) == 0 || !b.talk.Load() {
		return
	}
	_, _ = b.up.Write(g711.Encode(b.cfg.Codec, samples))
}

func (b *AudioBridge) Close() error {
	b.stopOnce.Do(func() {
		b.line.RemoveTap(b.name)
		close(b.stopCh)
		b.wg.Wait()
		close(b.captureFrameCh)
	})
	return nil
}

func (b *AudioBridge) loop() {
	defer b.wg.Done()
	t := time.NewTicker(b.cfg.Interval())
	defer t.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-t.C:
		}
		b.tick()
	}
}

func (b *AudioBridge) tick() {
	nrx, _ := b.rx.TryRead(b.rxBuf)
	ntx, _ := b.tx.TryRead(b.txBuf)
	if nrx > 0 || ntx > 0 {
		frame := g711.Mix(g711.Decode(b.cfg.Codec, b.rxBuf[:nrx]), g711.Decode(b.cfg.Codec, b.txBuf[:ntx]))
		select {
		case b.captureFrameCh <- frame:
		default:
		}
	}

	if !b.talk.Load() || b.up.Length() < len(b.upBuf) {
		return
	}
	n, _ := b.up.TryRead(b.upBuf)
	if n == len(b.upBuf) {
		b.line.WriteFrame(b.upBuf)
	}
}
