// Package frame moves fixed-size audio packets between the hardware and PBX sides
// of a channel.
package frame

import (
	"strings"

	"github.com/pccr10001/trunkie/internal/ring"
)

// BytesPerMs is the byte rate of 8 kHz, 8-bit G.711 audio.
const BytesPerMs = 8

// Frame is a descriptor for one packet handed to the consumer.
type Frame struct {
	Data []byte
	Seq  uint64
}

// Cycler pairs a packet ring with a fixed pool of reusable frame descriptors.
// The producer side (GiveWritable) and the consumer side (PickReadable, Clear) follow
// the single-producer/single-consumer rule of the underlying ring.
type Cycler struct {
	frames []Frame
	pool   []byte
	audio  *ring.Packets
	next   int
	seq    uint64
}

// NewCycler sizes the ring so that exactly frameCount packets can be in flight.
func NewCycler(frameCount, packetSize int) *Cycler {
	if frameCount < 1 {
		frameCount = 1
	}
	c := &Cycler{
		frames: make([]Frame, frameCount),
		pool:   make([]byte, frameCount*packetSize),
		audio:  ring.NewPackets(frameCount+1, packetSize),
	}
	for i := range c.frames {
		c.frames[i].Data = c.pool[i*packetSize : (i+1)*packetSize]
	}
	return c
}

// PacketSize is the packet length in bytes.
func (c *Cycler) PacketSize() int { return c.audio.Block() }

// FrameCount is the number of packets the cycler can hold.
func (c *Cycler) FrameCount() int { return len(c.frames) }

// Buffered is the number of complete packets waiting to be picked.
func (c *Cycler) Buffered() int { return c.audio.Len() }

// GiveWritable appends audio bytes of any length. Packets become readable once
// complete. It returns false, storing nothing, when the bytes do not fit.
func (c *Cycler) GiveWritable(b []byte) bool {
	return c.audio.ProvidePartial(b)
}

// PickReadable returns the oldest complete packet, or false when none is available.
// The returned frame stays valid until FrameCount further picks.
func (c *Cycler) PickReadable() (*Frame, bool) {
	pkt, ok := c.audio.BeginConsume()
	if !ok {
		return nil, false
	}
	f := &c.frames[c.next]
	copy(f.Data, pkt)
	c.audio.CommitConsume()

	c.seq++
	f.Seq = c.seq
	c.next = (c.next + 1) % len(c.frames)
	return f, true
}

// Clear drops all buffered audio and rewinds the descriptor cursor.
func (c *Cycler) Clear() {
	c.audio.Clear()
	clear(c.pool)
	c.next = 0
}

// Codec is the G.711 companding law used on the trunk.
type Codec int

const (
	ALaw Codec = iota
	ULaw
)

func ParseCodec(s string) Codec {
	switch strings.ToLower(s) {
	case "ulaw", "mulaw", "pcmu":
		return ULaw
	}
	return ALaw
}

func (c Codec) String() string {
	if c == ULaw {
		return "ulaw"
	}
	return "alaw"
}

// SilenceByte is the encoded zero sample for the codec.
func (c Codec) SilenceByte() byte {
	if c == ULaw {
		return 0xFF
	}
	return 0xD5
}

// Silence returns n bytes of encoded silence, used as comfort noise.
func Silence(n int, codec Codec) []byte {
	b := make([]byte, n)
	s := codec.SilenceByte()
	for i := range b {
		b[i] = s
	}
	return b
}

// Sizing derives packet sizes and in-flight counts for both sides of a channel.
type Sizing struct {
	PBXPacket     int // bytes per PBX media tick
	HWPacket      int // bytes per hardware stream buffer
	ReaderFrames  int
	WriterFrames  int
	PBXIntervalMs int
	HWIntervalMs  int
}

// PacketSize converts a packet duration to bytes.
func PacketSize(ms int) int {
	return ms * BytesPerMs
}

// NewSizing keeps the buffered duration equal on both sides: the reader holds
// framesInFlight PBX packets and the writer as many hardware packets as cover
// the same time.
func NewSizing(pbxMs, hwMs, framesInFlight int) Sizing {
	if pbxMs <= 0 {
		pbxMs = 20
	}
	if hwMs <= 0 {
		hwMs = pbxMs
	}
	if framesInFlight < 2 {
		framesInFlight = 2
	}
	span := pbxMs * framesInFlight
	return Sizing{
		PBXPacket:     PacketSize(pbxMs),
		HWPacket:      PacketSize(hwMs),
		ReaderFrames:  framesInFlight,
		WriterFrames:  (span + hwMs - 1) / hwMs,
		PBXIntervalMs: pbxMs,
		HWIntervalMs:  hwMs,
	}
}

// ReaderCycler buffers hardware audio for the PBX, in PBX-sized packets.
func (s Sizing) ReaderCycler() *Cycler {
	return NewCycler(s.ReaderFrames, s.PBXPacket)
}

// WriterCycler buffers PBX audio for the hardware, in hardware-sized packets.
func (s Sizing) WriterCycler() *Cycler {
	return NewCycler(s.WriterFrames, s.HWPacket)
}
