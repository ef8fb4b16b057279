package calling

import (
	"time"

	"github.com/pccr10001/trunkie/internal/frame"
)

type Config struct {
	STUNServers []string
	UDPPortMin  uint16
	UDPPortMax  uint16
	Codec       frame.Codec // trunk law; the browser track uses the same one
	FrameMs     int
	Buffer      int // bytes kept per direction
}

func (c Config) FrameBytes() int {
	if c.FrameMs <= 0 {
		return frame.PacketSize(20)
	}
	return frame.PacketSize(c.FrameMs)
}

func (c Config) BufferBytes() int {
	if c.Buffer <= 0 {
		return 8000 // one second
	}
	return c.Buffer
}

func (c Config) Interval() time.Duration {
	if c.FrameMs <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(c.FrameMs) * time.Millisecond
}
