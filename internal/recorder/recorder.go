// Package recorder writes per-call stereo WAV files: the trunk side on the left
// channel, the PBX side on the right.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"

	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/g711"
	"github.com/pccr10001/trunkie/pkg/logger"
)

const sampleRate = 8000

type Options struct {
	Dir      string
	Codec    frame.Codec
	Interval time.Duration // how often buffered audio is flushed to the encoder
	Buffer   time.Duration // audio kept per direction before drops
}

type Recorder struct {
	opts Options
}

func New(opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		opts.Dir = "recordings"
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 2 * time.Second
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Recorder{opts: opts}, nil
}

// Open implements channel.Recorder.
func (r *Recorder) Open(device, object int, sessionID string) (channel.TapCloser, string, error) {
	name := fmt.Sprintf("%s_b%dc%d_%s.wav", time.Now().Format("20060102-150405"), device, object, sessionID)
	path := filepath.Join(r.opts.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}

	size := int(r.opts.Buffer / time.Millisecond * sampleRate / 1000)
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	rec := &recording{
		tag:      logger.ChannelTag(device, object),
		codec:    r.opts.Codec,
		file:     f,
		enc:      wav.NewEncoder(f, sampleRate, 16, 2, 1),
		rx:       ringbuffer.New(size),
		tx:       ringbuffer.New(size),
		rxBuf:    make([]byte, size),
		txBuf:    make([]byte, size),
		frames:   make(chan []int, 16),
		interval: r.opts.Interval,
		cancel:   cancel,
		g:        g,
	}
	g.Go(func() error { return rec.pump(gctx) })
	g.Go(rec.write)

	logger.Log.Debugf("%s Recording opened: %s", rec.tag, path)
	return rec, path, nil
}

type recording struct {
	tag   string
	codec frame.Codec
	file  *os.File
	enc   *wav.Encoder

	rx, tx       *ringbuffer.RingBuffer
	rxBuf, txBuf []byte
	dropped      atomic.Uint64

	frames   chan []int
	interval time.Duration
	cancel   context.CancelFunc
	g        *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

func (r *recording) RX(p []byte) { r.push(r.rx, p) }
func (r *recording) TX(p []byte) { r.push(r.tx, p) }

func (r *recording) push(rb *ringbuffer.RingBuffer, p []byte) {
	if n, err := rb.Write(p); err != nil {
		r.dropped.Add(uint64(len(p) - n))
	}
}

// pump moves whatever both directions buffered into interleaved frames. On
// cancel it drains the rings before closing the frame channel.
func (r *recording) pump(ctx context.Context) error {
	defer close(r.frames)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			for r.drain() {
			}
			return nil
		case <-t.C:
			r.drain()
		}
	}
}

func (r *recording) drain() bool {
	nrx, _ := r.rx.TryRead(r.rxBuf)
	ntx, _ := r.tx.TryRead(r.txBuf)
	n := max(nrx, ntx)
	if n == 0 {
		return false
	}
	silence := r.codec.SilenceByte()
	data := make([]int, 2*n)
	for i := 0; i < n; i++ {
		left, right := silence, silence
		if i < nrx {
			left = r.rxBuf[i]
		}
		if i < ntx {
			right = r.txBuf[i]
		}
		data[2*i] = int(g711.DecodeSample(r.codec, left))
		data[2*i+1] = int(g711.DecodeSample(r.codec, right))
	}
	r.frames <- data
	return true
}

// write keeps consuming after an encoder error so pump never blocks.
func (r *recording) write() error {
	var first error
	format := &audio.Format{NumChannels: 2, SampleRate: sampleRate}
	for data := range r.frames {
		if first != nil {
			continue
		}
		buf := &audio.IntBuffer{Format: format, Data: data, SourceBitDepth: 16}
		if err := r.enc.Write(buf); err != nil {
			first = fmt.Errorf("encode: %w", err)
		}
	}
	return first
}

// Close flushes buffered audio and finalizes the WAV header.
func (r *recording) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		err := r.g.Wait()
		if cerr := r.enc.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if cerr := r.file.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if d := r.dropped.Load(); d > 0 {
			logger.Log.Warnf("%s Recording dropped %d bytes", r.tag, d)
		}
		r.closeErr = err
	})
	return r.closeErr
}
