package ring

import (
	"errors"
	"io"
)

// Packets is a ring of fixed-size byte blocks, one block per element. Besides the
// whole-element API it supports a partial mode (ProvidePartial, ConsumePartial) where
// each side advances at byte granularity and the producer publishes a block only once
// it is complete. A given instance must use either whole-element or partial mode on
// each side, never both.
type Packets struct {
	cursor
	block int
	buf   []byte

	wpart int // producer: bytes already written into the current write slot
	rpart int // consumer: bytes already taken from the current read slot
}

// NewPackets allocates slots blocks of block bytes each.
func NewPackets(slots, block int) *Packets {
	return NewPacketsWithBuffer(make([]byte, slots*block), block)
}

// NewPacketsWithBuffer wraps caller-owned storage; len(buf) must be a multiple of block.
func NewPacketsWithBuffer(buf []byte, block int) *Packets {
	if block <= 0 || len(buf)%block != 0 {
		panic("ring: buffer length must be a positive multiple of the block size")
	}
	p := &Packets{block: block, buf: buf}
	p.init(len(buf) / block)
	return p
}

// Block returns the element size in bytes.
func (p *Packets) Block() int { return p.block }

func (p *Packets) slotBytes(i uint32) []byte {
	off := int(i) * p.block
	return p.buf[off : off+p.block]
}

// TryPush stores one element. Short input is zero padded, long input truncated.
func (p *Packets) TryPush(b []byte) bool {
	w := p.writer.Load()
	if p.free(p.reader.Load(), w) == 0 {
		return false
	}
	dst := p.slotBytes(p.slot(w))
	n := copy(dst, b)
	clear(dst[n:])
	p.writer.Store(p.advance(w, 1))
	return true
}

// TryPop copies the oldest element into dst.
func (p *Packets) TryPop(dst []byte) bool {
	rd := p.reader.Load()
	if p.used(rd, p.writer.Load()) == 0 {
		return false
	}
	copy(dst, p.slotBytes(rd))
	p.reader.Store(p.advance(rd, 1))
	return true
}

// copyIn writes src into the byte array starting at off, wrapping at the end.
func (p *Packets) copyIn(off int, src []byte) {
	first := copy(p.buf[off:], src)
	copy(p.buf, src[first:])
}

// copyOut reads len(dst) bytes starting at off, wrapping at the end.
func (p *Packets) copyOut(dst []byte, off int) {
	first := copy(dst, p.buf[off:])
	copy(dst[first:], p.buf)
}

// Provide stores len(src)/Block() elements, all or nothing. src must hold whole elements.
func (p *Packets) Provide(src []byte) bool {
	if len(src)%p.block != 0 {
		return false
	}
	n := uint32(len(src) / p.block)
	if n == 0 {
		return true
	}
	w := p.writer.Load()
	if p.free(p.reader.Load(), w) < n {
		return false
	}
	p.copyIn(int(p.slot(w))*p.block, src)
	p.writer.Store(p.advance(w, n))
	return true
}

// Consume moves up to len(dst)/Block() elements and returns the element count.
func (p *Packets) Consume(dst []byte) int {
	rd := p.reader.Load()
	n := p.used(rd, p.writer.Load())
	if want := uint32(len(dst) / p.block); want < n {
		n = want
	}
	if n == 0 {
		return 0
	}
	p.copyOut(dst[:int(n)*p.block], int(rd)*p.block)
	p.reader.Store(p.advance(rd, n))
	return int(n)
}

// ProvidePartial appends src at byte granularity, all or nothing. Only completed
// blocks become visible to the consumer; a trailing partial block waits for more input.
func (p *Packets) ProvidePartial(src []byte) bool {
	if len(src) == 0 {
		return true
	}
	w := p.writer.Load()
	room := int(p.free(p.reader.Load(), w))*p.block - p.wpart
	if len(src) > room {
		return false
	}
	p.copyIn(int(p.slot(w))*p.block+p.wpart, src)
	total := p.wpart + len(src)
	p.wpart = total % p.block
	if done := uint32(total / p.block); done > 0 {
		p.writer.Store(p.advance(w, done))
	}
	return true
}

// ConsumePartial reads up to len(dst) published bytes and returns the byte count.
func (p *Packets) ConsumePartial(dst []byte) int {
	rd := p.reader.Load()
	avail := int(p.used(rd, p.writer.Load()))*p.block - p.rpart
	n := len(dst)
	if avail < n {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	p.copyOut(dst[:n], int(rd)*p.block+p.rpart)
	total := p.rpart + n
	p.rpart = total % p.block
	if done := uint32(total / p.block); done > 0 {
		p.reader.Store(p.advance(rd, done))
	}
	return n
}

// BeginProduce returns the next free block for in-place filling.
func (p *Packets) BeginProduce() ([]byte, bool) {
	w := p.writer.Load()
	if p.free(p.reader.Load(), w) == 0 {
		return nil, false
	}
	return p.slotBytes(p.slot(w)), true
}

func (p *Packets) CommitProduce() {
	w := p.writer.Load()
	if p.free(p.reader.Load(), w) == 0 {
		return
	}
	p.writer.Store(p.advance(w, 1))
}

// BeginConsume returns the oldest block in place. The view is valid until CommitConsume.
func (p *Packets) BeginConsume() ([]byte, bool) {
	rd := p.reader.Load()
	if p.used(rd, p.writer.Load()) == 0 {
		return nil, false
	}
	return p.slotBytes(rd), true
}

func (p *Packets) CommitConsume() {
	rd := p.reader.Load()
	if p.used(rd, p.writer.Load()) == 0 {
		return
	}
	p.reader.Store(p.advance(rd, 1))
}

// Get reads up to count elements from r, bounded by the free space. Only whole
// elements are published; the returned count is the number published. A short
// read ends the transfer and its error is returned alongside the partial count.
func (p *Packets) Get(r io.Reader, count int) (int, error) {
	w := p.writer.Load()
	n := int(p.free(p.reader.Load(), w))
	if count < n {
		n = count
	}
	if n <= 0 {
		return 0, nil
	}
	off := int(p.slot(w)) * p.block
	size := n * p.block
	first := min(size, len(p.buf)-off)

	got, err := io.ReadFull(r, p.buf[off:off+first])
	if err == nil && first < size {
		var more int
		more, err = io.ReadFull(r, p.buf[:size-first])
		got += more
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	done := got / p.block
	if done > 0 {
		p.writer.Store(p.advance(w, uint32(done)))
	}
	return done, err
}

// Put writes up to count stored elements to w and returns the number fully written.
func (p *Packets) Put(w io.Writer, count int) (int, error) {
	rd := p.reader.Load()
	n := int(p.used(rd, p.writer.Load()))
	if count < n {
		n = count
	}
	if n <= 0 {
		return 0, nil
	}
	off := int(rd) * p.block
	size := n * p.block
	first := min(size, len(p.buf)-off)

	wrote, err := w.Write(p.buf[off : off+first])
	if err == nil && first < size {
		var more int
		more, err = w.Write(p.buf[:size-first])
		wrote += more
	}
	done := wrote / p.block
	if done > 0 {
		p.reader.Store(p.advance(rd, uint32(done)))
	}
	return done, err
}

// Clear empties the ring and forgets any partial block on either side.
func (p *Packets) Clear() {
	clear(p.buf)
	p.wpart = 0
	p.rpart = 0
	p.reset()
}
