// Package ring implements fixed-capacity single-producer/single-consumer circular buffers.
//
// One slot is always kept empty: the write slot sits one position behind the writer
// index, so with a capacity of N at most N-1 elements are stored. The reader index is
// only ever stored by the consumer and the writer index only by the producer; both are
// published through atomics so the slot contents written before a store are visible
// to the other side after the matching load.
package ring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type cursor struct {
	_      cpu.CacheLinePad
	reader atomic.Uint32
	_      cpu.CacheLinePad
	writer atomic.Uint32
	_      cpu.CacheLinePad
	size   uint32
}

func (c *cursor) init(size int) {
	if size < 2 {
		panic("ring: capacity must be at least 2")
	}
	c.size = uint32(size)
	c.reset()
}

func (c *cursor) reset() {
	c.reader.Store(0)
	c.writer.Store(1)
}

// used is the number of published elements for the given index pair.
func (c *cursor) used(r, w uint32) uint32 {
	return (w + c.size - r - 1) % c.size
}

// free is the number of slots the producer may still fill.
func (c *cursor) free(r, w uint32) uint32 {
	return (r + c.size - w) % c.size
}

// slot maps the writer index to the slot it writes next.
func (c *cursor) slot(w uint32) uint32 {
	return (w + c.size - 1) % c.size
}

func (c *cursor) advance(i, n uint32) uint32 {
	return (i + n) % c.size
}

// Len returns the number of stored elements. It is a snapshot when called
// concurrently with the producer or the consumer.
func (c *cursor) Len() int {
	return int(c.used(c.reader.Load(), c.writer.Load()))
}

// Free returns the number of elements that can still be pushed.
func (c *cursor) Free() int {
	return int(c.free(c.reader.Load(), c.writer.Load()))
}

// Cap returns the usable capacity, one less than the slot count.
func (c *cursor) Cap() int {
	return int(c.size) - 1
}

func (c *cursor) Empty() bool { return c.Len() == 0 }

func (c *cursor) Full() bool { return c.Free() == 0 }
