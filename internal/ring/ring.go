package ring

// Ring is a circular buffer of fixed-size elements. Exactly one goroutine may act as
// producer (TryPush, Provide, BeginProduce, CommitProduce) and exactly one as consumer
// (TryPop, Consume, BeginConsume, CommitConsume).
type Ring[T any] struct {
	cursor
	buf []T
}

// New allocates a ring with capacity slots, capacity-1 of them usable.
func New[T any](capacity int) *Ring[T] {
	return NewWithBuffer(make([]T, capacity))
}

// NewWithBuffer wraps caller-owned storage. The ring never reallocates buf.
func NewWithBuffer[T any](buf []T) *Ring[T] {
	r := &Ring[T]{buf: buf}
	r.init(len(buf))
	return r
}

// TryPush stores v unless the ring is full. A full ring is left untouched.
func (r *Ring[T]) TryPush(v T) bool {
	w := r.writer.Load()
	if r.free(r.reader.Load(), w) == 0 {
		return false
	}
	r.buf[r.slot(w)] = v
	r.writer.Store(r.advance(w, 1))
	return true
}

// TryPop removes the oldest element. ok is false when the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	rd := r.reader.Load()
	if r.used(rd, r.writer.Load()) == 0 {
		return v, false
	}
	v = r.buf[rd]
	var zero T
	r.buf[rd] = zero
	r.reader.Store(r.advance(rd, 1))
	return v, true
}

// Provide stores all of src or nothing.
func (r *Ring[T]) Provide(src []T) bool {
	n := uint32(len(src))
	w := r.writer.Load()
	if n == 0 {
		return true
	}
	if r.free(r.reader.Load(), w) < n {
		return false
	}
	start := r.slot(w)
	first := copy(r.buf[start:], src)
	copy(r.buf, src[first:])
	r.writer.Store(r.advance(w, n))
	return true
}

// Consume moves up to len(dst) elements into dst and returns how many were moved.
// An empty ring yields 0.
func (r *Ring[T]) Consume(dst []T) int {
	rd := r.reader.Load()
	n := r.used(rd, r.writer.Load())
	if uint32(len(dst)) < n {
		n = uint32(len(dst))
	}
	if n == 0 {
		return 0
	}
	first := copy(dst[:n], r.buf[rd:])
	copy(dst[first:n], r.buf)
	r.reader.Store(r.advance(rd, n))
	return int(n)
}

// BeginProduce exposes the next free slot for in-place filling. The element is
// published by CommitProduce.
func (r *Ring[T]) BeginProduce() (*T, bool) {
	w := r.writer.Load()
	if r.free(r.reader.Load(), w) == 0 {
		return nil, false
	}
	return &r.buf[r.slot(w)], true
}

// CommitProduce publishes the slot handed out by BeginProduce.
func (r *Ring[T]) CommitProduce() {
	w := r.writer.Load()
	if r.free(r.reader.Load(), w) == 0 {
		return
	}
	r.writer.Store(r.advance(w, 1))
}

// BeginConsume exposes the oldest element in place. It stays in the ring until
// CommitConsume.
func (r *Ring[T]) BeginConsume() (*T, bool) {
	rd := r.reader.Load()
	if r.used(rd, r.writer.Load()) == 0 {
		return nil, false
	}
	return &r.buf[rd], true
}

// CommitConsume releases the slot handed out by BeginConsume.
func (r *Ring[T]) CommitConsume() {
	rd := r.reader.Load()
	if r.used(rd, r.writer.Load()) == 0 {
		return
	}
	var zero T
	r.buf[rd] = zero
	r.reader.Store(r.advance(rd, 1))
}

// Clear empties the ring. Neither side may be running while it is called.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.reset()
}
