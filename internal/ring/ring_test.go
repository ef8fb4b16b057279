package ring

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEmptyAndFull(t *testing.T) {
	r := New[int](4)
	assert.Equal(t, 3, r.Cap())
	assert.True(t, r.Empty())

	_, ok := r.TryPop()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		require.True(t, r.TryPush(i))
	}
	assert.True(t, r.Full())
	assert.False(t, r.TryPush(99))
	assert.Equal(t, 3, r.Len())

	for i := 0; i < 3; i++ {
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, r.Empty())
}

func TestRingCapacityInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := New[int](7)
	count := 0
	for i := 0; i < 10000; i++ {
		if rng.Intn(2) == 0 {
			before := r.Len()
			if r.TryPush(i) {
				count++
			} else {
				assert.Equal(t, before, r.Len(), "failed push must not mutate")
				assert.Equal(t, r.Cap(), before)
			}
		} else if _, ok := r.TryPop(); ok {
			count--
		}
		require.LessOrEqual(t, r.Len(), r.Cap())
		require.Equal(t, count, r.Len())
	}
}

func TestRingWrapAroundOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := New[int](5)
	next, expect := 0, 0
	for expect < 1000 {
		if rng.Intn(3) > 0 && r.TryPush(next) {
			next++
			continue
		}
		if v, ok := r.TryPop(); ok {
			require.Equal(t, expect, v)
			expect++
		}
	}
}

func TestRingProvideAllOrNothing(t *testing.T) {
	r := New[byte](8)
	require.True(t, r.Provide([]byte{1, 2, 3, 4, 5}))
	assert.False(t, r.Provide([]byte{6, 7, 8}), "only two slots left")
	assert.Equal(t, 5, r.Len())

	out := make([]byte, 3)
	assert.Equal(t, 3, r.Consume(out))
	assert.Equal(t, []byte{1, 2, 3}, out)

	// the write now spans the end of the array
	require.True(t, r.Provide([]byte{6, 7, 8, 9, 10}))
	all := make([]byte, 16)
	n := r.Consume(all)
	assert.Equal(t, 7, n)
	assert.Equal(t, []byte{4, 5, 6, 7, 8, 9, 10}, all[:n])
}

func TestRingConsumePartialCount(t *testing.T) {
	r := New[int](10)
	assert.Equal(t, 0, r.Consume(make([]int, 4)))

	require.True(t, r.Provide([]int{1, 2}))
	dst := make([]int, 4)
	assert.Equal(t, 2, r.Consume(dst))
	assert.Equal(t, []int{1, 2, 0, 0}, dst)
	assert.Equal(t, 0, r.Consume(dst))
}

func TestRingTwoStage(t *testing.T) {
	type pkt struct{ seq, val int }
	r := New[pkt](3)

	slot, ok := r.BeginProduce()
	require.True(t, ok)
	slot.seq, slot.val = 1, 10
	assert.True(t, r.Empty(), "not visible before commit")
	r.CommitProduce()

	slot, ok = r.BeginProduce()
	require.True(t, ok)
	slot.seq = 2
	r.CommitProduce()

	_, ok = r.BeginProduce()
	assert.False(t, ok)

	got, ok := r.BeginConsume()
	require.True(t, ok)
	assert.Equal(t, pkt{1, 10}, *got)
	r.CommitConsume()

	got, ok = r.BeginConsume()
	require.True(t, ok)
	assert.Equal(t, 2, got.seq)
	r.CommitConsume()

	_, ok = r.BeginConsume()
	assert.False(t, ok)
	r.CommitConsume()
	assert.Equal(t, 0, r.Len(), "commit on empty ring is ignored")
}

func TestRingClear(t *testing.T) {
	r := New[int](4)
	r.TryPush(1)
	r.TryPush(2)
	r.Clear()
	assert.True(t, r.Empty())
	assert.True(t, r.TryPush(3))
	v, _ := r.TryPop()
	assert.Equal(t, 3, v)
}

func TestRingExternalBuffer(t *testing.T) {
	buf := make([]int, 3)
	r := NewWithBuffer(buf)
	r.TryPush(42)
	assert.Equal(t, 42, buf[0])
}

func TestRingConcurrentSPSC(t *testing.T) {
	const total = 1_000_000
	r := New[uint64](64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= total; {
			if r.TryPush(i) {
				i++
			} else {
				runtime.Gosched()
			}
		}
	}()

	var sum, last uint64
	var outOfOrder bool
	go func() {
		defer wg.Done()
		for n := 0; n < total; {
			v, ok := r.TryPop()
			if !ok {
				runtime.Gosched()
				continue
			}
			if v != last+1 {
				outOfOrder = true
			}
			last = v
			sum += v
			n++
		}
	}()
	wg.Wait()

	assert.False(t, outOfOrder)
	assert.Equal(t, uint64(total), last)
	assert.Equal(t, uint64(total)*(total+1)/2, sum)
}

func TestRingConcurrentBulk(t *testing.T) {
	const total = 200_000
	r := New[uint32](33)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]uint32, 5)
		for i := uint32(0); i < total; {
			for j := range chunk {
				chunk[j] = i + uint32(j)
			}
			if r.Provide(chunk) {
				i += uint32(len(chunk))
			} else {
				runtime.Gosched()
			}
		}
	}()

	dst := make([]uint32, 7)
	expect := uint32(0)
	for expect < total {
		n := r.Consume(dst)
		if n == 0 {
			runtime.Gosched()
			continue
		}
		for _, v := range dst[:n] {
			require.Equal(t, expect, v)
			expect++
		}
	}
	wg.Wait()
}
