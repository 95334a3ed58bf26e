// Package shmring is a lock-free single-producer, single-consumer byte ring.
// A transport reader goroutine fills it; the superloop drains it one byte
// at a time through a link.
package shmring

import "sync/atomic"

type Ring struct {
	buf  []byte
	mask uint32

	// Free-running counters; their difference is the fill level.
	head atomic.Uint32 // next byte to read
	tail atomic.Uint32 // next byte to write

	readable chan struct{}
	writable chan struct{}
}

// New allocates a ring of size bytes. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || size&(size-1) != 0 {
		panic("shmring: size must be a power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) Cap() int { return len(r.buf) }

// Len is the number of buffered bytes.
func (r *Ring) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Free is the number of bytes Write can still accept.
func (r *Ring) Free() int { return r.Cap() - r.Len() }

// Write copies the prefix of p that fits and returns its length. It never
// blocks; producers wait on Writable when it returns short. Only the
// producer may call it.
func (r *Ring) Write(p []byte) int {
	head, tail := r.head.Load(), r.tail.Load()
	fill := tail - head
	n := min(len(p), len(r.buf)-int(fill))
	if n <= 0 {
		return 0
	}
	for done := 0; done < n; {
		at := (tail + uint32(done)) & r.mask
		done += copy(r.buf[at:], p[done:n])
	}
	r.tail.Store(tail + uint32(n))
	if fill == 0 {
		signal(r.readable)
	}
	return n
}

// TryReadByte takes the oldest byte. ok is false when the ring is empty.
// Only the consumer may call it.
func (r *Ring) TryReadByte() (b byte, ok bool) {
	head, tail := r.head.Load(), r.tail.Load()
	if head == tail {
		return 0, false
	}
	b = r.buf[head&r.mask]
	r.head.Store(head + 1)
	if int(tail-head) == len(r.buf) {
		signal(r.writable)
	}
	return b, true
}

// Readable fires when the ring goes from empty to non-empty.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable fires when the ring stops being full.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
