package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"

	"sysbus-go/errcode"
	"sysbus-go/x/shmring"
)

// Transport is a blocking byte pipe. uartx.UART satisfies it directly;
// FromReadWriter adapts sockets, ttys and pipes.
type Transport interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
}

type rwTransport struct{ rw io.ReadWriter }

// FromReadWriter adapts rw. Cancellation of a pending read relies on
// closing rw, which Stream.Close does when rw is an io.Closer.
func FromReadWriter(rw io.ReadWriter) Transport { return rwTransport{rw: rw} }

func (t rwTransport) Write(p []byte) (int, error) { return t.rw.Write(p) }
func (t rwTransport) RecvSomeContext(_ context.Context, buf []byte) (int, error) {
	return t.rw.Read(buf)
}
func (t rwTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type StreamConfig struct {
	// RingSize is the receive buffer in bytes, a power of two (default 256).
	RingSize int
	// ReadChunk bounds a single transport read (default 64).
	ReadChunk int

	LoggerFactory logging.LoggerFactory
}

// Stream is a Port over a Transport. A reader goroutine moves received
// bytes into a ring; the consumer side never blocks.
type Stream struct {
	t     Transport
	rx    *shmring.Ring
	chunk int
	log   logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	done   chan struct{}
	closed atomic.Bool
	rxErr  atomic.Pointer[error]
}

func NewStream(t Transport, cfg StreamConfig) *Stream {
	size := cfg.RingSize
	if size == 0 {
		size = 256
	}
	chunk := cfg.ReadChunk
	if chunk <= 0 {
		chunk = 64
	}
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		t:      t,
		rx:     shmring.New(size),
		chunk:  chunk,
		log:    lf.NewLogger("link-serial"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Open starts the reader. Further calls are no-ops.
func (s *Stream) Open() error {
	if s.closed.Load() {
		return errcode.New(errcode.LinkClosed, "serial.open", "stream closed")
	}
	s.start.Do(func() { go s.readLoop() })
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	buf := make([]byte, s.chunk)
	for {
		n, err := s.t.RecvSomeContext(s.ctx, buf)
		if n > 0 && !s.push(buf[:n]) {
			return
		}
		if err == nil {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		s.rxErr.Store(&err)
		if !errors.Is(err, io.EOF) {
			s.log.Warnf("reader stopped: %v", err)
		}
		return
	}
}

// push blocks until p fits in the ring or the stream closes.
func (s *Stream) push(p []byte) bool {
	for len(p) > 0 {
		p = p[s.rx.Write(p):]
		if len(p) == 0 {
			return true
		}
		select {
		case <-s.rx.Writable():
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

func (s *Stream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, errcode.New(errcode.LinkClosed, "serial.write", "stream closed")
	}
	return s.t.Write(p)
}

// TryReadByte returns the next received byte without blocking.
func (s *Stream) TryReadByte() (byte, bool) { return s.rx.TryReadByte() }

// Readable fires when the receive buffer goes from empty to non-empty.
func (s *Stream) Readable() <-chan struct{} { return s.rx.Readable() }

// Err reports why the reader stopped, if it did.
func (s *Stream) Err() error {
	if p := s.rxErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed once the reader goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close stops the reader and closes the transport when it is closable.
// It does not wait for the reader; use Done for that.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if c, ok := s.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
