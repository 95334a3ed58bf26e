package can

import (
	"sync"

	"sysbus-go/errcode"
)

// Segment is an in-memory broadcast CAN segment. Every transmitted frame
// reaches all other attached ports; the sender does not hear itself.
type Segment struct {
	mu    sync.Mutex
	ports []*SegmentPort
}

func NewSegment() *Segment { return &Segment{} }

// Attach adds a port with an rx queue of depth frames (default 64).
func (s *Segment) Attach(depth int) *SegmentPort {
	if depth <= 0 {
		depth = 64
	}
	p := &SegmentPort{seg: s, depth: depth, ready: make(chan struct{}, 1)}
	s.mu.Lock()
	s.ports = append(s.ports, p)
	s.mu.Unlock()
	return p
}

func (s *Segment) detach(p *SegmentPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.ports {
		if q == p {
			s.ports = append(s.ports[:i], s.ports[i+1:]...)
			return
		}
	}
}

func (s *Segment) broadcast(from *SegmentPort, f Frame) {
	s.mu.Lock()
	peers := append([]*SegmentPort(nil), s.ports...)
	s.mu.Unlock()
	for _, p := range peers {
		if p != from {
			p.deliver(f)
		}
	}
}

// SegmentPort is one node's controller on a Segment.
type SegmentPort struct {
	seg   *Segment
	depth int
	ready chan struct{}

	mu      sync.Mutex
	q       []Frame
	closed  bool
	dropped uint32
}

func (p *SegmentPort) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errcode.New(errcode.LinkClosed, "can.segment", "port detached")
	}
	return nil
}

func (p *SegmentPort) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errcode.New(errcode.LinkClosed, "can.segment", "port detached")
	}
	p.seg.broadcast(p, f)
	return nil
}

func (p *SegmentPort) deliver(f Frame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.q) >= p.depth {
		p.dropped++
		p.mu.Unlock()
		return
	}
	p.q = append(p.q, f)
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *SegmentPort) TryRecv() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.q) == 0 {
		return Frame{}, false
	}
	f := p.q[0]
	p.q = p.q[1:]
	return f, true
}

// Ready fires after a frame is queued.
func (p *SegmentPort) Ready() <-chan struct{} { return p.ready }

// Dropped counts frames lost to a full queue.
func (p *SegmentPort) Dropped() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *SegmentPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.q = nil
	p.mu.Unlock()
	p.seg.detach(p)
	return nil
}
