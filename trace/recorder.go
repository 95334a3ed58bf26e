package trace

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Recorder appends events to a CBOR stream, stamping each with the
// recorder's session id.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	c       io.Closer
	session string
	closed  bool
	dropped uint32
}

// NewRecorder writes to w. A new random session id is drawn.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: NewEncoder(w), session: uuid.NewString()}
}

// Create opens path for appending, creating it with mode 0644.
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(f)
	r.c = f
	return r, nil
}

func (r *Recorder) Session() string { return r.session }

// Log encodes e. Encoding failures are counted, never returned.
func (r *Recorder) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	e.Session = r.session
	if err := r.enc.Encode(e); err != nil {
		r.dropped++
	}
}

// Dropped counts events lost to encoding or write errors.
func (r *Recorder) Dropped() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close is safe to call more than once. Later Log calls are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}

var _ Logger = (*Recorder)(nil)

// Reader streams events back from a trace.
type Reader struct {
	dec *cbor.Decoder
	c   io.Closer
}

func NewReader(r io.Reader) *Reader { return &Reader{dec: NewDecoder(r)} }

// Open reads a trace file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f)
	r.c = f
	return r, nil
}

// Next returns io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	var e Event
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	return e, nil
}

func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

// Stats summarises a trace.
type Stats struct {
	Events   int
	Sessions map[string]int
	ByDir    map[Direction]int
	ByCmd    map[uint8]int
	Errors   int
}

// Collect drains r into Stats.
func Collect(r *Reader) (Stats, error) {
	s := Stats{
		Sessions: map[string]int{},
		ByDir:    map[Direction]int{},
		ByCmd:    map[uint8]int{},
	}
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		if err != nil {
			return s, err
		}
		s.Events++
		s.Sessions[e.Session]++
		s.ByDir[e.Dir]++
		if len(e.Data) > 0 {
			s.ByCmd[e.Data[0]]++
		}
		if e.Err != "" {
			s.Errors++
		}
	}
}
