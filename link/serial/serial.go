// Package serial carries sysbus messages over a point-to-point byte stream
// using the hex framing from package protocol.
package serial

import (
	"github.com/pion/logging"

	"sysbus-go/errcode"
	"sysbus-go/protocol"
)

// Port is the byte side of a serial link. TryReadByte must not block.
type Port interface {
	Write(p []byte) (int, error)
	TryReadByte() (byte, bool)
}

type Config struct {
	Port Port
	// MaxFrame is the decoder ceiling; see protocol.WithMaxFrame.
	MaxFrame int
	// ScanBudget bounds bytes consumed by one TryReceive (default 128).
	ScanBudget int

	LoggerFactory logging.LoggerFactory
}

type Link struct {
	port   Port
	dec    *protocol.Decoder
	budget int
	tx     []byte
	log    logging.LeveledLogger
}

func New(cfg Config) *Link {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	var opts []protocol.DecoderOption
	if cfg.MaxFrame > 0 {
		opts = append(opts, protocol.WithMaxFrame(cfg.MaxFrame))
	}
	budget := cfg.ScanBudget
	if budget <= 0 {
		budget = 128
	}
	return &Link{
		port:   cfg.Port,
		dec:    protocol.NewDecoder(opts...),
		budget: budget,
		tx:     make([]byte, 0, protocol.MaxFrameLen+2),
		log:    lf.NewLogger("link-serial"),
	}
}

func (l *Link) Open() error {
	if l.port == nil {
		return errcode.New(errcode.InvalidParams, "serial.open", "no port")
	}
	if o, ok := l.port.(interface{ Open() error }); ok {
		return o.Open()
	}
	return nil
}

func (l *Link) Send(addr protocol.Address, payload []byte) error {
	m, err := protocol.NewMessage(addr, payload...)
	if err != nil {
		return err
	}
	frame, err := protocol.AppendFrame(l.tx[:0], m)
	if err != nil {
		return err
	}
	n, err := l.port.Write(frame)
	if err != nil {
		l.log.Debugf("send %v: %v", addr, err)
		return errcode.Wrap(errcode.Of(err), "serial.send", err)
	}
	if n != len(frame) {
		return errcode.New(errcode.LinkRejected, "serial.send", "short write")
	}
	return nil
}

// TryReceive drains buffered bytes until a frame completes, the buffer is
// empty or the scan budget is spent. Partial frames carry over.
func (l *Link) TryReceive() (protocol.Message, bool) {
	for i := 0; i < l.budget; i++ {
		b, ok := l.port.TryReadByte()
		if !ok {
			return protocol.Message{}, false
		}
		if m, ok := l.dec.Feed(b); ok {
			return m, true
		}
	}
	return protocol.Message{}, false
}

// Ready fires when the port signals new data, if it can.
func (l *Link) Ready() <-chan struct{} {
	if r, ok := l.port.(interface{ Readable() <-chan struct{} }); ok {
		return r.Readable()
	}
	return nil
}

// Resyncs reports frames dropped by the decoder.
func (l *Link) Resyncs() uint32 { return l.dec.Resyncs() }

func (l *Link) Close() error {
	if c, ok := l.port.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
