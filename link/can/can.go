// Package can carries sysbus messages over a classical CAN bus, one message
// per extended-id frame.
package can

import (
	"strconv"

	"github.com/pion/logging"

	"sysbus-go/errcode"
	"sysbus-go/protocol"
)

const (
	// EFFFlag marks an extended identifier in the 32-bit id word.
	EFFFlag  uint32 = 0x80000000
	MaxStdID uint32 = 0x7FF
	MaxExtID uint32 = 0x1FFFFFFF
	MaxDLC          = 8
)

// Frame is a classical CAN data frame.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool
	Len      uint8
	Data     [MaxDLC]byte
}

func (f Frame) Validate() error {
	if f.Len > MaxDLC {
		return errcode.New(errcode.PayloadTooLong, "can.frame", "dlc "+strconv.Itoa(int(f.Len)))
	}
	lim := MaxStdID
	if f.Extended {
		lim = MaxExtID
	}
	if f.ID > lim {
		return errcode.New(errcode.InvalidAddress, "can.frame", "id out of range")
	}
	return nil
}

// Controller is one CAN transceiver. TryRecv must not block; each
// controller keeps its own notion of pending input.
type Controller interface {
	Begin() error
	Transmit(f Frame) error
	TryRecv() (Frame, bool)
}

type Config struct {
	Controller    Controller
	LoggerFactory logging.LoggerFactory
}

type Link struct {
	ctl     Controller
	log     logging.LeveledLogger
	ignored uint32
}

func New(cfg Config) *Link {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Link{ctl: cfg.Controller, log: lf.NewLogger("link-can")}
}

func (l *Link) Open() error {
	if l.ctl == nil {
		return errcode.New(errcode.InvalidParams, "can.open", "no controller")
	}
	return l.ctl.Begin()
}

// FrameOf maps a message onto its CAN frame.
func FrameOf(addr protocol.Address, payload []byte) (Frame, error) {
	if len(payload) > protocol.MaxPayload {
		return Frame{}, errcode.New(errcode.PayloadTooLong, "can.send", strconv.Itoa(len(payload))+" > 8")
	}
	id, err := protocol.EncodeID(addr)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{ID: id &^ EFFFlag, Extended: true, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

func (l *Link) Send(addr protocol.Address, payload []byte) error {
	f, err := FrameOf(addr, payload)
	if err != nil {
		return err
	}
	if err := l.ctl.Transmit(f); err != nil {
		l.log.Debugf("transmit %v: %v", addr, err)
		return errcode.Wrap(errcode.Of(err), "can.send", err)
	}
	return nil
}

// TryReceive returns the next sysbus frame. Standard-id frames belong to
// other protocols sharing the bus and are skipped.
func (l *Link) TryReceive() (protocol.Message, bool) {
	for {
		f, ok := l.ctl.TryRecv()
		if !ok {
			return protocol.Message{}, false
		}
		if !f.Extended || f.Len > MaxDLC {
			l.ignored++
			continue
		}
		m := protocol.Message{
			Addr:   protocol.DecodeID(f.ID | EFFFlag),
			Data:   f.Data,
			Len:    int8(f.Len),
			Origin: protocol.NoLink,
		}
		// Bytes past the DLC are not part of the message.
		clear(m.Data[f.Len:])
		return m, true
	}
}

// Ignored counts frames skipped by TryReceive.
func (l *Link) Ignored() uint32 { return l.ignored }

// Ready forwards the controller's readiness signal when it has one.
func (l *Link) Ready() <-chan struct{} {
	if r, ok := l.ctl.(interface{ Ready() <-chan struct{} }); ok {
		return r.Ready()
	}
	return nil
}

func (l *Link) Close() error {
	if c, ok := l.ctl.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
