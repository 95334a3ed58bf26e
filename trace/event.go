// Package trace records bus traffic as a CBOR event stream for offline
// inspection.
package trace

import (
	"time"

	"sysbus-go/protocol"
)

// Direction of a traced message relative to the node.
type Direction uint8

const (
	In Direction = iota
	Out
	Local
)

func (d Direction) String() string {
	switch d {
	case In:
		return "IN"
	case Out:
		return "OUT"
	case Local:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Event is one traced message. Integer keys keep the stream compact.
type Event struct {
	Time    time.Time `cbor:"1,keyasint"`
	Session string    `cbor:"2,keyasint,omitempty"`
	Node    uint16    `cbor:"3,keyasint"`
	Dir     Direction `cbor:"4,keyasint"`
	// Link is the receiving or sending link slot, -1 for local.
	Link   int8   `cbor:"5,keyasint"`
	Type   uint8  `cbor:"6,keyasint"`
	Target uint16 `cbor:"7,keyasint"`
	Source uint16 `cbor:"8,keyasint"`
	Port   uint8  `cbor:"9,keyasint"`
	Data   []byte `cbor:"10,keyasint"`
	Err    string `cbor:"11,keyasint,omitempty"`
}

// FromMessage captures m. err, if any, is the send failure on link.
func FromMessage(node uint16, dir Direction, link protocol.LinkID, m protocol.Message, err error) Event {
	e := Event{
		Time:   time.Now(),
		Node:   node,
		Dir:    dir,
		Link:   int8(link),
		Type:   uint8(m.Addr.Type),
		Target: m.Addr.Target,
		Source: m.Addr.Source,
		Port:   m.Addr.Port,
		Data:   append([]byte{}, m.Payload()...),
	}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// Message rebuilds the traced message. Origin is the traced link.
func (e Event) Message() (protocol.Message, error) {
	m, err := protocol.NewMessage(protocol.Address{
		Type:   protocol.MsgType(e.Type),
		Target: e.Target,
		Source: e.Source,
		Port:   e.Port,
	}, e.Data...)
	m.Origin = protocol.LinkID(e.Link)
	return m, err
}

// Logger receives traced events. Implementations must be safe for
// concurrent use and must not block.
type Logger interface {
	Log(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(Event) {}

var _ Logger = Nop{}
