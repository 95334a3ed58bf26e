// Package protocol holds the sysbus wire model: addresses, messages,
// the 32-bit broadcast-bus identifier and the serial hex framing.
package protocol

import (
	"strconv"

	"sysbus-go/errcode"
)

type MsgType uint8

const (
	Unicast MsgType = iota
	Multicast
	Broadcast
	Streaming
)

func (t MsgType) String() string {
	switch t {
	case Unicast:
		return "unicast"
	case Multicast:
		return "multicast"
	case Broadcast:
		return "broadcast"
	case Streaming:
		return "streaming"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t MsgType) Valid() bool { return t <= Streaming }

// Field limits.
const (
	MaxNodeAddr  = 0x7FF  // 11-bit node address (target or source)
	MaxGroupAddr = 0xFFFF // 16-bit multicast group
	MaxPort      = 31
	MaxPayload   = 8
)

// Address is the routing header of a message.
// Source 0 is the network master. Multicast carries a 16-bit group in
// Target and no port.
type Address struct {
	Type   MsgType
	Target uint16
	Source uint16
	Port   uint8
}

// InvalidID is returned by EncodeID on failure.
const InvalidID uint32 = 0

// Identifier layout (29-bit extended CAN id plus flag bit).
const (
	idMarker     = uint32(1) << 31
	idTypeShift  = 27
	idPortShift  = 22
	idTgtShift   = 11
	idTypeMask   = 0x3
	idPortMask   = 0x1F
	idSourceMask = MaxNodeAddr
)

// Validate reports the first field that does not fit the wire format.
func (a Address) Validate() error {
	const op = "protocol.address"
	if !a.Type.Valid() {
		return errcode.New(errcode.InvalidAddress, op, "unknown type "+strconv.Itoa(int(a.Type)))
	}
	if a.Source > MaxNodeAddr {
		return errcode.New(errcode.InvalidAddress, op, "source "+strconv.Itoa(int(a.Source))+" > 2047")
	}
	if a.Type == Multicast {
		return nil
	}
	if a.Port > MaxPort {
		return errcode.New(errcode.InvalidAddress, op, "port "+strconv.Itoa(int(a.Port))+" > 31")
	}
	if a.Target > MaxNodeAddr {
		return errcode.New(errcode.InvalidAddress, op, "target "+strconv.Itoa(int(a.Target))+" > 2047")
	}
	return nil
}

// EncodeID packs a into the broadcast-bus identifier. It returns InvalidID
// and an invalid_address error when a field is out of range.
func EncodeID(a Address) (uint32, error) {
	if err := a.Validate(); err != nil {
		return InvalidID, err
	}
	id := idMarker | uint32(a.Type)<<idTypeShift | uint32(a.Target)<<idTgtShift | uint32(a.Source)
	if a.Type != Multicast {
		id |= uint32(a.Port) << idPortShift
	}
	return id, nil
}

// DecodeID is the inverse of EncodeID. It never fails; callers validate
// the result where it matters.
func DecodeID(id uint32) Address {
	a := Address{
		Type:   MsgType(id >> idTypeShift & idTypeMask),
		Source: uint16(id & idSourceMask),
	}
	if a.Type == Multicast {
		a.Target = uint16(id >> idTgtShift & MaxGroupAddr)
		return a
	}
	a.Target = uint16(id >> idTgtShift & MaxNodeAddr)
	a.Port = uint8(id >> idPortShift & idPortMask)
	return a
}

func (a Address) String() string {
	s := a.Type.String() + " " + strconv.Itoa(int(a.Source)) + "->" + strconv.Itoa(int(a.Target))
	if a.Type != Multicast {
		s += ":" + strconv.Itoa(int(a.Port))
	}
	return s
}
