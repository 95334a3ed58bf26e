package protocol

import (
	"strconv"
	"strings"

	"sysbus-go/errcode"
	"sysbus-go/x/conv"
)

// LinkID indexes a link slot on the controller.
type LinkID int8

// NoLink marks a locally generated message.
const NoLink LinkID = -1

// InvalidLen marks an absent or invalid message.
const InvalidLen int8 = -1

type Message struct {
	Addr   Address
	Data   [MaxPayload]byte
	Len    int8
	Origin LinkID
}

// NewMessage builds a local message. Payloads above 8 bytes are rejected.
func NewMessage(a Address, payload ...byte) (Message, error) {
	m := Message{Addr: a, Len: InvalidLen, Origin: NoLink}
	if len(payload) > MaxPayload {
		return m, errcode.New(errcode.PayloadTooLong, "protocol.message", strconv.Itoa(len(payload))+" > 8")
	}
	m.Len = int8(copy(m.Data[:], payload))
	return m, nil
}

func (m *Message) Valid() bool { return m.Len >= 0 && m.Len <= MaxPayload }

// Payload returns the used part of Data, or nil when invalid.
func (m *Message) Payload() []byte {
	if !m.Valid() {
		return nil
	}
	return m.Data[:m.Len]
}

// Cmd returns the command tag. ok is false for an empty payload.
func (m *Message) Cmd() (c Cmd, ok bool) {
	if m.Len < 1 {
		return 0, false
	}
	return Cmd(m.Data[0]), true
}

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Addr.String())
	b.WriteString(" [")
	for i, v := range m.Payload() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(conv.AppendHexByte(nil, v))
	}
	b.WriteByte(']')
	if c, ok := m.Cmd(); ok {
		b.WriteString(" ")
		b.WriteString(c.String())
	}
	if m.Origin != NoLink {
		b.WriteString(" via ")
		b.WriteString(strconv.Itoa(int(m.Origin)))
	}
	return b.String()
}
