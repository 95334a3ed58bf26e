package protocol

import (
	"sysbus-go/errcode"
	"sysbus-go/x/conv"
)

// Serial framing control bytes.
const (
	SOH byte = 0x01
	STX byte = 0x02
	EOT byte = 0x04
	US  byte = 0x1F
)

const (
	// MinFrameCeiling is the smallest accepted decoder ceiling.
	MinFrameCeiling = 35
	// MaxFrameLen is the longest encodable frame, CR LF excluded:
	// multicast to FFFF from 7FF with eight data bytes.
	MaxFrameLen = 42

	portNone = "FF"
)

// AppendFrame appends the serial framing of m to dst:
//
//	SOH type US target US source US port US len STX [XX US]* EOT CR LF
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	if err := m.Addr.Validate(); err != nil {
		return dst, err
	}
	if !m.Valid() {
		return dst, errcode.New(errcode.PayloadTooLong, "protocol.frame", "invalid length")
	}
	dst = append(dst, SOH)
	dst = conv.AppendHex(dst, uint32(m.Addr.Type))
	dst = append(dst, US)
	dst = conv.AppendHex(dst, uint32(m.Addr.Target))
	dst = append(dst, US)
	dst = conv.AppendHex(dst, uint32(m.Addr.Source))
	dst = append(dst, US)
	if m.Addr.Type == Multicast {
		dst = append(dst, portNone...)
	} else {
		dst = conv.AppendHex(dst, uint32(m.Addr.Port))
	}
	dst = append(dst, US)
	dst = conv.AppendHexNibble(dst, byte(m.Len))
	dst = append(dst, STX)
	for _, b := range m.Payload() {
		dst = conv.AppendHexByte(dst, b)
		dst = append(dst, US)
	}
	return append(dst, EOT, '\r', '\n'), nil
}

type decodeState uint8

const (
	stAwaitHeader decodeState = iota
	stType
	stTarget
	stSource
	stPort
	stLength
	stAwaitData
	stData
)

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxFrame sets the ceiling on bytes buffered for one frame.
// Values below MinFrameCeiling are raised to it.
func WithMaxFrame(n int) DecoderOption {
	return func(d *Decoder) {
		if n < MinFrameCeiling {
			n = MinFrameCeiling
		}
		d.max = n
	}
}

// Decoder turns a serial byte stream back into messages. It never reports
// errors: a corrupt frame is dropped and decoding restarts at the next SOH.
type Decoder struct {
	max   int
	n     int // bytes of the current frame, SOH included
	state decodeState

	acc     uint32 // field accumulator
	digits  int    // digits seen in the current field
	m       Message
	dataIdx int
	resyncs uint32
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{max: MaxFrameLen}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Resyncs counts frames dropped since construction.
func (d *Decoder) Resyncs() uint32 { return d.resyncs }

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stAwaitHeader
	d.n = 0
}

// Feed consumes one byte and returns a message when b completes a frame.
func (d *Decoder) Feed(b byte) (Message, bool) {
	if b == SOH {
		// A header always starts a fresh frame, discarding any partial one.
		if d.state != stAwaitHeader {
			d.resyncs++
		}
		d.begin()
		return Message{}, false
	}
	if d.state == stAwaitHeader {
		return Message{}, false
	}
	d.n++
	if d.n > d.max {
		d.resync()
		return Message{}, false
	}
	return d.step(b)
}

func (d *Decoder) begin() {
	d.n = 1
	d.state = stType
	d.m = Message{Len: InvalidLen, Origin: NoLink}
	d.field()
}

func (d *Decoder) field() {
	d.acc = 0
	d.digits = 0
}

func (d *Decoder) accumulate(b byte) {
	d.acc = d.acc<<4 | uint32(conv.HexDigit(b))
	d.digits++
}

// resync abandons the current frame. Since SOH always restarts a frame the
// partial frame holds no further header, so decoding waits for the next one.
func (d *Decoder) resync() {
	d.resyncs++
	d.Reset()
}

func (d *Decoder) step(b byte) (Message, bool) {
	switch d.state {
	case stType, stTarget, stSource, stPort:
		if b != US {
			if b == STX || b == EOT {
				d.resync()
				return Message{}, false
			}
			d.accumulate(b)
			return Message{}, false
		}
		if d.digits == 0 || !d.closeHeaderField() {
			d.resync()
			return Message{}, false
		}
		d.state++
		d.field()

	case stLength:
		// Exactly one digit, then STX.
		if b == US || b == STX || b == EOT {
			d.resync()
			return Message{}, false
		}
		if v := conv.HexDigit(b); v <= MaxPayload {
			d.m.Len = int8(v)
			d.state = stAwaitData
		} else {
			d.resync()
		}

	case stAwaitData:
		if b != STX {
			d.resync()
			return Message{}, false
		}
		d.state = stData
		d.dataIdx = 0
		d.field()

	case stData:
		switch b {
		case US:
			if d.digits == 0 || d.dataIdx >= int(d.m.Len) {
				d.resync()
				return Message{}, false
			}
			d.m.Data[d.dataIdx] = byte(d.acc)
			d.dataIdx++
			d.field()
		case EOT:
			if d.digits != 0 || d.dataIdx != int(d.m.Len) {
				d.resync()
				return Message{}, false
			}
			m := d.m
			d.Reset()
			return m, true
		case STX:
			d.resync()
		default:
			if d.digits == 2 {
				d.resync()
				return Message{}, false
			}
			d.accumulate(b)
		}
	}
	return Message{}, false
}

// closeHeaderField stores the accumulated header field. It reports false
// when the value cannot be a valid address field.
func (d *Decoder) closeHeaderField() bool {
	v := d.acc
	switch d.state {
	case stType:
		if v > uint32(Streaming) || d.digits > 1 {
			return false
		}
		d.m.Addr.Type = MsgType(v)
	case stTarget:
		if v > MaxGroupAddr || d.digits > 4 {
			return false
		}
		if d.m.Addr.Type != Multicast && v > MaxNodeAddr {
			return false
		}
		d.m.Addr.Target = uint16(v)
	case stSource:
		if v > MaxNodeAddr || d.digits > 3 {
			return false
		}
		d.m.Addr.Source = uint16(v)
	case stPort:
		if v > MaxPort || d.digits > 2 {
			// "FF" and anything else out of range mean no port.
			v = 0
		}
		d.m.Addr.Port = uint8(v)
	}
	return true
}
