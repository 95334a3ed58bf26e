package can

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysbus-go/errcode"
	"sysbus-go/protocol"
)

func TestFrameOf(t *testing.T) {
	addr := protocol.Address{Type: protocol.Unicast, Target: 7, Source: 1, Port: 3}
	f, err := FrameOf(addr, []byte{0x03})
	require.NoError(t, err)
	assert.True(t, f.Extended)
	assert.LessOrEqual(t, f.ID, MaxExtID)
	assert.Equal(t, uint8(1), f.Len)

	id, _ := protocol.EncodeID(addr)
	assert.Equal(t, id, f.ID|EFFFlag)

	_, err = FrameOf(addr, make([]byte, 9))
	assert.True(t, errors.Is(err, errcode.PayloadTooLong))
	_, err = FrameOf(protocol.Address{Type: protocol.Unicast, Target: 4000}, nil)
	assert.True(t, errors.Is(err, errcode.InvalidAddress))
}

func TestFrame_Validate(t *testing.T) {
	assert.NoError(t, Frame{ID: MaxStdID}.Validate())
	assert.Error(t, Frame{ID: MaxStdID + 1}.Validate())
	assert.NoError(t, Frame{ID: MaxExtID, Extended: true}.Validate())
	assert.Error(t, Frame{Len: 9}.Validate())
}

func TestLink_OverSegment(t *testing.T) {
	seg := NewSegment()
	a := New(Config{Controller: seg.Attach(0)})
	b := New(Config{Controller: seg.Attach(0)})
	c := New(Config{Controller: seg.Attach(0)})
	for _, l := range []*Link{a, b, c} {
		require.NoError(t, l.Open())
	}

	addr := protocol.Address{Type: protocol.Multicast, Target: 0xABCD, Source: 12}
	require.NoError(t, a.Send(addr, []byte{byte(protocol.CmdBool), 1}))

	_, ok := a.TryReceive()
	assert.False(t, ok, "sender does not hear itself")
	for _, l := range []*Link{b, c} {
		select {
		case <-l.Ready():
		default:
			t.Fatal("expected readiness signal")
		}
		m, ok := l.TryReceive()
		require.True(t, ok)
		assert.Equal(t, addr, m.Addr)
		assert.Equal(t, []byte{byte(protocol.CmdBool), 1}, m.Payload())
		assert.Equal(t, protocol.NoLink, m.Origin)
		_, ok = l.TryReceive()
		assert.False(t, ok)
	}
}

func TestLink_SkipsStandardFrames(t *testing.T) {
	seg := NewSegment()
	raw := seg.Attach(0)
	l := New(Config{Controller: seg.Attach(0)})

	require.NoError(t, raw.Transmit(Frame{ID: 0x123, Len: 2, Data: [8]byte{1, 2}}))
	f, _ := FrameOf(protocol.Address{Type: protocol.Broadcast, Source: 3}, []byte{0x02})
	f.Data[5] = 0xEE // garbage past the DLC
	require.NoError(t, raw.Transmit(f))

	m, ok := l.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint16(3), m.Addr.Source)
	assert.Equal(t, [8]byte{0x02}, m.Data)
	assert.Equal(t, uint32(1), l.Ignored())
}

func TestSegmentPort_QueueAndClose(t *testing.T) {
	seg := NewSegment()
	tx := seg.Attach(0)
	rx := seg.Attach(2)

	for i := 0; i < 3; i++ {
		require.NoError(t, tx.Transmit(Frame{ID: uint32(i)}))
	}
	assert.Equal(t, uint32(1), rx.Dropped())

	f, ok := rx.TryRecv()
	require.True(t, ok)
	assert.Equal(t, uint32(0), f.ID)

	require.NoError(t, rx.Close())
	_, ok = rx.TryRecv()
	assert.False(t, ok)
	assert.True(t, errors.Is(rx.Begin(), errcode.LinkClosed))
	assert.True(t, errors.Is(rx.Transmit(Frame{}), errcode.LinkClosed))
	require.NoError(t, tx.Transmit(Frame{ID: 9}), "detached peers are skipped")
}

type failingCtl struct{}

func (failingCtl) Begin() error           { return nil }
func (failingCtl) Transmit(Frame) error   { return errcode.Busy }
func (failingCtl) TryRecv() (Frame, bool) { return Frame{}, false }

func TestLink_TransmitErrorKeepsCode(t *testing.T) {
	l := New(Config{Controller: failingCtl{}})
	err := l.Send(protocol.Address{Type: protocol.Broadcast}, nil)
	assert.True(t, errors.Is(err, errcode.Busy))
	assert.Nil(t, l.Ready())
	assert.Error(t, New(Config{}).Open())
}
