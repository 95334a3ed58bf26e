package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysbus-go/button"
	"sysbus-go/drivers/eeprom"
	"sysbus-go/drivers/gpio"
	"sysbus-go/errcode"
	"sysbus-go/link/can"
	"sysbus-go/module"
	"sysbus-go/module/dout"
	"sysbus-go/protocol"
	"sysbus-go/x/timex"
)

type fakeLink struct {
	inbox   []protocol.Message
	sent    []protocol.Message
	openErr error
	sendErr error
}

func (l *fakeLink) Open() error { return l.openErr }

func (l *fakeLink) Send(a protocol.Address, p []byte) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	m, err := protocol.NewMessage(a, p...)
	if err != nil {
		return err
	}
	l.sent = append(l.sent, m)
	return nil
}

func (l *fakeLink) TryReceive() (protocol.Message, bool) {
	if len(l.inbox) == 0 {
		return protocol.Message{}, false
	}
	m := l.inbox[0]
	l.inbox = l.inbox[1:]
	return m, true
}

func (l *fakeLink) push(t *testing.T, a protocol.Address, payload ...byte) {
	t.Helper()
	m, err := protocol.NewMessage(a, payload...)
	require.NoError(t, err)
	l.inbox = append(l.inbox, m)
}

func (l *fakeLink) last() *protocol.Message { return &l.sent[len(l.sent)-1] }

func newNode(t *testing.T, cfg Config, links ...*fakeLink) *Controller {
	t.Helper()
	if cfg.Sleep == nil {
		cfg.Sleep = func(time.Duration) {}
	}
	c, err := New(cfg)
	require.NoError(t, err)
	for _, l := range links {
		_, err := c.AttachLink(l)
		require.NoError(t, err)
		l.sent = nil
	}
	return c
}

func uni(target, source uint16, port uint8) protocol.Address {
	return protocol.Address{Type: protocol.Unicast, Target: target, Source: source, Port: port}
}

func TestAttachLinkAnnouncesBoot(t *testing.T) {
	c := newNode(t, Config{NodeID: 5})
	l := &fakeLink{}
	id, err := c.AttachLink(l)
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkID(0), id)
	require.Len(t, l.sent, 1)
	assert.Equal(t, protocol.Address{Type: protocol.Broadcast, Source: 5}, l.sent[0].Addr)
	assert.Equal(t, []byte{byte(protocol.CmdNodeBoot)}, l.sent[0].Payload())
}

func TestRoutingSkipsOriginLink(t *testing.T) {
	a, b := &fakeLink{}, &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a, b)

	a.push(t, uni(9, 1, 0), byte(protocol.CmdBool), 1)
	m, ok := c.ReceiveOnce(true)
	require.True(t, ok)
	assert.Equal(t, protocol.LinkID(0), m.Origin)
	assert.Empty(t, a.sent, "never echoed to its origin")
	require.Len(t, b.sent, 1)
	assert.Equal(t, uni(9, 1, 0), b.sent[0].Addr)

	b.push(t, uni(9, 1, 0), byte(protocol.CmdBool), 0)
	_, ok = c.ReceiveOnce(false)
	require.True(t, ok)
	assert.Empty(t, a.sent, "routing off")

	_, ok = c.ReceiveOnce(true)
	assert.False(t, ok)
}

func TestLocalSendReachesAllLinksAndModules(t *testing.T) {
	a, b := &fakeLink{}, &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a, b)
	pin := gpio.NewMem(16, false)
	require.NoError(t, c.AttachModule(dout.New(pin, 2, false), 0))

	require.NoError(t, c.SendTo(protocol.Unicast, 5, 2, byte(protocol.CmdBool), 1))
	assert.True(t, pin.Get())
	// The command itself and the module's state broadcast, on both links.
	assert.Len(t, a.sent, 2)
	assert.Len(t, b.sent, 2)
	assert.Equal(t, []byte{byte(protocol.CmdBool), 1}, a.last().Payload())
	assert.Equal(t, protocol.Broadcast, a.last().Addr.Type)
}

func TestPing(t *testing.T) {
	a, b := &fakeLink{}, &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a, b)

	a.push(t, uni(5, 1, 3), byte(protocol.CmdNodePing))
	_, ok := c.ReceiveOnce(true)
	require.True(t, ok)

	require.Len(t, a.sent, 1)
	assert.Equal(t, uni(1, 5, 3), a.sent[0].Addr)
	assert.Equal(t, []byte{byte(protocol.CmdNodePong)}, a.sent[0].Payload())
	// b saw the routed ping, then the pong.
	require.Len(t, b.sent, 2)
	assert.Equal(t, []byte{byte(protocol.CmdNodePong)}, b.sent[1].Payload())

	a.push(t, uni(6, 1, 3), byte(protocol.CmdNodePing))
	c.ReceiveOnce(true)
	assert.Len(t, a.sent, 1, "ping for another node")
}

func TestNodeIDCommandPersists(t *testing.T) {
	store := eeprom.NewMem(module.StorageSize(0, MaxModules))
	a := &fakeLink{}
	c := newNode(t, Config{Store: store, NodeID: 5}, a)
	assert.Equal(t, []byte{99, 0, 5}, store.Bytes()[:3], "configured id written on first boot")
	assert.True(t, c.FirstBoot(func() {}))

	a.push(t, uni(5, 0, 0), byte(protocol.CmdNodeID), 0x01, 0x23)
	c.ReceiveOnce(true)
	assert.Equal(t, uint16(0x123), c.NodeID())
	assert.Equal(t, []byte{99, 0x01, 0x23}, store.Bytes()[:3])
	require.NotEmpty(t, a.sent)
	assert.Equal(t, protocol.Address{Type: protocol.Broadcast, Source: 0x123}, a.last().Addr)
	assert.Equal(t, []byte{byte(protocol.CmdNodeBoot)}, a.last().Payload())

	again, err := New(Config{Store: store, NodeID: 5})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x123), again.NodeID())
	assert.False(t, again.FirstBoot(func() { t.Fatal("not a first boot") }))

	assert.True(t, errors.Is(c.SetNodeID(2048), errcode.InvalidAddress))
}

func TestIdentificationAssignsID(t *testing.T) {
	store := eeprom.NewMem(module.StorageSize(0, MaxModules))
	clk := timex.NewManual(0)
	led := gpio.NewMem(25, false)
	a := &fakeLink{}
	c := newNode(t, Config{Store: store, Clock: clk, LED: led}, a)
	require.False(t, c.Initialized())

	c.Tick()
	assert.True(t, led.Get(), "steady on while uninitialized")

	c.Identify()
	clk.Advance(600 * time.Millisecond)
	c.Tick()
	assert.True(t, led.Get())
	clk.Advance(500 * time.Millisecond)
	c.Tick()
	assert.False(t, led.Get(), "blinking")

	before := led.Sets()
	a.push(t, protocol.Address{Type: protocol.Broadcast, Target: 42, Source: 0}, byte(protocol.CmdNodeID))
	c.Tick()
	assert.True(t, c.Initialized())
	assert.False(t, c.Identifying())
	assert.Equal(t, uint16(42), c.NodeID())
	assert.Equal(t, []byte{99, 0, 42}, store.Bytes()[:3])
	assert.Equal(t, uni(0, 42, 0), a.last().Addr, "echo to the assigner")
	assert.Equal(t, []byte{byte(protocol.CmdNodeID)}, a.last().Payload())

	for i := 0; i < 25; i++ {
		clk.Advance(confirmHalf)
		c.Tick()
	}
	assert.Equal(t, uint32(2*confirmBlinks), led.Sets()-before)
	assert.False(t, led.Get())
}

func TestIdentificationPresentsModules(t *testing.T) {
	clk := timex.NewManual(0)
	a := &fakeLink{}
	c := newNode(t, Config{Clock: clk}, a)
	require.NoError(t, c.AttachModule(dout.New(gpio.NewMem(1, false), 2, false), 0))
	require.NoError(t, c.AttachModule(dout.New(gpio.NewMem(2, false), 3, false), 1))
	a.sent = nil

	c.Identify()
	a.push(t, protocol.Address{Type: protocol.Broadcast, Target: 7, Source: 0}, byte(protocol.CmdNodeID))
	c.Tick()
	require.True(t, c.Initialized())

	bcast := func(port uint8) protocol.Address {
		return protocol.Address{Type: protocol.Broadcast, Source: 7, Port: port}
	}
	present := []byte{byte(protocol.CmdModType), dout.Kind, 0}
	require.Len(t, a.sent, 4)
	assert.Equal(t, bcast(0), a.sent[0].Addr)
	assert.Equal(t, []byte{byte(protocol.CmdNodeBoot)}, a.sent[0].Payload())
	assert.Equal(t, bcast(2), a.sent[1].Addr)
	assert.Equal(t, present, a.sent[1].Payload())
	assert.Equal(t, bcast(3), a.sent[2].Addr)
	assert.Equal(t, present, a.sent[2].Payload())
	assert.Equal(t, uni(0, 7, 0), a.sent[3].Addr, "echo to the assigner")
	assert.Equal(t, []byte{byte(protocol.CmdNodeID)}, a.sent[3].Payload())

	a.sent = nil
	require.NoError(t, c.SetNodeID(9))
	require.Len(t, a.sent, 3)
	assert.Equal(t, []byte{byte(protocol.CmdNodeBoot)}, a.sent[0].Payload())
	assert.Equal(t, uint8(2), a.sent[1].Addr.Port)
	assert.Equal(t, uint8(3), a.sent[2].Addr.Port)
	assert.Equal(t, present, a.sent[2].Payload())
}

func TestIdentificationTimesOut(t *testing.T) {
	clk := timex.NewManual(0)
	c := newNode(t, Config{NodeID: 7, Clock: clk})
	c.Identify()
	c.Tick()
	assert.True(t, c.Identifying())

	clk.Advance(IdentifyTimeout)
	c.Tick()
	assert.False(t, c.Identifying())
	assert.Equal(t, uint16(7), c.NodeID())
}

func TestIdentificationIgnoresOtherMessages(t *testing.T) {
	clk := timex.NewManual(0)
	a := &fakeLink{}
	c := newNode(t, Config{Clock: clk}, a)
	c.Identify()
	a.push(t, protocol.Address{Type: protocol.Broadcast, Target: 42}, byte(protocol.CmdNodeID), 0, 42)
	a.push(t, protocol.Address{Type: protocol.Broadcast, Target: 42}, byte(protocol.CmdNodePing))
	c.Tick()
	c.Tick()
	assert.True(t, c.Identifying())
	assert.False(t, c.Initialized())
}

func TestButtonLongPushIdentifiesThenResets(t *testing.T) {
	store := eeprom.NewMem(module.StorageSize(0, MaxModules))
	clk := timex.NewManual(0)
	pin := gpio.NewMem(15, false)
	rebooted := 0
	c := newNode(t, Config{
		Store:  store,
		NodeID: 9,
		Clock:  clk,
		Button: button.New(button.Config{Pin: pin, Clock: clk}),
		Reboot: func() { rebooted++ },
	})

	longPush := func() {
		pin.Set(true)
		c.Tick()
		clk.Advance(button.DefaultDebounce)
		c.Tick()
		clk.Advance(button.DefaultLongPush)
		c.Tick()
		pin.Set(false)
		c.Tick()
		clk.Advance(button.DefaultDebounce)
		c.Tick()
	}

	longPush()
	require.True(t, c.Identifying())
	longPush()
	assert.Equal(t, 1, rebooted)
	assert.False(t, c.Identifying())
	assert.False(t, c.Initialized())
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, store.Bytes()[:3])
}

func TestShortPushAbortsIdentification(t *testing.T) {
	clk := timex.NewManual(0)
	pin := gpio.NewMem(15, false)
	c := newNode(t, Config{NodeID: 9, Clock: clk, Button: button.New(button.Config{Pin: pin, Clock: clk})})
	c.Identify()

	pin.Set(true)
	c.Tick()
	clk.Advance(button.DefaultDebounce)
	c.Tick()
	pin.Set(false)
	c.Tick()
	clk.Advance(button.DefaultDebounce)
	c.Tick()
	assert.False(t, c.Identifying())
}

func TestResetNodeCommand(t *testing.T) {
	store := eeprom.NewMem(module.StorageSize(0, MaxModules))
	a := &fakeLink{}
	var rebooted bool
	c := newNode(t, Config{Store: store, NodeID: 4, Reboot: func() { rebooted = true }}, a)

	a.push(t, uni(3, 0, 0), byte(protocol.CmdResetNode))
	c.ReceiveOnce(true)
	assert.False(t, rebooted, "addressed to another node")

	a.push(t, uni(4, 0, 0), byte(protocol.CmdResetNode))
	c.ReceiveOnce(true)
	assert.True(t, rebooted)
	for _, b := range store.Bytes() {
		require.Equal(t, eeprom.Erased, b)
	}
}

func TestHooks(t *testing.T) {
	c := newNode(t, Config{NodeID: 5})
	var group, port3 int
	require.NoError(t, c.AttachHook(Hook{Type: protocol.Multicast, Target: 0x100, Port: AnyPort, Cmd: protocol.CmdBool, Fn: func(*protocol.Message) { group++ }}))
	require.NoError(t, c.AttachHook(Hook{Type: protocol.Unicast, Target: 5, Port: 3, Cmd: protocol.CmdAll, Fn: func(*protocol.Message) { port3++ }}))

	send := func(a protocol.Address, p ...byte) {
		m, err := protocol.NewMessage(a, p...)
		require.NoError(t, err)
		c.Process(&m)
	}
	send(protocol.Address{Type: protocol.Multicast, Target: 0x100}, byte(protocol.CmdBool), 1)
	send(protocol.Address{Type: protocol.Multicast, Target: 0x100}, byte(protocol.CmdDimUp))
	send(protocol.Address{Type: protocol.Multicast, Target: 0x101}, byte(protocol.CmdBool), 1)
	send(uni(5, 1, 3), byte(protocol.CmdNodePing)) // hooks run before internal commands
	send(uni(5, 1, 3))
	send(uni(5, 1, 4), byte(protocol.CmdBool), 1)
	assert.Equal(t, 1, group)
	assert.Equal(t, 2, port3)

	for i := 2; i < MaxHooks; i++ {
		require.NoError(t, c.AttachHook(Hook{Fn: func(*protocol.Message) {}}))
	}
	assert.True(t, errors.Is(c.AttachHook(Hook{Fn: func(*protocol.Message) {}}), errcode.CapacityFull))
	assert.True(t, errors.Is(c.AttachHook(Hook{}), errcode.InvalidParams))
}

func TestAttachModuleErrors(t *testing.T) {
	store := eeprom.NewMem(module.StorageSize(0, 1))
	c := newNode(t, Config{Store: store, NodeID: 5})
	first := dout.New(gpio.NewMem(1, false), 2, false)

	assert.True(t, errors.Is(c.AttachModule(first, MaxModules), errcode.SlotOutOfRange))
	require.NoError(t, c.AttachModule(first, 0))
	assert.True(t, errors.Is(c.AttachModule(first, 1), errcode.AlreadyAttached))
	assert.True(t, errors.Is(c.AttachModule(dout.New(gpio.NewMem(2, false), 2, false), 1), errcode.PortInUse))
	assert.True(t, errors.Is(c.AttachModule(dout.New(gpio.NewMem(2, false), 3, false), 0), errcode.SlotOccupied))
	assert.True(t, errors.Is(c.AttachModule(dout.New(gpio.NewMem(2, false), 3, false), 1), errcode.StorageBounds), "region past the end of storage")
	assert.Nil(t, c.Module(1))

	require.NoError(t, c.DetachModule(first))
	assert.True(t, errors.Is(c.DetachModule(first), errcode.NotAttached))
	slot, err := c.AttachModuleAuto(first)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	assert.Same(t, first, c.Module(0))
}

func TestAttachLinkErrors(t *testing.T) {
	c := newNode(t, Config{NodeID: 5})
	broken := &fakeLink{openErr: errcode.LinkClosed}
	_, err := c.AttachLink(broken)
	assert.True(t, errors.Is(err, errcode.LinkClosed))

	links := []*fakeLink{{}, {}, {}}
	for _, l := range links {
		_, err := c.AttachLink(l)
		require.NoError(t, err)
	}
	_, err = c.AttachLink(links[0])
	assert.True(t, errors.Is(err, errcode.AlreadyAttached))
	_, err = c.AttachLink(&fakeLink{})
	assert.True(t, errors.Is(err, errcode.CapacityFull))

	require.NoError(t, c.DetachLink(links[1]))
	assert.True(t, errors.Is(c.DetachLink(links[1]), errcode.NotAttached))
	id, err := c.AttachLink(&fakeLink{})
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkID(1), id)
}

func TestSendErrors(t *testing.T) {
	a, b := &fakeLink{}, &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a, b)

	assert.True(t, errors.Is(c.SendTo(protocol.Unicast, 3000, 0, 1), errcode.InvalidAddress))
	assert.True(t, errors.Is(c.SendTo(protocol.Broadcast, 0, 0, make([]byte, 9)...), errcode.PayloadTooLong))
	assert.Empty(t, a.sent)

	a.sendErr = errcode.LinkClosed
	err := c.SendTo(protocol.Broadcast, 0, 0, byte(protocol.CmdNodeBoot))
	assert.True(t, errors.Is(err, errcode.LinkClosed))
	assert.Len(t, b.sent, 1, "other links still served")
}

func TestReentryRefused(t *testing.T) {
	a := &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a)
	var inner bool
	require.NoError(t, c.AttachHook(Hook{Type: protocol.Broadcast, Port: AnyPort, Cmd: protocol.CmdAll, Fn: func(*protocol.Message) {
		_, inner = c.ReceiveOnce(true)
		c.Tick()
	}}))
	a.push(t, protocol.Address{Type: protocol.Broadcast, Source: 1}, byte(protocol.CmdNodeBoot))
	a.push(t, protocol.Address{Type: protocol.Broadcast, Source: 1}, byte(protocol.CmdNodeBoot))

	c.Tick()
	assert.False(t, inner)
	assert.Len(t, a.inbox, 1, "nested calls consumed nothing")
}

func TestModuleDispatch(t *testing.T) {
	a := &fakeLink{}
	c := newNode(t, Config{NodeID: 5}, a)
	pin := gpio.NewMem(1, false)
	out := dout.New(pin, 2, false)
	require.NoError(t, c.AttachModule(out, 0))
	require.True(t, out.Groups.Add(0x100, protocol.CmdAll))

	a.push(t, protocol.Address{Type: protocol.Multicast, Target: 0x100, Source: 1}, byte(protocol.CmdBool), 1)
	c.ReceiveOnce(true)
	assert.True(t, pin.Get())

	a.push(t, uni(5, 1, 3), byte(protocol.CmdBool), 0)
	c.ReceiveOnce(true)
	assert.True(t, pin.Get(), "no module on port 3")

	a.sent = nil
	a.push(t, protocol.Address{Type: protocol.Broadcast, Source: 1}, byte(protocol.CmdReqType))
	c.ReceiveOnce(true)
	require.Len(t, a.sent, 1)
	assert.Equal(t, protocol.Address{Type: protocol.Broadcast, Source: 5, Port: 2}, a.sent[0].Addr)
	assert.Equal(t, []byte{byte(protocol.CmdModType), dout.Kind, 0}, a.sent[0].Payload())

	a.sent = nil
	a.push(t, uni(5, 1, 2), byte(protocol.CmdReq))
	c.ReceiveOnce(true)
	require.Len(t, a.sent, 1)
	assert.Equal(t, []byte{byte(protocol.CmdBool), 1}, a.sent[0].Payload())
}

func TestUninitializedNodeDoesNotDispatch(t *testing.T) {
	a := &fakeLink{}
	c := newNode(t, Config{}, a)
	a.push(t, uni(0, 1, 0), byte(protocol.CmdNodePing))
	_, ok := c.ReceiveOnce(true)
	assert.True(t, ok)
	assert.Empty(t, a.sent)
}

func TestTwoNodesOverCANSegment(t *testing.T) {
	seg := can.NewSegment()
	nodeA := newNode(t, Config{NodeID: 1})
	nodeB := newNode(t, Config{NodeID: 2})
	_, err := nodeA.AttachLink(can.New(can.Config{Controller: seg.Attach(8)}))
	require.NoError(t, err)
	_, err = nodeB.AttachLink(can.New(can.Config{Controller: seg.Attach(8)}))
	require.NoError(t, err)

	var pongs int
	require.NoError(t, nodeA.AttachHook(Hook{Type: protocol.Unicast, Target: 1, Port: AnyPort, Cmd: protocol.CmdNodePong, Fn: func(m *protocol.Message) {
		assert.Equal(t, uint16(2), m.Addr.Source)
		pongs++
	}}))

	require.NoError(t, nodeA.SendTo(protocol.Unicast, 2, 0, byte(protocol.CmdNodePing)))
	for i := 0; i < 4; i++ {
		nodeB.Tick()
		nodeA.Tick()
	}
	assert.Equal(t, 1, pongs)
}
