// Package bus is the node controller: it owns the node identity, the
// attached links, modules and hooks, routes traffic between links and
// dispatches it locally.
package bus

import (
	"errors"
	"strconv"
	"time"

	"github.com/pion/logging"

	"sysbus-go/button"
	"sysbus-go/drivers/eeprom"
	"sysbus-go/drivers/gpio"
	"sysbus-go/errcode"
	"sysbus-go/link"
	"sysbus-go/module"
	"sysbus-go/protocol"
	"sysbus-go/trace"
	"sysbus-go/x/timex"
)

const (
	MaxLinks   = 3
	MaxModules = 5
	MaxHooks   = 5
)

// Config wires a controller to its platform.
type Config struct {
	// Store persists the node record and module regions. Nil keeps
	// everything in RAM.
	Store    eeprom.Device
	NodeBase int64

	// NodeID is used when Store holds no node record. Zero leaves the node
	// uninitialized until it is identified.
	NodeID uint16

	Button *button.Button // optional config button
	LED    gpio.Pin       // optional status LED
	Clock  timex.Clock

	// Reboot restarts the platform after a factory reset. Nil keeps
	// running, uninitialized.
	Reboot func()
	// Sleep paces the reset blink. Nil uses time.Sleep.
	Sleep func(time.Duration)

	Trace         trace.Logger
	LoggerFactory logging.LoggerFactory
}

// Controller is single-threaded: call it from one superloop.
type Controller struct {
	cfg    Config
	clk    timex.Clock
	log    logging.LeveledLogger
	modLog logging.LeveledLogger
	tracer trace.Logger
	sleep  func(time.Duration)

	id          uint16
	initialized bool
	firstBoot   bool

	links   [MaxLinks]link.Link
	modules [MaxModules]module.Module
	hooks   [MaxHooks]Hook

	busy    bool
	ident   identification
	confirm blinker
}

// New loads the node record from storage. A missing record is written from
// cfg.NodeID when that is non-zero.
func New(cfg Config) (*Controller, error) {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.Clock == nil {
		cfg.Clock = timex.System{}
	}
	c := &Controller{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    cfg.LoggerFactory.NewLogger("bus"),
		modLog: cfg.LoggerFactory.NewLogger("module"),
		tracer: cfg.Trace,
		sleep:  cfg.Sleep,
	}
	if c.tracer == nil {
		c.tracer = trace.Nop{}
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if err := c.loadIdentity(); err != nil {
		return nil, err
	}
	if c.initialized {
		c.log.Infof("node initialized with id %d", c.id)
	} else {
		c.log.Info("node waiting for identification")
	}
	return c, nil
}

func (c *Controller) loadIdentity() error {
	c.firstBoot = true
	if c.cfg.Store == nil {
		c.id = c.cfg.NodeID
		c.initialized = c.id != 0
		return nil
	}
	const op = "bus.identity"
	if err := eeprom.CheckRange(op, c.cfg.Store.Size(), c.cfg.NodeBase, module.NodeRecordLen); err != nil {
		return err
	}
	var rec [module.NodeRecordLen]byte
	if _, err := c.cfg.Store.ReadAt(rec[:], c.cfg.NodeBase); err != nil {
		return errcode.Wrap(errcode.Of(err), op, err)
	}
	if id := uint16(rec[1])<<8 | uint16(rec[2]); rec[0] == module.NodeSentinel && id <= protocol.MaxNodeAddr {
		c.id = id
		c.initialized = true
		c.firstBoot = false
		return nil
	}
	if c.cfg.NodeID == 0 {
		c.id = 0
		c.initialized = false
		return nil
	}
	if err := c.persistID(c.cfg.NodeID); err != nil {
		return err
	}
	c.id = c.cfg.NodeID
	c.initialized = true
	return nil
}

func (c *Controller) persistID(id uint16) error {
	if c.cfg.Store == nil {
		return nil
	}
	rec := [module.NodeRecordLen]byte{module.NodeSentinel, byte(id >> 8), byte(id)}
	if _, err := c.cfg.Store.WriteAt(rec[:], c.cfg.NodeBase); err != nil {
		return errcode.Wrap(errcode.Of(err), "bus.identity", err)
	}
	return nil
}

func (c *Controller) NodeID() uint16    { return c.id }
func (c *Controller) Initialized() bool { return c.initialized }

// FirstBoot runs fn when no node record was found at construction.
func (c *Controller) FirstBoot(fn func()) bool {
	if !c.firstBoot || fn == nil {
		return false
	}
	c.log.Debug("first boot")
	fn()
	return true
}

// SetNodeID persists id, marks the node initialized and announces it.
func (c *Controller) SetNodeID(id uint16) error {
	if id > protocol.MaxNodeAddr {
		return errcode.New(errcode.InvalidAddress, "bus.set_node_id", strconv.Itoa(int(id))+" > 2047")
	}
	if err := c.persistID(id); err != nil {
		return err
	}
	c.id = id
	c.initialized = true
	c.firstBoot = false
	c.log.Infof("node id set to %d", id)

	if err := c.SendTo(protocol.Broadcast, 0, 0, byte(protocol.CmdNodeBoot)); err != nil {
		c.log.Warnf("boot announce: %v", err)
	}
	for _, m := range c.modules {
		if m != nil {
			m.BroadcastPresentation()
		}
	}
	return nil
}

// Send transmits m on every link except the one it came from. A locally
// generated message is also dispatched to this node. Link failures are
// joined; one failing link does not stop the others.
func (c *Controller) Send(m protocol.Message) error {
	if !m.Valid() {
		return errcode.New(errcode.PayloadTooLong, "bus.send", "len "+strconv.Itoa(int(m.Len)))
	}
	if err := m.Addr.Validate(); err != nil {
		return err
	}
	var errs []error
	for i, l := range c.links {
		id := protocol.LinkID(i)
		if l == nil || id == m.Origin {
			continue
		}
		err := l.Send(m.Addr, m.Payload())
		c.tracer.Log(trace.FromMessage(c.id, trace.Out, id, m, err))
		if err != nil {
			c.log.Debugf("link %d: send %v: %v", i, m, err)
			errs = append(errs, errcode.Wrap(errcode.Of(err), "bus.send link "+strconv.Itoa(i), err))
		}
	}
	if m.Origin == protocol.NoLink && c.initialized && c.id != 0 {
		c.tracer.Log(trace.FromMessage(c.id, trace.Local, protocol.NoLink, m, nil))
		c.Process(&m)
	}
	return errors.Join(errs...)
}

// SendTo sends a local message with this node as source.
func (c *Controller) SendTo(t protocol.MsgType, target uint16, port uint8, payload ...byte) error {
	m, err := protocol.NewMessage(protocol.Address{Type: t, Target: target, Source: c.id, Port: port}, payload...)
	if err != nil {
		return err
	}
	return c.Send(m)
}

// ReceiveOnce polls the links in slot order and handles the first message
// found: routed to the other links when route is set, then dispatched
// locally if the node is initialized. It refuses to run from inside a
// dispatch.
func (c *Controller) ReceiveOnce(route bool) (protocol.Message, bool) {
	if c.busy {
		c.log.Warn("receive refused: re-entered from dispatch")
		return invalidMessage(), false
	}
	c.busy = true
	defer func() { c.busy = false }()
	return c.receive(route)
}

func invalidMessage() protocol.Message {
	return protocol.Message{Len: protocol.InvalidLen, Origin: protocol.NoLink}
}

func (c *Controller) receive(route bool) (protocol.Message, bool) {
	for i, l := range c.links {
		if l == nil {
			continue
		}
		m, ok := l.TryReceive()
		if !ok {
			continue
		}
		m.Origin = protocol.LinkID(i)
		c.tracer.Log(trace.FromMessage(c.id, trace.In, m.Origin, m, nil))
		if route {
			if err := c.Send(m); err != nil {
				c.log.Debugf("route %v: %v", m, err)
			}
		}
		if c.initialized {
			c.Process(&m)
		}
		return m, true
	}
	return invalidMessage(), false
}

// Process dispatches m on this node: matching hooks first, then the node's
// own commands, then the modules.
func (c *Controller) Process(m *protocol.Message) {
	for i := range c.hooks {
		if h := &c.hooks[i]; h.Fn != nil && h.Matches(m) {
			h.Fn(m)
		}
	}
	if c.internal(m) {
		return
	}
	switch m.Addr.Type {
	case protocol.Multicast:
		for _, mod := range c.modules {
			if mod != nil {
				mod.Process(m)
			}
		}
	case protocol.Unicast, protocol.Streaming:
		if m.Addr.Target != c.id {
			return
		}
		if mod := c.portOwner(m.Addr.Port); mod != nil {
			mod.Process(m)
		}
	}
}

func (c *Controller) internal(m *protocol.Message) bool {
	cmd, ok := m.Cmd()
	if !ok || c.id == 0 {
		return false
	}
	toSelf := m.Addr.Type == protocol.Unicast && m.Addr.Target == c.id
	p := m.Payload()

	switch cmd {
	case protocol.CmdNodePing:
		if !toSelf {
			return false
		}
		if err := c.SendTo(protocol.Unicast, m.Addr.Source, m.Addr.Port, byte(protocol.CmdNodePong)); err != nil {
			c.log.Debugf("pong to %d: %v", m.Addr.Source, err)
		}
	case protocol.CmdNodeID:
		if !toSelf || len(p) < 3 {
			return false
		}
		if err := c.SetNodeID(uint16(p[1])<<8 | uint16(p[2])); err != nil {
			c.log.Warnf("node id from %d: %v", m.Addr.Source, err)
		}
	case protocol.CmdResetNode:
		if !toSelf {
			return false
		}
		c.Reset()
	case protocol.CmdReqType, protocol.CmdReq:
		var targets []module.Module
		switch {
		case m.Addr.Type == protocol.Broadcast:
			targets = c.modules[:]
		case toSelf:
			targets = []module.Module{c.portOwner(m.Addr.Port)}
		default:
			return false
		}
		for _, mod := range targets {
			if mod == nil {
				continue
			}
			if cmd == protocol.CmdReqType {
				mod.BroadcastPresentation()
			} else {
				mod.BroadcastState()
			}
		}
	default:
		return false
	}
	return true
}

func (c *Controller) portOwner(port uint8) module.Module {
	for _, mod := range c.modules {
		if mod != nil && mod.Port() == port {
			return mod
		}
	}
	return nil
}

// Tick runs one superloop step: one routed receive, the config button,
// identification and blink progress, then the module ticks when the node
// is initialized and not identifying.
func (c *Controller) Tick() {
	if c.busy {
		c.log.Warn("tick refused: re-entered from dispatch")
		return
	}
	c.busy = true
	defer func() { c.busy = false }()

	m, got := c.receive(true)
	now := c.clk.NowMs()
	c.pollButton()
	if c.ident.active {
		c.identifyStep(now, &m, got)
	}
	c.confirm.step(now, c.cfg.LED)

	if !c.initialized {
		if !c.ident.active {
			c.setLED(true)
		}
		return
	}
	if c.ident.active {
		return
	}
	for _, mod := range c.modules {
		if mod != nil {
			mod.Tick()
		}
	}
}
