package bus

import (
	"strconv"

	"sysbus-go/errcode"
	"sysbus-go/link"
	"sysbus-go/module"
	"sysbus-go/protocol"
)

// AnyPort makes a hook ignore the port.
const AnyPort int8 = -1

// Hook observes dispatched messages whether or not a module owns them.
type Hook struct {
	Type   protocol.MsgType
	Target uint16       // 0 matches any target
	Port   int8         // AnyPort matches any port
	Cmd    protocol.Cmd // CmdAll matches any command
	Fn     func(*protocol.Message)
}

func (h *Hook) Matches(m *protocol.Message) bool {
	if h.Type != m.Addr.Type {
		return false
	}
	if h.Target != 0 && h.Target != m.Addr.Target {
		return false
	}
	if h.Port != AnyPort && (h.Port < 0 || uint8(h.Port) != m.Addr.Port) {
		return false
	}
	if h.Cmd == protocol.CmdAll {
		return true
	}
	cmd, ok := m.Cmd()
	return ok && cmd == h.Cmd
}

func (c *Controller) AttachHook(h Hook) error {
	if h.Fn == nil {
		return errcode.New(errcode.InvalidParams, "bus.attach_hook", "nil func")
	}
	for i := range c.hooks {
		if c.hooks[i].Fn == nil {
			c.hooks[i] = h
			return nil
		}
	}
	return errcode.New(errcode.CapacityFull, "bus.attach_hook", "")
}

// AttachModule binds m to slot cfgID, which is also its storage region,
// and starts it. Ports must be unique across modules.
func (c *Controller) AttachModule(m module.Module, cfgID int) error {
	const op = "bus.attach_module"
	if m == nil {
		return errcode.New(errcode.InvalidParams, op, "nil module")
	}
	if cfgID < 0 || cfgID >= MaxModules {
		return errcode.New(errcode.SlotOutOfRange, op, "cfg "+strconv.Itoa(cfgID))
	}
	for _, have := range c.modules {
		if have == m {
			return errcode.New(errcode.AlreadyAttached, op, "")
		}
	}
	if c.modules[cfgID] != nil {
		return errcode.New(errcode.SlotOccupied, op, "cfg "+strconv.Itoa(cfgID))
	}
	if owner := c.portOwner(m.Port()); owner != nil {
		return errcode.New(errcode.PortInUse, op, "port "+strconv.Itoa(int(m.Port())))
	}
	err := m.Begin(module.BeginInput{
		Persist:  c.cfg.Store != nil,
		Store:    c.cfg.Store,
		NodeBase: c.cfg.NodeBase,
		CfgID:    cfgID,
		Bus:      c,
		Log:      c.modLog,
	})
	if err != nil {
		return errcode.Wrap(errcode.Of(err), op, err)
	}
	c.modules[cfgID] = m
	c.log.Debugf("module kind %d on port %d in slot %d", m.Kind(), m.Port(), cfgID)
	return nil
}

// AttachModuleAuto attaches m to the first free slot and returns it.
func (c *Controller) AttachModuleAuto(m module.Module) (int, error) {
	for i, have := range c.modules {
		if have == nil {
			return i, c.AttachModule(m, i)
		}
	}
	return -1, errcode.New(errcode.CapacityFull, "bus.attach_module", "")
}

func (c *Controller) DetachModule(m module.Module) error {
	for i, have := range c.modules {
		if have != nil && have == m {
			c.modules[i] = nil
			return nil
		}
	}
	return errcode.New(errcode.NotAttached, "bus.detach_module", "")
}

// Module returns the module in slot cfgID, or nil.
func (c *Controller) Module(cfgID int) module.Module {
	if cfgID < 0 || cfgID >= MaxModules {
		return nil
	}
	return c.modules[cfgID]
}

// AttachLink opens l, takes the first free slot and announces the node on
// it with a NODE_BOOT broadcast.
func (c *Controller) AttachLink(l link.Link) (protocol.LinkID, error) {
	const op = "bus.attach_link"
	if l == nil {
		return protocol.NoLink, errcode.New(errcode.InvalidParams, op, "nil link")
	}
	slot := -1
	for i, have := range c.links {
		if have == l {
			return protocol.NoLink, errcode.New(errcode.AlreadyAttached, op, "")
		}
		if have == nil && slot < 0 {
			slot = i
		}
	}
	if slot < 0 {
		return protocol.NoLink, errcode.New(errcode.CapacityFull, op, "")
	}
	if err := l.Open(); err != nil {
		c.log.Errorf("link open: %v", err)
		return protocol.NoLink, errcode.Wrap(errcode.Of(err), op, err)
	}
	c.links[slot] = l

	boot := protocol.Address{Type: protocol.Broadcast, Source: c.id}
	if err := l.Send(boot, []byte{byte(protocol.CmdNodeBoot)}); err != nil {
		c.log.Warnf("link %d: boot announce: %v", slot, err)
	}
	c.log.Infof("link attached in slot %d", slot)
	return protocol.LinkID(slot), nil
}

// DetachLink frees the slot of l. The caller keeps ownership of l.
func (c *Controller) DetachLink(l link.Link) error {
	for i, have := range c.links {
		if have != nil && have == l {
			c.links[i] = nil
			return nil
		}
	}
	return errcode.New(errcode.NotAttached, "bus.detach_link", "")
}
