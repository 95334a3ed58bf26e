package module

import (
	"github.com/pion/logging"

	"sysbus-go/errcode"
	"sysbus-go/protocol"
)

// StateBroadcaster is the part of a concrete module Base calls back into.
type StateBroadcaster interface {
	BroadcastState() bool
}

// Base carries what every module shares: port, kind, register file, group
// set and the over-the-wire management commands. Concrete modules embed it
// and call Accept first in Process.
type Base struct {
	Regs   Registers
	Groups Groups

	owner   StateBroadcaster
	cfg     Config
	port    uint8
	kind    uint8
	cfgID   int
	persist bool
	bus     Sender
	log     logging.LeveledLogger
}

// NewBase builds the shared part of a module. cfg may be nil for modules
// without configuration.
func NewBase(owner StateBroadcaster, port, kind uint8, cfg Config) Base {
	b := Base{owner: owner, cfg: cfg, port: port, kind: kind, cfgID: -1}
	if cfg != nil {
		cfg.Defaults()
	}
	return b
}

func (b *Base) Port() uint8                { return b.port }
func (b *Base) Kind() uint8                { return b.kind }
func (b *Base) CfgID() int                 { return b.cfgID }
func (b *Base) Bus() Sender                { return b.bus }
func (b *Base) Log() logging.LeveledLogger { return b.log }

// Begin binds storage and loads the stored configuration. A missing or
// foreign region leaves the compiled-in defaults in place.
func (b *Base) Begin(in BeginInput) error {
	b.cfgID = in.CfgID
	b.bus = in.Bus
	b.persist = in.Persist && in.Store != nil
	b.log = in.Log
	if b.log == nil {
		b.log = logging.NewDefaultLoggerFactory().NewLogger("module")
	}

	dev := in.Store
	if !b.persist {
		dev = nil
	}
	b.Regs.Bind(dev, in.NodeBase, b.kind, in.CfgID)
	b.Groups.bind(&b.Regs)
	if b.cfg != nil {
		b.Regs.fill(b.cfg)
	}
	if !b.persist {
		return nil
	}
	if err := b.Regs.Load(); err != nil {
		if errcode.Of(err) == errcode.NotInitialized {
			b.log.Debugf("cfg %d: no stored config, using defaults", in.CfgID)
			return nil
		}
		return err
	}
	if b.cfg != nil {
		if err := b.cfg.UnmarshalRegisters(b.Regs.config()); err != nil {
			b.log.Warnf("cfg %d: stored config rejected: %v", in.CfgID, err)
			b.cfg.Defaults()
			b.Regs.fill(b.cfg)
		}
	}
	return b.Groups.load()
}

// Accept filters m for this module and serves the management commands.
// It returns true when m should reach the module's own logic.
func (b *Base) Accept(m *protocol.Message) bool {
	cmd, hasCmd := m.Cmd()
	switch m.Addr.Type {
	case protocol.Streaming:
		return m.Addr.Port == b.port
	case protocol.Multicast:
		return hasCmd && b.Groups.Match(m.Addr.Target, cmd)
	case protocol.Broadcast:
		if cmd == protocol.CmdReqType && hasCmd {
			b.BroadcastPresentation()
		}
		return false
	case protocol.Unicast:
		if m.Addr.Port != b.port || !hasCmd {
			return false
		}
	default:
		return false
	}

	p := m.Payload()
	switch cmd {
	case protocol.CmdReqType:
		b.BroadcastPresentation()
	case protocol.CmdReq:
		if b.owner != nil {
			b.owner.BroadcastState()
		}
	case protocol.CmdGroupAdd, protocol.CmdGroupRem:
		b.groupChange(m, cmd, p)
	case protocol.CmdGroupsClear:
		if err := b.Groups.Clear(); err != nil {
			b.replyError(m)
			return false
		}
		b.ack(m, byte(cmd))
	case protocol.CmdGroupGet:
		if len(p) < 2 {
			b.replyError(m)
			return false
		}
		e, ok := b.Groups.Entry(int(p[1]))
		if !ok {
			b.replyError(m)
			return false
		}
		b.reply(m, byte(protocol.CmdGroupReturn), p[1], byte(e.Addr>>8), byte(e.Addr), byte(e.Filter))
	case protocol.CmdCfgRegSet:
		b.regSet(m, p)
	case protocol.CmdCfgRegGet:
		b.regGet(m, p)
	case protocol.CmdCfgRegCommit:
		if err := b.Regs.Commit(); err != nil {
			if b.persist {
				b.log.Warnf("cfg %d: commit: %v", b.cfgID, err)
			}
			b.replyError(m)
			return false
		}
		b.ack(m, byte(cmd))
	case protocol.CmdCfgReset:
		b.resetConfig()
		b.ack(m, byte(cmd))
	default:
		return true
	}
	return false
}

func (b *Base) groupChange(m *protocol.Message, cmd protocol.Cmd, p []byte) {
	if len(p) < 3 || len(p) > 4 {
		b.replyError(m)
		return
	}
	addr := uint16(p[1])<<8 | uint16(p[2])
	filter := protocol.CmdAll
	if len(p) == 4 {
		filter = protocol.Cmd(p[3])
	}
	var ok bool
	if cmd == protocol.CmdGroupAdd {
		ok = b.Groups.Add(addr, filter)
	} else {
		ok = b.Groups.Remove(addr, filter)
	}
	if !ok {
		b.replyError(m)
		return
	}
	b.ack(m, byte(cmd), p[1], p[2], byte(filter))
}

func (b *Base) regSet(m *protocol.Message, p []byte) {
	if len(p) < 3 {
		b.replyError(m)
		return
	}
	index, val := int(p[1]), p[2:]
	if index == 0 || checkSpan("registers.set", index, len(val)) != nil {
		b.replyError(m)
		return
	}
	if b.cfg != nil {
		// Parse the candidate register file before anything is stored.
		var cand [RegisterCapacity]byte
		copy(cand[:], b.Regs.r[:])
		copy(cand[index:], val)
		if err := b.cfg.UnmarshalRegisters(cand[1:]); err != nil {
			b.log.Debugf("cfg %d: register %d rejected: %v", b.cfgID, index, err)
			b.replyError(m)
			return
		}
	}
	if err := b.Regs.Set(index, val); err != nil {
		b.log.Warnf("cfg %d: register %d: %v", b.cfgID, index, err)
		if b.cfg != nil {
			// Roll the parsed config back to what is stored.
			_ = b.cfg.UnmarshalRegisters(b.Regs.config())
		}
		b.replyError(m)
		return
	}
	b.applyConfig()
	b.ack(m, p...)
}

func (b *Base) regGet(m *protocol.Message, p []byte) {
	if len(p) < 2 {
		b.replyError(m)
		return
	}
	index, count := int(p[1]), 1
	if len(p) > 2 {
		count = int(p[2])
	}
	regs, err := b.Regs.Get(index, count)
	if err != nil {
		b.replyError(m)
		return
	}
	for off := 0; off < len(regs); off += MaxRegisterChunk {
		chunk := regs[off:min(off+MaxRegisterChunk, len(regs))]
		out := append([]byte{byte(protocol.CmdCfgReturn), byte(index + off)}, chunk...)
		b.reply(m, out...)
	}
}

func (b *Base) resetConfig() {
	if b.cfg != nil {
		b.cfg.Defaults()
		b.Regs.fill(b.cfg)
	}
	b.Groups.e = [GroupCapacity]Entry{}
	if b.persist {
		if err := b.Regs.Wipe(); err != nil {
			b.log.Warnf("cfg %d: wipe: %v", b.cfgID, err)
		}
	}
	b.applyConfig()
}

func (b *Base) applyConfig() {
	if a, ok := b.owner.(ConfigApplier); ok {
		a.ApplyConfig()
	}
}

// Reply sends a unicast to the requester, from this module's port.
func (b *Base) Reply(req *protocol.Message, payload ...byte) error {
	return b.send(protocol.Address{Type: protocol.Unicast, Target: req.Addr.Source, Port: b.port}, payload)
}

// Broadcast sends from this module's port to the whole network.
func (b *Base) Broadcast(payload ...byte) error {
	return b.send(protocol.Address{Type: protocol.Broadcast, Port: b.port}, payload)
}

// Publish sends to a multicast group.
func (b *Base) Publish(group uint16, payload ...byte) error {
	return b.send(protocol.Address{Type: protocol.Multicast, Target: group}, payload)
}

func (b *Base) send(a protocol.Address, payload []byte) error {
	if b.bus == nil {
		return errcode.New(errcode.NotAttached, "module.send", "")
	}
	a.Source = b.bus.NodeID()
	m, err := protocol.NewMessage(a, payload...)
	if err != nil {
		return err
	}
	return b.bus.Send(m)
}

func (b *Base) reply(req *protocol.Message, payload ...byte) {
	if err := b.Reply(req, payload...); err != nil && b.log != nil {
		b.log.Debugf("reply to %d: %v", req.Addr.Source, err)
	}
}

// ack replies ACK followed by echo, truncated to fit one message.
func (b *Base) ack(req *protocol.Message, echo ...byte) {
	b.reply(req, withTag(protocol.CmdAck, echo)...)
}

func (b *Base) replyError(req *protocol.Message) {
	b.reply(req, withTag(protocol.CmdError, req.Payload())...)
}

func withTag(c protocol.Cmd, echo []byte) []byte {
	out := make([]byte, 0, protocol.MaxPayload)
	out = append(out, byte(c))
	return append(out, echo[:min(len(echo), protocol.MaxPayload-1)]...)
}

// BroadcastPresentation announces [MOD_TYPE, kind, persist] from the
// module's port.
func (b *Base) BroadcastPresentation() {
	var persist byte
	if b.persist {
		persist = 1
	}
	if err := b.Broadcast(byte(protocol.CmdModType), b.kind, persist); err != nil && b.log != nil {
		b.log.Debugf("presentation: %v", err)
	}
}
