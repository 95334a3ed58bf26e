package module

import (
	"sysbus-go/drivers/eeprom"
	"sysbus-go/errcode"
	"sysbus-go/protocol"
)

// Entry is one multicast membership. Addr 0 marks an empty slot.
type Entry struct {
	Addr   uint16
	Filter protocol.Cmd
}

// Groups is the fixed-capacity multicast membership set of one module,
// persisted behind the register file in the same region.
type Groups struct {
	e    [GroupCapacity]Entry
	regs *Registers
}

func (g *Groups) bind(regs *Registers) { g.regs = regs }

func (g *Groups) offset() int64 { return g.regs.base + 1 + RegisterCapacity }

func (g *Groups) persist() error {
	if g.regs == nil || g.regs.dev == nil {
		return nil
	}
	if !g.regs.stored {
		if err := g.regs.Commit(); err != nil {
			return err
		}
	}
	var buf [GroupCapacity * groupEntryLen]byte
	for i, e := range g.e {
		buf[i*3] = byte(e.Addr >> 8)
		buf[i*3+1] = byte(e.Addr)
		buf[i*3+2] = byte(e.Filter)
	}
	if _, err := g.regs.dev.WriteAt(buf[:], g.offset()); err != nil {
		return errcode.Wrap(errcode.Of(err), "groups.persist", err)
	}
	return nil
}

// load reads the table. Erased cells read as empty slots.
func (g *Groups) load() error {
	if g.regs == nil || g.regs.dev == nil {
		return errcode.New(errcode.NoStorage, "groups.load", "")
	}
	var buf [GroupCapacity * groupEntryLen]byte
	if _, err := g.regs.dev.ReadAt(buf[:], g.offset()); err != nil {
		return errcode.Wrap(errcode.Of(err), "groups.load", err)
	}
	for i := range g.e {
		e := Entry{Addr: uint16(buf[i*3])<<8 | uint16(buf[i*3+1]), Filter: protocol.Cmd(buf[i*3+2])}
		if e.Addr == 0xFFFF && e.Filter == protocol.Cmd(eeprom.Erased) {
			e = Entry{}
		}
		g.e[i] = e
	}
	return nil
}

func (g *Groups) indexOf(addr uint16, filter protocol.Cmd) int {
	for i, e := range g.e {
		if e.Addr != 0 && e.Addr == addr && e.Filter == filter {
			return i
		}
	}
	return -1
}

// Add stores a membership. It returns false when the entry is already
// present, the set is full, addr is 0 or the change cannot be persisted.
func (g *Groups) Add(addr uint16, filter protocol.Cmd) bool {
	if addr == 0 || g.indexOf(addr, filter) >= 0 {
		return false
	}
	for i := range g.e {
		if g.e[i].Addr != 0 {
			continue
		}
		g.e[i] = Entry{Addr: addr, Filter: filter}
		if g.persist() != nil {
			g.e[i] = Entry{}
			return false
		}
		return true
	}
	return false
}

// Remove drops a membership. Absence afterwards is what counts, so it
// returns true whether or not the entry was present.
func (g *Groups) Remove(addr uint16, filter protocol.Cmd) bool {
	i := g.indexOf(addr, filter)
	if i < 0 {
		return true
	}
	g.e[i] = Entry{}
	_ = g.persist()
	return true
}

func (g *Groups) Clear() error {
	g.e = [GroupCapacity]Entry{}
	return g.persist()
}

// Contains reports any membership of addr, whatever its filter.
func (g *Groups) Contains(addr uint16) bool {
	if addr == 0 {
		return false
	}
	for _, e := range g.e {
		if e.Addr == addr {
			return true
		}
	}
	return false
}

// Match reports whether a multicast to addr carrying cmd is for this set.
func (g *Groups) Match(addr uint16, cmd protocol.Cmd) bool {
	if addr == 0 {
		return false
	}
	for _, e := range g.e {
		if e.Addr == addr && (e.Filter == protocol.CmdAll || e.Filter == cmd) {
			return true
		}
	}
	return false
}

func (g *Groups) Entry(slot int) (Entry, bool) {
	if slot < 0 || slot >= GroupCapacity {
		return Entry{}, false
	}
	return g.e[slot], true
}

func (g *Groups) Len() int {
	n := 0
	for _, e := range g.e {
		if e.Addr != 0 {
			n++
		}
	}
	return n
}
