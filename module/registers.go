package module

import (
	"strconv"

	"sysbus-go/drivers/eeprom"
	"sysbus-go/errcode"
)

// Registers is the persisted register file of one module. Register 0 holds
// the module tag and doubles as the region's identity check.
type Registers struct {
	dev    eeprom.Device
	base   int64
	tag    uint8
	stored bool // identity byte present in storage
	r      [RegisterCapacity]byte
}

// Bind attaches the register file to its region. A nil dev keeps the
// registers in RAM only.
func (rs *Registers) Bind(dev eeprom.Device, nodeBase int64, tag uint8, cfgID int) {
	rs.dev = dev
	rs.base = RegionBase(nodeBase, cfgID)
	rs.tag = tag
	rs.r[0] = tag
	rs.stored = false
}

func (rs *Registers) Tag() uint8  { return rs.tag }
func (rs *Registers) Base() int64 { return rs.base }

func (rs *Registers) checkRegion(op string) error {
	if rs.dev == nil {
		return errcode.New(errcode.NoStorage, op, "")
	}
	return eeprom.CheckRange(op, rs.dev.Size(), rs.base, Stride)
}

// Commit writes the identity byte and every register.
// Nothing is written when the region does not fit the device.
func (rs *Registers) Commit() error {
	const op = "registers.commit"
	if err := rs.checkRegion(op); err != nil {
		return err
	}
	var buf [1 + RegisterCapacity]byte
	buf[0] = rs.tag
	rs.r[0] = rs.tag
	copy(buf[1:], rs.r[:])
	if _, err := rs.dev.WriteAt(buf[:], rs.base); err != nil {
		return errcode.Wrap(errcode.Of(err), op, err)
	}
	rs.stored = true
	return nil
}

// Load reads the region. On a tag mismatch it returns not_initialized and
// leaves the registers as they were.
func (rs *Registers) Load() error {
	const op = "registers.load"
	if err := rs.checkRegion(op); err != nil {
		return err
	}
	var buf [1 + RegisterCapacity]byte
	if _, err := rs.dev.ReadAt(buf[:], rs.base); err != nil {
		return errcode.Wrap(errcode.Of(err), op, err)
	}
	if buf[0] != rs.tag {
		return errcode.New(errcode.NotInitialized, op, "tag "+strconv.Itoa(int(buf[0])))
	}
	copy(rs.r[:], buf[1:])
	rs.r[0] = rs.tag
	rs.stored = true
	return nil
}

// Wipe erases the whole region, group table included, so the next Load
// fails.
func (rs *Registers) Wipe() error {
	const op = "registers.wipe"
	rs.stored = false
	if err := rs.checkRegion(op); err != nil {
		return err
	}
	var blank [Stride]byte
	for i := range blank {
		blank[i] = eeprom.Erased
	}
	_, err := rs.dev.WriteAt(blank[:], rs.base)
	return err
}

func checkSpan(op string, index, n int) error {
	if index < 0 || n < 1 || index+n > RegisterCapacity {
		return errcode.New(errcode.SlotOutOfRange, op,
			"registers "+strconv.Itoa(index)+"+"+strconv.Itoa(n))
	}
	return nil
}

// Set writes b at index and persists it. On failure nothing changes.
func (rs *Registers) Set(index int, b []byte) error {
	const op = "registers.set"
	if err := checkSpan(op, index, len(b)); err != nil {
		return err
	}
	if index == 0 && b[0] != rs.tag {
		return errcode.New(errcode.InvalidParams, op, "register 0 is the module tag")
	}
	if rs.dev == nil {
		copy(rs.r[index:], b)
		return nil
	}
	if !rs.stored {
		prev := rs.r
		copy(rs.r[index:], b)
		if err := rs.Commit(); err != nil {
			rs.r = prev
			return err
		}
		return nil
	}
	if err := rs.checkRegion(op); err != nil {
		return err
	}
	if _, err := rs.dev.WriteAt(b, rs.base+1+int64(index)); err != nil {
		return errcode.Wrap(errcode.Of(err), op, err)
	}
	copy(rs.r[index:], b)
	return nil
}

// Stage changes registers in RAM only. A later Commit persists them.
func (rs *Registers) Stage(index int, b []byte) error {
	if err := checkSpan("registers.stage", index, len(b)); err != nil {
		return err
	}
	if index == 0 {
		return errcode.New(errcode.InvalidParams, "registers.stage", "register 0 is the module tag")
	}
	copy(rs.r[index:], b)
	return nil
}

// Get returns a copy of n registers from index.
func (rs *Registers) Get(index, n int) ([]byte, error) {
	if err := checkSpan("registers.get", index, n); err != nil {
		return nil, err
	}
	return append([]byte(nil), rs.r[index:index+n]...), nil
}

// config returns registers 1.. for decoding a module configuration.
func (rs *Registers) config() []byte { return rs.r[1:] }

// fill replaces registers 1.. from a configuration without persisting.
func (rs *Registers) fill(c Config) {
	var tmp [RegisterCapacity - 1]byte
	n := c.MarshalRegisters(tmp[:])
	clear(rs.r[1:])
	copy(rs.r[1:], tmp[:n])
}
