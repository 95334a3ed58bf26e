// Package eeprom provides the byte-addressed persistent storage the node
// keeps its identity and module registers in.
package eeprom

import (
	"strconv"

	"sysbus-go/errcode"
)

// Erased is the value of a never-written cell.
const Erased byte = 0xFF

// Device is fixed-size, byte-addressed persistent storage. Writes are
// synchronous: when WriteAt returns nil the bytes survive power loss.
type Device interface {
	Size() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// CheckRange validates [off, off+n) against size.
func CheckRange(op string, size int, off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > int64(size) {
		return errcode.New(errcode.StorageBounds, op,
			strconv.FormatInt(off, 10)+"+"+strconv.Itoa(n)+" > "+strconv.Itoa(size))
	}
	return nil
}

// Wipe sets every cell of d to Erased.
func Wipe(d Device) error {
	blank := make([]byte, d.Size())
	for i := range blank {
		blank[i] = Erased
	}
	_, err := d.WriteAt(blank, 0)
	return err
}

// Mem is a RAM-backed Device for tests and simulators.
type Mem struct {
	b      []byte
	writes int
}

func NewMem(size int) *Mem {
	m := &Mem{b: make([]byte, size)}
	for i := range m.b {
		m.b[i] = Erased
	}
	return m
}

func (m *Mem) Size() int { return len(m.b) }

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.read", len(m.b), off, len(p)); err != nil {
		return 0, err
	}
	return copy(p, m.b[off:]), nil
}

func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.write", len(m.b), off, len(p)); err != nil {
		return 0, err
	}
	m.writes++
	return copy(m.b[off:], p), nil
}

// Writes counts successful WriteAt calls.
func (m *Mem) Writes() int { return m.writes }

// Bytes exposes the backing array.
func (m *Mem) Bytes() []byte { return m.b }
