//go:build tinygo

package eeprom

import (
	"machine"

	"sysbus-go/errcode"
)

// Flash emulates EEPROM in the last erase block of the on-chip flash data
// area. A RAM shadow holds the block; every write erases and rewrites it.
type Flash struct {
	off    int64
	shadow []byte
}

// NewFlash reserves size bytes (rounded up to one erase block) at the end
// of machine.Flash.
func NewFlash(size int) (*Flash, error) {
	bs := int(machine.Flash.EraseBlockSize())
	if size <= 0 || size > bs {
		return nil, errcode.New(errcode.InvalidParams, "eeprom.flash", "size must fit one erase block")
	}
	total := machine.Flash.Size()
	if total < int64(bs) {
		return nil, errcode.New(errcode.NoStorage, "eeprom.flash", "no flash data area")
	}
	f := &Flash{off: total - int64(bs), shadow: make([]byte, bs)}
	if _, err := machine.Flash.ReadAt(f.shadow, f.off); err != nil {
		return nil, errcode.Wrap(errcode.NoStorage, "eeprom.flash", err)
	}
	f.shadow = f.shadow[:size]
	return f, nil
}

func (f *Flash) Size() int { return len(f.shadow) }

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.read", len(f.shadow), off, len(p)); err != nil {
		return 0, err
	}
	return copy(p, f.shadow[off:]), nil
}

func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.write", len(f.shadow), off, len(p)); err != nil {
		return 0, err
	}
	n := copy(f.shadow[off:], p)
	bs := machine.Flash.EraseBlockSize()
	if err := machine.Flash.EraseBlocks(f.off/bs, 1); err != nil {
		return 0, errcode.Wrap(errcode.Error, "eeprom.erase", err)
	}
	block := make([]byte, bs)
	for i := range block {
		block[i] = Erased
	}
	copy(block, f.shadow)
	if _, err := machine.Flash.WriteAt(block, f.off); err != nil {
		return 0, errcode.Wrap(errcode.Error, "eeprom.program", err)
	}
	return n, nil
}
