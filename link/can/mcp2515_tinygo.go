//go:build tinygo

package can

import (
	"machine"
	"sync/atomic"

	"tinygo.org/x/drivers/mcp2515"

	"sysbus-go/errcode"
)

// MCP2515 is a Controller over an SPI-attached MCP2515.
type MCP2515 struct {
	dev   *mcp2515.Device
	speed byte
	clock byte

	irq     machine.Pin
	useIRQ  bool
	pending atomic.Bool
}

// NewMCP2515 wraps a configured device. speed and clock are the driver's
// constants, e.g. mcp2515.CAN125kBps and mcp2515.Clock8MHz.
func NewMCP2515(dev *mcp2515.Device, speed, clock byte) *MCP2515 {
	return &MCP2515{dev: dev, speed: speed, clock: clock}
}

// WithInterrupt makes TryRecv consult the chip only after the INT line
// fell. The flag belongs to this controller alone.
func (c *MCP2515) WithInterrupt(pin machine.Pin) *MCP2515 {
	c.irq = pin
	c.useIRQ = true
	return c
}

func (c *MCP2515) Begin() error {
	if err := c.dev.Begin(c.speed, c.clock); err != nil {
		return errcode.Wrap(errcode.Error, "mcp2515.begin", err)
	}
	if c.useIRQ {
		c.irq.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		if err := c.irq.SetInterrupt(machine.PinFalling, func(machine.Pin) { c.pending.Store(true) }); err != nil {
			c.useIRQ = false
		}
		// Frames may already be waiting.
		c.pending.Store(true)
	}
	return nil
}

func (c *MCP2515) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= EFFFlag
	}
	if err := c.dev.Tx(id, f.Len, f.Data[:f.Len]); err != nil {
		return errcode.Wrap(errcode.Busy, "mcp2515.tx", err)
	}
	return nil
}

func (c *MCP2515) TryRecv() (Frame, bool) {
	if c.useIRQ && !c.pending.Load() {
		return Frame{}, false
	}
	if !c.dev.Received() {
		c.pending.Store(false)
		return Frame{}, false
	}
	msg, err := c.dev.Rx()
	if err != nil || msg == nil {
		return Frame{}, false
	}
	f := Frame{Extended: msg.ID&EFFFlag != 0 || msg.ID > MaxStdID, Len: min(msg.Dlc, MaxDLC)}
	if f.Extended {
		f.ID = msg.ID & MaxExtID
	} else {
		f.ID = msg.ID
	}
	copy(f.Data[:f.Len], msg.Data)
	return f, true
}
