// Package dout is a digital output module: one pin switched by BOOL
// commands, with a configurable power-on state.
package dout

import (
	"sysbus-go/drivers/gpio"
	"sysbus-go/errcode"
	"sysbus-go/module"
	"sysbus-go/protocol"
)

// Kind is the module type tag presented on the bus.
const Kind uint8 = 0x01

// PowerOn selects the output level after a reboot.
type PowerOn uint8

const (
	PowerOnOff PowerOn = iota
	PowerOnLast
	PowerOnOn
)

// Register indices.
const (
	RegInverted = 1
	RegPowerOn  = 2
	RegState    = 3
)

// Config is the register-backed configuration.
type Config struct {
	Inverted bool
	PowerOn  PowerOn
	State    bool
}

// Defaults leaves Inverted alone; it follows the wiring given to New.
func (c *Config) Defaults() {
	c.PowerOn = PowerOnLast
	c.State = false
}

func (c *Config) MarshalRegisters(dst []byte) int {
	dst[0] = b2u(c.Inverted)
	dst[1] = byte(c.PowerOn)
	dst[2] = b2u(c.State)
	return 3
}

func (c *Config) UnmarshalRegisters(src []byte) error {
	if src[0] > 1 || src[2] > 1 || PowerOn(src[1]) > PowerOnOn {
		return errcode.New(errcode.InvalidParams, "dout.config", "")
	}
	c.Inverted = src[0] == 1
	c.PowerOn = PowerOn(src[1])
	c.State = src[2] == 1
	return nil
}

func b2u(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type Output struct {
	module.Base
	cfg Config
	pin gpio.Pin
}

// New builds an output on pin, bound to port. inverted drives the pin low
// for on.
func New(pin gpio.Pin, port uint8, inverted bool) *Output {
	o := &Output{pin: pin}
	o.Base = module.NewBase(o, port, Kind, &o.cfg)
	o.cfg.Inverted = inverted
	return o
}

func (o *Output) Begin(in module.BeginInput) error {
	if err := o.Base.Begin(in); err != nil {
		return err
	}
	switch o.cfg.PowerOn {
	case PowerOnOn:
		o.cfg.State = true
	case PowerOnOff:
		o.cfg.State = false
	}
	o.stageState()
	o.drive()
	return nil
}

func (o *Output) Process(m *protocol.Message) bool {
	if !o.Accept(m) {
		return false
	}
	p := m.Payload()
	if cmd, _ := m.Cmd(); cmd == protocol.CmdBool && len(p) >= 2 {
		o.Switch(p[1] != 0)
	}
	return true
}

func (o *Output) Tick() bool { return true }

// BroadcastState sends [BOOL, state] from the module port.
func (o *Output) BroadcastState() bool {
	err := o.Broadcast(byte(protocol.CmdBool), b2u(o.cfg.State))
	if err != nil && o.Log() != nil {
		o.Log().Debugf("dout %d: state: %v", o.Port(), err)
	}
	return err == nil
}

// ApplyConfig re-drives the pin after a register change.
func (o *Output) ApplyConfig() { o.drive() }

// Switch sets the logical output and announces it. The state is written
// through only when the node restores the last state on power-on.
func (o *Output) Switch(on bool) {
	o.cfg.State = on
	o.drive()
	if o.cfg.PowerOn == PowerOnLast {
		if err := o.Regs.Set(RegState, []byte{b2u(on)}); err != nil && errcode.Of(err) != errcode.NoStorage {
			o.Log().Warnf("dout %d: persist state: %v", o.Port(), err)
		}
	} else {
		o.stageState()
	}
	o.BroadcastState()
}

func (o *Output) State() bool    { return o.cfg.State }
func (o *Output) Config() Config { return o.cfg }
func (o *Output) Pin() gpio.Pin  { return o.pin }

func (o *Output) stageState() { _ = o.Regs.Stage(RegState, []byte{b2u(o.cfg.State)}) }

func (o *Output) drive() { o.pin.Set(o.cfg.State != o.cfg.Inverted) }

var (
	_ module.Module        = (*Output)(nil)
	_ module.ConfigApplier = (*Output)(nil)
)
