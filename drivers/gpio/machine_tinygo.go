//go:build tinygo

package gpio

import "machine"

// Machine adapts a TinyGo machine.Pin.
type Machine struct {
	p machine.Pin
}

func Input(n int, pull Pull) *Machine {
	var mode machine.PinMode
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	p := machine.Pin(n)
	p.Configure(machine.PinConfig{Mode: mode})
	return &Machine{p: p}
}

func Output(n int, initial bool) *Machine {
	p := machine.Pin(n)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(initial)
	return &Machine{p: p}
}

func (m *Machine) Get() bool      { return m.p.Get() }
func (m *Machine) Set(level bool) { m.p.Set(level) }
func (m *Machine) Number() int    { return int(m.p) }
