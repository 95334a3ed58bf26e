// Package gpio is the digital pin contract used by the button, the status
// LED and output modules.
package gpio

import "sync/atomic"

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is one configured digital line.
type Pin interface {
	Get() bool
	Set(level bool)
}

// Mem is an in-memory pin for hosts and tests. Safe for concurrent use.
type Mem struct {
	n     int
	level atomic.Bool
	sets  atomic.Uint32
}

func NewMem(n int, level bool) *Mem {
	p := &Mem{n: n}
	p.level.Store(level)
	return p
}

func (p *Mem) Get() bool { return p.level.Load() }

func (p *Mem) Set(level bool) {
	p.level.Store(level)
	p.sets.Add(1)
}

func (p *Mem) Number() int { return p.n }

// Sets counts Set calls; tests use it to count LED toggles.
func (p *Mem) Sets() uint32 { return p.sets.Load() }

// Inverted flips the level of an active-low pin.
type Inverted struct{ Pin }

func (p Inverted) Get() bool      { return !p.Pin.Get() }
func (p Inverted) Set(level bool) { p.Pin.Set(!level) }

// Toggle inverts p.
func Toggle(p Pin) { p.Set(!p.Get()) }
