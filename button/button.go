// Package button turns a polled digital input into debounced press,
// short-push and long-push events.
package button

import (
	"time"

	"sysbus-go/drivers/gpio"
	"sysbus-go/x/mathx"
	"sysbus-go/x/timex"
)

type Event uint8

const (
	None Event = iota
	Pressed
	ShortPush
	LongPush
)

func (e Event) String() string {
	switch e {
	case Pressed:
		return "pressed"
	case ShortPush:
		return "short_push"
	case LongPush:
		return "long_push"
	default:
		return "none"
	}
}

const (
	DefaultDebounce = 50 * time.Millisecond
	DefaultLongPush = 5 * time.Second
)

type Config struct {
	Pin       gpio.Pin
	Clock     timex.Clock
	ActiveLow bool // pressed reads low
	Debounce  time.Duration
	LongPush  time.Duration
}

type Button struct {
	pin       gpio.Pin
	clk       timex.Clock
	activeLow bool
	debounce  int64
	long      int64

	raw       bool
	rawSince  int64
	down      bool
	downSince int64
	longDone  bool
}

func New(cfg Config) *Button {
	if cfg.Clock == nil {
		cfg.Clock = timex.System{}
	}
	long := mathx.OrDefault(cfg.LongPush, DefaultLongPush, 100*time.Millisecond, time.Minute)
	deb := cfg.Debounce
	if deb == 0 {
		deb = DefaultDebounce
	}
	deb = mathx.Clamp(deb, time.Millisecond, long/2)
	return &Button{
		pin:       cfg.Pin,
		clk:       cfg.Clock,
		activeLow: cfg.ActiveLow,
		debounce:  deb.Milliseconds(),
		long:      long.Milliseconds(),
		rawSince:  cfg.Clock.NowMs(),
	}
}

// Poll samples the pin and returns at most one event. Pressed is reported
// once the level is stable, LongPush once while still held past the
// threshold and ShortPush on a release before it.
func (b *Button) Poll() Event {
	if b.pin == nil {
		return None
	}
	now := b.clk.NowMs()
	raw := b.pin.Get() != b.activeLow
	if raw != b.raw {
		b.raw = raw
		b.rawSince = now
		return None
	}
	if now-b.rawSince < b.debounce {
		return None
	}

	switch {
	case raw && !b.down:
		b.down = true
		b.downSince = b.rawSince
		b.longDone = false
		return Pressed
	case raw && !b.longDone && now-b.downSince >= b.long:
		b.longDone = true
		return LongPush
	case !raw && b.down:
		b.down = false
		if !b.longDone {
			return ShortPush
		}
	}
	return None
}

// Held reports the debounced level.
func (b *Button) Held() bool { return b.down }
