package bus

import (
	"time"

	"sysbus-go/button"
	"sysbus-go/drivers/eeprom"
	"sysbus-go/drivers/gpio"
	"sysbus-go/protocol"
)

const (
	IdentifyTimeout = 60 * time.Second
	IdentifyBlink   = 500 * time.Millisecond

	confirmBlinks = 10
	confirmHalf   = 100 * time.Millisecond
	resetBlinks   = 10
	resetHalf     = 50 * time.Millisecond
)

type identification struct {
	active bool
	start  int64
}

// blinker runs a fixed number of LED toggles without blocking the loop.
type blinker struct {
	left int
	next int64
	half int64
}

func (b *blinker) start(now int64, blinks int, half time.Duration) {
	b.left = 2 * blinks
	b.half = half.Milliseconds()
	b.next = now
}

func (b *blinker) step(now int64, led gpio.Pin) {
	if b.left == 0 || now < b.next {
		return
	}
	if led != nil {
		led.Set(b.left%2 == 0)
	}
	b.left--
	b.next = now + b.half
}

func (b *blinker) running() bool { return b.left > 0 }

func (c *Controller) Identifying() bool { return c.ident.active }

// Identify enters identification, as a long push of the config button
// does: for IdentifyTimeout the node blinks its LED and waits for a
// NODE_ID carrying its new id in the target field.
func (c *Controller) Identify() {
	if c.ident.active {
		return
	}
	c.ident = identification{active: true, start: c.clk.NowMs()}
	c.log.Info("identification started")
}

// StopIdentify leaves identification without changing the node id.
func (c *Controller) StopIdentify() {
	if !c.ident.active {
		return
	}
	c.ident.active = false
	c.setLED(!c.initialized)
	c.log.Info("identification stopped")
}

func (c *Controller) pollButton() {
	if c.cfg.Button == nil {
		return
	}
	switch c.cfg.Button.Poll() {
	case button.LongPush:
		if c.ident.active {
			c.log.Warn("long push while identifying: factory reset")
			c.Reset()
			return
		}
		c.Identify()
	case button.ShortPush:
		c.StopIdentify()
	}
}

func (c *Controller) identifyStep(now int64, m *protocol.Message, got bool) {
	if now-c.ident.start >= IdentifyTimeout.Milliseconds() {
		c.log.Info("identification timed out")
		c.StopIdentify()
		return
	}
	c.setLED((now-c.ident.start)/IdentifyBlink.Milliseconds()%2 == 1)

	if !got {
		return
	}
	if cmd, ok := m.Cmd(); !ok || cmd != protocol.CmdNodeID || m.Len != 1 {
		return
	}
	if err := c.SetNodeID(m.Addr.Target); err != nil {
		c.log.Warnf("identification: %v", err)
		return
	}
	if err := c.SendTo(protocol.Unicast, m.Addr.Source, m.Addr.Port, byte(protocol.CmdNodeID)); err != nil {
		c.log.Debugf("identification echo: %v", err)
	}
	c.ident.active = false
	c.setLED(false)
	c.confirm.start(now, confirmBlinks, confirmHalf)
}

func (c *Controller) setLED(on bool) {
	if c.cfg.LED == nil || c.confirm.running() || c.cfg.LED.Get() == on {
		return
	}
	c.cfg.LED.Set(on)
}

// Reset blinks the LED, wipes storage and reboots the platform. Without a
// reboot callback the node carries on uninitialized.
func (c *Controller) Reset() {
	c.log.Warn("factory reset")
	if led := c.cfg.LED; led != nil {
		for i := 0; i < resetBlinks; i++ {
			led.Set(true)
			c.sleep(resetHalf)
			led.Set(false)
			c.sleep(resetHalf)
		}
	}
	if c.cfg.Store != nil {
		if err := eeprom.Wipe(c.cfg.Store); err != nil {
			c.log.Errorf("wipe: %v", err)
		}
	}
	if c.cfg.Reboot != nil {
		c.cfg.Reboot()
	}
	c.id = 0
	c.initialized = false
	c.firstBoot = true
	c.ident = identification{}
	c.confirm = blinker{}
}
