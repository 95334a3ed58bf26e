package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"

	"sysbus-go/bus"
	"sysbus-go/config"
	"sysbus-go/drivers/eeprom"
	"sysbus-go/drivers/gpio"
	"sysbus-go/link"
	"sysbus-go/module"
	"sysbus-go/module/dout"
	"sysbus-go/trace"
)

// runner owns one node and its superloop.
type runner struct {
	cfg  config.Node
	log  logging.LeveledLogger
	c    *bus.Controller
	tick time.Duration

	ident  chan struct{}
	reboot chan struct{}

	closers []func()
}

func newRunner(n config.Node) (_ *runner, err error) {
	lf := n.LoggerFactory()
	r := &runner{
		cfg:    n,
		log:    lf.NewLogger("node"),
		tick:   n.Tick(),
		ident:  make(chan struct{}, 1),
		reboot: make(chan struct{}, 1),
	}
	defer func() {
		if err != nil {
			r.close()
		}
	}()

	store, err := r.openStore()
	if err != nil {
		return nil, err
	}
	var tr trace.Logger = trace.Nop{}
	if n.Trace != "" {
		rec, err := trace.Create(n.Trace)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() {
			if d := rec.Dropped(); d > 0 {
				r.log.Warnf("trace dropped %d events", d)
			}
			_ = rec.Close()
		})
		r.log.Infof("tracing to %s (session %s)", n.Trace, rec.Session())
		tr = rec
	}

	r.c, err = bus.New(bus.Config{
		Store:         store,
		NodeID:        n.NodeID,
		Reboot:        r.signalReboot,
		Trace:         tr,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}

	links, err := openLinks(n.Links, lf)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if cl, ok := l.(link.Closer); ok {
			r.closers = append(r.closers, func() { _ = cl.Close() })
		}
	}
	for i, l := range links {
		if _, err := r.c.AttachLink(l); err != nil {
			return nil, fmt.Errorf("link %d (%s): %w", i, n.Links[i].Kind, err)
		}
	}

	for i, o := range n.Outputs {
		out := dout.New(gpio.NewMem(o.Pin, false), o.Port, o.Inverted)
		if err := attach(r.c, out, o.CfgID); err != nil {
			return nil, fmt.Errorf("output %d (port %d): %w", i, o.Port, err)
		}
	}
	r.c.FirstBoot(func() { r.log.Info("first boot: module regions hold defaults") })
	return r, nil
}

func (r *runner) openStore() (eeprom.Device, error) {
	if r.cfg.Storage == "" {
		return eeprom.NewMem(r.cfg.StorageSize), nil
	}
	f, err := eeprom.OpenFile(r.cfg.Storage, r.cfg.StorageSize)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, func() { _ = f.Close() })
	return f, nil
}

func attach(c *bus.Controller, m module.Module, cfgID *int) error {
	if cfgID != nil {
		return c.AttachModule(m, *cfgID)
	}
	_, err := c.AttachModuleAuto(m)
	return err
}

func (r *runner) signalReboot() {
	select {
	case r.reboot <- struct{}{}:
	default:
	}
}

// identify may be called from any goroutine; the loop picks it up.
func (r *runner) identify() {
	select {
	case r.ident <- struct{}{}:
	default:
	}
}

func (r *runner) run(ctx context.Context) {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutting down")
			return
		case <-r.ident:
			r.log.Info("identification requested")
			r.c.Identify()
		case <-r.reboot:
			r.log.Warn("factory reset; node stopped")
			return
		case <-t.C:
			r.c.Tick()
		}
	}
}

func (r *runner) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
