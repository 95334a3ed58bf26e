package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pion/logging"

	"sysbus-go/config"
	"sysbus-go/link"
	"sysbus-go/link/can"
	"sysbus-go/link/serial"
)

const dialTimeout = 5 * time.Second

// segments are the in-process CAN segments shared by segment links.
var segments = map[string]*can.Segment{}

func openLinks(cfgs []config.Link, lf logging.LoggerFactory) ([]link.Link, error) {
	out := make([]link.Link, 0, len(cfgs))
	for i, lc := range cfgs {
		l, err := openLink(lc, lf)
		if err != nil {
			for _, o := range out {
				if cl, ok := o.(link.Closer); ok {
					_ = cl.Close()
				}
			}
			return nil, fmt.Errorf("link %d (%s): %w", i, lc.Kind, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func openLink(lc config.Link, lf logging.LoggerFactory) (link.Link, error) {
	switch lc.Kind {
	case config.LinkSerial:
		t, err := dialSerial(lc)
		if err != nil {
			return nil, err
		}
		st := serial.NewStream(serial.FromReadWriter(t), serial.StreamConfig{LoggerFactory: lf})
		return serial.New(serial.Config{Port: st, MaxFrame: lc.MaxFrame, LoggerFactory: lf}), nil
	case config.LinkSocketCAN:
		ctl, err := socketCAN(lc.Iface)
		if err != nil {
			return nil, err
		}
		return can.New(can.Config{Controller: ctl, LoggerFactory: lf}), nil
	case config.LinkSegment:
		seg, ok := segments[lc.Segment]
		if !ok {
			seg = can.NewSegment()
			segments[lc.Segment] = seg
		}
		return can.New(can.Config{Controller: seg.Attach(0), LoggerFactory: lf}), nil
	}
	return nil, fmt.Errorf("unsupported link kind %q", lc.Kind)
}

type readWriteCloser interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func dialSerial(lc config.Link) (readWriteCloser, error) {
	if lc.Addr != "" {
		return net.DialTimeout("tcp", lc.Addr, dialTimeout)
	}
	return os.OpenFile(lc.Path, os.O_RDWR, 0)
}
