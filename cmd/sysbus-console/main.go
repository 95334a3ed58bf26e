// Command sysbus-console is an interactive bus master on a serial link.
// It speaks as source 0 and prints what comes back.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"sysbus-go/link/serial"
	"sysbus-go/trace"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7000", "serial-over-TCP endpoint")
	path := flag.String("path", "", "tty or pipe instead of -addr")
	tracePath := flag.String("trace", "", "record traffic to a CBOR trace file")
	perSec := flag.Float64("rate", 50, "outgoing messages per second; 0 disables pacing")
	flag.Parse()

	if err := run(*addr, *path, *tracePath, rate.Limit(*perSec)); err != nil {
		fmt.Fprintln(os.Stderr, "sysbus-console:", err)
		os.Exit(1)
	}
}

func run(addr, path, tracePath string, limit rate.Limit) error {
	if limit <= 0 {
		limit = rate.Inf
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn

	var (
		conn interface {
			Read([]byte) (int, error)
			Write([]byte) (int, error)
			Close() error
		}
		err error
	)
	if path != "" {
		conn, err = os.OpenFile(path, os.O_RDWR, 0)
	} else {
		conn, err = net.DialTimeout("tcp", addr, 5*time.Second)
	}
	if err != nil {
		return err
	}
	st := serial.NewStream(serial.FromReadWriter(conn), serial.StreamConfig{LoggerFactory: lf})
	l := serial.New(serial.Config{Port: st, LoggerFactory: lf})
	defer l.Close()
	if err := l.Open(); err != nil {
		return err
	}

	var tr trace.Logger = trace.Nop{}
	if tracePath != "" {
		rec, err := trace.Create(tracePath)
		if err != nil {
			return err
		}
		defer rec.Close()
		tr = rec
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	con, err := newConsole(l, tr, rate.NewLimiter(limit, 1))
	if err != nil {
		return err
	}
	go con.receive(ctx)
	con.run(ctx, cancel)
	return nil
}
