package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/time/rate"

	"sysbus-go/link"
	"sysbus-go/protocol"
	"sysbus-go/trace"
)

const pollInterval = 2 * time.Millisecond

type console struct {
	mu  sync.Mutex // guards l
	l   link.Link
	tr  trace.Logger
	rl  *readline.Instance
	lim *rate.Limiter

	// watch is the command shown for traffic not addressed to the master;
	// CmdAll shows everything, watchOff nothing.
	watch atomic.Int32
}

const watchOff = -1

func newConsole(l link.Link, tr trace.Logger, lim *rate.Limiter) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sysbus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := &console{l: l, tr: tr, rl: rl, lim: lim}
	c.watch.Store(watchOff)
	return c, nil
}

func completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("quit"),
		readline.PcItem("repeat"),
		readline.PcItem("watch", readline.PcItem("on"), readline.PcItem("off")),
	}
	for _, name := range commandNames() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *console) out() io.Writer { return c.rl.Stdout() }

func (c *console) run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	fmt.Fprintln(c.out(), "type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := strings.ToLower(parts[0]), parts[1:]

		switch name {
		case "help", "?":
			c.printHelp()
		case "quit", "exit", "q":
			cancel()
			return
		case "watch":
			c.cmdWatch(args)
		case "repeat":
			c.cmdRepeat(ctx, args)
		default:
			r, err := build(name, args)
			if err != nil {
				fmt.Fprintln(c.out(), err)
				continue
			}
			if err := c.send(ctx, r); err != nil {
				fmt.Fprintln(c.out(), "send:", err)
			}
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out(), "commands:")
	for _, n := range commandNames() {
		fmt.Fprintln(c.out(), "  "+commands[n].usage)
	}
	fmt.Fprintln(c.out(), "  repeat <n> <command> ...")
	fmt.Fprintln(c.out(), "  watch [on|off|<cmd>]")
	fmt.Fprintln(c.out(), "  quit")
}

func (c *console) cmdWatch(args []string) {
	switch {
	case len(args) == 0:
		w := c.watch.Load()
		switch w {
		case watchOff:
			fmt.Fprintln(c.out(), "watch off")
		default:
			fmt.Fprintln(c.out(), "watch", protocol.Cmd(w))
		}
	case args[0] == "on":
		c.watch.Store(int32(protocol.CmdAll))
	case args[0] == "off":
		c.watch.Store(watchOff)
	default:
		cmd, ok := protocol.ParseCmd(args[0])
		if !ok {
			fmt.Fprintf(c.out(), "unknown command %q\n", args[0])
			return
		}
		c.watch.Store(int32(cmd))
	}
}

// cmdRepeat sends one command n times, paced by the rate limiter.
func (c *console) cmdRepeat(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out(), "usage: repeat <n> <command> ...")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Fprintf(c.out(), "count %q\n", args[0])
		return
	}
	r, err := build(strings.ToLower(args[1]), args[2:])
	if err != nil {
		fmt.Fprintln(c.out(), err)
		return
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := c.send(ctx, r); err != nil {
			fmt.Fprintf(c.out(), "send %d/%d: %v\n", i+1, n, err)
			return
		}
	}
	fmt.Fprintf(c.out(), "sent %d in %s\n", n, time.Since(start).Round(time.Millisecond))
}

func (c *console) send(ctx context.Context, r request) error {
	m, err := protocol.NewMessage(r.addr, r.payload...)
	if err != nil {
		return err
	}
	if err := c.lim.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	err = c.l.Send(r.addr, r.payload)
	c.mu.Unlock()
	c.tr.Log(trace.FromMessage(0, trace.Out, protocol.NoLink, m, err))
	return err
}

// receive polls the link until ctx ends and prints replies to the master
// plus watched traffic.
func (c *console) receive(ctx context.Context) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for {
			c.mu.Lock()
			m, ok := c.l.TryReceive()
			c.mu.Unlock()
			if !ok {
				break
			}
			c.tr.Log(trace.FromMessage(0, trace.In, 0, m, nil))
			if c.show(&m) {
				fmt.Fprintln(c.out(), "<", describe(&m))
			}
		}
	}
}

func (c *console) show(m *protocol.Message) bool {
	if m.Addr.Type == protocol.Unicast && m.Addr.Target == 0 {
		return true
	}
	w := c.watch.Load()
	if w == watchOff {
		return false
	}
	if protocol.Cmd(w) == protocol.CmdAll {
		return true
	}
	cmd, ok := m.Cmd()
	return ok && cmd == protocol.Cmd(w)
}

// describe renders m with its command name, e.g.
// "unicast 5->0:1 [cfg_return 01 00 00]".
func describe(m *protocol.Message) string {
	cmd, ok := m.Cmd()
	if !ok {
		return m.String()
	}
	var b strings.Builder
	b.WriteString(m.Addr.String())
	b.WriteString(" [")
	b.WriteString(cmd.String())
	for _, v := range m.Payload()[1:] {
		fmt.Fprintf(&b, " %02X", v)
	}
	b.WriteString("]")
	if cmd == protocol.CmdModType && m.Len >= 2 {
		fmt.Fprintf(&b, " kind=0x%02X", m.Data[1])
	}
	return b.String()
}
