// Command sysbus-trace prints CBOR traces written by sysbus-node and
// sysbus-console.
//
//	sysbus-trace view bus.cbor
//	sysbus-trace stats bus.cbor
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sysbus-go/protocol"
	"sysbus-go/trace"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sysbus-trace",
		Short:        "Inspect sysbus CBOR traces",
		SilenceUsage: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "view <file.cbor>",
			Short: "Print every traced message",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReader(args[0], func(r *trace.Reader) error {
					return view(cmd.OutOrStdout(), r)
				})
			},
		},
		&cobra.Command{
			Use:   "stats <file.cbor>",
			Short: "Summarise a trace by direction and command",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReader(args[0], func(r *trace.Reader) error {
					s, err := trace.Collect(r)
					if err != nil {
						return err
					}
					printStats(cmd.OutOrStdout(), s)
					return nil
				})
			},
		},
	)
	return root
}

func withReader(path string, fn func(*trace.Reader) error) error {
	r, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

func view(w io.Writer, r *trace.Reader) error {
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, formatEvent(e))
	}
}

// formatEvent renders one line, e.g.
// "12:00:01.250 a1b2c3d4 node 5 OUT  link 0 unicast 5->0:1 [pong]".
func formatEvent(e trace.Event) string {
	var b strings.Builder
	b.WriteString(e.Time.Local().Format("15:04:05.000"))
	b.WriteByte(' ')
	sess := e.Session
	if len(sess) > 8 {
		sess = sess[:8]
	}
	fmt.Fprintf(&b, "%-8s node %d %-5s", sess, e.Node, e.Dir)
	if e.Link >= 0 {
		fmt.Fprintf(&b, " link %d", e.Link)
	} else {
		b.WriteString(" local ")
	}
	m, err := e.Message()
	if err != nil {
		fmt.Fprintf(&b, " <bad message: %v>", err)
		return b.String()
	}
	b.WriteByte(' ')
	b.WriteString(m.Addr.String())
	b.WriteString(" [")
	for i, v := range m.Payload() {
		if i == 0 {
			b.WriteString(protocol.Cmd(v).String())
			continue
		}
		fmt.Fprintf(&b, " %02X", v)
	}
	b.WriteString("]")
	if e.Err != "" {
		b.WriteString(" error: ")
		b.WriteString(e.Err)
	}
	return b.String()
}

func printStats(w io.Writer, s trace.Stats) {
	fmt.Fprintf(w, "events:   %d\n", s.Events)
	fmt.Fprintf(w, "sessions: %d\n", len(s.Sessions))
	fmt.Fprintf(w, "errors:   %d\n", s.Errors)
	for _, d := range []trace.Direction{trace.In, trace.Out, trace.Local} {
		fmt.Fprintf(w, "  %-5s %d\n", d, s.ByDir[d])
	}
	cmds := make([]int, 0, len(s.ByCmd))
	for c := range s.ByCmd {
		cmds = append(cmds, int(c))
	}
	sort.Ints(cmds)
	fmt.Fprintln(w, "commands:")
	for _, c := range cmds {
		fmt.Fprintf(w, "  %-14s %d\n", protocol.Cmd(c), s.ByCmd[uint8(c)])
	}
}
