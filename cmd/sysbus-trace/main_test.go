package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysbus-go/protocol"
	"sysbus-go/trace"
)

func TestViewAndStats(t *testing.T) {
	var buf bytes.Buffer
	rec := trace.NewRecorder(&buf)
	m, err := protocol.NewMessage(protocol.Address{Target: 0, Source: 5, Port: 1}, byte(protocol.CmdNodePong))
	require.NoError(t, err)
	rec.Log(trace.FromMessage(5, trace.Out, 0, m, nil))
	rec.Log(trace.FromMessage(5, trace.Local, protocol.NoLink, m, nil))

	var out bytes.Buffer
	require.NoError(t, view(&out, trace.NewReader(bytes.NewReader(buf.Bytes()))))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "node 5 OUT")
	assert.Contains(t, string(lines[0]), "link 0 unicast 5->0:1 [pong]")
	assert.Contains(t, string(lines[1]), "local")

	s, err := trace.Collect(trace.NewReader(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	out.Reset()
	printStats(&out, s)
	assert.Contains(t, out.String(), "events:   2")
	assert.Contains(t, out.String(), "pong")
}

func TestFormatEventError(t *testing.T) {
	e := trace.Event{Time: time.Unix(0, 0), Node: 1, Dir: trace.Out, Link: 2, Data: []byte{0x51, 1}, Err: "link closed"}
	line := formatEvent(e)
	assert.Contains(t, line, "[bool 01]")
	assert.Contains(t, line, "error: link closed")
}

func TestRootCommand(t *testing.T) {
	path := t.TempDir() + "/bus.cbor"
	rec, err := trace.Create(path)
	require.NoError(t, err)
	m, err := protocol.NewMessage(protocol.Address{Target: 5}, byte(protocol.CmdNodePing))
	require.NoError(t, err)
	rec.Log(trace.FromMessage(0, trace.Out, 0, m, nil))
	require.NoError(t, rec.Close())

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"stats", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "events:   1")

	root = rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"view"})
	assert.Error(t, root.Execute())
}
