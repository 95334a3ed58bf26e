package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysbus-go/config"
	"sysbus-go/module/dout"
	"sysbus-go/protocol"
	"sysbus-go/trace"
)

func simNode(id uint16, segment string) config.Node {
	n := config.Node{
		NodeID:   id,
		LogLevel: "disabled",
		Links:    []config.Link{{Kind: config.LinkSegment, Segment: segment}},
		Outputs:  []config.Output{{Port: 1, Pin: 16}},
	}
	n.Normalize()
	return n
}

func TestRunnersShareSegment(t *testing.T) {
	a, err := newRunner(simNode(5, "runner-test"))
	require.NoError(t, err)
	defer a.close()

	bcfg := simNode(6, "runner-test")
	bcfg.Trace = filepath.Join(t.TempDir(), "b.cbor")
	b, err := newRunner(bcfg)
	require.NoError(t, err)

	out, ok := b.c.Module(0).(*dout.Output)
	require.True(t, ok)
	assert.False(t, out.State())

	require.NoError(t, a.c.SendTo(protocol.Unicast, 6, 1, byte(protocol.CmdBool), 1))
	for i := 0; i < 4; i++ {
		b.c.Tick()
	}
	assert.True(t, out.State())
	b.close()

	r, err := trace.Open(bcfg.Trace)
	require.NoError(t, err)
	defer r.Close()
	s, err := trace.Collect(r)
	require.NoError(t, err)
	assert.Equal(t, 1, len(s.Sessions))
	assert.Positive(t, s.ByDir[trace.In])
	assert.Positive(t, s.ByCmd[uint8(protocol.CmdBool)])
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r, err := newRunner(simNode(7, "runner-cancel"))
	require.NoError(t, err)
	defer r.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()
	r.identify()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestOpenLinksRejectsUnknownKind(t *testing.T) {
	_, err := openLinks([]config.Link{{Kind: "usb"}}, nil)
	assert.Error(t, err)
}
