package trace

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysbus-go/protocol"
)

func ping(t *testing.T) protocol.Message {
	t.Helper()
	m, err := protocol.NewMessage(protocol.Address{Type: protocol.Unicast, Target: 7, Source: 3, Port: 2}, byte(protocol.CmdNodePing))
	require.NoError(t, err)
	return m
}

func TestRecorderReaderStream(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	_, err := uuid.Parse(rec.Session())
	require.NoError(t, err)

	m := ping(t)
	rec.Log(FromMessage(3, Out, 1, m, nil))
	rec.Log(FromMessage(3, In, 0, m, errors.New("boom")))

	r := NewReader(&buf)
	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, rec.Session(), first.Session)
	assert.Equal(t, Out, first.Dir)
	assert.Equal(t, int8(1), first.Link)
	assert.Equal(t, []byte{byte(protocol.CmdNodePing)}, first.Data)
	assert.Empty(t, first.Err)

	back, err := first.Message()
	require.NoError(t, err)
	assert.Equal(t, m.Addr, back.Addr)
	assert.Equal(t, m.Payload(), back.Payload())
	assert.Equal(t, protocol.LinkID(1), back.Origin)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "boom", second.Err)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncodeDecodeKeepsTime(t *testing.T) {
	e := FromMessage(9, Local, protocol.NoLink, ping(t), nil)
	b, err := EncodeEvent(e)
	require.NoError(t, err)
	got, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.True(t, e.Time.Equal(got.Time))
	assert.Equal(t, int8(-1), got.Link)
}

func TestFileRecorderAndStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.cbor")
	rec, err := Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rec.Log(FromMessage(3, In, 0, ping(t), nil))
	}
	rec.Log(FromMessage(3, Out, 1, ping(t), errors.New("link down")))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	rec.Log(FromMessage(3, Out, 1, ping(t), nil)) // ignored after close
	assert.Zero(t, rec.Dropped())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	s, err := Collect(r)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Events)
	assert.Equal(t, 3, s.ByDir[In])
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 4, s.ByCmd[uint8(protocol.CmdNodePing)])
	assert.Equal(t, map[string]int{rec.Session(): 4}, s.Sessions)
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "LOCAL", Local.String())
	assert.Equal(t, "UNKNOWN", Direction(9).String())
}
