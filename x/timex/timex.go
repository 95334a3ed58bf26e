package timex

import (
	"sync/atomic"
	"time"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clock is the elapsed-time source used by the superloop.
// Only differences between readings are meaningful.
type Clock interface {
	NowMs() int64
}

// System reads the wall clock.
type System struct{}

func (System) NowMs() int64 { return NowMs() }

// Manual is a settable clock for tests and simulators.
type Manual struct {
	ms atomic.Int64
}

func NewManual(startMs int64) *Manual {
	m := &Manual{}
	m.ms.Store(startMs)
	return m
}

func (m *Manual) NowMs() int64 { return m.ms.Load() }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) { m.ms.Add(d.Milliseconds()) }

// Set pins the clock to ms.
func (m *Manual) Set(ms int64) { m.ms.Store(ms) }

// Since returns the milliseconds elapsed on c since startMs.
func Since(c Clock, startMs int64) time.Duration {
	return time.Duration(c.NowMs()-startMs) * time.Millisecond
}
