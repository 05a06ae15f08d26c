package main

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a bytes.Buffer written by the progress goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinterCountdown(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Scanning", "Scanning", 10*time.Second)
	var now atomic.Int64
	now.Store(time.Date(2026, 10, 16, 9, 41, 0, 0, time.UTC).UnixNano())
	p.now = func() time.Time { return time.Unix(0, now.Load()) }

	p.Start()
	assert.Contains(t, out.String(), "Scanning (Scanning 10s)", "first line MUST show the full duration")

	now.Add(int64(2600 * time.Millisecond))
	p.Callback()("Waiting for Bluetooth")
	p.print()
	assert.Contains(t, out.String(), "(Waiting for Bluetooth 7s)", "remaining time MUST be rounded to the nearest second")

	p.Stop()
	p.Stop()
	assert.True(t, strings.HasSuffix(out.String(), clearLineSequence), "Stop MUST clear the line once")
}

func TestProgressPrinterWithoutDuration(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Scanning", "Scanning", 0)
	p.Start()
	p.Stop()
	assert.Contains(t, out.String(), "Scanning (Scanning...)")
}

func TestProgressPrinterStopBeforeStart(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Scanning", "Scanning", time.Second)
	p.Stop()
	assert.Empty(t, out.String(), "Stop without Start MUST NOT print")
}
