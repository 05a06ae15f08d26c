package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with the time left in a scan.
//
// The caller must call Stop to terminate the internal goroutine. A
// ProgressPrinter is single-use.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration
	now      func() time.Time

	phase    atomic.Value // string
	start    time.Time
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCountdownProgressPrinter creates a printer counting down from duration.
// A zero duration prints the phase without a counter.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start draws the first line and begins updating it in the background.
func (p *ProgressPrinter) Start() {
	p.start = p.now()
	p.print()

	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *ProgressPrinter) print() {
	phase := p.phase.Load().(string)
	if seconds := p.remaining(); seconds > 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	_, _ = fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// remaining returns the whole seconds left, rounded to the nearest second.
func (p *ProgressPrinter) remaining() int {
	if p.duration <= 0 {
		return 0
	}
	left := p.duration - p.now().Sub(p.start)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds() + 0.5)
}

// Callback returns a scanner.ProgressCallback that updates the phase.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
	}
}

// Stop terminates the update loop and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.start.IsZero() {
			return
		}
		<-p.done
		_, _ = fmt.Fprint(p.out, clearLineSequence)
	})
}
