package logger

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Dedup collapses bursts of identical log lines into one line with a
// repetition count. The flyer-id probe loops can emit hundreds of identical
// "probing leaflet" lines per pass; without this the log is unreadable.
var std = &deduplicator{flushDelay: 2 * time.Second}

type deduplicator struct {
	mu         sync.Mutex
	lastMsg    string
	count      int
	flushDelay time.Duration
	timer      *time.Timer
}

func Dedup(format string, args ...any) {
	std.printf(format, args...)
}

// Flush forces the pending repeated line out immediately.
func Flush() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.stopTimer()
	std.flushLocked()
}

func (d *deduplicator) printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg != d.lastMsg {
		d.flushLocked()
		d.lastMsg = msg
		d.count = 0
	}
	d.count++
	d.rearmLocked()
}

func (d *deduplicator) flushLocked() {
	switch {
	case d.count == 1:
		log.Print(d.lastMsg)
	case d.count > 1:
		log.Printf("%s (x%d)", d.lastMsg, d.count)
	}
	d.count = 0
	d.lastMsg = ""
}

func (d *deduplicator) rearmLocked() {
	d.stopTimer()
	d.timer = time.AfterFunc(d.flushDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.flushLocked()
	})
}

func (d *deduplicator) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
