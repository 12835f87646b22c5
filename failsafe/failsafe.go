// Package failsafe implements the operator abort zone: moving the mouse into
// the top-left screen corner cancels automated input and stops the bot.
package failsafe

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/go-vgo/robotgo"
	gohook "github.com/robotn/gohook"
)

// ErrCancelled is raised when the fail-safe zone has been entered. It is the
// only condition permitted to stop the main loop.
var ErrCancelled = errors.New("input cancelled by fail-safe trigger")

// cornerMargin is the size of the abort zone in pixels, measured from the
// top-left screen corner.
const cornerMargin = 5

// Watcher latches once the cursor enters the abort zone. The latch never
// resets within a process.
type Watcher struct {
	tripped atomic.Bool
}

// Start begins watching global mouse movement. The returned watcher is also
// consulted synchronously via Check before each synthesized input action.
func Start() *Watcher {
	w := &Watcher{}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in fail-safe goroutine: %v", r)
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			log.Printf("ERROR: gohook.Start() returned nil channel, fail-safe reduced to cursor polling")
			return
		}
		for ev := range evChan {
			if ev.Kind != gohook.MouseMove && ev.Kind != gohook.MouseDrag {
				continue
			}
			if inCorner(int(ev.X), int(ev.Y)) {
				w.trip()
				return
			}
		}
	}()
	return w
}

func inCorner(x, y int) bool {
	return x <= cornerMargin && y <= cornerMargin
}

func (w *Watcher) trip() {
	if w.tripped.CompareAndSwap(false, true) {
		log.Printf("Fail-safe triggered: mouse entered the top-left corner")
		gohook.End()
	}
}

// Triggered reports whether the abort latch is set.
func (w *Watcher) Triggered() bool { return w.tripped.Load() }

// Check probes the latch and the live cursor position. Input drivers call it
// before every synthesized action; once it returns ErrCancelled it does so
// forever.
func (w *Watcher) Check() error {
	if w.tripped.Load() {
		return ErrCancelled
	}
	if x, y := robotgo.Location(); inCorner(x, y) {
		w.trip()
		return ErrCancelled
	}
	return nil
}

// Trip sets the latch directly. Used by tests and by shutdown paths that must
// suppress further input.
func (w *Watcher) Trip() { w.tripped.Store(true) }
