package backend

import (
	"fmt"

	"github.com/go-vgo/robotgo"
	"golang.design/x/clipboard"

	"chat-triage-bot/failsafe"
)

// actionPause is the settle time after each synthesized action, matching the
// pacing the target application tolerates.
const actionPause = 500 // milliseconds

// input synthesizes mouse and keyboard events. Both backends share it: only
// locating differs between them, not driving. The system clipboard it pastes
// through is shared with every other program on the desktop; paste sequences
// must not be interleaved with other clipboard users.
type input struct {
	guard *failsafe.Watcher
}

// newInput claims the clipboard device for paste-based injection. Clipboard
// unavailability is a startup-blocking condition.
func newInput(guard *failsafe.Watcher) (input, error) {
	if err := clipboard.Init(); err != nil {
		return input{}, fmt.Errorf("clipboard unavailable: %w", err)
	}
	return input{guard: guard}, nil
}

func (in *input) Click(m Match) error {
	if err := in.guard.Check(); err != nil {
		return err
	}
	x, y := m.Center()
	robotgo.Move(x, y)
	robotgo.Click("left", false)
	robotgo.MilliSleep(actionPause)
	return in.guard.Check()
}

// Paste writes the text to the system clipboard and synthesizes Ctrl+V.
// Keystroke simulation is deliberately avoided: it mis-renders some
// non-Latin text.
func (in *input) Paste(text string) error {
	if err := in.guard.Check(); err != nil {
		return err
	}
	// The underlying write returns a change channel, not an error.
	clipboard.Write(clipboard.FmtText, []byte(text))
	if err := in.guard.Check(); err != nil {
		return err
	}
	if err := robotgo.KeyTap("v", "ctrl"); err != nil {
		return fmt.Errorf("paste hotkey: %w", err)
	}
	robotgo.MilliSleep(actionPause)
	return in.guard.Check()
}

// Hotkey taps a key with optional modifiers, e.g. Hotkey("a", "ctrl") or
// Hotkey("enter").
func (in *input) Hotkey(keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("hotkey: empty combo")
	}
	if err := in.guard.Check(); err != nil {
		return err
	}
	mods := make([]interface{}, 0, len(keys)-1)
	for _, k := range keys[1:] {
		mods = append(mods, k)
	}
	if err := robotgo.KeyTap(keys[0], mods...); err != nil {
		return fmt.Errorf("hotkey %v: %w", keys, err)
	}
	robotgo.MilliSleep(actionPause)
	return in.guard.Check()
}
