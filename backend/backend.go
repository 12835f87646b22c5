// Package backend unifies screen location and synthetic input behind one
// capability interface with two interchangeable implementations: a native
// matcher over raw captures and a robotgo-driven one.
package backend

import (
	"image"
	"time"

	"chat-triage-bot/screenshot"
	"chat-triage-bot/template"
)

// Match is the result of locating a template on screen: a bounding box plus
// the confidence score that produced it. Matches are ephemeral; they describe
// pixels at one instant and are never persisted.
type Match struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the geometric center of the match, the point clicks aim at.
func (m Match) Center() (int, int) {
	return m.X + m.Width/2, m.Y + m.Height/2
}

// Backend drives one live desktop. A found=false from Locate is the expected
// "not yet visible" state, not an error; capture or injection environment
// failures degrade to not-found with a logged diagnostic. Input operations
// return failsafe.ErrCancelled once the abort zone has been entered.
type Backend interface {
	Locate(tpl *template.Template, threshold float64) (Match, bool)
	LocateUntil(tpl *template.Template, threshold float64, timeout, poll time.Duration) (Match, bool)
	Click(m Match) error
	Paste(text string) error
	Hotkey(keys ...string) error
	Capture(r screenshot.Region) (image.Image, error)
}

// pollLocate retries a single-shot locate until it hits or timeout elapses.
// Used while waiting for a UI transition after a click.
func pollLocate(locate func() (Match, bool), timeout, poll time.Duration) (Match, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if m, ok := locate(); ok {
			return m, true
		}
		if time.Now().After(deadline) {
			return Match{}, false
		}
		time.Sleep(poll)
	}
}
