package backend

import (
	"image"
	"log"
	"time"

	"chat-triage-bot/failsafe"
	"chat-triage-bot/matcher"
	"chat-triage-bot/screenshot"
	"chat-triage-bot/template"
)

// Native locates templates with the in-process normalized cross-correlation
// matcher over raw screen captures.
type Native struct {
	input
}

func NewNative(guard *failsafe.Watcher) (*Native, error) {
	in, err := newInput(guard)
	if err != nil {
		return nil, err
	}
	return &Native{input: in}, nil
}

func (n *Native) Locate(tpl *template.Template, threshold float64) (Match, bool) {
	screen, err := screenshot.Capture()
	if err != nil {
		// Capture unavailable means "not visible right now", never a crash.
		log.Printf("Screen capture failed while locating %s: %v", tpl.Role, err)
		return Match{}, false
	}

	pt, score, ok := matcher.Search(matcher.FromImage(screen), tpl.Gray, threshold)
	if !ok {
		return Match{}, false
	}
	return Match{
		X:      pt.X,
		Y:      pt.Y,
		Width:  tpl.Gray.Width,
		Height: tpl.Gray.Height,
		Score:  score,
	}, true
}

func (n *Native) LocateUntil(tpl *template.Template, threshold float64, timeout, poll time.Duration) (Match, bool) {
	return pollLocate(func() (Match, bool) { return n.Locate(tpl, threshold) }, timeout, poll)
}

func (n *Native) Capture(r screenshot.Region) (image.Image, error) {
	return screenshot.CaptureRegion(r)
}
