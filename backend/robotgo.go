package backend

import (
	"fmt"
	"image"
	"log"
	"time"

	"github.com/go-vgo/robotgo"
	"github.com/vcaesar/gcv"

	"chat-triage-bot/failsafe"
	"chat-triage-bot/screenshot"
	"chat-triage-bot/template"
)

// Robotgo locates templates via robotgo screen captures scored by gcv's
// OpenCV-style matcher. Interchangeable with Native; the orchestrator never
// sees the difference.
type Robotgo struct {
	input
}

func NewRobotgo(guard *failsafe.Watcher) (*Robotgo, error) {
	in, err := newInput(guard)
	if err != nil {
		return nil, err
	}
	return &Robotgo{input: in}, nil
}

func (r *Robotgo) Locate(tpl *template.Template, threshold float64) (Match, bool) {
	screen, err := robotgo.CaptureImg()
	if err != nil {
		log.Printf("Screen capture failed while locating %s: %v", tpl.Role, err)
		return Match{}, false
	}

	_, maxVal, _, maxLoc := gcv.FindImg(tpl.Img, screen)
	if float64(maxVal) < threshold {
		return Match{}, false
	}
	bounds := tpl.Img.Bounds()
	return Match{
		X:      maxLoc.X,
		Y:      maxLoc.Y,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Score:  float64(maxVal),
	}, true
}

func (r *Robotgo) LocateUntil(tpl *template.Template, threshold float64, timeout, poll time.Duration) (Match, bool) {
	return pollLocate(func() (Match, bool) { return r.Locate(tpl, threshold) }, timeout, poll)
}

func (r *Robotgo) Capture(reg screenshot.Region) (image.Image, error) {
	img, err := robotgo.CaptureImg(reg.X, reg.Y, reg.Width, reg.Height)
	if err != nil {
		return nil, fmt.Errorf("robotgo capture: %w", err)
	}
	return img, nil
}
