package screenshot

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Region represents a screen region to capture.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Clamp trims the region to the given bounds, keeping the origin non-negative.
func (r Region) Clamp(bounds image.Rectangle) Region {
	rect := r.Rect().Intersect(bounds)
	return Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

// Capture captures the entire primary display.
func Capture() (*image.RGBA, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	return screenshot.CaptureDisplay(0)
}

// CaptureRegion captures a specific region of the screen. The region is
// clamped to the primary display so an expanded chat box near an edge still
// captures.
func CaptureRegion(region Region) (*image.RGBA, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}

	bounds, err := GetDisplayBounds()
	if err != nil {
		return nil, err
	}
	clamped := region.Clamp(bounds)
	if clamped.Width <= 0 || clamped.Height <= 0 {
		return nil, fmt.Errorf("region %+v is outside the display bounds %v", region, bounds)
	}

	img, err := screenshot.CaptureRect(clamped.Rect())
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}
	return img, nil
}

// GetDisplayBounds returns the bounds of the primary display.
func GetDisplayBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}
