// Package overlay draws detection boxes over a displayed video frame.
package overlay

import (
	"fmt"
	"image/color"
	"math"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// Size is a width and height in pixels.
type Size struct {
	W, H float64
}

// Known reports whether both dimensions are positive.
func (s Size) Known() bool {
	return s.W > 0 && s.H > 0
}

// Media describes the element the overlay is aligned to: the size it is
// displayed at and the native size of the source frame.
type Media struct {
	Display Size
	Native  Size
}

// Scale returns the per-axis factors from source-frame pixels to displayed
// pixels. An unknown native dimension scales by 1 on that axis.
func (m Media) Scale() (sx, sy float64) {
	sx, sy = 1, 1
	if m.Native.W > 0 {
		sx = m.Display.W / m.Native.W
	}
	if m.Native.H > 0 {
		sy = m.Display.H / m.Native.H
	}
	return sx, sy
}

// Box is one detection laid out in display space.
type Box struct {
	X, Y, W, H     float64
	Label          string
	LabelX, LabelY float64 // text baseline origin
}

const labelOffset = 5

// Label formats a detection as "person (87.5%)".
func Label(d model.Detection) string {
	return fmt.Sprintf("%s (%.1f%%)", d.Label, d.Confidence*100)
}

// Layout scales dets into display space. Detections with non-finite
// geometry are skipped.
func Layout(dets []model.Detection, m Media) []Box {
	sx, sy := m.Scale()
	boxes := make([]Box, 0, len(dets))
	for _, d := range dets {
		if !finite(d.X, d.Y, d.Width, d.Height) {
			continue
		}
		b := Box{
			X:     d.X * sx,
			Y:     d.Y * sy,
			W:     d.Width * sx,
			H:     d.Height * sy,
			Label: Label(d),
		}
		b.LabelX = b.X
		b.LabelY = b.Y - labelOffset
		boxes = append(boxes, b)
	}
	return boxes
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Canvas is a drawing surface sized to the displayed media.
type Canvas interface {
	// Clear erases everything previously drawn.
	Clear()
	StrokeRect(x, y, w, h float64, c color.Color, lineWidth int)
	FillText(text string, x, y float64, c color.Color)
}

// Renderer draws detections onto a Canvas.
type Renderer struct {
	Color     color.Color
	LineWidth int
}

// NewRenderer returns a renderer with green 2px boxes.
func NewRenderer() *Renderer {
	return &Renderer{Color: color.RGBA{R: 0, G: 255, B: 0, A: 255}, LineWidth: 2}
}

// Draw clears the canvas and redraws every detection. It does nothing when
// media is nil or has no displayed size yet, and reports whether it drew.
func (r *Renderer) Draw(c Canvas, dets []model.Detection, media *Media) bool {
	if c == nil || media == nil || !media.Display.Known() {
		return false
	}
	c.Clear()
	for _, b := range Layout(dets, *media) {
		c.StrokeRect(b.X, b.Y, b.W, b.H, r.Color, r.LineWidth)
		c.FillText(b.Label, b.LabelX, b.LabelY, r.Color)
	}
	return true
}
