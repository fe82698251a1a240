package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageCanvas draws onto an RGBA image. Clear restores Background, or
// transparent black when Background is nil.
type ImageCanvas struct {
	Img        *image.RGBA
	Background image.Image
}

// NewImageCanvas allocates a canvas of size w x h.
func NewImageCanvas(w, h int) *ImageCanvas {
	return &ImageCanvas{Img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// CanvasFor returns a canvas over a copy of frame, so that Clear restores
// the original frame and overlays are drawn over it.
func CanvasFor(frame image.Image) *ImageCanvas {
	b := frame.Bounds()
	c := &ImageCanvas{Img: image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy())), Background: frame}
	c.Clear()
	return c
}

// Media returns the canvas as both display and native size.
func (c *ImageCanvas) Media(native Size) *Media {
	b := c.Img.Bounds()
	return &Media{Display: Size{W: float64(b.Dx()), H: float64(b.Dy())}, Native: native}
}

// Clear implements Canvas.
func (c *ImageCanvas) Clear() {
	if c.Background == nil {
		draw.Draw(c.Img, c.Img.Bounds(), image.Transparent, image.Point{}, draw.Src)
		return
	}
	draw.Draw(c.Img, c.Img.Bounds(), c.Background, c.Background.Bounds().Min, draw.Src)
}

// StrokeRect implements Canvas. The stroke is drawn inside the rectangle
// and clipped to the image.
func (c *ImageCanvas) StrokeRect(x, y, w, h float64, col color.Color, lineWidth int) {
	if lineWidth < 1 {
		lineWidth = 1
	}
	x0, y0 := int(math.Round(x)), int(math.Round(y))
	x1, y1 := int(math.Round(x+w)), int(math.Round(y+h))
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(x0, y0, x1, y0+lineWidth),
		image.Rect(x0, y1-lineWidth, x1, y1),
		image.Rect(x0, y0, x0+lineWidth, y1),
		image.Rect(x1-lineWidth, y0, x1, y1),
	}
	for _, e := range edges {
		e = e.Intersect(c.Img.Bounds())
		if e.Empty() {
			continue
		}
		draw.Draw(c.Img, e, src, image.Point{}, draw.Over)
	}
}

// FillText implements Canvas using the 7x13 bitmap face. y is the
// baseline; text that would start above the image is moved down onto it.
func (c *ImageCanvas) FillText(text string, x, y float64, col color.Color) {
	face := basicfont.Face7x13
	ascent := face.Metrics().Ascent.Ceil()
	if int(y) < ascent {
		y = float64(ascent)
	}
	d := &font.Drawer{
		Dst:  c.Img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}
