// Package overlay renders counting state onto JPEG frames: detection
// boxes, the two counting lines and a running totals banner.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"lintas/internal/config"
	"lintas/internal/counting"
)

const jpegQuality = 85

var (
	boxColor   = color.RGBA{0, 255, 0, 255}
	line1Color = color.RGBA{0, 0, 255, 255}
	line2Color = color.RGBA{255, 0, 0, 255}
	textColor  = color.RGBA{255, 255, 255, 255}
)

// Frame bundles everything drawn onto one annotated frame.
type Frame struct {
	JPEG       []byte
	Detections []counting.Detection
	// DrawBoxes is false when the oracle already rendered its own boxes.
	DrawBoxes bool
	Lines     counting.Lines
	InTotal   int
	OutTotal  int
}

// Render draws the overlay and re-encodes the frame. On any decode or
// encode failure the input bytes are returned unchanged so the stream
// never stalls on a bad frame.
func Render(f Frame) []byte {
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return f.JPEG
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	if f.DrawBoxes {
		for _, det := range f.Detections {
			x := int(det.Box.X1)
			y := int(det.Box.Y1)
			w := int(det.Box.Width())
			h := int(det.Box.Height())
			drawBox(rgba, x, y, w, h, boxColor, 2)
			label := fmt.Sprintf("%s %.0f%%", det.Class, det.Confidence*100)
			drawLabel(rgba, x, y-5, label, boxColor)
		}
	}

	drawLine(rgba, f.Lines.Orientation, f.Lines.Line1, line1Color)
	drawLine(rgba, f.Lines.Orientation, f.Lines.Line2, line2Color)

	banner := fmt.Sprintf("In: %d  Out: %d", f.InTotal, f.OutTotal)
	drawLabel(rgba, 5, 8, banner, textColor)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return f.JPEG
	}
	return buf.Bytes()
}

// drawLine draws one counting line across the full frame.
func drawLine(img *image.RGBA, orientation string, pos float64, c color.RGBA) {
	bounds := img.Bounds()
	p := int(pos)

	if orientation == config.OrientationVertical {
		for t := 0; t < 2; t++ {
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				if p+t >= bounds.Min.X && p+t < bounds.Max.X {
					img.Set(p+t, y, c)
				}
			}
		}
		return
	}

	for t := 0; t < 2; t++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if p+t >= bounds.Min.Y && p+t < bounds.Max.Y {
				img.Set(x, p+t, c)
			}
		}
	}
}

// drawBox draws a rectangle outline.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text over a dark background strip.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
