// Package frame is the image passed through the pipeline: an OpenCV Mat
// tagged with its channel order, plus the marker drawing used for annotation.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/facemark/internal/types"
	"gocv.io/x/gocv"
)

// Order is the channel order of a frame's pixels.
type Order int

const (
	// BGR is the capture and display order.
	BGR Order = iota
	// RGB is the order the landmark model expects.
	RGB
)

func (o Order) String() string {
	if o == RGB {
		return "RGB"
	}
	return "BGR"
}

// Frame owns an 8-bit 3-channel Mat. Close releases it.
type Frame struct {
	Mat   gocv.Mat
	Order Order
}

// New allocates a black BGR frame.
func New(width, height int) *Frame {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	return &Frame{Mat: m, Order: BGR}
}

// FromMat takes ownership of m. It must hold a non-empty 8-bit 3-channel image.
func FromMat(m gocv.Mat, order Order) (*Frame, error) {
	if m.Empty() {
		return nil, errors.New("empty frame")
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unsupported frame type %v, want 8-bit 3-channel", m.Type())
	}
	return &Frame{Mat: m, Order: order}, nil
}

func (f *Frame) Width() int  { return f.Mat.Cols() }
func (f *Frame) Height() int { return f.Mat.Rows() }

// Bytes returns a copy of the packed pixel rows in the frame's order.
func (f *Frame) Bytes() []byte { return f.Mat.ToBytes() }

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	return &Frame{Mat: f.Mat.Clone(), Order: f.Order}
}

// Convert returns a new frame in the requested channel order. f is left untouched.
func (f *Frame) Convert(order Order) (*Frame, error) {
	if order == f.Order {
		return f.Clone(), nil
	}
	code := gocv.ColorBGRToRGB
	if f.Order == RGB {
		code = gocv.ColorRGBToBGR
	}

	dst := gocv.NewMat()
	gocv.CvtColor(f.Mat, &dst, code)
	if dst.Empty() {
		dst.Close()
		return nil, fmt.Errorf("convert %s to %s failed", f.Order, order)
	}
	return &Frame{Mat: dst, Order: order}, nil
}

// RGBAAt returns the pixel at (x, y) regardless of channel order. Out of bounds is transparent black.
func (f *Frame) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}).In(f.bounds()) {
		return color.RGBA{}
	}
	c0, c1, c2 := f.Mat.GetUCharAt(y, x*3), f.Mat.GetUCharAt(y, x*3+1), f.Mat.GetUCharAt(y, x*3+2)
	if f.Order == BGR {
		return color.RGBA{R: c2, G: c1, B: c0, A: 0xFF}
	}
	return color.RGBA{R: c0, G: c1, B: c2, A: 0xFF}
}

// SetRGBA writes c at (x, y). Out-of-bounds writes are dropped.
func (f *Frame) SetRGBA(x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(f.bounds()) {
		return
	}
	first, last := c.R, c.B
	if f.Order == BGR {
		first, last = c.B, c.R
	}
	f.Mat.SetUCharAt(y, x*3, first)
	f.Mat.SetUCharAt(y, x*3+1, c.G)
	f.Mat.SetUCharAt(y, x*3+2, last)
}

func (f *Frame) bounds() image.Rectangle { return image.Rect(0, 0, f.Width(), f.Height()) }

// Mark draws a filled disc centred on (x, y), truncated to whole pixels.
// OpenCV clips it to the frame. Non-finite coordinates are ignored.
func (f *Frame) Mark(x, y float64, s types.MarkerStyle) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return
	}
	r := s.Radius
	if r < 0 {
		r = 0
	}
	// gocv writes color.RGBA as a BGR scalar
	c := s.Color
	if f.Order == RGB {
		c.R, c.B = c.B, c.R
	}
	gocv.Circle(&f.Mat, image.Pt(int(x), int(y)), r, c, -1)
}

// Close releases the Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Annotator converts captured frames for the models and marks landmarks on them.
type Annotator struct{}

// ToRGB returns an RGB copy of f.
func (Annotator) ToRGB(f *Frame) (*Frame, error) { return f.Convert(RGB) }

// Mark draws one marker on f.
func (Annotator) Mark(f *Frame, x, y float64, s types.MarkerStyle) { f.Mark(x, y, s) }
