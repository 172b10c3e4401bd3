package vision

import (
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Source tags where a frame came from
type Source string

const (
	SourceLive  Source = "live"
	SourceVideo Source = "video"
)

// Frame is one captured image plus acquisition metadata. A frame is owned by
// the pipeline cycle that pulled it and must not be mutated after creation.
type Frame struct {
	Image    *image.RGBA
	Captured time.Time
	Source   Source
	Seq      uint64
}

// NewFrame wraps an image with capture metadata
func NewFrame(img *image.RGBA, src Source, seq uint64) *Frame {
	return &Frame{
		Image:    img,
		Captured: time.Now(),
		Source:   src,
		Seq:      seq,
	}
}

// Region is a rectangle in normalized [0,1] coordinates relative to a parent
// frame or viewport. Normalized geometry is what lets a detected layout apply
// across arbitrary resolutions.
type Region struct {
	X, Y, W, H float64
}

// Valid reports whether the region lies within the unit square
func (r Region) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 &&
		r.X+r.W <= 1.0001 && r.Y+r.H <= 1.0001
}

// Within composes a region expressed relative to an outer region (e.g. a
// layout slot inside a viewport) into the outer region's parent coordinates.
func (r Region) Within(outer Region) Region {
	return Region{
		X: outer.X + r.X*outer.W,
		Y: outer.Y + r.Y*outer.H,
		W: r.W * outer.W,
		H: r.H * outer.H,
	}
}

// Rect resolves the region against pixel dimensions, clamped to bounds
func (r Region) Rect(width, height int) image.Rectangle {
	x := int(r.X * float64(width))
	y := int(r.Y * float64(height))
	w := int(r.W * float64(width))
	h := int(r.H * float64(height))

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= width {
		x = width - 1
	}
	if y >= height {
		y = height - 1
	}
	if x+w > width {
		w = width - x
	}
	if y+h > height {
		h = height - y
	}
	return image.Rect(x, y, x+w, y+h)
}

// Crop extracts the region from an image as a new zero-based RGBA buffer
func (r Region) Crop(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	rect := r.Rect(b.Dx(), b.Dy())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		srcOff := y*img.Stride + rect.Min.X*4
		dstOff := (y - rect.Min.Y) * out.Stride
		copy(out.Pix[dstOff:dstOff+rect.Dx()*4], img.Pix[srcOff:srcOff+rect.Dx()*4])
	}
	return out
}

// FullRegion covers an entire parent frame
func FullRegion() Region {
	return Region{X: 0, Y: 0, W: 1, H: 1}
}

// ToRGBA converts any decoded image to RGBA without sharing pixel memory
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(out, image.Point{}, img, b, draw.Src, nil)
	return out
}

// Grayscale converts an RGBA image to 8-bit grayscale using the standard
// luminance weights
func Grayscale(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			idx := (y-b.Min.Y)*img.Stride + (x-b.Min.X)*4
			r := int(img.Pix[idx])
			g := int(img.Pix[idx+1])
			bl := int(img.Pix[idx+2])
			gray.Pix[(y-b.Min.Y)*gray.Stride+(x-b.Min.X)] = uint8((r*299 + g*587 + bl*114) / 1000)
		}
	}
	return gray
}
