package vision

import (
	"image"
	"testing"
)

func TestRegionValid(t *testing.T) {
	cases := []struct {
		name   string
		region Region
		want   bool
	}{
		{"full", FullRegion(), true},
		{"interior", Region{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}, true},
		{"zero width", Region{X: 0.1, Y: 0.1, W: 0, H: 0.5}, false},
		{"negative origin", Region{X: -0.1, Y: 0, W: 0.5, H: 0.5}, false},
		{"overflows right", Region{X: 0.8, Y: 0, W: 0.5, H: 0.5}, false},
	}
	for _, tc := range cases {
		if got := tc.region.Valid(); got != tc.want {
			t.Errorf("%s: Valid() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRegionWithin(t *testing.T) {
	outer := Region{X: 0.2, Y: 0.2, W: 0.6, H: 0.6}
	inner := Region{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}

	got := inner.Within(outer)
	want := Region{X: 0.5, Y: 0.5, W: 0.3, H: 0.3}
	if got != want {
		t.Errorf("Within() = %+v, want %+v", got, want)
	}

	if full := FullRegion().Within(outer); full != outer {
		t.Errorf("full region within outer = %+v, want outer %+v", full, outer)
	}
}

func TestRegionRectClamps(t *testing.T) {
	r := Region{X: 0.5, Y: 0.5, W: 0.8, H: 0.8}
	rect := r.Rect(100, 100)
	if rect.Max.X > 100 || rect.Max.Y > 100 {
		t.Errorf("rect %v exceeds image bounds", rect)
	}
	if rect.Min.X != 50 || rect.Min.Y != 50 {
		t.Errorf("rect origin %v, want (50,50)", rect.Min)
	}
}

func TestRegionCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	fillRect(img, 0, 0, 100, 50, gray8(10))
	fillRect(img, 50, 0, 100, 50, gray8(200))

	crop := Region{X: 0.5, Y: 0, W: 0.5, H: 1}.Crop(img)
	if crop.Bounds().Min != (image.Point{}) {
		t.Errorf("crop not zero-based: %v", crop.Bounds())
	}
	if crop.Bounds().Dx() != 50 || crop.Bounds().Dy() != 50 {
		t.Fatalf("crop size %v, want 50x50", crop.Bounds())
	}
	if crop.Pix[0] != 200 {
		t.Errorf("crop content starts with %d, want pixels from the bright half", crop.Pix[0])
	}

	// Writing into the crop must not touch the source
	crop.SetRGBA(0, 0, gray8(0))
	if img.RGBAAt(50, 0).R != 200 {
		t.Error("mutating the crop changed the source image")
	}
}

func TestGrayscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	fillRect(img, 0, 0, 2, 1, gray8(0))
	fillRect(img, 2, 0, 4, 1, gray8(255))

	gray := Grayscale(img)
	if gray.Pix[0] != 0 {
		t.Errorf("black pixel became %d", gray.Pix[0])
	}
	if gray.Pix[3] != 255 {
		t.Errorf("white pixel became %d", gray.Pix[3])
	}
}
