package ocr

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/nfnt/resize"

	"jordanella.com/autochess-scout/internal/logging"
)

// Field value bounds. Readings outside these are OCR noise and rejected.
const (
	MinGold  = 0
	MaxGold  = 999
	MinLevel = 1
	MaxLevel = 10
)

var stagePattern = regexp.MustCompile(`(\d+)-(\d+)`)

// IntReading is a validated numeric field reading
type IntReading struct {
	Value int
	Raw   string
}

// StageReading is a validated stage indicator reading
type StageReading struct {
	Stage int
	Round int
	Raw   string
}

// FieldReader extracts the numeric HUD fields through an OCR engine. Each
// read is bounded by the configured timeout so a wedged engine cannot stall
// the frame cycle.
type FieldReader struct {
	engine  Engine
	timeout time.Duration
	log     *logging.Logger
}

// NewFieldReader wraps an engine with field-specific parsing and validation
func NewFieldReader(engine Engine, timeout time.Duration, log *logging.Logger) *FieldReader {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &FieldReader{engine: engine, timeout: timeout, log: log}
}

// Available reports whether the underlying engine can run
func (r *FieldReader) Available() bool {
	return r.engine.Available()
}

// ReadGold reads the gold counter from its HUD crop
func (r *FieldReader) ReadGold(ctx context.Context, crop *image.RGBA) (*IntReading, error) {
	return r.readInt(ctx, crop, "gold", MinGold, MaxGold)
}

// ReadLevel reads the player level from its HUD crop. The crop holds "Lv. X"
// so letters stay in the whitelist and digits are extracted afterwards.
func (r *FieldReader) ReadLevel(ctx context.Context, crop *image.RGBA) (*IntReading, error) {
	raw, err := r.recognize(ctx, crop, "Lv.0123456789 ")
	if err != nil {
		return nil, err
	}
	digits := digitsOnly(raw)
	if digits == "" {
		return nil, fmt.Errorf("level text %q contains no digits", raw)
	}
	value, err := strconv.Atoi(digits)
	if err != nil {
		return nil, fmt.Errorf("failed to parse level %q: %w", raw, err)
	}
	if value < MinLevel || value > MaxLevel {
		return nil, fmt.Errorf("level %d outside [%d,%d]", value, MinLevel, MaxLevel)
	}
	return &IntReading{Value: value, Raw: raw}, nil
}

// ReadStage reads the stage indicator, expecting "<stage>-<round>"
func (r *FieldReader) ReadStage(ctx context.Context, crop *image.RGBA) (*StageReading, error) {
	raw, err := r.recognize(ctx, crop, "0123456789-")
	if err != nil {
		return nil, err
	}
	m := stagePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("stage text %q does not match <stage>-<round>", raw)
	}
	stage, _ := strconv.Atoi(m[1])
	round, _ := strconv.Atoi(m[2])
	if stage < 1 || stage > 9 || round < 1 {
		return nil, fmt.Errorf("stage reading %d-%d out of range", stage, round)
	}
	return &StageReading{Stage: stage, Round: round, Raw: raw}, nil
}

func (r *FieldReader) readInt(ctx context.Context, crop *image.RGBA, field string, min, max int) (*IntReading, error) {
	raw, err := r.recognize(ctx, crop, "0123456789")
	if err != nil {
		return nil, err
	}
	digits := digitsOnly(raw)
	if digits == "" {
		return nil, fmt.Errorf("%s text %q contains no digits", field, raw)
	}
	value, err := strconv.Atoi(digits)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s %q: %w", field, raw, err)
	}
	if value < min || value > max {
		return nil, fmt.Errorf("%s %d outside [%d,%d]", field, value, min, max)
	}
	return &IntReading{Value: value, Raw: raw}, nil
}

func (r *FieldReader) recognize(ctx context.Context, crop *image.RGBA, whitelist string) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prepared := PrepareField(crop)
	raw, err := r.engine.Recognize(readCtx, prepared, whitelist)
	if err != nil {
		return "", err
	}
	return raw, nil
}

func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// PrepareField turns a small HUD crop into the dark-on-white binarized form
// tesseract reads best. Small crops are upscaled first; game text is light
// on dark so the binarized image is inverted.
func PrepareField(crop *image.RGBA) *image.Gray {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()

	var scaled image.Image = crop
	switch {
	case h > 0 && h < 30:
		scaled = resize.Resize(uint(w*3), uint(h*3), crop, resize.NearestNeighbor)
	case h < 60:
		scaled = resize.Resize(uint(w*2), uint(h*2), crop, resize.NearestNeighbor)
	}

	sb := scaled.Bounds()
	gray := image.NewGray(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			r, g, bl, _ := scaled.At(sb.Min.X+x, sb.Min.Y+y).RGBA()
			lum := (299*(r>>8) + 587*(g>>8) + 114*(bl>>8)) / 1000
			gray.SetGray(x, y, color.Gray{Y: uint8(lum)})
		}
	}

	threshold := fieldThreshold(gray)
	for i, p := range gray.Pix {
		if float64(p) > threshold {
			gray.Pix[i] = 0
		} else {
			gray.Pix[i] = 255
		}
	}
	return gray
}

// fieldThreshold picks a binarization cut between the crop's dark background
// and bright text from the 30th and 85th brightness percentiles
func fieldThreshold(gray *image.Gray) float64 {
	sorted := make([]float64, len(gray.Pix))
	for i, p := range gray.Pix {
		sorted[i] = float64(p)
	}
	sort.Float64s(sorted)
	dark := sorted[len(sorted)*30/100]
	bright := sorted[len(sorted)*85/100]
	return dark + (bright-dark)*0.4
}
