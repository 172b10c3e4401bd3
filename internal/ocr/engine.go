package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrUnavailable means no OCR backend can run on this machine. Callers keep
// working without field readings rather than failing the whole pipeline.
var ErrUnavailable = errors.New("ocr: engine unavailable")

// Engine recognizes text in a preprocessed grayscale image. The whitelist
// restricts the character set the engine may emit.
type Engine interface {
	Recognize(ctx context.Context, img *image.Gray, whitelist string) (string, error)
	Available() bool
}
