package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"jordanella.com/autochess-scout/internal/logging"
)

// TesseractEngine shells out to the tesseract binary for recognition. Single
// line mode (PSM 7) suits the short numeric fields we read.
type TesseractEngine struct {
	binary string
	log    *logging.Logger
}

// NewTesseractEngine locates the tesseract binary on PATH. The engine is
// still returned when the binary is missing; Available reports false and
// Recognize returns ErrUnavailable.
func NewTesseractEngine(binary string, log *logging.Logger) *TesseractEngine {
	if binary == "" {
		binary = "tesseract"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		log.Warn("tesseract binary not found, field reading disabled")
		return &TesseractEngine{log: log}
	}
	return &TesseractEngine{binary: path, log: log}
}

// Available reports whether the tesseract binary was found
func (e *TesseractEngine) Available() bool {
	return e.binary != ""
}

// Recognize runs tesseract over the image and returns the trimmed text. The
// context bounds the subprocess lifetime; on timeout the process is killed
// and the context error returned.
func (e *TesseractEngine) Recognize(ctx context.Context, img *image.Gray, whitelist string) (string, error) {
	if e.binary == "" {
		return "", ErrUnavailable
	}

	tmp, err := os.MkdirTemp("", "scout-ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create ocr scratch dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	inPath := filepath.Join(tmp, "field.png")
	f, err := os.Create(inPath)
	if err != nil {
		return "", fmt.Errorf("failed to create ocr input: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode ocr input: %w", err)
	}
	f.Close()

	args := []string{inPath, "stdout", "--psm", "7"}
	if whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+whitelist)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tesseract failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
