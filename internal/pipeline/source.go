package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kbinani/screenshot"

	"jordanella.com/autochess-scout/internal/vision"
)

// FrameSource supplies frames to the pipeline. Next blocks until a frame is
// ready, the source is exhausted (io.EOF) or the context is done. Sources
// are not safe for concurrent use; the pipeline session is the sole caller.
type FrameSource interface {
	Next(ctx context.Context) (*vision.Frame, error)
	Close() error
}

// ScreenSource captures frames from a physical display. It never exhausts.
type ScreenSource struct {
	display int
	seq     uint64
}

// NewScreenSource validates the display index and returns a capture source
func NewScreenSource(display int) (*ScreenSource, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d out of range (have %d)", display, n)
	}
	return &ScreenSource{display: display}, nil
}

// Next grabs the current display contents
func (s *ScreenSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureDisplay(s.display)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", s.display, err)
	}
	s.seq++
	return &vision.Frame{
		Image:    img,
		Captured: time.Now(),
		Source:   vision.SourceLive,
		Seq:      s.seq,
	}, nil
}

func (s *ScreenSource) Close() error { return nil }

// VideoSource replays a directory of extracted frame images in filename
// order. Timestamps are synthesized from the configured frame rate so
// downstream timing looks like a live capture. Next returns io.EOF when the
// last frame has been served.
type VideoSource struct {
	paths []string
	fps   float64
	base  time.Time
	seq   uint64
}

// NewVideoSource scans dir for frame images. The directory must hold at
// least one .png, .jpg or .jpeg file.
func NewVideoSource(dir string, fps float64) (*VideoSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame images in %s", dir)
	}
	sort.Strings(paths)

	if fps <= 0 {
		fps = 2.0
	}
	return &VideoSource{paths: paths, fps: fps, base: time.Now()}, nil
}

// Len reports how many frames the source will serve
func (v *VideoSource) Len() int {
	return len(v.paths)
}

// Next decodes and returns the next frame, or io.EOF past the end
func (v *VideoSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int(v.seq) >= len(v.paths) {
		return nil, io.EOF
	}

	path := v.paths[v.seq]
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}

	captured := v.base.Add(time.Duration(float64(v.seq) / v.fps * float64(time.Second)))
	v.seq++
	return &vision.Frame{
		Image:    vision.ToRGBA(img),
		Captured: captured,
		Source:   vision.SourceVideo,
		Seq:      v.seq,
	}, nil
}

func (v *VideoSource) Close() error { return nil }

// ImageSource serves a single still frame, then io.EOF. Used by the analyze
// command to run detection against a saved screenshot.
type ImageSource struct {
	img  *image.RGBA
	seq  uint64
	done bool
}

// NewImageSource decodes one PNG or JPEG file into a source
func NewImageSource(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return &ImageSource{img: vision.ToRGBA(img)}, nil
}

func (s *ImageSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	s.seq++
	return &vision.Frame{
		Image:    s.img,
		Captured: time.Now(),
		Source:   vision.SourceVideo,
		Seq:      s.seq,
	}, nil
}

func (s *ImageSource) Close() error { return nil }
