package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jordanella.com/autochess-scout/internal/config"
	"jordanella.com/autochess-scout/internal/events"
	"jordanella.com/autochess-scout/internal/logging"
	"jordanella.com/autochess-scout/internal/ocr"
	"jordanella.com/autochess-scout/internal/recognize"
	"jordanella.com/autochess-scout/internal/vision"
	"jordanella.com/autochess-scout/pkg/catalog"
)

// fakeSource serves a fixed list of frames, then io.EOF
type fakeSource struct {
	frames []*image.RGBA
	next   int
	closed bool
}

func (f *fakeSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.next >= len(f.frames) {
		return nil, io.EOF
	}
	img := f.frames[f.next]
	f.next++
	return vision.NewFrame(img, vision.SourceVideo, uint64(f.next)), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// stubEngine answers OCR calls with canned text, picked by the field's
// whitelist; gold uses text, the others stay empty unless set
type stubEngine struct {
	text      string
	levelText string
	stageText string
	available bool
}

func (s *stubEngine) Available() bool { return s.available }

func (s *stubEngine) Recognize(ctx context.Context, img *image.Gray, whitelist string) (string, error) {
	if !s.available {
		return "", ocr.ErrUnavailable
	}
	switch {
	case strings.Contains(whitelist, "L"):
		return s.levelText, nil
	case strings.Contains(whitelist, "-"):
		return s.stageText, nil
	}
	return s.text, nil
}

func fillTestRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// gameFrame paints the structure the detectors look for: bright board, dark
// HUD bar at 80% height, five shop panels and the small HUD readouts
func gameFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	hudY := h * 80 / 100
	g := func(v uint8) color.RGBA { return color.RGBA{R: v, G: v, B: v, A: 255} }

	fillTestRect(img, 0, 0, w, hudY, g(120))
	fillTestRect(img, 0, hudY, w, h, g(20))

	span := w * 60 / 100
	spanStart := w * 20 / 100
	gap := span / 25
	cardW := (span - 4*gap) / 5
	cardTop := hudY + (h-hudY)/6
	cardBottom := h - (h-hudY)/12
	for i := 0; i < 5; i++ {
		x := spanStart + i*(cardW+gap)
		fillTestRect(img, x, cardTop, x+cardW, cardBottom, g(200))
	}

	fillTestRect(img, w*48/100, h*1/100, w*52/100, h*3/100, g(230))
	barMid := hudY + (cardTop-hudY)/2
	fillTestRect(img, w*86/100, barMid-4, w*88/100, barMid+4, color.RGBA{R: 230, G: 180, B: 40, A: 255})
	fillTestRect(img, w*12/100, barMid-4, w*17/100, barMid+4, g(220))
	return img
}

func blankFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillTestRect(img, 0, 0, w, h, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	return img
}

func testCatalogDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "icons"), 0o755); err != nil {
		t.Fatal(err)
	}
	icon := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			icon.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, "icons", "ahri.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, icon); err != nil {
		t.Fatal(err)
	}
	f.Close()

	manifest := "units:\n  - id: ahri\n    name: Ahri\n    cost: 4\n"
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// testHarness bundles a session with its bus and an event collector
type testHarness struct {
	session *Session
	bus     *events.Bus
	source  *fakeSource

	mu     sync.Mutex
	events []events.Event
}

func (h *testHarness) collect(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *testHarness) byType(t events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (h *testHarness) changesFor(field string) []events.FieldChange {
	var out []events.FieldChange
	for _, e := range h.byType(events.EventTypeStateChanged) {
		changes, ok := e.Data["changes"].(map[string]events.FieldChange)
		if !ok {
			continue
		}
		if c, ok := changes[field]; ok {
			out = append(out, c)
		}
	}
	return out
}

func newHarness(t *testing.T, frames []*image.RGBA, engine ocr.Engine) *testHarness {
	t.Helper()
	log := logging.NewLogger("test").SetMinLevel(logging.LogLevelError)

	settings := config.Default()
	settings.FrameInterval = 2 * time.Millisecond
	settings.HeartbeatEvery = 2

	cat, err := catalog.Load(testCatalogDir(t))
	if err != nil {
		t.Fatalf("catalog load failed: %v", err)
	}
	matcher := recognize.NewMatcher(cat, recognize.DefaultConfig(), log)
	reader := ocr.NewFieldReader(engine, time.Second, log)
	bus := events.NewBus(settings.EventBuffer, log)
	source := &fakeSource{frames: frames}

	h := &testHarness{
		bus:    bus,
		source: source,
	}
	bus.SubscribeAll(h.collect)
	h.session = NewSession(settings, source, bus, matcher, reader, log)
	return h
}

// runToCompletion starts the session and waits for the source to exhaust
func (h *testHarness) runToCompletion(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.session.Wait()
	h.bus.Stop()
}

func TestSessionLifecycle(t *testing.T) {
	frames := []*image.RGBA{gameFrame(1280, 720), gameFrame(1280, 720), gameFrame(1280, 720)}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})

	if got := h.session.State(); got != StateIdle {
		t.Errorf("state before start = %v, want idle", got)
	}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("second Start = %v, want ErrNotIdle", err)
	}

	h.session.Wait()
	h.bus.Stop()

	if got := h.session.State(); got != StateStopped {
		t.Errorf("state after exhaustion = %v, want stopped", got)
	}
	if got := h.session.Frames(); got != 3 {
		t.Errorf("processed %d frames, want 3", got)
	}
	if got := len(h.byType(events.EventTypeSourceExhausted)); got != 1 {
		t.Errorf("source exhausted events = %d, want 1", got)
	}
	if got := len(h.byType(events.EventTypePipelineStarted)); got != 1 {
		t.Errorf("started events = %d, want 1", got)
	}
	if got := len(h.byType(events.EventTypePipelineStopped)); got != 1 {
		t.Errorf("stopped events = %d, want 1", got)
	}
	if got := len(h.byType(events.EventTypeHeartbeat)); got == 0 {
		t.Error("expected at least one heartbeat")
	}

	// A stopped session does not restart
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("Start after stop = %v, want ErrNotIdle", err)
	}
}

func TestSessionEmitsGoldChangeOnce(t *testing.T) {
	frames := []*image.RGBA{gameFrame(1280, 720), gameFrame(1280, 720), gameFrame(1280, 720)}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})
	h.runToCompletion(t)

	gold := h.changesFor("gold")
	if len(gold) != 1 {
		t.Fatalf("gold change events = %d, want 1 (identical frames must not re-emit)", len(gold))
	}
	if gold[0].New != 42 {
		t.Errorf("gold new value = %v, want 42", gold[0].New)
	}
	if gold[0].Old != nil {
		t.Errorf("gold old value = %v, want nil on first observation", gold[0].Old)
	}
}

func TestSessionAggregatesChangesPerFrame(t *testing.T) {
	frames := []*image.RGBA{gameFrame(1280, 720), gameFrame(1280, 720)}
	engine := &stubEngine{text: "42", levelText: "Lv. 7", stageText: "3-2", available: true}
	h := newHarness(t, frames, engine)
	h.runToCompletion(t)

	// The first frame observes gold, level and stage at once; they must
	// arrive in one delta event, not one event per field
	deltas := h.byType(events.EventTypeStateChanged)
	if len(deltas) != 1 {
		t.Fatalf("state.changed events = %d, want 1 per changed frame", len(deltas))
	}
	changes, ok := deltas[0].Data["changes"].(map[string]events.FieldChange)
	if !ok {
		t.Fatal("delta event carries no changes map")
	}
	for _, field := range []string{"gold", "level", "stage"} {
		if _, ok := changes[field]; !ok {
			t.Errorf("delta missing field %q", field)
		}
	}
	if deltas[0].Data["seq"] == nil {
		t.Error("delta event missing frame seq")
	}
}

func TestSessionNoGameStatusEmittedOncePerLoss(t *testing.T) {
	frames := []*image.RGBA{
		blankFrame(1280, 720),
		blankFrame(1280, 720),
		blankFrame(1280, 720),
	}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})
	h.runToCompletion(t)

	if got := len(h.byType(events.EventTypeNoGameDetected)); got != 1 {
		t.Errorf("no-game events = %d, want 1 for a continuous loss", got)
	}
	if got := len(h.byType(events.EventTypeStateChanged)); got != 0 {
		t.Errorf("state changes without a game = %d, want 0", got)
	}
}

func TestSessionOCRUnavailable(t *testing.T) {
	frames := []*image.RGBA{gameFrame(1280, 720), gameFrame(1280, 720)}
	h := newHarness(t, frames, &stubEngine{available: false})
	h.runToCompletion(t)

	if got := len(h.byType(events.EventTypeOCRUnavailable)); got != 1 {
		t.Errorf("ocr-unavailable events = %d, want exactly 1", got)
	}
	if got := len(h.changesFor("gold")); got != 0 {
		t.Errorf("gold changes without OCR = %d, want 0", got)
	}

	snap := h.session.LastSnapshot()
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.OCRAvailable {
		t.Error("snapshot claims OCR available")
	}
}

func TestSessionStop(t *testing.T) {
	// Endless source: keep serving the same frame
	frames := make([]*image.RGBA, 0, 10000)
	frame := gameFrame(1280, 720)
	for i := 0; i < 10000; i++ {
		frames = append(frames, frame)
	}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	h.session.Stop()
	h.session.Stop() // idempotent

	if got := h.session.State(); got != StateStopped {
		t.Errorf("state after Stop = %v, want stopped", got)
	}
	h.bus.Stop()
}

func TestSessionStopBeforeStart(t *testing.T) {
	h := newHarness(t, []*image.RGBA{gameFrame(1280, 720)}, &stubEngine{available: true})
	defer h.bus.Stop()

	h.session.Stop()
	if got := h.session.State(); got != StateStopped {
		t.Fatalf("state after idle Stop = %v, want stopped", got)
	}

	// Wait must return even though no loop ever ran
	done := make(chan struct{})
	go func() {
		h.session.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait blocked after stopping an idle session")
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("Start after idle Stop = %v, want ErrNotIdle", err)
	}
}

func TestSessionContextCancel(t *testing.T) {
	frames := make([]*image.RGBA, 0, 10000)
	frame := gameFrame(1280, 720)
	for i := 0; i < 10000; i++ {
		frames = append(frames, frame)
	}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	h.session.Wait()

	if got := h.session.State(); got != StateStopped {
		t.Errorf("state after cancel = %v, want stopped", got)
	}
	h.bus.Stop()
}

func TestSessionGameLostAndReacquired(t *testing.T) {
	frames := []*image.RGBA{
		gameFrame(1280, 720),
		blankFrame(1280, 720),
		blankFrame(1280, 720),
		gameFrame(1280, 720),
		blankFrame(1280, 720),
	}
	h := newHarness(t, frames, &stubEngine{text: "42", available: true})
	h.runToCompletion(t)

	// Two separate losses, each announced once
	if got := len(h.byType(events.EventTypeNoGameDetected)); got != 2 {
		t.Errorf("no-game events = %d, want 2", got)
	}
}

func TestVideoSourceServesFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		img := blankFrame(64, 64)
		img.SetRGBA(0, 0, color.RGBA{R: uint8(i * 10), A: 255})
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	src, err := NewVideoSource(dir, 2.0)
	if err != nil {
		t.Fatalf("NewVideoSource failed: %v", err)
	}
	defer src.Close()
	if src.Len() != 3 {
		t.Fatalf("Len = %d, want 3", src.Len())
	}

	ctx := context.Background()
	var last time.Time
	for i := 0; i < 3; i++ {
		frame, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Image.RGBAAt(0, 0).R != uint8(i*10) {
			t.Errorf("frame %d out of order", i)
		}
		if frame.Source != vision.SourceVideo {
			t.Errorf("frame %d source = %q", i, frame.Source)
		}
		if i > 0 && !frame.Captured.After(last) {
			t.Errorf("frame %d timestamp does not advance", i)
		}
		last = frame.Captured
	}

	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF past the end, got %v", err)
	}
}

func TestVideoSourceEmptyDir(t *testing.T) {
	if _, err := NewVideoSource(t.TempDir(), 2.0); err == nil {
		t.Fatal("expected an error for a directory without frames")
	}
}
