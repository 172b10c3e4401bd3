package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/autochess-scout/internal/config"
	"jordanella.com/autochess-scout/internal/events"
	"jordanella.com/autochess-scout/internal/logging"
	"jordanella.com/autochess-scout/internal/ocr"
	"jordanella.com/autochess-scout/internal/recognize"
	"jordanella.com/autochess-scout/internal/vision"
)

// State is the session lifecycle state
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotIdle is returned when Start is called on a session that already ran
var ErrNotIdle = errors.New("pipeline: session is not idle")

// Session drives frames from a source through detection, recognition and
// field reading, publishing state changes to the event bus. A session runs
// once: Idle, then Running, then Stopped.
type Session struct {
	cfg     *config.Settings
	source  FrameSource
	bus     *events.Bus
	matcher *recognize.Matcher
	reader  *ocr.FieldReader
	log     *logging.Logger

	areas   *vision.AreaTracker
	layouts *vision.LayoutTracker

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	frames atomic.Uint64

	mu        sync.Mutex
	last      *Snapshot
	ocrWarned bool
	gameLost  bool
}

// NewSession wires a session from its components
func NewSession(cfg *config.Settings, source FrameSource, bus *events.Bus, matcher *recognize.Matcher, reader *ocr.FieldReader, log *logging.Logger) *Session {
	areaCfg := vision.AreaConfig{
		MinConfidence:        cfg.AreaMinConfidence,
		HighConfidence:       cfg.AreaHighConfidence,
		RevalidateConfidence: cfg.AreaRevalidateConfidence,
		RedetectInterval:     cfg.RedetectInterval,
	}
	layoutCfg := vision.LayoutConfig{
		CellContrast:      cfg.CellContrast,
		HUDDriftTolerance: cfg.HUDDriftTolerance,
		RedetectInterval:  cfg.RedetectInterval,
	}
	return &Session{
		cfg:     cfg,
		source:  source,
		bus:     bus,
		matcher: matcher,
		reader:  reader,
		log:     log,
		areas:   vision.NewAreaTracker(areaCfg, log.Named("gamearea")),
		layouts: vision.NewLayoutTracker(layoutCfg, log.Named("layout")),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Frames reports how many frames the session has processed
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// LastSnapshot returns the most recent snapshot, nil before the first frame
func (s *Session) LastSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start begins processing frames. Only an idle session can start; a stopped
// session cannot be restarted.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}

	if !s.reader.Available() {
		s.bus.Publish(events.NewStatusEvent(events.EventTypeOCRUnavailable, "no ocr engine, field readings disabled"))
		s.mu.Lock()
		s.ocrWarned = true
		s.mu.Unlock()
	}

	s.bus.Publish(events.Event{
		Type:      events.EventTypePipelineStarted,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"interval_ms": s.cfg.FrameInterval.Milliseconds()},
	})

	go s.run(ctx)
	return nil
}

// Stop halts processing and waits for the loop to exit. Safe to call more
// than once and from any state.
func (s *Session) Stop() {
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		close(s.stopCh)
		<-s.doneCh
		return
	}
	// Idle session: mark stopped so Start can never run it. No loop was
	// spawned, so the done channel must close here for Wait to return.
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		close(s.doneCh)
	}
}

// Wait blocks until the processing loop has exited
func (s *Session) Wait() {
	if s.State() == StateIdle {
		return
	}
	<-s.doneCh
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.state.Store(int32(StateStopped))
		s.bus.Publish(events.Event{
			Type:      events.EventTypePipelineStopped,
			Source:    "pipeline",
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"frames": s.frames.Load()},
		})
	}()

	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if done := s.cycle(ctx); done {
				return
			}
		}
	}
}

// cycle processes one frame. Returns true when the loop should exit.
func (s *Session) cycle(ctx context.Context) bool {
	frame, err := s.source.Next(ctx)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			s.log.Info("frame source exhausted")
			s.bus.Publish(events.NewStatusEvent(events.EventTypeSourceExhausted, "no more frames"))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			s.log.Error("frame acquisition failed", err)
			s.bus.Publish(events.NewErrorEvent("source", err))
		}
		return true
	}

	n := s.frames.Add(1)
	if s.cfg.HeartbeatEvery > 0 && n%uint64(s.cfg.HeartbeatEvery) == 0 {
		s.bus.Publish(events.NewHeartbeatEvent(n, s.bus.Dropped()))
	}

	vp := s.areas.Track(frame.Image)
	if vp == nil {
		s.handleNoGame(frame)
		return false
	}
	s.mu.Lock()
	wasLost := s.gameLost
	s.gameLost = false
	s.mu.Unlock()
	if wasLost {
		s.log.Info("game area reacquired")
	}

	viewport := vp.Region.Crop(frame.Image)
	layout := s.layouts.Track(viewport)

	snapshot := s.observe(ctx, frame, viewport, layout)

	s.mu.Lock()
	prev := s.last
	s.carryForward(prev, snapshot)
	s.last = snapshot
	s.mu.Unlock()

	if changes := Diff(prev, snapshot); len(changes) > 0 {
		delta := make(map[string]events.FieldChange, len(changes))
		for _, c := range changes {
			delta[c.Field] = events.FieldChange{Old: c.Old, New: c.New}
		}
		s.bus.Publish(events.NewStateChangedEvent(snapshot.Seq, delta))
	}
	return false
}

// handleNoGame emits the no-game status once per loss, not per frame
func (s *Session) handleNoGame(frame *vision.Frame) {
	s.layouts.Invalidate()
	s.mu.Lock()
	alreadyLost := s.gameLost
	s.gameLost = true
	s.mu.Unlock()
	if alreadyLost {
		return
	}
	s.log.InfoWithContext("no game area detected", map[string]interface{}{"seq": frame.Seq})
	s.bus.Publish(events.NewStatusEvent(events.EventTypeNoGameDetected, "no game area in frame"))
}

// observe builds a snapshot from the current frame and layout
func (s *Session) observe(ctx context.Context, frame *vision.Frame, viewport *image.RGBA, layout *vision.Layout) *Snapshot {
	snap := &Snapshot{
		Seq:          frame.Seq,
		Timestamp:    frame.Captured,
		BoardUnits:   len(layout.Board),
		BenchUnits:   len(layout.Bench),
		OCRAvailable: s.reader.Available(),
	}

	if len(layout.Shop) == len(snap.Shop) {
		crops := make([]*image.RGBA, len(layout.Shop))
		for i, region := range layout.Shop {
			crops[i] = region.Crop(viewport)
		}
		copy(snap.Shop[:], s.matcher.MatchSlots(crops))
	}

	if !snap.OCRAvailable {
		return snap
	}

	if layout.Gold != nil {
		reading, err := s.reader.ReadGold(ctx, layout.Gold.Crop(viewport))
		s.recordReading("gold", err)
		snap.Gold = reading
	}
	if layout.Level != nil {
		reading, err := s.reader.ReadLevel(ctx, layout.Level.Crop(viewport))
		s.recordReading("level", err)
		snap.Level = reading
	}
	if layout.Stage != nil {
		reading, err := s.reader.ReadStage(ctx, layout.Stage.Crop(viewport))
		s.recordReading("stage", err)
		snap.Stage = reading
	}
	return snap
}

// recordReading logs failed field reads without failing the cycle
func (s *Session) recordReading(field string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ocr.ErrUnavailable) {
		s.mu.Lock()
		warned := s.ocrWarned
		s.ocrWarned = true
		s.mu.Unlock()
		if !warned {
			s.bus.Publish(events.NewStatusEvent(events.EventTypeOCRUnavailable, "ocr engine stopped working"))
		}
		return
	}
	s.log.DebugWithContext("field read rejected", map[string]interface{}{
		"field": field,
		"error": err.Error(),
	})
}

// carryForward keeps the last valid readings when a frame's read failed, so
// snapshots reflect the best known state rather than flickering to nil
func (s *Session) carryForward(prev, next *Snapshot) {
	if prev == nil {
		return
	}
	if next.Gold == nil {
		next.Gold = prev.Gold
	}
	if next.Level == nil {
		next.Level = prev.Level
	}
	if next.Stage == nil {
		next.Stage = prev.Stage
	}
}

// ExportDebug captures one frame and writes the full detection breakdown as
// PNG files into dir: the frame, the viewport crop and every detected
// region. Used by the analyze command to tune thresholds.
func (s *Session) ExportDebug(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}

	frame, err := s.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire frame: %w", err)
	}
	if err := savePNG(filepath.Join(dir, "frame.png"), frame.Image); err != nil {
		return err
	}

	vp := s.areas.Track(frame.Image)
	if vp == nil {
		return fmt.Errorf("no game area in frame")
	}
	viewport := vp.Region.Crop(frame.Image)
	if err := savePNG(filepath.Join(dir, "viewport.png"), viewport); err != nil {
		return err
	}

	layout := s.layouts.Track(viewport)
	for i, region := range layout.Shop {
		name := fmt.Sprintf("shop_%d.png", i)
		if err := savePNG(filepath.Join(dir, name), region.Crop(viewport)); err != nil {
			return err
		}
	}
	named := map[string]*vision.Region{
		"gold.png":  layout.Gold,
		"level.png": layout.Level,
		"stage.png": layout.Stage,
	}
	for name, region := range named {
		if region == nil {
			continue
		}
		if err := savePNG(filepath.Join(dir, name), region.Crop(viewport)); err != nil {
			return err
		}
	}

	if err := writeRegionSummary(filepath.Join(dir, "regions.txt"), vp, layout); err != nil {
		return err
	}

	s.log.InfoWithContext("debug export written", map[string]interface{}{
		"dir":        dir,
		"shop_slots": len(layout.Shop),
	})
	return nil
}

func writeRegionSummary(path string, vp *vision.Viewport, layout *vision.Layout) error {
	var b strings.Builder
	r := vp.Region
	fmt.Fprintf(&b, "viewport: x=%.3f y=%.3f w=%.3f h=%.3f conf=%.2f\n",
		r.X, r.Y, r.W, r.H, vp.Confidence)
	fmt.Fprintf(&b, "layout: hud_top=%.3f conf=%.2f\n", layout.HUDTop, layout.Confidence)
	for i, s := range layout.Shop {
		fmt.Fprintf(&b, "shop[%d]: x=%.3f y=%.3f w=%.3f h=%.3f\n", i, s.X, s.Y, s.W, s.H)
	}
	for _, f := range []struct {
		name string
		reg  *vision.Region
	}{
		{"gold", layout.Gold}, {"level", layout.Level}, {"stage", layout.Stage},
	} {
		name, reg := f.name, f.reg
		if reg == nil {
			fmt.Fprintf(&b, "%s: absent\n", name)
			continue
		}
		fmt.Fprintf(&b, "%s: x=%.3f y=%.3f w=%.3f h=%.3f\n", name, reg.X, reg.Y, reg.W, reg.H)
	}
	fmt.Fprintf(&b, "board cells: %d\nbench cells: %d\n", len(layout.Board), len(layout.Bench))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
