package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Settings holds every tunable for the capture pipeline. Defaults match the
// values the detectors were tuned against; Settings.ini overrides them.
type Settings struct {
	// Capture
	FrameInterval time.Duration
	Display       int
	VideoFPS      float64

	// Game area detection
	AreaMinConfidence        float64
	AreaHighConfidence       float64
	AreaRevalidateConfidence float64
	RedetectInterval         int

	// Layout detection
	CellContrast      float64
	HUDDriftTolerance float64

	// Recognition
	MatchThreshold   float64
	MatchMargin      float64
	EmptyStdDev      float64
	MatchWorkers     int
	CatalogDir       string

	// OCR
	OCRBinary  string
	OCRTimeout time.Duration

	// Events
	EventBuffer    int
	HeartbeatEvery int

	// Output
	LogLevel    string
	DebugDir    string
	JournalPath string
}

// Default returns the tuned defaults
func Default() *Settings {
	return &Settings{
		FrameInterval: 500 * time.Millisecond,
		Display:       0,
		VideoFPS:      2.0,

		AreaMinConfidence:        0.30,
		AreaHighConfidence:       0.55,
		AreaRevalidateConfidence: 0.35,
		RedetectInterval:         30,

		CellContrast:      8.0,
		HUDDriftTolerance: 0.02,

		MatchThreshold: 0.40,
		MatchMargin:    0.05,
		EmptyStdDev:    5.0,
		MatchWorkers:   5,
		CatalogDir:     "assets/catalog",

		OCRBinary:  "tesseract",
		OCRTimeout: 2 * time.Second,

		EventBuffer:    64,
		HeartbeatEvery: 20,

		LogLevel:    "info",
		DebugDir:    "",
		JournalPath: "",
	}
}

// Load reads Settings.ini from path, applying defaults for anything missing
func Load(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	s := Default()

	capture := cfg.Section("Capture")
	s.FrameInterval = time.Duration(capture.Key("FrameIntervalMS").MustInt(500)) * time.Millisecond
	s.Display = capture.Key("Display").MustInt(0)
	s.VideoFPS = capture.Key("VideoFPS").MustFloat64(2.0)

	detect := cfg.Section("Detection")
	s.AreaMinConfidence = detect.Key("AreaMinConfidence").MustFloat64(0.30)
	s.AreaHighConfidence = detect.Key("AreaHighConfidence").MustFloat64(0.55)
	s.AreaRevalidateConfidence = detect.Key("AreaRevalidateConfidence").MustFloat64(0.35)
	s.RedetectInterval = detect.Key("RedetectInterval").MustInt(30)
	s.CellContrast = detect.Key("CellContrast").MustFloat64(8.0)
	s.HUDDriftTolerance = detect.Key("HUDDriftTolerance").MustFloat64(0.02)

	match := cfg.Section("Recognition")
	s.MatchThreshold = match.Key("MatchThreshold").MustFloat64(0.40)
	s.MatchMargin = match.Key("MatchMargin").MustFloat64(0.05)
	s.EmptyStdDev = match.Key("EmptyStdDev").MustFloat64(5.0)
	s.MatchWorkers = match.Key("Workers").MustInt(5)
	s.CatalogDir = match.Key("CatalogDir").MustString("assets/catalog")

	ocr := cfg.Section("OCR")
	s.OCRBinary = ocr.Key("Binary").MustString("tesseract")
	s.OCRTimeout = time.Duration(ocr.Key("TimeoutMS").MustInt(2000)) * time.Millisecond

	ev := cfg.Section("Events")
	s.EventBuffer = ev.Key("Buffer").MustInt(64)
	s.HeartbeatEvery = ev.Key("HeartbeatEvery").MustInt(20)

	out := cfg.Section("Output")
	s.LogLevel = out.Key("LogLevel").MustString("info")
	s.DebugDir = out.Key("DebugDir").MustString("")
	s.JournalPath = out.Key("JournalPath").MustString("")

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings back to an INI file
func (s *Settings) Save(path string) error {
	cfg := ini.Empty()

	capture := cfg.Section("Capture")
	capture.Key("FrameIntervalMS").SetValue(fmt.Sprintf("%d", s.FrameInterval.Milliseconds()))
	capture.Key("Display").SetValue(fmt.Sprintf("%d", s.Display))
	capture.Key("VideoFPS").SetValue(fmt.Sprintf("%g", s.VideoFPS))

	detect := cfg.Section("Detection")
	detect.Key("AreaMinConfidence").SetValue(fmt.Sprintf("%g", s.AreaMinConfidence))
	detect.Key("AreaHighConfidence").SetValue(fmt.Sprintf("%g", s.AreaHighConfidence))
	detect.Key("AreaRevalidateConfidence").SetValue(fmt.Sprintf("%g", s.AreaRevalidateConfidence))
	detect.Key("RedetectInterval").SetValue(fmt.Sprintf("%d", s.RedetectInterval))
	detect.Key("CellContrast").SetValue(fmt.Sprintf("%g", s.CellContrast))
	detect.Key("HUDDriftTolerance").SetValue(fmt.Sprintf("%g", s.HUDDriftTolerance))

	match := cfg.Section("Recognition")
	match.Key("MatchThreshold").SetValue(fmt.Sprintf("%g", s.MatchThreshold))
	match.Key("MatchMargin").SetValue(fmt.Sprintf("%g", s.MatchMargin))
	match.Key("EmptyStdDev").SetValue(fmt.Sprintf("%g", s.EmptyStdDev))
	match.Key("Workers").SetValue(fmt.Sprintf("%d", s.MatchWorkers))
	match.Key("CatalogDir").SetValue(s.CatalogDir)

	ocr := cfg.Section("OCR")
	ocr.Key("Binary").SetValue(s.OCRBinary)
	ocr.Key("TimeoutMS").SetValue(fmt.Sprintf("%d", s.OCRTimeout.Milliseconds()))

	ev := cfg.Section("Events")
	ev.Key("Buffer").SetValue(fmt.Sprintf("%d", s.EventBuffer))
	ev.Key("HeartbeatEvery").SetValue(fmt.Sprintf("%d", s.HeartbeatEvery))

	out := cfg.Section("Output")
	out.Key("LogLevel").SetValue(s.LogLevel)
	out.Key("DebugDir").SetValue(s.DebugDir)
	out.Key("JournalPath").SetValue(s.JournalPath)

	return cfg.SaveTo(path)
}

// Validate rejects settings that would make the pipeline misbehave
func (s *Settings) Validate() error {
	if s.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %v", s.FrameInterval)
	}
	if s.MatchThreshold <= 0 || s.MatchThreshold >= 1 {
		return fmt.Errorf("match threshold must be in (0,1), got %g", s.MatchThreshold)
	}
	if s.MatchMargin < 0 || s.MatchMargin >= 1 {
		return fmt.Errorf("match margin must be in [0,1), got %g", s.MatchMargin)
	}
	if s.MatchWorkers < 1 {
		return fmt.Errorf("match workers must be at least 1, got %d", s.MatchWorkers)
	}
	if s.RedetectInterval < 1 {
		return fmt.Errorf("redetect interval must be at least 1, got %d", s.RedetectInterval)
	}
	if s.EventBuffer < 1 {
		return fmt.Errorf("event buffer must be at least 1, got %d", s.EventBuffer)
	}
	if s.OCRTimeout <= 0 {
		return fmt.Errorf("ocr timeout must be positive, got %v", s.OCRTimeout)
	}
	if s.VideoFPS <= 0 {
		return fmt.Errorf("video fps must be positive, got %g", s.VideoFPS)
	}
	return nil
}
