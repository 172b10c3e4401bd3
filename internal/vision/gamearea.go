package vision

import (
	"image"
	"math"

	"jordanella.com/autochess-scout/internal/logging"
)

// Viewport is the detected bounding rectangle of the game's visual content
// within a raw frame.
type Viewport struct {
	Region     Region
	Confidence float64
	// Age counts frames since the last full detection
	Age int

	// Frame-normalized y of the HUD bar top, kept for cheap revalidation
	hudY float64
}

// AreaConfig holds the policy constants for game area detection and caching.
// The numeric values are calibration results, not design constants; they load
// from Settings.ini.
type AreaConfig struct {
	// Minimum combined score for a detection to count at all
	MinConfidence float64
	// Score above which the viewport is cached and reused
	HighConfidence float64
	// Revalidation score below which the cache is invalidated
	RevalidateConfidence float64
	// Full detection is forced every this many frames
	RedetectInterval int
}

// DefaultAreaConfig returns the tuned defaults
func DefaultAreaConfig() AreaConfig {
	return AreaConfig{
		MinConfidence:        0.30,
		HighConfidence:       0.55,
		RevalidateConfidence: 0.35,
		RedetectInterval:     30,
	}
}

// hudCandidate is a horizontal dark band that could be the HUD bar
type hudCandidate struct {
	y    int     // top row of the dark band
	drop float64 // brightness drop magnitude into the band
}

// DetectGameArea locates the game's viewport inside an arbitrary frame by
// finding the dark HUD bar with the five-panel shop pattern below it, then
// inferring the full 16:9 game rectangle from the bar's position. Returns nil
// when no candidate clears the confidence floor; the caller treats that as
// "no game visible this frame", not an error.
func DetectGameArea(img *image.RGBA, cfg AreaConfig, log *logging.Logger) *Viewport {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 100 || h < 100 {
		return nil
	}

	candidates := findHUDCandidates(img)
	if len(candidates) == 0 {
		log.Debug("no HUD bar candidates found")
		return nil
	}

	var best *hudCandidate
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		cardScore := scoreCardPattern(img, c)
		if cardScore <= 0.3 {
			continue
		}
		dropScore := c.drop / 100.0
		if dropScore > 1.0 {
			dropScore = 1.0
		}
		combined := cardScore*0.7 + dropScore*0.3
		if combined > bestScore {
			bestScore = combined
			best = c
		}
	}

	if best == nil || bestScore < cfg.MinConfidence {
		return nil
	}

	// The HUD bar sits at ~80% of game height. Anchor the game bottom where
	// content ends below the bar, then derive the full rectangle from that
	// proportional relationship, assuming 16:9 content.
	const hudFraction = 0.80
	gameBottom := findContentBottom(img, best.y)
	if gameBottom-best.y < 5 {
		return nil
	}
	gameHeight := float64(gameBottom-best.y) / (1.0 - hudFraction)
	gameTop := float64(gameBottom) - gameHeight
	if gameTop < 0 {
		gameTop = 0
	}
	actualHeight := float64(gameBottom) - gameTop

	gameWidth := actualHeight * 16.0 / 9.0
	if gameWidth > float64(w) {
		gameWidth = float64(w)
	}
	gameLeft := (float64(w) - gameWidth) / 2.0
	if gameLeft < 0 {
		gameLeft = 0
	}

	hudY := float64(best.y) / float64(h)

	// Fullscreen fast-path: game covers most of the frame
	areaRatio := (actualHeight * gameWidth) / float64(w*h)
	if areaRatio > 0.85 {
		log.DebugWithContext("game area is fullscreen", map[string]interface{}{
			"coverage": areaRatio,
		})
		return &Viewport{Region: FullRegion(), Confidence: bestScore, hudY: hudY}
	}

	vp := &Viewport{
		Region: Region{
			X: gameLeft / float64(w),
			Y: gameTop / float64(h),
			W: gameWidth / float64(w),
			H: actualHeight / float64(h),
		},
		Confidence: bestScore,
		hudY:       hudY,
	}
	log.DebugWithContext("game area detected", map[string]interface{}{
		"x":          vp.Region.X,
		"y":          vp.Region.Y,
		"w":          vp.Region.W,
		"h":          vp.Region.H,
		"confidence": bestScore,
	})
	return vp
}

// findContentBottom walks down from the HUD bar to the last row that still
// holds content, which is the bottom edge of the game rectangle
func findContentBottom(img *image.RGBA, hudY int) int {
	h := img.Bounds().Dy()
	for y := hudY; y < h; y++ {
		if rowBrightness(img, y) < 8.0 {
			return y
		}
	}
	return h
}

// findHUDCandidates scans the frame for horizontal dark bands. The game could
// be anywhere in the frame, so unlike layout detection this searches nearly
// the full height.
func findHUDCandidates(img *image.RGBA) []hudCandidate {
	h := img.Bounds().Dy()
	const window = 5
	var candidates []hudCandidate

	searchTop := h / 10
	searchBottom := h - h/10
	end := searchBottom - window*2
	if searchTop >= end {
		return nil
	}

	prevDrop := 0.0
	prevY := 0

	for y := searchTop; y < end; y++ {
		above := avgBrightnessRows(img, y, window)
		below := avgBrightnessRows(img, y+window, window)
		drop := above - below

		if drop > 15.0 && below < 55.0 {
			// Deduplicate: keep only the strongest drop in a local run
			if y-prevY < 20 && len(candidates) > 0 {
				if drop > prevDrop {
					candidates[len(candidates)-1] = hudCandidate{y: y + window, drop: drop}
					prevDrop = drop
					prevY = y
				}
			} else {
				candidates = append(candidates, hudCandidate{y: y + window, drop: drop})
				prevDrop = drop
				prevY = y
			}
		}
	}
	return candidates
}

// scoreCardPattern rates how well the area below a HUD candidate matches the
// five evenly spaced shop panels. 0 means no match, 1 a perfect pattern.
func scoreCardPattern(img *image.RGBA, c *hudCandidate) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	cardAreaHeight := int(float64(h) * 0.15)
	cardTop := c.y + 5
	cardBottom := c.y + cardAreaHeight
	if cardBottom > h-5 {
		cardBottom = h - 5
	}
	if cardTop >= cardBottom || cardBottom-cardTop < 10 {
		return 0
	}

	profile := columnProfile(img, cardTop, cardBottom, 10)

	smoothWindow := w / 200
	if smoothWindow < 3 {
		smoothWindow = 3
	}
	smoothed := smooth(profile, smoothWindow)

	minWidth := w / 60
	if minWidth < 10 {
		minWidth = 10
	}
	segments := brightSegments(smoothed, adaptiveThreshold(smoothed), minWidth)

	if len(segments) < 3 || len(segments) > 7 {
		return 0
	}

	// Evenness of panel widths
	var widthSum float64
	for _, s := range segments {
		widthSum += float64(s.width())
	}
	avgWidth := widthSum / float64(len(segments))
	var widthVar float64
	for _, s := range segments {
		d := float64(s.width()) - avgWidth
		widthVar += d * d
	}
	widthVar /= float64(len(segments))
	widthCV := 0.0
	if avgWidth > 1 {
		widthCV = math.Sqrt(widthVar) / avgWidth
	}

	// Regularity of gaps between panels
	gapRegularity := 1.0
	if len(segments) >= 2 {
		gaps := make([]float64, 0, len(segments)-1)
		var gapSum float64
		for i := 1; i < len(segments); i++ {
			g := float64(segments[i].start - segments[i-1].end)
			if g < 0 {
				g = 0
			}
			gaps = append(gaps, g)
			gapSum += g
		}
		avgGap := gapSum / float64(len(gaps))
		if avgGap > 0 {
			var gapVar float64
			for _, g := range gaps {
				d := g - avgGap
				gapVar += d * d
			}
			gapVar /= float64(len(gaps))
			gapCV := math.Sqrt(gapVar) / avgGap
			gapRegularity = 1.0 - gapCV
			if gapRegularity < 0 {
				gapRegularity = 0
			}
		}
	}

	countScore := 0.4
	switch len(segments) {
	case 5:
		countScore = 1.0
	case 4, 6:
		countScore = 0.7
	}
	evennessScore := 1.0 - widthCV
	if evennessScore < 0 {
		evennessScore = 0
	}

	return countScore*0.4 + evennessScore*0.3 + gapRegularity*0.3
}

// revalidate re-samples the HUD band at a cached viewport's location and
// returns a confidence score without running full detection.
func revalidate(img *image.RGBA, vp *Viewport) float64 {
	h := img.Bounds().Dy()
	y := int(vp.hudY * float64(h))
	const window = 5
	if y < window || y+window*2 >= h {
		return 0
	}

	above := avgBrightnessRows(img, y-window, window)
	below := avgBrightnessRows(img, y, window)
	drop := above - below
	if drop <= 5.0 || below >= 55.0 {
		return 0
	}

	c := hudCandidate{y: y, drop: drop}
	cardScore := scoreCardPattern(img, &c)
	dropScore := drop / 100.0
	if dropScore > 1.0 {
		dropScore = 1.0
	}
	return cardScore*0.7 + dropScore*0.3
}

// AreaTracker caches a detected viewport across frames. Full detection runs
// only when there is no usable cache, when cheap revalidation fails, or when
// the forced re-detection interval elapses (to tolerate window moves).
// Owned by a single pipeline session; not safe for concurrent use.
type AreaTracker struct {
	cfg    AreaConfig
	log    *logging.Logger
	cached *Viewport

	detectCalls int
}

// NewAreaTracker creates a tracker with the given policy
func NewAreaTracker(cfg AreaConfig, log *logging.Logger) *AreaTracker {
	return &AreaTracker{cfg: cfg, log: log}
}

// Track returns the viewport for a frame, reusing the cache when it still
// validates. Returns nil when no game is visible.
func (t *AreaTracker) Track(img *image.RGBA) *Viewport {
	if t.cached != nil {
		t.cached.Age++
		if t.cached.Age < t.cfg.RedetectInterval {
			if score := revalidate(img, t.cached); score >= t.cfg.RevalidateConfidence {
				t.cached.Confidence = score
				return t.cached
			}
			t.log.Debug("cached viewport failed revalidation")
		}
		t.cached = nil
	}

	t.detectCalls++
	vp := DetectGameArea(img, t.cfg, t.log)
	if vp == nil {
		return nil
	}
	if vp.Confidence >= t.cfg.HighConfidence {
		t.cached = vp
	}
	return vp
}

// Invalidate drops the cached viewport
func (t *AreaTracker) Invalidate() {
	t.cached = nil
}

// DetectCalls reports how many times full detection has run. Tests use this
// to verify the caching policy.
func (t *AreaTracker) DetectCalls() int {
	return t.detectCalls
}
