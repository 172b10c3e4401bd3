package recognize

import (
	"image"
	"sync"

	"jordanella.com/autochess-scout/internal/logging"
	"jordanella.com/autochess-scout/pkg/catalog"
)

// Observation is the recognition result for one slot
type Observation struct {
	Occupied   bool
	ID         string
	Name       string
	Cost       int
	Confidence float64
}

// Config holds the recognition thresholds
type Config struct {
	// Best correlation below this means no identification
	MinConfidence float64
	// Best and runner-up closer than this is ambiguous
	Margin float64
	// Crop brightness stddev below this means an empty slot
	EmptyStdDev float64
	// Parallel slot matching fan-out
	Workers int
}

// DefaultConfig returns the tuned recognition thresholds
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.40,
		Margin:        0.05,
		EmptyStdDev:   5.0,
		Workers:       5,
	}
}

// Matcher identifies units in slot crops by normalized cross-correlation
// against the catalog templates. Stateless apart from its configuration, so
// one matcher serves all workers.
type Matcher struct {
	catalog *catalog.Catalog
	cfg     Config
	log     *logging.Logger
}

// NewMatcher creates a matcher over a loaded catalog
func NewMatcher(cat *catalog.Catalog, cfg Config, log *logging.Logger) *Matcher {
	return &Matcher{catalog: cat, cfg: cfg, log: log}
}

// MatchSlot identifies the unit in one slot crop. A near-uniform crop is an
// empty slot; a best match below MinConfidence stays unidentified; a best
// match within Margin of the runner-up is ambiguous and reported as
// unoccupied at low confidence rather than guessed.
func (m *Matcher) MatchSlot(crop *image.RGBA) Observation {
	portrait := extractPortrait(crop)
	gray := catalog.PrepareGray(portrait)
	mean, std := catalog.GrayStats(gray)

	if std < m.cfg.EmptyStdDev {
		return Observation{Occupied: false, Confidence: 0.95}
	}

	var best, second *scored
	for _, tpl := range m.catalog.Templates() {
		score := correlate(gray, mean, std, tpl)
		if best == nil || score > best.score {
			second = best
			best = &scored{tpl: tpl, score: score}
		} else if second == nil || score > second.score {
			second = &scored{tpl: tpl, score: score}
		}
	}

	if best == nil || best.score < m.cfg.MinConfidence {
		conf := 0.5
		if best != nil {
			m.log.DebugWithContext("slot match below threshold", map[string]interface{}{
				"closest": best.tpl.ID,
				"score":   best.score,
			})
		}
		return Observation{Occupied: false, Confidence: conf}
	}

	if second != nil && best.score-second.score < m.cfg.Margin {
		m.log.DebugWithContext("ambiguous slot match", map[string]interface{}{
			"best":      best.tpl.ID,
			"runner_up": second.tpl.ID,
			"gap":       best.score - second.score,
		})
		return Observation{Occupied: false, Confidence: 0.25}
	}

	return Observation{
		Occupied:   true,
		ID:         best.tpl.ID,
		Name:       best.tpl.Name,
		Cost:       best.tpl.Cost,
		Confidence: best.score,
	}
}

// MatchSlots matches several crops in parallel, preserving slot order. A nil
// crop yields an empty observation.
func (m *Matcher) MatchSlots(crops []*image.RGBA) []Observation {
	results := make([]Observation, len(crops))
	workers := m.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(crops) {
		workers = len(crops)
	}

	jobs := make(chan int, len(crops))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if crops[i] == nil {
					results[i] = Observation{Occupied: false, Confidence: 0.95}
					continue
				}
				results[i] = m.MatchSlot(crops[i])
			}
		}()
	}
	for i := range crops {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

type scored struct {
	tpl   *catalog.Template
	score float64
}

// correlate computes zero-mean normalized cross-correlation between a
// prepared crop and a template. Both are MatchSize x MatchSize so the pixel
// arrays line up directly.
func correlate(gray *image.Gray, mean, std float64, tpl *catalog.Template) float64 {
	if std == 0 || tpl.Std == 0 {
		return 0
	}
	n := len(gray.Pix)
	if n != len(tpl.Gray.Pix) {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += (float64(gray.Pix[i]) - mean) * (float64(tpl.Gray.Pix[i]) - tpl.Mean)
	}
	score := sum / (float64(n) * std * tpl.Std)
	if score < 0 {
		return 0
	}
	return score
}

// extractPortrait trims a slot crop to the unit artwork, dropping the cost
// band at the bottom and the frame at the sides. Center 80% of the width and
// top 75% of the height.
func extractPortrait(crop *image.RGBA) *image.RGBA {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 10 || h < 10 {
		return crop
	}

	x0 := b.Min.X + w/10
	x1 := b.Max.X - w/10
	y0 := b.Min.Y
	y1 := b.Min.Y + h*3/4

	sub := crop.SubImage(image.Rect(x0, y0, x1, y1)).(*image.RGBA)
	return sub
}
