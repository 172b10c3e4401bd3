package catalog

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"gopkg.in/yaml.v3"
)

// MatchSize is the square side length every icon is normalized to before
// matching. Both templates and live crops go through the same normalization
// so correlation scores are comparable.
const MatchSize = 48

// UnitDefinition is one entry in the catalog manifest
type UnitDefinition struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Cost   int      `yaml:"cost"`
	Traits []string `yaml:"traits"`
	Icon   string   `yaml:"icon"`
}

// manifest is the structure of catalog.yaml
type manifest struct {
	Units []UnitDefinition `yaml:"units"`
}

// Template is a unit ready for matching: identity plus the normalized
// grayscale icon with its precomputed statistics
type Template struct {
	ID     string
	Name   string
	Cost   int
	Traits []string

	Gray *image.Gray
	Mean float64
	Std  float64
}

// UnitFailure records one manifest entry that could not be loaded
type UnitFailure struct {
	ID  string
	Err error
}

// LoadError reports entries skipped during catalog loading. The catalog is
// still usable when some entries failed; callers decide whether partial
// coverage is acceptable.
type LoadError struct {
	Failures []UnitFailure
}

func (e *LoadError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}
	return fmt.Sprintf("catalog: %d unit(s) failed to load: %s", len(e.Failures), strings.Join(ids, ", "))
}

// Catalog holds the loaded unit templates. Immutable after Load, so it is
// safe to share across matcher workers without locking.
type Catalog struct {
	templates []*Template
	byID      map[string]*Template
}

// Load reads catalog.yaml from dir and prepares every referenced icon for
// matching. Icon paths in the manifest are relative to dir. Entries whose
// icon is missing or undecodable are skipped and reported through a
// *LoadError alongside the usable catalog; an empty or unreadable manifest
// is a hard error.
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, "catalog.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse catalog manifest: %w", err)
	}
	if len(m.Units) == 0 {
		return nil, fmt.Errorf("catalog manifest %s lists no units", filepath.Join(dir, "catalog.yaml"))
	}

	c := &Catalog{byID: make(map[string]*Template, len(m.Units))}
	var failures []UnitFailure

	for i, def := range m.Units {
		if def.ID == "" {
			failures = append(failures, UnitFailure{
				ID:  fmt.Sprintf("entry %d", i+1),
				Err: fmt.Errorf("unit id cannot be empty"),
			})
			continue
		}
		if _, dup := c.byID[def.ID]; dup {
			failures = append(failures, UnitFailure{
				ID:  def.ID,
				Err: fmt.Errorf("duplicate unit id"),
			})
			continue
		}

		tpl, err := loadTemplate(dir, def)
		if err != nil {
			failures = append(failures, UnitFailure{ID: def.ID, Err: err})
			continue
		}
		c.templates = append(c.templates, tpl)
		c.byID[def.ID] = tpl
	}

	if len(c.templates) == 0 {
		return nil, fmt.Errorf("catalog has no loadable units (%d failures)", len(failures))
	}

	sort.Slice(c.templates, func(i, j int) bool {
		return c.templates[i].ID < c.templates[j].ID
	})

	if len(failures) > 0 {
		return c, &LoadError{Failures: failures}
	}
	return c, nil
}

func loadTemplate(dir string, def UnitDefinition) (*Template, error) {
	icon := def.Icon
	if icon == "" {
		icon = filepath.Join("icons", def.ID+".png")
	}

	f, err := os.Open(filepath.Join(dir, icon))
	if err != nil {
		return nil, fmt.Errorf("failed to open icon: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode icon %s: %w", icon, err)
	}

	gray := PrepareGray(img)
	mean, std := GrayStats(gray)
	return &Template{
		ID:     def.ID,
		Name:   def.Name,
		Cost:   def.Cost,
		Traits: def.Traits,
		Gray:   gray,
		Mean:   mean,
		Std:    std,
	}, nil
}

// Templates returns all loaded templates sorted by ID
func (c *Catalog) Templates() []*Template {
	return c.templates
}

// Get looks up a template by unit ID
func (c *Catalog) Get(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Len reports the number of loaded templates
func (c *Catalog) Len() int {
	return len(c.templates)
}

// PrepareGray normalizes any image into the MatchSize x MatchSize grayscale
// form used for matching
func PrepareGray(img image.Image) *image.Gray {
	resized := resize.Resize(MatchSize, MatchSize, img, resize.Bilinear)
	gray := image.NewGray(image.Rect(0, 0, MatchSize, MatchSize))
	for y := 0; y < MatchSize; y++ {
		for x := 0; x < MatchSize; x++ {
			r, g, b, _ := resized.At(resized.Bounds().Min.X+x, resized.Bounds().Min.Y+y).RGBA()
			lum := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
			gray.SetGray(x, y, color.Gray{Y: uint8(lum)})
		}
	}
	return gray
}

// GrayStats computes the pixel mean and standard deviation of a grayscale
// image
func GrayStats(gray *image.Gray) (mean, std float64) {
	n := len(gray.Pix)
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, p := range gray.Pix {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// SaveGrayPNG writes a grayscale image to disk, used by the debug export
func SaveGrayPNG(path string, gray *image.Gray) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return png.Encode(f, gray)
}
