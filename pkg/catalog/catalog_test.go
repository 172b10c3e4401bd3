package catalog

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeIcon(t *testing.T, dir, name string, paint func(x, y int) color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "icons"), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, paint(x, y))
		}
	}
	f, err := os.Create(filepath.Join(dir, "icons", name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func gradientIcon(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255}
}

func checkerIcon(x, y int) color.RGBA {
	if (x/8+y/8)%2 == 0 {
		return color.RGBA{R: 230, G: 230, B: 230, A: 255}
	}
	return color.RGBA{R: 25, G: 25, B: 25, A: 255}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
units:
  - id: ahri
    name: Ahri
    cost: 4
    traits: [spirit, mage]
  - id: garen
    name: Garen
    cost: 1
    traits: [warlord]
`)
	writeIcon(t, dir, "ahri.png", gradientIcon)
	writeIcon(t, dir, "garen.png", checkerIcon)

	cat, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("expected 2 templates, got %d", cat.Len())
	}

	ahri, ok := cat.Get("ahri")
	if !ok {
		t.Fatal("ahri missing from catalog")
	}
	if ahri.Name != "Ahri" || ahri.Cost != 4 || len(ahri.Traits) != 2 {
		t.Errorf("ahri identity wrong: %+v", ahri)
	}
	if ahri.Gray.Bounds().Dx() != MatchSize || ahri.Gray.Bounds().Dy() != MatchSize {
		t.Errorf("template not normalized to %dx%d: %v", MatchSize, MatchSize, ahri.Gray.Bounds())
	}
	if ahri.Std <= 0 {
		t.Error("gradient icon should have nonzero stddev")
	}
}

func TestLoadCatalogPartialFailure(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
units:
  - id: ahri
    name: Ahri
    cost: 4
  - id: missing
    name: Missing
    cost: 2
`)
	writeIcon(t, dir, "ahri.png", gradientIcon)

	cat, err := Load(dir)
	if cat == nil {
		t.Fatal("expected a usable catalog despite one failed entry")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if len(loadErr.Failures) != 1 || loadErr.Failures[0].ID != "missing" {
		t.Errorf("unexpected failures: %+v", loadErr.Failures)
	}
	if cat.Len() != 1 {
		t.Errorf("expected 1 loaded template, got %d", cat.Len())
	}
}

func TestLoadCatalogDuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
units:
  - id: ahri
    name: Ahri
    cost: 4
  - id: ahri
    name: Ahri Again
    cost: 4
`)
	writeIcon(t, dir, "ahri.png", gradientIcon)

	cat, err := Load(dir)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError for the duplicate, got %v", err)
	}
	if cat.Len() != 1 {
		t.Errorf("expected the duplicate to be skipped, got %d templates", cat.Len())
	}
}

func TestLoadCatalogAllFailed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
units:
  - id: ghost
    name: Ghost
    cost: 1
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error when no template loads")
	}
}

func TestLoadCatalogMissingManifest(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a missing manifest")
	}
}

func TestLoadCatalogEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "units: []\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for an empty manifest")
	}
}

func TestGrayStats(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range flat.Pix {
		flat.Pix[i] = 100
	}
	mean, std := GrayStats(flat)
	if mean != 100 || std != 0 {
		t.Errorf("flat image stats = (%f,%f), want (100,0)", mean, std)
	}

	half := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range half.Pix {
		if i%2 == 0 {
			half.Pix[i] = 0
		} else {
			half.Pix[i] = 200
		}
	}
	mean, std = GrayStats(half)
	if mean != 100 {
		t.Errorf("half/half mean = %f, want 100", mean)
	}
	if std != 100 {
		t.Errorf("half/half std = %f, want 100", std)
	}
}
