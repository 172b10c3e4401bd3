package vision

import (
	"image"
	"math"
	"sort"

	"jordanella.com/autochess-scout/internal/logging"
)

// Slot counts are fixed by the game's UI
const (
	ShopSlots  = 5
	BoardRows  = 4
	BoardCols  = 7
	BenchSlots = 9
)

// BoardCell is one board position with its detected region
type BoardCell struct {
	Row, Col   int
	Region     Region
	Confidence float64
}

// BenchCell is one bench position with its detected region
type BenchCell struct {
	Index      int
	Region     Region
	Confidence float64
}

// Layout maps named UI slots to regions, all normalized relative to the
// viewport the detector ran on. Absent optional regions are nil; Shop is
// either empty or exactly ShopSlots entries. Geometry is trusted from
// detection and not re-validated for overlap.
type Layout struct {
	Shop  []Region
	Gold  *Region
	Level *Region
	Stage *Region
	Board []BoardCell
	Bench []BenchCell

	// Normalized y of the HUD bar top, kept for cheap revalidation
	HUDTop     float64
	Confidence float64
	// Age counts frames since the last full detection
	Age int
}

// LayoutConfig holds the layout detection policy constants
type LayoutConfig struct {
	// Minimum brightness stddev for a board/bench cell to count as content
	CellContrast float64
	// Cached layouts are reused while the HUD boundary stays within this
	// normalized distance of the cached position
	HUDDriftTolerance float64
	// Full detection is forced every this many frames
	RedetectInterval int
}

// DefaultLayoutConfig returns the tuned defaults
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		CellContrast:      8.0,
		HUDDriftTolerance: 0.02,
		RedetectInterval:  30,
	}
}

// DetectLayout locates shop, economy and board regions in a viewport image by
// analyzing frame content. No hardcoded pixel offsets; everything is derived
// from brightness structure so the result holds across resolutions and UI
// scales.
func DetectLayout(img *image.RGBA, cfg LayoutConfig, log *logging.Logger) *Layout {
	h := img.Bounds().Dy()
	hf := float64(h)

	hudTopPx := findHUDTop(img)
	hudTop := float64(hudTopPx) / hf

	shop, shopConf := findShopCards(img, hudTopPx)
	log.DebugWithContext("layout shop detection", map[string]interface{}{
		"slots":      len(shop),
		"confidence": shopConf,
		"hud_top":    hudTop,
	})

	// The HUD bar is the thin strip between the board and the shop cards;
	// gold and level live there. Widen the band slightly to catch elements
	// sitting on its boundaries.
	cardTopPx := hudTopPx + (h-hudTopPx)/4
	if len(shop) > 0 {
		cardTopPx = int(shop[0].Y * hf)
	}
	barTop := hudTopPx - 10
	if barTop < 0 {
		barTop = 0
	}
	barBottom := cardTopPx + 10
	if barBottom > h {
		barBottom = h
	}

	layout := &Layout{
		Shop:       shop,
		Gold:       findGoldRegion(img, barTop, barBottom, log),
		Level:      findLevelRegion(img, barTop, barBottom, log),
		Stage:      findStageRegion(img, log),
		HUDTop:     hudTop,
		Confidence: shopConf,
	}
	layout.Board = findBoardCells(img, hudTop, cfg)
	layout.Bench = findBenchCells(img, hudTop, cfg)
	return layout
}

// findHUDTop finds where the bottom HUD starts. The bar is always at roughly
// 78-88% of viewport height, darker than the board above it, and present in
// every game state, which makes the biggest brightness drop in that band a
// reliable anchor.
func findHUDTop(img *image.RGBA) int {
	h := img.Bounds().Dy()
	searchTop := int(float64(h) * 0.74)
	searchBottom := int(float64(h) * 0.90)

	const window = 5
	bestDrop := 0.0
	bestY := int(float64(h) * 0.80)

	end := searchBottom - window*2
	if searchTop >= end {
		return bestY
	}

	for y := searchTop; y < end; y++ {
		above := avgBrightnessRows(img, y, window)
		below := avgBrightnessRows(img, y+window, window)
		drop := above - below

		if drop > bestDrop && below < 55.0 && drop > 5.0 {
			bestDrop = drop
			bestY = y + window
		}
	}
	return bestY
}

// findShopCards locates the five shop panels from the column brightness
// profile of the HUD area. Returns the regions and a confidence reflecting
// how cleanly the five-panel structure was observed.
func findShopCards(img *image.RGBA, hudTop int) ([]Region, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	wf, hf := float64(w), float64(h)
	hudH := h - hudTop
	if hudH < 20 {
		return nil, 0
	}

	// Cards occupy the lower ~75% of the HUD area
	cardAreaTop := hudTop + hudH/4
	cardAreaBottom := h - 8
	if cardAreaTop >= cardAreaBottom {
		return nil, 0
	}

	profile := columnProfile(img, cardAreaTop, cardAreaBottom, 15)
	window := w / 200
	if window < 3 {
		window = 3
	}
	smoothed := smooth(profile, window)
	segments := brightSegments(smoothed, adaptiveThreshold(smoothed), 30)
	if len(segments) == 0 {
		return nil, 0
	}

	conf := 0.6
	if len(segments) == ShopSlots {
		conf = 0.9
	}

	cardYStart := findCardYStart(img, hudTop, segments)
	yNorm := float64(cardYStart) / hf
	heightNorm := float64(cardAreaBottom)/hf - yNorm

	cards := normalizeToFive(segments)
	regions := make([]Region, 0, ShopSlots)
	for _, s := range cards {
		regions = append(regions, Region{
			X: float64(s.start) / wf,
			Y: yNorm,
			W: float64(s.width()) / wf,
			H: heightNorm,
		})
	}
	return regions, conf
}

// normalizeToFive turns detected bright segments into exactly five slots:
// kept as-is when five were found, otherwise the full span is divided evenly.
func normalizeToFive(segments []segment) []segment {
	if len(segments) == 0 {
		return nil
	}
	if len(segments) == ShopSlots {
		return segments
	}

	totalStart := segments[0].start
	totalEnd := segments[len(segments)-1].end
	cardWidth := (totalEnd - totalStart) / ShopSlots
	gap := int(float64(cardWidth) * 0.03)

	out := make([]segment, 0, ShopSlots)
	for i := 0; i < ShopSlots; i++ {
		out = append(out, segment{
			start: totalStart + i*cardWidth + gap,
			end:   totalStart + (i+1)*cardWidth - gap,
		})
	}
	return out
}

// findCardYStart walks down from the HUD boundary to where card content
// actually begins
func findCardYStart(img *image.RGBA, hudTop int, cards []segment) int {
	if len(cards) == 0 {
		return hudTop
	}
	h := img.Bounds().Dy()
	midX := (cards[0].start + cards[0].end) / 2

	for y := hudTop; y < h; y++ {
		idx := y*img.Stride + midX*4
		brightness := (float64(img.Pix[idx]) + float64(img.Pix[idx+1]) + float64(img.Pix[idx+2])) / 3.0
		if brightness > 45.0 {
			return y
		}
	}
	return hudTop
}

// findGoldRegion locates the gold readout by scanning the HUD bar for the
// yellow coin icon; the number text sits just to its right.
func findGoldRegion(img *image.RGBA, barTop, barBottom int, log *logging.Logger) *Region {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	wf, hf := float64(w), float64(h)
	if barTop >= barBottom || barBottom-barTop < 3 {
		return nil
	}

	var goldXs, goldYs []int
	for y := barTop; y < barBottom; y++ {
		for x := w / 4; x < w*19/20; x++ {
			idx := y*img.Stride + x*4
			r, g, bl := int(img.Pix[idx]), int(img.Pix[idx+1]), int(img.Pix[idx+2])
			// Coin yellow: high red, moderate green, low blue
			if r > 160 && g > 120 && bl < 120 && r-bl > 60 {
				goldXs = append(goldXs, x)
				goldYs = append(goldYs, y)
			}
		}
	}
	if len(goldXs) == 0 {
		log.Debug("no gold coin pixels in HUD bar")
		return nil
	}

	sort.Ints(goldXs)
	sort.Ints(goldYs)
	coinX := goldXs[len(goldXs)/2]
	coinYMin := goldYs[0]
	coinYMax := goldYs[len(goldYs)-1]

	textX := coinX + 12
	regionY := coinYMin - 3
	if regionY < 0 {
		regionY = 0
	}
	regionH := coinYMax - coinYMin + 8
	if regionH < 15 {
		regionH = 15
	}

	return &Region{
		X: float64(textX) / wf,
		Y: float64(regionY) / hf,
		W: 50.0 / wf,
		H: float64(regionH) / hf,
	}
}

// findLevelRegion looks for the bright "Lv. X" text on the left side of the
// HUD bar
func findLevelRegion(img *image.RGBA, barTop, barBottom int, log *logging.Logger) *Region {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	wf, hf := float64(w), float64(h)
	if barTop >= barBottom {
		return nil
	}

	searchXStart := int(float64(w) * 0.10)
	searchXEnd := int(float64(w) * 0.22)

	var textXs, textYs []int
	for y := barTop; y < barBottom; y++ {
		for x := searchXStart; x < searchXEnd; x++ {
			idx := y*img.Stride + x*4
			r, g, bl := int(img.Pix[idx]), int(img.Pix[idx+1]), int(img.Pix[idx+2])
			brightness := (r + g + bl) / 3
			// White text or yellow/gold text
			if brightness > 150 || (r > 180 && g > 150 && bl < 120) {
				textXs = append(textXs, x)
				textYs = append(textYs, y)
			}
		}
	}
	if len(textXs) < 5 {
		log.Debug("no level text in HUD bar")
		return nil
	}

	sort.Ints(textXs)
	sort.Ints(textYs)
	// Trim outliers before bounding
	xMin := textXs[len(textXs)*5/100]
	xMax := textXs[len(textXs)*95/100]
	yMin := textYs[len(textYs)*5/100]
	yMax := textYs[len(textYs)*95/100]

	const pad = 4
	rx := xMin - pad
	if rx < 0 {
		rx = 0
	}
	ry := yMin - pad
	if ry < 0 {
		ry = 0
	}
	rw := xMax - xMin + pad*2
	if rw < 20 {
		rw = 20
	}
	rh := yMax - yMin + pad*2
	if rh < 15 {
		rh = 15
	}

	return &Region{
		X: float64(rx) / wf,
		Y: float64(ry) / hf,
		W: float64(rw) / wf,
		H: float64(rh) / hf,
	}
}

// findStageRegion locates the stage indicator from bright text at the top
// center of the viewport
func findStageRegion(img *image.RGBA, log *logging.Logger) *Region {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	wf, hf := float64(w), float64(h)

	gameTop := findGameTop(img)
	scanBottom := gameTop + int(float64(h)*0.06)
	if scanBottom > h {
		scanBottom = h
	}
	centerStart := w * 2 / 5
	centerEnd := w * 3 / 5

	minX, maxX := w, 0
	minY, maxY := h, 0
	found := false

	for y := gameTop; y < scanBottom; y++ {
		for x := centerStart; x < centerEnd; x++ {
			idx := y*img.Stride + x*4
			brightness := (int(img.Pix[idx]) + int(img.Pix[idx+1]) + int(img.Pix[idx+2])) / 3
			if brightness > 170 {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
				found = true
			}
		}
	}
	if !found || maxX-minX < 5 {
		log.Debug("no stage text at top center")
		return nil
	}

	// The stage text is compact; a very wide hit means other UI got caught,
	// so constrain to a narrow center strip.
	if maxX-minX > 200 {
		center := (minX + maxX) / 2
		minX = center - 40
		if minX < 0 {
			minX = 0
		}
		maxX = center + 40
	}

	const pad = 5
	rx := minX - pad
	if rx < 0 {
		rx = 0
	}
	ry := minY - pad
	if ry < 0 {
		ry = 0
	}
	return &Region{
		X: float64(rx) / wf,
		Y: float64(ry) / hf,
		W: float64(maxX-minX+pad*2) / wf,
		H: float64(maxY-minY+pad*2) / hf,
	}
}

// findGameTop skips any window titlebar remnants by finding the first row
// with real content
func findGameTop(img *image.RGBA) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	step := w / 50
	if step < 1 {
		step = 1
	}
	maxScan := h / 10
	if maxScan > 60 {
		maxScan = 60
	}

	for y := 0; y < maxScan; y++ {
		var sum float64
		count := 0
		for x := w / 4; x < w*3/4; x += step {
			idx := y*img.Stride + x*4
			sum += (float64(img.Pix[idx]) + float64(img.Pix[idx+1]) + float64(img.Pix[idx+2])) / 3.0
			count++
		}
		if count > 0 && sum/float64(count) > 30.0 {
			return y
		}
	}
	return 0
}

// findBoardCells lays a BoardRows x BoardCols grid over the board area above
// the HUD and keeps cells whose content passes the contrast check. Cells are
// placed proportionally; only their presence is content-validated.
func findBoardCells(img *image.RGBA, hudTop float64, cfg LayoutConfig) []BoardCell {
	// The board occupies the center of the viewport between the top bar and
	// the HUD
	area := Region{X: 0.27, Y: 0.23, W: 0.46, H: hudTop*0.78 - 0.23}
	if area.H <= 0 {
		return nil
	}

	cellW := area.W / BoardCols
	cellH := area.H / BoardRows
	var cells []BoardCell
	for row := 0; row < BoardRows; row++ {
		for col := 0; col < BoardCols; col++ {
			// Alternate rows are offset half a cell, matching the hex grid
			xOff := 0.0
			if row%2 == 1 {
				xOff = cellW / 2
			}
			r := Region{
				X: area.X + float64(col)*cellW + xOff,
				Y: area.Y + float64(row)*cellH,
				W: cellW,
				H: cellH,
			}
			if r.X+r.W > 1 {
				continue
			}
			conf := cellContrast(img, r)
			if conf < cfg.CellContrast {
				continue
			}
			cells = append(cells, BoardCell{
				Row:        row,
				Col:        col,
				Region:     r,
				Confidence: math.Min(conf/40.0, 1.0),
			})
		}
	}
	return cells
}

// findBenchCells places the nine bench slots in the strip between board and
// HUD, keeping cells that pass the contrast check
func findBenchCells(img *image.RGBA, hudTop float64, cfg LayoutConfig) []BenchCell {
	top := hudTop * 0.82
	area := Region{X: 0.225, Y: top, W: 0.50, H: hudTop*0.97 - top}
	if area.H <= 0 {
		return nil
	}

	cellW := area.W / BenchSlots
	var cells []BenchCell
	for i := 0; i < BenchSlots; i++ {
		r := Region{
			X: area.X + float64(i)*cellW,
			Y: area.Y,
			W: cellW,
			H: area.H,
		}
		conf := cellContrast(img, r)
		if conf < cfg.CellContrast {
			continue
		}
		cells = append(cells, BenchCell{
			Index:      i,
			Region:     r,
			Confidence: math.Min(conf/40.0, 1.0),
		})
	}
	return cells
}

// cellContrast samples a region and returns the brightness standard
// deviation. Near-uniform cells are empty board tiles.
func cellContrast(img *image.RGBA, r Region) float64 {
	b := img.Bounds()
	rect := r.Rect(b.Dx(), b.Dy())
	if rect.Dx() < 2 || rect.Dy() < 2 {
		return 0
	}

	xStep := rect.Dx() / 8
	if xStep < 1 {
		xStep = 1
	}
	yStep := rect.Dy() / 8
	if yStep < 1 {
		yStep = 1
	}

	var sum, sumSq float64
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y += yStep {
		for x := rect.Min.X; x < rect.Max.X; x += xStep {
			idx := y*img.Stride + x*4
			v := (float64(img.Pix[idx]) + float64(img.Pix[idx+1]) + float64(img.Pix[idx+2])) / 3.0
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// LayoutTracker caches a detected layout across frames, invalidating when the
// HUD boundary drifts or the forced re-detection interval elapses. Owned by a
// single pipeline session; not safe for concurrent use.
type LayoutTracker struct {
	cfg    LayoutConfig
	log    *logging.Logger
	cached *Layout

	detectCalls int
}

// NewLayoutTracker creates a tracker with the given policy
func NewLayoutTracker(cfg LayoutConfig, log *logging.Logger) *LayoutTracker {
	return &LayoutTracker{cfg: cfg, log: log}
}

// Track returns the layout for a viewport image, reusing the cache when the
// HUD boundary hasn't moved
func (t *LayoutTracker) Track(img *image.RGBA) *Layout {
	if t.cached != nil {
		t.cached.Age++
		if t.cached.Age < t.cfg.RedetectInterval {
			hudTop := float64(findHUDTop(img)) / float64(img.Bounds().Dy())
			if math.Abs(hudTop-t.cached.HUDTop) <= t.cfg.HUDDriftTolerance {
				return t.cached
			}
			t.log.Debug("cached layout failed revalidation")
		}
		t.cached = nil
	}

	t.detectCalls++
	layout := DetectLayout(img, t.cfg, t.log)
	if layout.Confidence > 0 {
		t.cached = layout
	}
	return layout
}

// Invalidate drops the cached layout
func (t *LayoutTracker) Invalidate() {
	t.cached = nil
}

// DetectCalls reports how many times full detection has run
func (t *LayoutTracker) DetectCalls() int {
	return t.detectCalls
}
