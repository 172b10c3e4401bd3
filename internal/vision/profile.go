package vision

import (
	"image"
	"sort"
)

// Brightness-profile helpers shared by game area and layout detection. All of
// them sample rather than visit every pixel; frames are large and these run
// every cycle.

// rowBrightness averages sampled pixels across the middle 60% of a row
func rowBrightness(img *image.RGBA, y int) float64 {
	w := img.Bounds().Dx()
	step := w / 50
	if step < 1 {
		step = 1
	}
	xStart := w / 5
	xEnd := w * 4 / 5

	var sum float64
	count := 0
	for x := xStart; x < xEnd; x += step {
		idx := y*img.Stride + x*4
		sum += (float64(img.Pix[idx]) + float64(img.Pix[idx+1]) + float64(img.Pix[idx+2])) / 3.0
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// avgBrightnessRows averages rowBrightness over count consecutive rows
func avgBrightnessRows(img *image.RGBA, startY, count int) float64 {
	h := img.Bounds().Dy()
	var sum float64
	n := 0
	for i := 0; i < count; i++ {
		y := startY + i
		if y < h {
			sum += rowBrightness(img, y)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// columnProfile computes per-column average brightness between two rows,
// sampling roughly `samples` rows per column
func columnProfile(img *image.RGBA, top, bottom, samples int) []float64 {
	w := img.Bounds().Dx()
	yStep := (bottom - top) / samples
	if yStep < 1 {
		yStep = 1
	}

	profile := make([]float64, w)
	for x := 0; x < w; x++ {
		var sum float64
		cnt := 0
		for y := top; y < bottom; y += yStep {
			idx := y*img.Stride + x*4
			sum += (float64(img.Pix[idx]) + float64(img.Pix[idx+1]) + float64(img.Pix[idx+2])) / 3.0
			cnt++
		}
		if cnt > 0 {
			profile[x] = sum / float64(cnt)
		}
	}
	return profile
}

// smooth applies a centered moving average
func smooth(data []float64, window int) []float64 {
	half := window / 2
	out := make([]float64, len(data))
	for i := range data {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(data) {
			hi = len(data)
		}
		var sum float64
		for _, v := range data[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// adaptiveThreshold picks a cut between dark background and bright content
// from the 40th and 85th percentiles of the profile
func adaptiveThreshold(profile []float64) float64 {
	sorted := make([]float64, len(profile))
	copy(sorted, profile)
	sort.Float64s(sorted)
	darkRef := sorted[len(sorted)*40/100]
	brightRef := sorted[len(sorted)*85/100]
	return darkRef + (brightRef-darkRef)*0.35
}

// segment is a contiguous run of profile indices above threshold
type segment struct {
	start, end int
}

func (s segment) width() int { return s.end - s.start }

// brightSegments finds contiguous runs above the threshold, dropping runs
// narrower than minWidth
func brightSegments(profile []float64, threshold float64, minWidth int) []segment {
	var segments []segment
	inBright := false
	start := 0

	for i, v := range profile {
		if !inBright && v > threshold {
			start = i
			inBright = true
		} else if inBright && v <= threshold {
			if i-start >= minWidth {
				segments = append(segments, segment{start, i})
			}
			inBright = false
		}
	}
	if inBright && len(profile)-start >= minWidth {
		segments = append(segments, segment{start, len(profile)})
	}
	return segments
}
