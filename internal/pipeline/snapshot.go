package pipeline

import (
	"fmt"
	"time"

	"jordanella.com/autochess-scout/internal/ocr"
	"jordanella.com/autochess-scout/internal/recognize"
)

// Snapshot is the full observed game state from one frame. Field pointers
// are nil when the region was absent or its reading failed validation.
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time

	Shop       [5]recognize.Observation
	Gold       *ocr.IntReading
	Level      *ocr.IntReading
	Stage      *ocr.StageReading
	BoardUnits int
	BenchUnits int

	// OCRAvailable records whether field reading ran for this frame
	OCRAvailable bool
}

// Change is one field difference between consecutive snapshots
type Change struct {
	Field string
	Old   interface{}
	New   interface{}
}

// Diff lists the fields whose observed value changed from prev to next.
// Comparison is on semantic values, so confidence jitter and raw OCR text
// never produce spurious changes. A nil prev means everything observed in
// next is new.
func Diff(prev, next *Snapshot) []Change {
	var changes []Change

	if g := diffInt("gold", prevGold(prev), next.Gold); g != nil {
		changes = append(changes, *g)
	}
	if l := diffInt("level", prevLevel(prev), next.Level); l != nil {
		changes = append(changes, *l)
	}
	if s := diffStage(prev, next); s != nil {
		changes = append(changes, *s)
	}

	for i := range next.Shop {
		var old recognize.Observation
		if prev != nil {
			old = prev.Shop[i]
		}
		if !sameObservation(old, next.Shop[i]) {
			changes = append(changes, Change{
				Field: fmt.Sprintf("shop.%d", i),
				Old:   observationValue(old),
				New:   observationValue(next.Shop[i]),
			})
		}
	}

	oldBoard, oldBench := 0, 0
	if prev != nil {
		oldBoard, oldBench = prev.BoardUnits, prev.BenchUnits
	}
	if oldBoard != next.BoardUnits {
		changes = append(changes, Change{Field: "board.units", Old: oldBoard, New: next.BoardUnits})
	}
	if oldBench != next.BenchUnits {
		changes = append(changes, Change{Field: "bench.units", Old: oldBench, New: next.BenchUnits})
	}

	return changes
}

func prevGold(prev *Snapshot) *ocr.IntReading {
	if prev == nil {
		return nil
	}
	return prev.Gold
}

func prevLevel(prev *Snapshot) *ocr.IntReading {
	if prev == nil {
		return nil
	}
	return prev.Level
}

// diffInt compares two optional readings by value. A reading disappearing is
// not a change; stale values persist until a new valid reading arrives.
func diffInt(field string, old, new *ocr.IntReading) *Change {
	if new == nil {
		return nil
	}
	if old != nil && old.Value == new.Value {
		return nil
	}
	c := Change{Field: field, New: new.Value}
	if old != nil {
		c.Old = old.Value
	}
	return &c
}

func diffStage(prev, next *Snapshot) *Change {
	if next.Stage == nil {
		return nil
	}
	if prev != nil && prev.Stage != nil &&
		prev.Stage.Stage == next.Stage.Stage && prev.Stage.Round == next.Stage.Round {
		return nil
	}
	c := Change{
		Field: "stage",
		New:   fmt.Sprintf("%d-%d", next.Stage.Stage, next.Stage.Round),
	}
	if prev != nil && prev.Stage != nil {
		c.Old = fmt.Sprintf("%d-%d", prev.Stage.Stage, prev.Stage.Round)
	}
	return &c
}

// sameObservation compares the identity of two slot observations, ignoring
// confidence
func sameObservation(a, b recognize.Observation) bool {
	if a.Occupied != b.Occupied {
		return false
	}
	if !a.Occupied {
		return true
	}
	return a.ID == b.ID
}

// observationValue is the event payload form of a slot observation
func observationValue(o recognize.Observation) interface{} {
	if !o.Occupied {
		return nil
	}
	return o.ID
}
