package vision

import (
	"image"
	"image/color"

	"jordanella.com/autochess-scout/internal/logging"
)

// Synthetic frames for detector tests: a game rectangle with a bright board,
// the dark HUD bar at 80% of game height, five shop panels below it and the
// small HUD readouts the layout detector looks for.

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	b := img.Bounds()
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func gray8(v uint8) color.RGBA {
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

// drawGame paints a game rectangle into an existing frame image
func drawGame(img *image.RGBA, game image.Rectangle) {
	gw, gh := game.Dx(), game.Dy()
	hudY := game.Min.Y + gh*80/100

	// Board above the bar, dark bar below it
	fillRect(img, game.Min.X, game.Min.Y, game.Max.X, hudY, gray8(120))
	fillRect(img, game.Min.X, hudY, game.Max.X, game.Max.Y, gray8(20))

	// Five evenly spaced shop panels in the lower part of the bar area
	span := gw * 60 / 100
	spanStart := game.Min.X + gw*20/100
	gap := span / 25
	cardW := (span - 4*gap) / 5
	cardTop := hudY + (game.Max.Y-hudY)/6
	cardBottom := game.Max.Y - (game.Max.Y-hudY)/12
	for i := 0; i < 5; i++ {
		x := spanStart + i*(cardW+gap)
		fillRect(img, x, cardTop, x+cardW, cardBottom, gray8(200))
	}

	// Stage text at top center
	fillRect(img, game.Min.X+gw*48/100, game.Min.Y+gh*1/100, game.Min.X+gw*52/100, game.Min.Y+gh*3/100, gray8(230))

	// Gold coin right of center in the thin bar strip
	barMid := hudY + (cardTop-hudY)/2
	fillRect(img, game.Min.X+gw*86/100, barMid-4, game.Min.X+gw*88/100, barMid+4, color.RGBA{R: 230, G: 180, B: 40, A: 255})

	// Level text on the left of the bar strip
	fillRect(img, game.Min.X+gw*12/100, barMid-4, game.Min.X+gw*17/100, barMid+4, gray8(220))
}

// fullscreenFrame is a frame entirely covered by the game
func fullscreenFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	drawGame(img, image.Rect(0, 0, w, h))
	return img
}

// windowedFrame is a black frame with the game in a sub-rectangle
func windowedFrame(w, h int, game image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRect(img, 0, 0, w, h, gray8(0))
	drawGame(img, game)
	return img
}

// emptyFrame holds no game structure at all
func emptyFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRect(img, 0, 0, w, h, gray8(90))
	return img
}

func testLogger() *logging.Logger {
	return logging.NewLogger("test").SetMinLevel(logging.LogLevelError)
}
