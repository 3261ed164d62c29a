package detector

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// overlayRadius matches the 2px filled markers the original visualization
// used.
const overlayRadius = 2

var overlayColor = color.RGBA{G: 255, A: 255}

// RenderOverlay draws the landmarks over a copy of the source image and
// returns it. The source is not modified; the caller owns the returned mat.
func RenderOverlay(src gocv.Mat, landmarks Landmarks) gocv.Mat {
	out := src.Clone()
	for _, p := range landmarks {
		gocv.Circle(&out, image.Pt(int(p.X), int(p.Y)), overlayRadius, overlayColor, -1)
	}
	return out
}
