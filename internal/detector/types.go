package detector

import (
	"fmt"
	"strings"
)

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// NumLandmarks is the cardinality of the landmark model's output.
const NumLandmarks = 68

// Landmarks is the ordered set of detected facial keypoints in normalized
// image coordinates.
type Landmarks []Point

// AsSlice returns landmarks as a flat slice [x0,y0,x1,y1,...]
func (l Landmarks) AsSlice() []float32 {
	out := make([]float32, 0, len(l)*2)
	for _, p := range l {
		out = append(out, p.X, p.Y)
	}
	return out
}

// Text renders the landmarks as a single space-separated line
// "x0 y0 x1 y1 ...", the format the flattened landmark artifact uses.
func (l Landmarks) Text() string {
	var b strings.Builder
	for i, p := range l {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g %g", p.X, p.Y)
	}
	b.WriteByte('\n')
	return b.String()
}
