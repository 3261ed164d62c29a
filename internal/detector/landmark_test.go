package detector

import (
	"math"
	"testing"
)

func TestDecodeHeatmapsPeakCoordinates(t *testing.T) {
	const (
		numPoints = 3
		hmSize    = 64
		inputSize = 256
	)
	data := make([]float32, numPoints*hmSize*hmSize)

	// One clean peak per landmark, neighbors symmetric so no quarter shift.
	peaks := []struct{ x, y int }{{10, 20}, {0, 0}, {63, 63}}
	for i, p := range peaks {
		data[i*hmSize*hmSize+p.y*hmSize+p.x] = 0.9
	}

	landmarks, best := decodeHeatmaps(data, numPoints, hmSize, inputSize)

	if len(landmarks) != numPoints {
		t.Fatalf("Expected %d landmarks, Got: %d", numPoints, len(landmarks))
	}
	if best != 0.9 {
		t.Errorf("Expected peak 0.9, Got: %g", best)
	}

	scale := float32(inputSize) / float32(hmSize)
	for i, p := range peaks {
		wantX := (float32(p.x) + 0.5) * scale
		wantY := (float32(p.y) + 0.5) * scale
		got := landmarks[i]
		if math.Abs(float64(got.X-wantX)) > 0.01 || math.Abs(float64(got.Y-wantY)) > 0.01 {
			t.Errorf("landmark %d: Expected (%g, %g), Got: (%g, %g)", i, wantX, wantY, got.X, got.Y)
		}
	}
}

func TestDecodeHeatmapsQuarterShift(t *testing.T) {
	const (
		hmSize    = 64
		inputSize = 256
	)
	data := make([]float32, hmSize*hmSize)

	// Peak at (30, 30) with a stronger right neighbor pulls x by +0.25.
	data[30*hmSize+30] = 1.0
	data[30*hmSize+31] = 0.5

	landmarks, _ := decodeHeatmaps(data, 1, hmSize, inputSize)

	scale := float32(inputSize) / float32(hmSize)
	wantX := (30 + 0.25 + 0.5) * scale
	if math.Abs(float64(landmarks[0].X-wantX)) > 0.01 {
		t.Errorf("Expected x %g, Got: %g", wantX, landmarks[0].X)
	}
}

func TestDecodeHeatmapsIsDeterministic(t *testing.T) {
	const (
		hmSize    = 64
		inputSize = 256
	)
	data := make([]float32, NumLandmarks*hmSize*hmSize)
	for i := range data {
		data[i] = float32((i*2654435761)%1000) / 1000.0
	}

	a, peakA := decodeHeatmaps(data, NumLandmarks, hmSize, inputSize)
	b, peakB := decodeHeatmaps(data, NumLandmarks, hmSize, inputSize)

	if peakA != peakB {
		t.Fatalf("peaks differ: %g vs %g", peakA, peakB)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("landmark %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestLandmarksText(t *testing.T) {
	lm := Landmarks{{X: 1.5, Y: 2}, {X: 3, Y: 4.25}}

	if got, want := lm.Text(), "1.5 2 3 4.25\n"; got != want {
		t.Errorf("Expected %q, Got: %q", want, got)
	}

	flat := lm.AsSlice()
	want := []float32{1.5, 2, 3, 4.25}
	if len(flat) != len(want) {
		t.Fatalf("Expected %d values, Got: %d", len(want), len(flat))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Errorf("index %d: Expected %g, Got: %g", i, want[i], flat[i])
		}
	}
}
