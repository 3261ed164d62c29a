package generator

import (
	"testing"

	"github.com/dudu/inpaintd/internal/detector"
)

func TestAssembleInput(t *testing.T) {
	const size = 4
	plane := size * size

	src := make([]byte, plane*3)
	mask := make([]byte, plane)

	// Pixel (1,0) is BGR (10, 20, 30); pixel (2,0) is masked.
	src[1*3+0] = 10
	src[1*3+1] = 20
	src[1*3+2] = 30
	src[2*3+0] = 255
	src[2*3+1] = 255
	src[2*3+2] = 255
	mask[2] = 255

	lm := detector.Landmarks{{X: 3, Y: 3}, {X: -5, Y: 0}, {X: 100, Y: 100}}

	data := assembleInput(src, mask, lm, size)

	if len(data) != inputChannels*plane {
		t.Fatalf("Expected %d values, Got: %d", inputChannels*plane, len(data))
	}

	// Unmasked pixel keeps its RGB values, channel order R,G,B.
	if got, want := data[0*plane+1], float32(30)/255; got != want {
		t.Errorf("R: Expected %g, Got: %g", want, got)
	}
	if got, want := data[1*plane+1], float32(20)/255; got != want {
		t.Errorf("G: Expected %g, Got: %g", want, got)
	}
	if got, want := data[2*plane+1], float32(10)/255; got != want {
		t.Errorf("B: Expected %g, Got: %g", want, got)
	}

	// Masked pixel is hole-punched to zero with the mask channel set.
	for c := 0; c < 3; c++ {
		if got := data[c*plane+2]; got != 0 {
			t.Errorf("masked channel %d: Expected 0, Got: %g", c, got)
		}
	}
	if got := data[3*plane+2]; got != 1 {
		t.Errorf("mask channel: Expected 1, Got: %g", got)
	}
	if got := data[3*plane+1]; got != 0 {
		t.Errorf("mask channel: Expected 0, Got: %g", got)
	}

	// In-bounds landmark marks its pixel; out-of-bounds ones are skipped.
	if got := data[4*plane+3*size+3]; got != 1 {
		t.Errorf("landmark map: Expected 1 at (3,3), Got: %g", got)
	}
	var marked int
	for i := 0; i < plane; i++ {
		if data[4*plane+i] != 0 {
			marked++
		}
	}
	if marked != 1 {
		t.Errorf("Expected exactly 1 marked landmark pixel, Got: %d", marked)
	}
}

func TestComposeKeepsUnmaskedPixels(t *testing.T) {
	const size = 2
	plane := size * size

	src := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}
	mask := []byte{0, 255, 0, 0}

	// Generator output: all channels at full intensity, plus an
	// out-of-range value that must clamp.
	output := make([]float32, 3*plane)
	for i := range output {
		output[i] = 2.0 // clamps to 255
	}

	result, err := compose(output, src, mask, size)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer result.Close()

	got := result.ToBytes()

	// Pixel 0 is unmasked: source passes through.
	for i := 0; i < 3; i++ {
		if got[i] != src[i] {
			t.Errorf("byte %d: Expected %d, Got: %d", i, src[i], got[i])
		}
	}
	// Pixel 1 is masked: generator output, clamped to 255.
	for i := 3; i < 6; i++ {
		if got[i] != 255 {
			t.Errorf("byte %d: Expected 255, Got: %d", i, got[i])
		}
	}
}

func TestComposeClampsNegative(t *testing.T) {
	const size = 1
	src := []byte{50, 60, 70}
	mask := []byte{255}
	output := []float32{-1, -1, -1}

	result, err := compose(output, src, mask, size)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer result.Close()

	for i, b := range result.ToBytes() {
		if b != 0 {
			t.Errorf("byte %d: Expected 0, Got: %d", i, b)
		}
	}
}
