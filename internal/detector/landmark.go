package detector

import (
	"errors"
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/inpaintd/internal/inference"
)

const (
	// heatmapSize is the side of each per-landmark heatmap the FAN model
	// emits; coordinates are scaled back up to the input resolution.
	heatmapSize = 64

	// confThreshold is the minimum peak heatmap activation for a landmark
	// set to count as a detected face. Below it the image is treated as
	// containing no usable face.
	confThreshold = 0.15
)

// ErrNoFaceDetected is returned when the landmark model finds no usable
// face in the image. This is a first-class outcome: the caller must abort
// the pipeline rather than feed an empty landmark set to the generator.
var ErrNoFaceDetected = errors.New("detector: no face detected")

// Landmark68 detects 68 facial landmarks using a FAN-style heatmap model.
// Inference is deterministic for fixed weights and input; there is no
// sampling in the forward pass.
type Landmark68 struct {
	session   *inference.Session
	inputSize int
}

// NewLandmark68 creates a 68-point landmark detector on the given device.
func NewLandmark68(modelPath string, inputSize int, device inference.Device) (*Landmark68, error) {
	inputNames := []string{"input"}
	outputNames := []string{"heatmaps"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark session: %w", err)
	}

	return &Landmark68{
		session:   session,
		inputSize: inputSize,
	}, nil
}

// Device returns the device the detector runs on.
func (l *Landmark68) Device() inference.Device {
	return l.session.Device()
}

// Detect extracts 68 landmarks from a normalized BGR image. Returns
// ErrNoFaceDetected when the strongest heatmap peak is below the
// confidence threshold.
func (l *Landmark68) Detect(img gocv.Mat) (Landmarks, error) {
	if img.Rows() != l.inputSize || img.Cols() != l.inputSize {
		return nil, fmt.Errorf("expected %dx%d input, got %dx%d",
			l.inputSize, l.inputSize, img.Cols(), img.Rows())
	}

	// Preprocess: BGR -> RGB, [0,1], NCHW.
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(l.inputSize, l.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	floatData := bytesToFloat32(blob.ToBytes())

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(l.inputSize), int64(l.inputSize)),
		floatData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32](
		[]int64{1, NumLandmarks, heatmapSize, heatmapSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := l.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("landmark inference failed: %w", err)
	}

	landmarks, peak := decodeHeatmaps(outputTensor.GetData(), NumLandmarks, heatmapSize, l.inputSize)
	if peak < confThreshold {
		return nil, ErrNoFaceDetected
	}
	return landmarks, nil
}

// Close releases detector resources.
func (l *Landmark68) Close() error {
	return l.session.Destroy()
}

// decodeHeatmaps converts stacked per-landmark heatmaps into coordinates in
// the input image frame, with the standard quarter-pixel refinement toward
// the second-highest neighbor. Returns the strongest peak activation across
// all landmarks, which serves as the detection confidence.
func decodeHeatmaps(data []float32, numPoints, hmSize, inputSize int) (Landmarks, float32) {
	landmarks := make(Landmarks, numPoints)
	scale := float32(inputSize) / float32(hmSize)

	var best float32 = -math.MaxFloat32
	plane := hmSize * hmSize

	for i := 0; i < numPoints; i++ {
		hm := data[i*plane : (i+1)*plane]

		maxIdx := 0
		maxVal := hm[0]
		for j := 1; j < plane; j++ {
			if hm[j] > maxVal {
				maxVal = hm[j]
				maxIdx = j
			}
		}
		if maxVal > best {
			best = maxVal
		}

		px := maxIdx % hmSize
		py := maxIdx / hmSize
		x := float32(px)
		y := float32(py)

		// Quarter-pixel shift toward the steeper neighbor.
		if px > 0 && px < hmSize-1 {
			if hm[py*hmSize+px+1] > hm[py*hmSize+px-1] {
				x += 0.25
			} else if hm[py*hmSize+px+1] < hm[py*hmSize+px-1] {
				x -= 0.25
			}
		}
		if py > 0 && py < hmSize-1 {
			if hm[(py+1)*hmSize+px] > hm[(py-1)*hmSize+px] {
				y += 0.25
			} else if hm[(py+1)*hmSize+px] < hm[(py-1)*hmSize+px] {
				y -= 0.25
			}
		}

		landmarks[i] = Point{X: (x + 0.5) * scale, Y: (y + 0.5) * scale}
	}

	return landmarks, best
}

// bytesToFloat32 converts byte slice to float32 slice
func bytesToFloat32(b []byte) []float32 {
	floats := make([]float32, len(b)/4)
	for i := 0; i < len(floats); i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}
