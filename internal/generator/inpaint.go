// Package generator wraps the pretrained landmark-guided inpainting model.
// The model is treated as a pure function (source, mask, landmarks) -> image
// with weights loaded once at startup.
package generator

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/inpaintd/internal/detector"
	"github.com/dudu/inpaintd/internal/inference"
)

// inputChannels is masked RGB (3) + binary mask (1) + landmark map (1).
const inputChannels = 5

// Inpainter runs the generator model over assembled inputs.
type Inpainter struct {
	session   *inference.Session
	inputSize int
}

// NewInpainter creates an inpainting generator on the given device.
func NewInpainter(modelPath string, inputSize int, device inference.Device) (*Inpainter, error) {
	inputNames := []string{"input"}
	outputNames := []string{"output"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create inpainter session: %w", err)
	}

	return &Inpainter{
		session:   session,
		inputSize: inputSize,
	}, nil
}

// Device returns the device the generator runs on.
func (g *Inpainter) Device() inference.Device {
	return g.session.Device()
}

// Inpaint synthesizes content inside the masked region of the source.
// source must be a normalized 3-channel BGR mat and mask a matching
// single-channel 0/255 mat. The returned mat is the source with masked
// pixels replaced by generator output; the caller owns it.
func (g *Inpainter) Inpaint(source, mask gocv.Mat, landmarks detector.Landmarks) (gocv.Mat, error) {
	if source.Rows() != g.inputSize || source.Cols() != g.inputSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d source, got %dx%d",
			g.inputSize, g.inputSize, source.Cols(), source.Rows())
	}
	if mask.Rows() != g.inputSize || mask.Cols() != g.inputSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d mask, got %dx%d",
			g.inputSize, g.inputSize, mask.Cols(), mask.Rows())
	}

	srcBytes := source.ToBytes()
	maskBytes := mask.ToBytes()

	inputData := assembleInput(srcBytes, maskBytes, landmarks, g.inputSize)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, inputChannels, int64(g.inputSize), int64(g.inputSize)),
		inputData,
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32](
		[]int64{1, 3, int64(g.inputSize), int64(g.inputSize)})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := g.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return gocv.NewMat(), fmt.Errorf("inpainting inference failed: %w", err)
	}

	return compose(outputTensor.GetData(), srcBytes, maskBytes, g.inputSize)
}

// Close releases generator resources.
func (g *Inpainter) Close() error {
	return g.session.Destroy()
}

// assembleInput builds the NCHW tensor data: channels 0-2 are the
// hole-punched RGB source in [0,1], channel 3 the binary mask, channel 4
// the landmark map (1 at each keypoint pixel).
func assembleInput(srcBGR, mask []byte, landmarks detector.Landmarks, size int) []float32 {
	plane := size * size
	data := make([]float32, inputChannels*plane)

	for i := 0; i < plane; i++ {
		b := float32(srcBGR[i*3+0]) / 255.0
		gr := float32(srcBGR[i*3+1]) / 255.0
		r := float32(srcBGR[i*3+2]) / 255.0

		var m float32
		if mask[i] > 0 {
			m = 1
		}

		// Masked pixels are zeroed; the generator sees the hole.
		data[0*plane+i] = r * (1 - m)
		data[1*plane+i] = gr * (1 - m)
		data[2*plane+i] = b * (1 - m)
		data[3*plane+i] = m
	}

	for _, p := range landmarks {
		x := int(math.Round(float64(p.X)))
		y := int(math.Round(float64(p.Y)))
		if x < 0 || x >= size || y < 0 || y >= size {
			continue
		}
		data[4*plane+y*size+x] = 1
	}

	return data
}

// compose denormalizes the NCHW [0,1] RGB output, clamps it to the valid
// pixel range, and pastes it into the source under the mask so pixels
// outside the painted region pass through untouched.
func compose(output []float32, srcBGR, mask []byte, size int) (gocv.Mat, error) {
	plane := size * size
	pixels := make([]byte, plane*3)

	for i := 0; i < plane; i++ {
		if mask[i] == 0 {
			pixels[i*3+0] = srcBGR[i*3+0]
			pixels[i*3+1] = srcBGR[i*3+1]
			pixels[i*3+2] = srcBGR[i*3+2]
			continue
		}

		r := clampByte(output[0*plane+i] * 255.0)
		gr := clampByte(output[1*plane+i] * 255.0)
		b := clampByte(output[2*plane+i] * 255.0)

		pixels[i*3+0] = b
		pixels[i*3+1] = gr
		pixels[i*3+2] = r
	}

	result, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC3, pixels)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build result mat: %w", err)
	}
	return result, nil
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
