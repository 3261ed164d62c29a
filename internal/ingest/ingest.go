// Package ingest validates and decodes uploaded images into the normalized
// form the rest of the pipeline works on: square BGR mats at the model input
// size for sources, strict 0/255 binary mats for masks.
package ingest

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// InputSize is the square resolution every image is normalized to. The
// generator consumes 256x256 tensors, and landmarks are detected on the
// same normalized image so the coordinates line up by construction.
const InputSize = 256

// maskThreshold separates painted-white mask pixels from background.
const maskThreshold = 252

// ErrInvalidImage is returned for uploads that are not decodable raster
// images or have degenerate dimensions.
var ErrInvalidImage = errors.New("ingest: invalid image")

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// AllowedExtension reports whether the upload filename has a supported
// image extension.
func AllowedExtension(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// DecodeSource decodes raw upload bytes into a normalized InputSize x
// InputSize 3-channel BGR mat. The caller owns the returned mat.
func DecodeSource(raw []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: undecodable or empty source", ErrInvalidImage)
	}

	normalized := normalize(img, gocv.InterpolationLinear)
	img.Close()
	return normalized, nil
}

// DecodeMask decodes raw upload bytes into a normalized single-channel
// binary mat: painted (foreground) pixels are 255, everything else 0.
// The caller owns the returned mat.
func DecodeMask(raw []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(raw, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: undecodable or empty mask", ErrInvalidImage)
	}

	// Nearest-neighbor keeps the mask strictly two-valued through the resize.
	resized := normalize(img, gocv.InterpolationNearestNeighbor)
	img.Close()

	binary := gocv.NewMat()
	gocv.Threshold(resized, &binary, maskThreshold, 255, gocv.ThresholdBinary)
	resized.Close()
	return binary, nil
}

// normalize applies the fixed resize policy: center-crop to the short side,
// then scale to InputSize x InputSize. Landmark coordinates detected on the
// result therefore align with generator input pixels without any further
// mapping. This is deliberately not a letterbox and not a stretch.
func normalize(img gocv.Mat, interp gocv.InterpolationFlags) gocv.Mat {
	h := img.Rows()
	w := img.Cols()

	cropped := img
	ownsCropped := false
	if h != w {
		side := h
		if w < h {
			side = w
		}
		x := (w - side) / 2
		y := (h - side) / 2
		region := img.Region(image.Rect(x, y, x+side, y+side))
		// Region shares storage with img; clone so the result outlives it.
		cropped = region.Clone()
		region.Close()
		ownsCropped = true
	}

	out := gocv.NewMat()
	gocv.Resize(cropped, &out, image.Pt(InputSize, InputSize), 0, 0, interp)
	if ownsCropped {
		cropped.Close()
	}
	return out
}
