// Package orchestrator assembles model inputs, selects the compute device,
// and drives a single inference pass per request with a one-shot CPU
// fallback. All model weights are loaded once at construction and shared
// read-only across requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/inpaintd/internal/detector"
	"github.com/dudu/inpaintd/internal/generator"
	"github.com/dudu/inpaintd/internal/inference"
)

var (
	// ErrInferenceFailed means both the accelerated and the CPU path
	// errored; there is no third fallback.
	ErrInferenceFailed = errors.New("orchestrator: inference failed on all devices")

	// ErrInferenceTimeout means the inference pass exceeded its wall-clock
	// budget. The pass keeps running in the background and its resources
	// are released on completion, but the request observes the timeout.
	ErrInferenceTimeout = errors.New("orchestrator: inference timed out")
)

// Config carries model locations and execution policy.
type Config struct {
	LandmarkModelPath string
	InpaintModelPath  string
	InputSize         int
	Device            inference.Device // preferred device; CPU is always the fallback
	Timeout           time.Duration
}

// Result bundles the outputs of one successful pass. Close releases both
// mats.
type Result struct {
	Inpainted gocv.Mat
	Overlay   gocv.Mat
	Landmarks detector.Landmarks
}

// Close releases the result's mats.
func (r *Result) Close() {
	r.Inpainted.Close()
	r.Overlay.Close()
}

// runner executes one detect+inpaint pass on one device.
type runner interface {
	device() inference.Device
	run(source, mask gocv.Mat) (*Result, error)
	close()
}

// engine is a detector+generator pair pinned to one device. The mutex
// serializes forward passes: ONNX Runtime sessions are not verified safe
// for concurrent Run on a shared device context, so each device is a
// single-flight resource.
type engine struct {
	dev       inference.Device
	detector  *detector.Landmark68
	inpainter *generator.Inpainter
	pass      func(source, mask gocv.Mat) (*Result, error)
	mu        sync.Mutex
}

func newEngine(cfg Config, device inference.Device) (*engine, error) {
	det, err := detector.NewLandmark68(cfg.LandmarkModelPath, cfg.InputSize, device)
	if err != nil {
		return nil, err
	}
	inp, err := generator.NewInpainter(cfg.InpaintModelPath, cfg.InputSize, device)
	if err != nil {
		det.Close()
		return nil, err
	}
	e := &engine{dev: device, detector: det, inpainter: inp}
	e.pass = e.inferPass
	return e, nil
}

func (e *engine) device() inference.Device {
	return e.dev
}

// run executes one pass while holding the device.
func (e *engine) run(source, mask gocv.Mat) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pass(source, mask)
}

// inferPass executes detect -> overlay -> inpaint.
func (e *engine) inferPass(source, mask gocv.Mat) (*Result, error) {
	landmarks, err := e.detector.Detect(source)
	if err != nil {
		return nil, err
	}

	overlay := detector.RenderOverlay(source, landmarks)

	inpainted, err := e.inpainter.Inpaint(source, mask, landmarks)
	if err != nil {
		overlay.Close()
		return nil, err
	}

	return &Result{
		Inpainted: inpainted,
		Overlay:   overlay,
		Landmarks: landmarks,
	}, nil
}

func (e *engine) close() {
	e.detector.Close()
	e.inpainter.Close()
}

// Orchestrator owns the loaded engines and runs the detect+inpaint pass.
type Orchestrator struct {
	cfg   Config
	accel runner // nil when the preferred device is CPU or unavailable
	cpu   runner
}

// New loads the models. The CPU engine is always built so the fallback
// path is ready before the first request; the accelerated engine is built
// when the preferred device is available, and its absence is not an error.
func New(cfg Config) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg}

	if cfg.Device.Accelerated() {
		accel, err := newEngine(cfg, cfg.Device)
		if err != nil {
			if !errors.Is(err, inference.ErrDeviceUnavailable) {
				return nil, fmt.Errorf("failed to load models on %s: %w", cfg.Device, err)
			}
			slog.Warn("accelerated device unavailable, running CPU only",
				"device", cfg.Device, "err", err)
		} else {
			o.accel = accel
			slog.Info("models loaded", "device", cfg.Device)
		}
	}

	cpu, err := newEngine(cfg, inference.DeviceCPU)
	if err != nil {
		if o.accel != nil {
			o.accel.close()
		}
		return nil, fmt.Errorf("failed to load models on cpu: %w", err)
	}
	o.cpu = cpu
	slog.Info("models loaded", "device", inference.DeviceCPU)

	return o, nil
}

// Device returns the device the next request will attempt first.
func (o *Orchestrator) Device() inference.Device {
	if o.accel != nil {
		return o.accel.device()
	}
	return inference.DeviceCPU
}

// Run detects landmarks and inpaints the masked region. source must be a
// normalized BGR mat and mask a matching binary mat; neither is modified
// or retained. A runtime failure on the accelerated device triggers
// exactly one retry of the whole pass on the CPU engine. ErrNoFaceDetected
// aborts immediately: it is a property of the image, not of the device.
func (o *Orchestrator) Run(ctx context.Context, source, mask gocv.Mat) (*Result, error) {
	runners := make([]runner, 0, 2)
	if o.accel != nil {
		runners = append(runners, o.accel)
	}
	runners = append(runners, o.cpu)

	var lastErr error
	for _, r := range runners {
		res, err := o.runWithTimeout(ctx, r, source, mask)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, detector.ErrNoFaceDetected) || errors.Is(err, ErrInferenceTimeout) {
			return nil, err
		}
		slog.Warn("inference pass failed", "device", r.device(), "err", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, lastErr)
}

// runWithTimeout bounds one pass by the configured wall-clock budget. The
// inputs are cloned so the pass can safely outlive the caller when it
// times out; the stray pass releases everything on completion.
func (o *Orchestrator) runWithTimeout(ctx context.Context, r runner, source, mask gocv.Mat) (*Result, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	src := source.Clone()
	msk := mask.Clone()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer src.Close()
		defer msk.Close()
		res, err := r.run(src, msk)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		go func() {
			if out := <-done; out.res != nil {
				out.res.Close()
			}
		}()
		return nil, ErrInferenceTimeout
	}
}

// Close releases all engines.
func (o *Orchestrator) Close() {
	if o.accel != nil {
		o.accel.close()
	}
	if o.cpu != nil {
		o.cpu.close()
	}
}
