package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device identifies an execution backend for a model session.
type Device string

const (
	DeviceCPU    Device = "cpu"
	DeviceCUDA   Device = "cuda"
	DeviceCoreML Device = "coreml"
)

// ErrDeviceUnavailable is returned when the requested execution provider
// cannot be attached on this host. Callers fall back to DeviceCPU.
var ErrDeviceUnavailable = errors.New("inference: device unavailable")

// Accelerated reports whether the device is something other than plain CPU.
func (d Device) Accelerated() bool {
	return d != DeviceCPU && d != ""
}

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize sets up the ONNX Runtime environment (call once at startup).
func Initialize(sharedLibraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment.
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// Session wraps an ONNX Runtime inference session pinned to one device.
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	device      Device
	inputNames  []string
	outputNames []string
}

// NewSession creates an inference session for the model on the given device.
// Requesting an accelerated device that cannot be attached returns
// ErrDeviceUnavailable rather than silently running on CPU: the caller owns
// the fallback decision.
func NewSession(modelPath string, inputNames, outputNames []string, device Device) (*Session, error) {
	if !initialized {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	switch device {
	case DeviceCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return nil, fmt.Errorf("%w: coreml: %v", ErrDeviceUnavailable, err)
		}
	case DeviceCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("%w: cuda: %v", ErrDeviceUnavailable, err)
		}
		defer cudaOpts.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("%w: cuda: %v", ErrDeviceUnavailable, err)
		}
	case DeviceCPU, "":
		// default provider
	default:
		return nil, fmt.Errorf("unknown device: %q", device)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		device:      device,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Device returns the device this session was created on.
func (s *Session) Device() Device {
	return s.device
}

// Run executes inference with the given inputs.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources.
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data.
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates an uninitialized tensor for output.
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
