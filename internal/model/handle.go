package model

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/garbage-api/internal/apperr"
)

// Options controls how the ONNX model is opened.
type Options struct {
	Path string
	// SharedLibraryPath points at libonnxruntime; empty uses the runtime default.
	SharedLibraryPath string
	// InputName and OutputName select tensors by name; empty picks the first.
	InputName  string
	OutputName string
}

// Handle owns an ONNX Runtime session for the process lifetime.
// The session's input and output tensors are shared, so Predict calls are
// serialized.
type Handle struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	shape        Shape
	info         Info
	ownsEnv      bool
}

// Load opens the model at opts.Path. All failures wrap apperr.ErrModelLoad.
func Load(opts Options) (*Handle, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("%w: model file not found at %s: %v", apperr.ErrModelLoad, opts.Path, err)
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %v", apperr.ErrModelLoad, err)
		}
		ownsEnv = true
	}

	h, err := open(opts)
	if err != nil {
		if ownsEnv {
			ort.DestroyEnvironment()
		}
		return nil, err
	}
	h.ownsEnv = ownsEnv
	return h, nil
}

func open(opts Options) (*Handle, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model %s: %v", apperr.ErrModelLoad, opts.Path, err)
	}

	in, err := pick(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := pick(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}
	if out.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("%w: output %q is %v, want float32", apperr.ErrModelLoad, out.Name, out.DataType)
	}

	shape := ShapeFromDims(in.Dimensions)
	outDims := batchOfOne(out.Dimensions)
	if len(outDims) == 0 || outDims[len(outDims)-1] <= 0 {
		return nil, fmt.Errorf("%w: output %q has no fixed class dimension (%v)", apperr.ErrModelLoad, out.Name, out.Dimensions)
	}
	numClasses := int(outDims[len(outDims)-1])

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(shape.Dims()...))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", apperr.ErrModelLoad, err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outDims...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create output tensor: %v", apperr.ErrModelLoad, err)
	}

	session, err := ort.NewAdvancedSession(opts.Path,
		[]string{in.Name}, []string{out.Name},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create ONNX session: %v", apperr.ErrModelLoad, err)
	}

	info := Info{
		Path:        opts.Path,
		InputName:   in.Name,
		OutputName:  out.Name,
		InputShape:  append([]int64(nil), in.Dimensions...),
		OutputShape: append([]int64(nil), out.Dimensions...),
		Layout:      shape.Layout.String(),
		NumClasses:  numClasses,
	}
	slog.Info("model loaded", slog.String("path", opts.Path),
		slog.String("input", in.Name), slog.Any("input_shape", info.InputShape),
		slog.String("output", out.Name), slog.Any("output_shape", info.OutputShape),
		slog.Int("num_classes", numClasses), slog.String("layout", info.Layout))

	return &Handle{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		shape:        shape,
		info:         info,
	}, nil
}

func pick(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("%w: model declares no %s", apperr.ErrModelLoad, kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("%w: model has no %s named %q", apperr.ErrModelLoad, kind, name)
}

// batchOfOne replaces a dynamic leading batch dim with 1.
func batchOfOne(dims ort.Shape) []int64 {
	out := append([]int64(nil), dims...)
	if len(out) > 1 && out[0] <= 0 {
		out[0] = 1
	}
	return out
}

// InputShape returns the declared input geometry.
func (h *Handle) InputShape() Shape {
	return h.shape
}

// NumClasses is the width of the output vector.
func (h *Handle) NumClasses() int {
	return h.info.NumClasses
}

// Info returns a copy of the model diagnostics.
func (h *Handle) Info() Info {
	return h.info
}

// Predict runs one forward pass. The tensor must already match InputShape;
// no reshaping happens here.
func (h *Handle) Predict(t *Tensor) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return nil, errors.New("model is closed")
	}
	in := h.inputTensor.GetData()
	if len(t.Data) != len(in) {
		return nil, fmt.Errorf("expected %d values, got %d", len(in), len(t.Data))
	}
	copy(in, t.Data)

	if err := h.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := h.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inputTensor != nil {
		h.inputTensor.Destroy()
		h.inputTensor = nil
	}
	if h.outputTensor != nil {
		h.outputTensor.Destroy()
		h.outputTensor = nil
	}
	if h.session != nil {
		h.session.Destroy()
		h.session = nil
	}
	if h.ownsEnv {
		ort.DestroyEnvironment()
		h.ownsEnv = false
	}
}
