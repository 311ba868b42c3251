package model

// Layout is the memory order the model expects for image tensors.
type Layout int

const (
	// LayoutNHWC is (batch, height, width, channels), the Keras default.
	LayoutNHWC Layout = iota
	// LayoutNCHW is (batch, channels, height, width).
	LayoutNCHW
)

func (l Layout) String() string {
	if l == LayoutNCHW {
		return "NCHW"
	}
	return "NHWC"
}

// Shape is the per-image input geometry declared by the model.
type Shape struct {
	Height   int    `json:"height"`
	Width    int    `json:"width"`
	Channels int    `json:"channels"`
	Layout   Layout `json:"-"`
}

// DefaultShape is used when the model does not declare usable spatial dims.
var DefaultShape = Shape{Height: 224, Width: 224, Channels: 3, Layout: LayoutNHWC}

// Dims returns the batched tensor dims for a batch of one.
func (s Shape) Dims() []int64 {
	if s.Layout == LayoutNCHW {
		return []int64{1, int64(s.Channels), int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Size is the number of float values in a batch-of-one tensor.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// Tensor is a dense float32 input batch.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Info describes the loaded model for diagnostics.
type Info struct {
	Path        string  `json:"path"`
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	Layout      string  `json:"layout"`
	NumClasses  int     `json:"num_classes"`
}

// ShapeFromDims interprets declared ONNX input dims. Dynamic or missing
// spatial dims fall back to DefaultShape.
func ShapeFromDims(dims []int64) Shape {
	if len(dims) != 4 {
		return DefaultShape
	}
	switch {
	case dims[3] == 3:
		if dims[1] <= 0 || dims[2] <= 0 {
			return DefaultShape
		}
		return Shape{Height: int(dims[1]), Width: int(dims[2]), Channels: 3, Layout: LayoutNHWC}
	case dims[1] == 3:
		if dims[2] <= 0 || dims[3] <= 0 {
			s := DefaultShape
			s.Layout = LayoutNCHW
			return s
		}
		return Shape{Height: int(dims[2]), Width: int(dims[3]), Channels: 3, Layout: LayoutNCHW}
	}
	return DefaultShape
}
