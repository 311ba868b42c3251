// Package inference runs the decode → preprocess → predict → shape pipeline.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Brownie44l1/garbage-api/internal/apperr"
	"github.com/Brownie44l1/garbage-api/internal/classes"
	"github.com/Brownie44l1/garbage-api/internal/metrics"
	"github.com/Brownie44l1/garbage-api/internal/model"
	"github.com/Brownie44l1/garbage-api/internal/preprocess"
)

// DefaultTopK is used when the configured k is not positive.
const DefaultTopK = 3

// Model is the part of the model handle the pipeline needs.
// Implementations must be safe for concurrent Predict calls.
type Model interface {
	InputShape() model.Shape
	NumClasses() int
	Predict(t *model.Tensor) ([]float32, error)
}

type Score struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Result is the shaped output of one prediction. Confidences are decimals in
// [0,1]; Latency is in seconds.
type Result struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Latency    float64 `json:"latency"`
	TopK       []Score `json:"top_k"`

	ClassID       int       `json:"-"`
	Probabilities []float64 `json:"-"`
	Normalized    bool      `json:"-"`
}

// Info summarizes the loaded model and label table.
type Info struct {
	InputShape      model.Shape `json:"input_shape"`
	Layout          string      `json:"layout"`
	NumClasses      int         `json:"num_classes"`
	TopK            int         `json:"top_k"`
	ClassesSource   string      `json:"classes_source"`
	ClassesFallback bool        `json:"classes_fallback"`
	Classes         []string    `json:"classes"`
}

type Service struct {
	model   Model
	classes *classes.Mapping
	topK    int
	metrics *metrics.Metrics
}

// NewService wires the pipeline. m may be nil to skip metrics.
func NewService(mdl Model, mapping *classes.Mapping, topK int, m *metrics.Metrics) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{model: mdl, classes: mapping, topK: topK, metrics: m}
}

// Infer classifies one encoded image. Decode failures wrap
// apperr.ErrInvalidImage; everything after decoding wraps apperr.ErrInference.
func (s *Service) Infer(ctx context.Context, data []byte) (*Result, error) {
	res, err := s.infer(data)
	s.record(res, err)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "prediction",
		slog.String("class", res.Prediction),
		slog.Float64("confidence", res.Confidence),
		slog.Float64("latency", res.Latency),
		slog.Bool("softmax", res.Normalized))
	return res, nil
}

func (s *Service) infer(data []byte) (*Result, error) {
	img, _, err := preprocess.Decode(data)
	if err != nil {
		return nil, err
	}

	tensor, err := preprocess.Normalize(img, s.model.InputShape())
	if err != nil {
		return nil, fmt.Errorf("%w: preprocessing failed: %v", apperr.ErrInference, err)
	}

	start := time.Now()
	raw, err := s.model.Predict(tensor)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInference, err)
	}
	if s.metrics != nil {
		s.metrics.InferenceDuration.Observe(elapsed.Seconds())
	}

	probs, normalized, err := Probabilities(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInference, err)
	}

	best := Argmax(probs)
	top := TopK(probs, s.topK)
	scores := make([]Score, 0, len(top))
	for _, i := range top {
		scores = append(scores, Score{Class: s.classes.Lookup(i), Confidence: probs[i]})
	}

	return &Result{
		Prediction:    s.classes.Lookup(best),
		Confidence:    probs[best],
		Latency:       elapsed.Seconds(),
		TopK:          scores,
		ClassID:       best,
		Probabilities: probs,
		Normalized:    normalized,
	}, nil
}

func (s *Service) record(res *Result, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.Predictions.WithLabelValues(metrics.OutcomeSuccess).Inc()
		s.metrics.PredictedClass.WithLabelValues(res.Prediction).Inc()
		if res.Normalized {
			s.metrics.Softmaxed.Inc()
		}
	case apperr.IsClientError(err):
		s.metrics.Predictions.WithLabelValues(metrics.OutcomeClientError).Inc()
	default:
		s.metrics.Predictions.WithLabelValues(metrics.OutcomeError).Inc()
	}
}

// RecordRejected counts a request refused before reaching Infer.
// Validation errors count as client errors, anything else as an error.
func (s *Service) RecordRejected(err error) {
	if err == nil {
		return
	}
	s.record(nil, err)
}

func (s *Service) Info() Info {
	shape := s.model.InputShape()
	return Info{
		InputShape:      shape,
		Layout:          shape.Layout.String(),
		NumClasses:      s.model.NumClasses(),
		TopK:            s.topK,
		ClassesSource:   s.classes.Source(),
		ClassesFallback: s.classes.Fallback(),
		Classes:         s.classes.Labels(),
	}
}

// Classes exposes the label table.
func (s *Service) Classes() *classes.Mapping {
	return s.classes
}
