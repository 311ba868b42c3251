// Package inferencetest provides a deterministic in-memory model for tests.
package inferencetest

import (
	"errors"
	"sync/atomic"

	"github.com/Brownie44l1/garbage-api/internal/model"
)

// StubModel returns fixed scores and records how it was called.
type StubModel struct {
	Shape  model.Shape
	Scores []float32
	Err    error

	calls    atomic.Int64
	lastSize atomic.Int64
}

// NewStubModel builds a stub with a small NHWC input and the given scores.
func NewStubModel(scores ...float32) *StubModel {
	return &StubModel{
		Shape:  model.Shape{Height: 8, Width: 8, Channels: 3, Layout: model.LayoutNHWC},
		Scores: scores,
	}
}

func (m *StubModel) InputShape() model.Shape { return m.Shape }

func (m *StubModel) NumClasses() int { return len(m.Scores) }

func (m *StubModel) Predict(t *model.Tensor) ([]float32, error) {
	m.calls.Add(1)
	m.lastSize.Store(int64(len(t.Data)))
	if m.Err != nil {
		return nil, m.Err
	}
	if len(t.Data) != m.Shape.Size() {
		return nil, errors.New("tensor does not match input shape")
	}
	out := make([]float32, len(m.Scores))
	copy(out, m.Scores)
	return out, nil
}

// Calls is the number of Predict invocations.
func (m *StubModel) Calls() int { return int(m.calls.Load()) }

// LastSize is the length of the last tensor passed to Predict.
func (m *StubModel) LastSize() int { return int(m.lastSize.Load()) }
