// Package classes maps model output indices to human-readable labels.
package classes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/Brownie44l1/garbage-api/internal/apperr"
)

// FallbackSource is reported by Source when synthetic labels are in use.
const FallbackSource = "fallback"

// Mapping is an immutable, index-ordered label table.
type Mapping struct {
	labels   []string
	source   string
	fallback bool
}

// metadata is the model metadata document that carries the class list.
type metadata struct {
	Classes []string `json:"classes"`
}

// Load reads the mapping at path. A missing or malformed file falls back to
// synthetic labels for numClasses outputs; with numClasses <= 0 there is no
// fallback and apperr.ErrConfig is returned.
func Load(path string, numClasses int) (*Mapping, error) {
	labels, err := readFile(path)
	if err == nil {
		return &Mapping{labels: pad(labels, numClasses), source: path}, nil
	}

	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: class mapping %s unusable and class count unknown: %v", apperr.ErrConfig, path, err)
	}

	slog.Warn("class mapping unavailable, using synthetic labels",
		slog.String("path", path),
		slog.Int("num_classes", numClasses),
		slog.Any("error", err))
	return Synthetic(numClasses), nil
}

// Synthetic returns "Class {i}" labels for i in [0, n).
func Synthetic(n int) *Mapping {
	return &Mapping{labels: pad(nil, n), source: FallbackSource, fallback: true}
}

// New builds a mapping from an ordered label list.
func New(labels []string) *Mapping {
	return &Mapping{labels: append([]string(nil), labels...), source: "inline"}
}

func readFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse accepts an object keyed by stringified index, a plain array, or a
// metadata document with a "classes" array.
func Parse(data []byte) ([]string, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, errors.New("class mapping is empty")
		}
		return list, nil
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err == nil && len(meta.Classes) > 0 {
		return meta.Classes, nil
	}

	var byIndex map[string]string
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, fmt.Errorf("unsupported class mapping format: %w", err)
	}
	if len(byIndex) == 0 {
		return nil, errors.New("class mapping is empty")
	}

	maxIdx := -1
	indexed := make(map[int]string, len(byIndex))
	for key, label := range byIndex {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("class mapping key %q is not a non-negative integer", key)
		}
		indexed[idx] = label
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	labels := make([]string, maxIdx+1)
	for i := range labels {
		if label, ok := indexed[i]; ok {
			labels[i] = label
		} else {
			labels[i] = synthetic(i)
		}
	}
	return labels, nil
}

// pad extends labels with synthetic names up to n entries.
func pad(labels []string, n int) []string {
	out := append([]string(nil), labels...)
	for i := len(out); i < n; i++ {
		out = append(out, synthetic(i))
	}
	return out
}

func synthetic(i int) string {
	return fmt.Sprintf("Class %d", i)
}

// Lookup never fails: unknown indices get a synthetic label.
func (m *Mapping) Lookup(index int) string {
	if index >= 0 && index < len(m.labels) {
		return m.labels[index]
	}
	return synthetic(index)
}

func (m *Mapping) Len() int { return len(m.labels) }

// Labels returns a copy of the ordered label table.
func (m *Mapping) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Source is the file the labels came from, or FallbackSource.
func (m *Mapping) Source() string { return m.source }

// Fallback reports whether synthetic labels replaced the mapping file.
func (m *Mapping) Fallback() bool { return m.fallback }
