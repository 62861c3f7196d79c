// Package snapshot captures a model's architecture and weights at one point in
// time and compares two captures for tampering.
//
// A Snapshot is immutable: it is built once by Capture or New and every
// accessor hands out deep copies. Layer order is significant because it
// encodes the architecture.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
)

// LayerConfig is an opaque key/value mapping of one layer's hyper-parameters.
// After capture, numbers are json.Number, nested objects map[string]any and
// arrays []any, so in-memory and persisted snapshots compare identically.
type LayerConfig map[string]any

// Tensor is a dense multi-dimensional float64 array stored row-major.
// An empty Shape denotes a scalar holding exactly one element.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Layer pairs a layer's configuration with its weight groups.
type Layer struct {
	Config  LayerConfig
	Weights []Tensor
}

// Model is the collaborator a snapshot is captured from. Implementations
// return one config and one weight-group list per layer, in layer order.
type Model interface {
	LayerConfigs() []map[string]any
	Weights() [][]Tensor
}

// Snapshot is an immutable capture of a model's layer configs and weights.
type Snapshot struct {
	id         id.SnapshotID
	capturedAt time.Time
	layers     []Layer
}

// Capture snapshots the model's current layer configs and weights.
func Capture(m Model, now time.Time) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, dErrors.New(dErrors.CodeInvalidInput, "model is required")
	}
	return New(m.LayerConfigs(), m.Weights(), now)
}

// New builds a snapshot from raw layer configs and weight groups.
//
// Errors: CodeInvalidInput when the two sequences differ in length, a tensor's
// data does not match its shape, or a config cannot be canonicalised.
func New(configs []map[string]any, weights [][]Tensor, now time.Time) (Snapshot, error) {
	return build(id.NewSnapshotID(), now, configs, weights)
}

func build(sid id.SnapshotID, capturedAt time.Time, configs []map[string]any, weights [][]Tensor) (Snapshot, error) {
	if len(configs) != len(weights) {
		return Snapshot{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("layer config count %d does not match weight group count %d", len(configs), len(weights)))
	}
	layers := make([]Layer, len(configs))
	for i := range configs {
		cfg, err := canonicalConfig(configs[i])
		if err != nil {
			return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("layer %d config", i))
		}
		groups := make([]Tensor, len(weights[i]))
		for g, t := range weights[i] {
			if err := t.Validate(); err != nil {
				return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("layer %d weight group %d", i, g))
			}
			groups[g] = t.Clone()
		}
		layers[i] = Layer{Config: cfg, Weights: groups}
	}
	return Snapshot{id: sid, capturedAt: capturedAt.UTC(), layers: layers}, nil
}

func (s Snapshot) ID() id.SnapshotID     { return s.id }
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }
func (s Snapshot) NumLayers() int        { return len(s.layers) }

// IsZero reports whether s was never captured.
func (s Snapshot) IsZero() bool { return s.id.IsNil() && s.layers == nil }

// Layers returns a deep copy of the captured layers.
func (s Snapshot) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.clone()
	}
	return out
}

func (l Layer) clone() Layer {
	groups := make([]Tensor, len(l.Weights))
	for i, t := range l.Weights {
		groups[i] = t.Clone()
	}
	return Layer{Config: cloneConfig(l.Config), Weights: groups}
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Len is the number of elements implied by the shape.
func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Equal is exact: shapes must match and every element must be bit-identical,
// so NaN equals an identical NaN and -0 differs from +0.
func (t Tensor) Equal(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && t.firstDifference(o) == -1
}

// firstDifference returns the first element index whose bits differ, or -1.
func (t Tensor) firstDifference(o Tensor) int {
	n := min(len(t.Data), len(o.Data))
	for i := range n {
		if math.Float64bits(t.Data[i]) != math.Float64bits(o.Data[i]) {
			return i
		}
	}
	if len(t.Data) != len(o.Data) {
		return n
	}
	return -1
}

// Validate reports a shape with a negative dimension or data whose length
// disagrees with the shape.
func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
	}
	if t.Len() != len(t.Data) {
		return fmt.Errorf("shape %v implies %d elements, got %d", t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

// canonicalConfig round-trips a config through JSON so every snapshot holds
// the same dynamic types regardless of where it came from.
func canonicalConfig(raw map[string]any) (LayerConfig, error) {
	if raw == nil {
		return LayerConfig{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return decodeConfig(b)
}

func decodeConfig(b []byte) (LayerConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	cfg := LayerConfig{}
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func cloneConfig(c LayerConfig) LayerConfig {
	out := make(LayerConfig, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, e := range tv {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(tv))
		for i, e := range tv {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
