package snapshot

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "safemodel/pkg/domain-errors"
)

type fakeModel struct {
	configs []map[string]any
	weights [][]Tensor
}

func (m *fakeModel) LayerConfigs() []map[string]any { return m.configs }
func (m *fakeModel) Weights() [][]Tensor            { return m.weights }

func denseModel() *fakeModel {
	return &fakeModel{
		configs: []map[string]any{
			{"name": "dense", "units": 64, "activation": "relu", "use_bias": true,
				"kernel_initializer": map[string]any{"class_name": "GlorotUniform", "config": map[string]any{"seed": nil}}},
			{"name": "dense_1", "units": 2, "activation": "softmax", "use_bias": true},
		},
		weights: [][]Tensor{
			{{Shape: []int{2, 3}, Data: []float64{0.1, -0.2, 0.3, 0.4, 0.5, -0.6}}, {Shape: []int{3}, Data: []float64{0, 0, 0.01}}},
			{{Shape: []int{3, 1}, Data: []float64{1.5, -2.5, 3.25}}, {Shape: []int{1}, Data: []float64{0.125}}},
		},
	}
}

func mustCapture(t *testing.T, m Model) Snapshot {
	t.Helper()
	s, err := Capture(m, time.Now())
	require.NoError(t, err)
	return s
}

func randomSnapshot(t *testing.T, r *rand.Rand) Snapshot {
	t.Helper()
	layers := 1 + r.IntN(4)
	configs := make([]map[string]any, layers)
	weights := make([][]Tensor, layers)
	for i := range layers {
		configs[i] = map[string]any{"units": r.IntN(512), "rate": r.Float64(), "name": "layer"}
		groups := r.IntN(3)
		for range groups {
			rows, cols := 1+r.IntN(4), 1+r.IntN(4)
			data := make([]float64, rows*cols)
			for k := range data {
				data[k] = r.NormFloat64()
			}
			weights[i] = append(weights[i], Tensor{Shape: []int{rows, cols}, Data: data})
		}
	}
	s, err := New(configs, weights, time.Now())
	require.NoError(t, err)
	return s
}

func TestCapture(t *testing.T) {
	t.Run("nil model is rejected", func(t *testing.T) {
		_, err := Capture(nil, time.Now())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("mismatched config and weight counts are rejected", func(t *testing.T) {
		m := denseModel()
		m.weights = m.weights[:1]
		_, err := Capture(m, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "layer config count 2 does not match weight group count 1")
	})

	t.Run("tensor data must match its shape", func(t *testing.T) {
		m := denseModel()
		m.weights[1][0] = Tensor{Shape: []int{2, 2}, Data: []float64{1, 2, 3}}
		_, err := Capture(m, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "layer 1 weight group 0")
	})

	t.Run("snapshot is isolated from later model edits", func(t *testing.T) {
		m := denseModel()
		s := mustCapture(t, m)
		m.weights[0][0].Data[0] = 99
		m.configs[0]["units"] = 1

		assert.Equal(t, 0.1, s.Layers()[0].Weights[0].Data[0])
		same, _ := CompareConfigs(s, mustCapture(t, denseModel()))
		assert.True(t, same)
	})

	t.Run("accessors hand out copies", func(t *testing.T) {
		s := mustCapture(t, denseModel())
		layers := s.Layers()
		layers[0].Weights[0].Data[0] = 42
		layers[0].Config["units"] = "changed"

		assert.Equal(t, 0.1, s.Layers()[0].Weights[0].Data[0])
		same, _ := CompareConfigs(s, mustCapture(t, denseModel()))
		assert.True(t, same)
	})
}

func TestComparators_Reflexive(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for range 50 {
		s := randomSnapshot(t, r)

		same, msg := CompareConfigs(s, s)
		assert.True(t, same, msg)
		assert.Equal(t, MsgConfigsMatch, msg)

		same, msg = CompareWeights(s, s)
		assert.True(t, same, msg)
		assert.Equal(t, MsgWeightsMatch, msg)
	}

	t.Run("NaN weights compare equal to themselves", func(t *testing.T) {
		s, err := New([]map[string]any{{}}, [][]Tensor{{{Shape: []int{2}, Data: []float64{math.NaN(), 1}}}}, time.Now())
		require.NoError(t, err)
		same, msg := CompareWeights(s, s)
		assert.True(t, same, msg)
	})

	t.Run("empty model", func(t *testing.T) {
		s, err := New(nil, nil, time.Now())
		require.NoError(t, err)
		same, _ := CompareConfigs(s, s)
		assert.True(t, same)
		same, _ = CompareWeights(s, s)
		assert.True(t, same)
	})
}

func TestCompareConfigs(t *testing.T) {
	before := mustCapture(t, denseModel())

	t.Run("layer count mismatch fails fast with both counts", func(t *testing.T) {
		m := denseModel()
		m.configs = m.configs[:1]
		m.weights = m.weights[:1]
		same, msg := CompareConfigs(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Equal(t, "different numbers of layers: 2 before, 1 after", msg)
	})

	t.Run("changed field names layer, field, old and new values", func(t *testing.T) {
		after, err := before.WithConfigValue(1, "activation", "linear")
		require.NoError(t, err)
		same, msg := CompareConfigs(before, after)
		assert.False(t, same)
		assert.Contains(t, msg, "layer 1 configs differ in 1 places")
		assert.Contains(t, msg, "parameter activation changed from softmax to linear")
		assert.NotContains(t, msg, "layer 0")
	})

	t.Run("inserted and removed fields are reported", func(t *testing.T) {
		m := denseModel()
		delete(m.configs[0], "use_bias")
		m.configs[0]["dropout"] = 0.5
		same, msg := CompareConfigs(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Contains(t, msg, "layer 0 configs differ in 2 places")
		assert.Contains(t, msg, "parameter dropout inserted with value 0.5")
		assert.Contains(t, msg, "parameter use_bias removed (was true)")
	})

	t.Run("nested field path is reported", func(t *testing.T) {
		m := denseModel()
		m.configs[0]["kernel_initializer"] = map[string]any{"class_name": "GlorotUniform", "config": map[string]any{"seed": 3}}
		same, msg := CompareConfigs(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Contains(t, msg, "parameter kernel_initializer.config.seed changed from null to 3")
	})

	t.Run("differences across several layers are all collected", func(t *testing.T) {
		m := denseModel()
		m.configs[0]["units"] = 32
		m.configs[1]["units"] = 3
		same, msg := CompareConfigs(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Contains(t, msg, "layer 0 configs differ")
		assert.Contains(t, msg, "parameter units changed from 64 to 32")
		assert.Contains(t, msg, "layer 1 configs differ")
		assert.Contains(t, msg, "parameter units changed from 2 to 3")
	})

	t.Run("fractional change to a numeric field is detected", func(t *testing.T) {
		m := denseModel()
		m.configs[0]["units"] = 64.5
		same, _ := CompareConfigs(before, mustCapture(t, m))
		assert.False(t, same)
	})
}

func TestCompareConfigs_EveryFieldIsSensitive(t *testing.T) {
	before := mustCapture(t, denseModel())
	for li, layer := range before.Layers() {
		for key := range layer.Config {
			after, err := before.WithConfigValue(li, key, "tampered")
			require.NoError(t, err)
			same, msg := CompareConfigs(before, after)
			assert.False(t, same, "layer %d field %s", li, key)
			assert.Contains(t, msg, "parameter "+key)
		}
	}
}

func TestCompareWeights(t *testing.T) {
	before := mustCapture(t, denseModel())

	t.Run("layer count mismatch fails fast", func(t *testing.T) {
		m := denseModel()
		m.configs = append(m.configs, map[string]any{"name": "extra"})
		m.weights = append(m.weights, nil)
		same, msg := CompareWeights(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Contains(t, msg, "different numbers of layers")
	})

	t.Run("weight group count mismatch names the layer", func(t *testing.T) {
		m := denseModel()
		m.weights[1] = m.weights[1][:1]
		same, msg := CompareWeights(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Equal(t, "layer 1 not the same size: 2 weight groups before, 1 after", msg)
	})

	t.Run("shape change is reported", func(t *testing.T) {
		m := denseModel()
		m.weights[0][0].Shape = []int{3, 2}
		same, msg := CompareWeights(before, mustCapture(t, m))
		assert.False(t, same)
		assert.Contains(t, msg, "weight group 0 of layer 0 differs: shape [2 3] before, [3 2] after")
	})

	t.Run("signed zero is a difference", func(t *testing.T) {
		after := before.WithWeight(0, 1, 0, math.Copysign(0, -1))
		same, msg := CompareWeights(before, after)
		assert.False(t, same)
		assert.Equal(t, "weight group 1 of layer 0 differs at element 0", msg)
	})

	t.Run("tiny perturbation is a difference", func(t *testing.T) {
		after := before.WithWeight(1, 0, 2, math.Nextafter(3.25, 4))
		same, msg := CompareWeights(before, after)
		assert.False(t, same)
		assert.Equal(t, "weight group 0 of layer 1 differs at element 2", msg)
	})
}

func TestCompareWeights_EveryElementIsSensitive(t *testing.T) {
	before := mustCapture(t, denseModel())
	for li, layer := range before.Layers() {
		for gi, group := range layer.Weights {
			for k, v := range group.Data {
				after := before.WithWeight(li, gi, k, v+1)
				same, msg := CompareWeights(before, after)
				require.False(t, same)
				assert.Contains(t, msg, fmt.Sprintf("weight group %d of layer %d", gi, li))

				// configs are untouched by a weight edit
				same, _ = CompareConfigs(before, after)
				assert.True(t, same)
			}
		}
	}
}
