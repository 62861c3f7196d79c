// Package snapshottest builds edited copies of snapshots for tests that
// simulate post-fit tampering.
package snapshottest

import (
	"testing"

	"safemodel/internal/snapshot"
)

func raw(s snapshot.Snapshot) ([]map[string]any, [][]snapshot.Tensor) {
	layers := s.Layers()
	configs := make([]map[string]any, len(layers))
	weights := make([][]snapshot.Tensor, len(layers))
	for i, l := range layers {
		configs[i] = map[string]any(l.Config)
		weights[i] = l.Weights
	}
	return configs, weights
}

func rebuild(t testing.TB, s snapshot.Snapshot, configs []map[string]any, weights [][]snapshot.Tensor) snapshot.Snapshot {
	t.Helper()
	out, err := snapshot.New(configs, weights, s.CapturedAt())
	if err != nil {
		t.Fatalf("rebuild snapshot: %v", err)
	}
	return out
}

// EditWeight returns a copy of s with one weight element set to v.
func EditWeight(t testing.TB, s snapshot.Snapshot, layer, group, index int, v float64) snapshot.Snapshot {
	t.Helper()
	configs, weights := raw(s)
	if layer >= len(weights) || group >= len(weights[layer]) || index >= len(weights[layer][group].Data) {
		t.Fatalf("no weight at layer %d group %d index %d", layer, group, index)
	}
	weights[layer][group].Data[index] = v
	return rebuild(t, s, configs, weights)
}

// EditConfig returns a copy of s with one top-level config field of a layer
// set to v.
func EditConfig(t testing.TB, s snapshot.Snapshot, layer int, key string, v any) snapshot.Snapshot {
	t.Helper()
	configs, weights := raw(s)
	if layer >= len(configs) {
		t.Fatalf("no layer %d", layer)
	}
	if configs[layer] == nil {
		configs[layer] = map[string]any{}
	}
	configs[layer][key] = v
	return rebuild(t, s, configs, weights)
}
