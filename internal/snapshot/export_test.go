package snapshot

// WithWeight returns a copy of s with one weight element replaced. The copy
// keeps the original ID so it models an in-place post-hoc edit.
func (s Snapshot) WithWeight(layer, group, index int, v float64) Snapshot {
	out := Snapshot{id: s.id, capturedAt: s.capturedAt, layers: s.Layers()}
	out.layers[layer].Weights[group].Data[index] = v
	return out
}

// WithConfigValue returns a copy of s with one top-level config field set.
// The value is canonicalised the same way Capture does.
func (s Snapshot) WithConfigValue(layer int, key string, v any) (Snapshot, error) {
	out := Snapshot{id: s.id, capturedAt: s.capturedAt, layers: s.Layers()}
	raw := map[string]any(out.layers[layer].Config)
	raw[key] = v
	cfg, err := canonicalConfig(raw)
	if err != nil {
		return Snapshot{}, err
	}
	out.layers[layer].Config = cfg
	return out, nil
}
