package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	id "safemodel/pkg/domain"
	"safemodel/pkg/platform/sentinel"
)

// FormatVersion tags the persisted snapshot layout.
const FormatVersion = "snapshot.v1"

type wireSnapshot struct {
	Version    string      `json:"version"`
	ID         string      `json:"id"`
	CapturedAt time.Time   `json:"captured_at"`
	Layers     []wireLayer `json:"layers"`
}

type wireLayer struct {
	Config  LayerConfig  `json:"config"`
	Weights []wireTensor `json:"weights"`
}

// wireTensor stores element bits little-endian so NaN payloads and signed
// zeros survive persistence unchanged.
type wireTensor struct {
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

// Marshal encodes s into its persisted form.
func Marshal(s Snapshot) ([]byte, error) {
	w := wireSnapshot{
		Version:    FormatVersion,
		ID:         s.id.String(),
		CapturedAt: s.capturedAt,
		Layers:     wireLayers(s),
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

func wireLayers(s Snapshot) []wireLayer {
	out := make([]wireLayer, len(s.layers))
	for i, l := range s.layers {
		groups := make([]wireTensor, len(l.Weights))
		for g, t := range l.Weights {
			buf := make([]byte, 8*len(t.Data))
			for k, v := range t.Data {
				binary.LittleEndian.PutUint64(buf[8*k:], math.Float64bits(v))
			}
			groups[g] = wireTensor{Shape: t.Shape, Data: buf}
		}
		out[i] = wireLayer{Config: l.Config, Weights: groups}
	}
	return out
}

// Unmarshal decodes a persisted snapshot. Malformed input is reported as
// sentinel.ErrCorrupt.
func Unmarshal(b []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var w wireSnapshot
	if err := dec.Decode(&w); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode snapshot: %v", sentinel.ErrCorrupt, err)
	}
	if w.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported snapshot version %q", sentinel.ErrCorrupt, w.Version)
	}
	u, err := uuid.Parse(w.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot id: %v", sentinel.ErrCorrupt, err)
	}

	configs := make([]map[string]any, len(w.Layers))
	weights := make([][]Tensor, len(w.Layers))
	for i, l := range w.Layers {
		configs[i] = l.Config
		weights[i] = make([]Tensor, len(l.Weights))
		for g, wt := range l.Weights {
			if len(wt.Data)%8 != 0 {
				return Snapshot{}, fmt.Errorf("%w: layer %d weight group %d has %d data bytes",
					sentinel.ErrCorrupt, i, g, len(wt.Data))
			}
			data := make([]float64, len(wt.Data)/8)
			for k := range data {
				data[k] = math.Float64frombits(binary.LittleEndian.Uint64(wt.Data[8*k:]))
			}
			weights[i][g] = Tensor{Shape: wt.Shape, Data: data}
		}
	}
	s, err := build(id.SnapshotID(u), w.CapturedAt, configs, weights)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	return s, nil
}

// Fingerprint is the hex SHA-256 of the persisted layers, used to reference a
// snapshot in audit records without copying its weights. ID and capture time
// are left out, so two captures of an unchanged model share a fingerprint.
func Fingerprint(s Snapshot) (string, error) {
	b, err := json.Marshal(struct {
		Version string      `json:"version"`
		Layers  []wireLayer `json:"layers"`
	}{FormatVersion, wireLayers(s)})
	if err != nil {
		return "", fmt.Errorf("fingerprint snapshot: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
