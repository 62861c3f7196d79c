package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
)

// MemoryModel is a model whose layers are pushed by a remote training
// process. It stands in for the in-process model the gate wraps.
type MemoryModel struct {
	mu      sync.RWMutex
	configs []map[string]any
	weights [][]snapshot.Tensor
}

func NewMemoryModel(configs []map[string]any, weights [][]snapshot.Tensor) (*MemoryModel, error) {
	m := &MemoryModel{}
	if err := m.Replace(configs, weights); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace swaps in new layer configs and weights. It is how a post-fit edit
// (or tampering) reaches the gate. Layers that could not be captured as a
// snapshot are rejected with CodeInvalidInput and the model is left as it was.
func (m *MemoryModel) Replace(configs []map[string]any, weights [][]snapshot.Tensor) error {
	if _, err := snapshot.New(configs, weights, time.Time{}); err != nil {
		return err
	}
	w := make([][]snapshot.Tensor, len(weights))
	for i, groups := range weights {
		w[i] = make([]snapshot.Tensor, len(groups))
		for j, t := range groups {
			w[i][j] = t.Clone()
		}
	}
	c := make([]map[string]any, len(configs))
	copy(c, configs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs, m.weights = c, w
	return nil
}

func (m *MemoryModel) LayerConfigs() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, len(m.configs))
	copy(out, m.configs)
	return out
}

func (m *MemoryModel) Weights() [][]snapshot.Tensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]snapshot.Tensor, len(m.weights))
	for i, groups := range m.weights {
		out[i] = make([]snapshot.Tensor, len(groups))
		for j, t := range groups {
			out[i][j] = t.Clone()
		}
	}
	return out
}

// PushedFit is a Trainer for fits run by a remote process: the trained layers
// arrive with the request together with whether DP gradients were computed.
type PushedFit struct {
	Model       *MemoryModel
	Configs     []map[string]any
	Weights     [][]snapshot.Tensor
	DPGradients bool
}

func (p PushedFit) Fit(_ context.Context, _ FitRequest, b *optimizer.Binding) error {
	if p.Model == nil {
		return fmt.Errorf("model is required")
	}
	if err := p.Model.Replace(p.Configs, p.Weights); err != nil {
		return err
	}
	if p.DPGradients {
		b.MarkDPGradientsCalled()
	}
	return nil
}
