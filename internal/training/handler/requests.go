package handler

import (
	"fmt"
	"strings"

	"safemodel/internal/policy"
	"safemodel/internal/snapshot"
	dErrors "safemodel/pkg/domain-errors"
)

const maxLayers = 4096

// TensorPayload is one weight group on the wire.
type TensorPayload struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// LayerPayload is one layer on the wire: its config and weight groups.
type LayerPayload struct {
	Config  map[string]any  `json:"config"`
	Weights []TensorPayload `json:"weights"`
}

func validateLayers(layers []LayerPayload) error {
	if len(layers) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "layers are required")
	}
	if len(layers) > maxLayers {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("at most %d layers are accepted", maxLayers))
	}
	for i, l := range layers {
		if l.Config == nil {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("layers[%d].config is required", i))
		}
		for j, t := range l.Weights {
			if err := (snapshot.Tensor{Shape: t.Shape, Data: t.Data}).Validate(); err != nil {
				return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("layers[%d].weights[%d]: %v", i, j, err))
			}
		}
	}
	return nil
}

func splitLayers(layers []LayerPayload) ([]map[string]any, [][]snapshot.Tensor) {
	configs := make([]map[string]any, len(layers))
	weights := make([][]snapshot.Tensor, len(layers))
	for i, l := range layers {
		configs[i] = l.Config
		weights[i] = make([]snapshot.Tensor, len(l.Weights))
		for j, t := range l.Weights {
			weights[i][j] = snapshot.Tensor{Shape: t.Shape, Data: t.Data}
		}
	}
	return configs, weights
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Layers     []LayerPayload   `json:"layers"`
	Parameters policy.Overrides `json:"parameters"`
}

func (r *CreateSessionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return validateLayers(r.Layers)
}

// CompileRequest is the body of POST /sessions/{sessionID}/compile.
type CompileRequest struct {
	Optimizer string `json:"optimizer"`
}

func (r *CompileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Optimizer = strings.TrimSpace(r.Optimizer)
	if r.Optimizer == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "optimizer is required")
	}
	return nil
}

// EpsilonRequest is the body of POST /sessions/{sessionID}/epsilon.
type EpsilonRequest struct {
	NumSamples int `json:"num_samples"`
	BatchSize  int `json:"batch_size"`
	Epochs     int `json:"epochs"`
}

func (r *EpsilonRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return validateShape(r.NumSamples, r.BatchSize, r.Epochs)
}

// validateShape leaves a zero batch size to the budget check, which
// substitutes 1 and says so.
func validateShape(n, batch, epochs int) error {
	if n <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "num_samples must be positive")
	}
	if batch < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "batch_size must not be negative")
	}
	if epochs <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "epochs must be positive")
	}
	return nil
}

// FitRequest is the body of POST /sessions/{sessionID}/fit. The remote
// trainer pushes the trained layers and whether DP gradients were computed.
type FitRequest struct {
	NumSamples    int            `json:"num_samples"`
	BatchSize     int            `json:"batch_size"`
	Epochs        int            `json:"epochs"`
	RefineEpsilon bool           `json:"refine_epsilon"`
	DPGradients   bool           `json:"dp_gradients"`
	Layers        []LayerPayload `json:"layers"`
}

func (r *FitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := validateShape(r.NumSamples, r.BatchSize, r.Epochs); err != nil {
		return err
	}
	if r.RefineEpsilon {
		return nil
	}
	return validateLayers(r.Layers)
}

// ModelRequest is the body of PUT /sessions/{sessionID}/model.
type ModelRequest struct {
	Layers []LayerPayload `json:"layers"`
}

func (r *ModelRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return validateLayers(r.Layers)
}
