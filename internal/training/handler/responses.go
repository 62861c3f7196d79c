package handler

import (
	"math"

	"safemodel/internal/accountant"
	"safemodel/internal/optimizer"
	"safemodel/internal/training"
)

// ParametersResponse mirrors accountant.Parameters.
type ParametersResponse struct {
	L2NormClip      float64 `json:"l2_norm_clip"`
	NoiseMultiplier float64 `json:"noise_multiplier"`
	NumMicrobatches int     `json:"num_microbatches"`
	LearningRate    float64 `json:"learning_rate"`
	Delta           float64 `json:"delta"`
	MinEpsilon      float64 `json:"min_epsilon"`
	NumSamples      int     `json:"num_samples"`
	BatchSize       int     `json:"batch_size"`
	Epochs          int     `json:"epochs"`
}

func fromParameters(p accountant.Parameters) ParametersResponse {
	return ParametersResponse{
		L2NormClip:      p.L2NormClip,
		NoiseMultiplier: p.NoiseMultiplier,
		NumMicrobatches: p.NumMicrobatches,
		LearningRate:    p.LearningRate,
		Delta:           p.Delta,
		MinEpsilon:      p.MinEpsilon,
		NumSamples:      p.NumSamples,
		BatchSize:       p.BatchSize,
		Epochs:          p.Epochs,
	}
}

type SessionResponse struct {
	SessionID  string             `json:"session_id"`
	Optimizer  string             `json:"optimizer"`
	Parameters ParametersResponse `json:"parameters"`
}

type CompileResponse struct {
	Requested string `json:"requested"`
	Bound     string `json:"bound"`
	Message   string `json:"message,omitempty"`
}

// BudgetResponse reports a budget check. Epsilon is omitted when unbounded.
type BudgetResponse struct {
	Epsilon              *float64           `json:"epsilon,omitempty"`
	Unbounded            bool               `json:"unbounded,omitempty"`
	Met                  bool               `json:"met"`
	Message              string             `json:"message"`
	BatchSizeSubstituted bool               `json:"batch_size_substituted,omitempty"`
	Parameters           ParametersResponse `json:"parameters"`
}

func fromReport(r accountant.Report) BudgetResponse {
	out := BudgetResponse{
		Met:                  r.Met,
		Message:              r.Message,
		BatchSizeSubstituted: r.BatchSizeSubstituted,
		Parameters:           fromParameters(r.Parameters),
	}
	if math.IsInf(r.Epsilon, 0) {
		out.Unbounded = true
	} else {
		eps := r.Epsilon
		out.Epsilon = &eps
	}
	return out
}

type FitResponse struct {
	Trained    bool           `json:"trained"`
	Provenance string         `json:"provenance"`
	Message    string         `json:"message"`
	Budget     BudgetResponse `json:"budget"`
}

func fromFitResult(r training.FitResult) FitResponse {
	return FitResponse{
		Trained:    r.Trained,
		Provenance: r.State.String(),
		Message:    r.Message,
		Budget:     fromReport(r.Budget),
	}
}

type ProvenanceResponse struct {
	Identity       string   `json:"identity"`
	ConfiguredAsDP bool     `json:"configured_as_dp"`
	InvokedAsDP    bool     `json:"invoked_as_dp"`
	Rationale      string   `json:"rationale"`
	Epsilon        *float64 `json:"epsilon,omitempty"`
}

func fromProvenance(p optimizer.Provenance) ProvenanceResponse {
	out := ProvenanceResponse{
		Identity:       p.Identity.String(),
		ConfiguredAsDP: p.ConfiguredAsDP,
		InvokedAsDP:    p.InvokedAsDP,
		Rationale:      p.Rationale,
	}
	if !math.IsInf(p.Epsilon, 0) && !math.IsNaN(p.Epsilon) {
		eps := p.Epsilon
		out.Epsilon = &eps
	}
	return out
}
