package accountant

import (
	"fmt"

	dErrors "safemodel/pkg/domain-errors"
)

// Parameters are the DP training hyper-parameters recorded for a session.
// NumMicrobatches and LearningRate travel with the optimizer binding and do
// not enter the budget computation.
type Parameters struct {
	L2NormClip      float64 `json:"l2_norm_clip" yaml:"l2_norm_clip"`
	NoiseMultiplier float64 `json:"noise_multiplier" yaml:"noise_multiplier"`
	NumMicrobatches int     `json:"num_microbatches,omitempty" yaml:"num_microbatches"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	Delta           float64 `json:"delta" yaml:"delta"`
	MinEpsilon      float64 `json:"min_epsilon" yaml:"min_epsilon"`
	NumSamples      int     `json:"num_samples" yaml:"num_samples"`
	BatchSize       int     `json:"batch_size" yaml:"batch_size"`
	Epochs          int     `json:"epochs" yaml:"epochs"`
}

// Validate rejects parameters the accountant cannot work with. A zero batch
// size passes: Check recovers from it.
func (p Parameters) Validate() error {
	var problem string
	switch {
	case p.L2NormClip <= 0:
		problem = "l2_norm_clip must be positive"
	case p.NoiseMultiplier < 0:
		problem = "noise_multiplier must be non-negative"
	case p.NumMicrobatches < 0:
		problem = "num_microbatches must be non-negative"
	case p.LearningRate <= 0:
		problem = "learning_rate must be positive"
	case !(p.Delta > 0 && p.Delta < 1):
		problem = "delta must be in (0, 1)"
	case p.MinEpsilon <= 0:
		problem = "min_epsilon must be positive"
	case p.NumSamples <= 0:
		problem = "num_samples must be positive"
	case p.BatchSize < 0:
		problem = "batch_size must be non-negative"
	case p.Epochs <= 0:
		problem = "epochs must be positive"
	}
	if problem != "" {
		return dErrors.New(dErrors.CodeInvalidInput, problem)
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("Num Samples = %d, batch_size = %d, epochs = %d", p.NumSamples, p.BatchSize, p.Epochs)
}
