// Package policy loads the release rules of a trusted research environment
// and merges them with a researcher's requested training parameters.
//
// Precedence for every training parameter is: value supplied by the caller,
// then the policy file, then the built-in default. The epsilon threshold and
// the optimizer allow-list are policy-only.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"safemodel/internal/accountant"
	"safemodel/internal/optimizer"
	dErrors "safemodel/pkg/domain-errors"
	strutil "safemodel/pkg/platform/strings"
)

// Policy is the TRE rule set.
type Policy struct {
	MinEpsilon                float64  `yaml:"min_epsilon"`
	AllowedOptimizers         []string `yaml:"allowed_optimizers"`
	SubstituteNonDPOptimizers bool     `yaml:"substitute_non_dp_optimizers"`
	Defaults                  Defaults `yaml:"defaults"`
}

// Defaults are the training parameters used when the caller does not set them.
type Defaults struct {
	Optimizer       string  `yaml:"optimizer"`
	L2NormClip      float64 `yaml:"l2_norm_clip"`
	NoiseMultiplier float64 `yaml:"noise_multiplier"`
	NumMicrobatches int     `yaml:"num_microbatches"`
	LearningRate    float64 `yaml:"learning_rate"`
	Delta           float64 `yaml:"delta"`
	NumSamples      int     `yaml:"num_samples"`
	BatchSize       int     `yaml:"batch_size"`
	Epochs          int     `yaml:"epochs"`
}

// Overrides are values the caller set explicitly. Nil fields fall through.
type Overrides struct {
	Optimizer       *string  `json:"optimizer,omitempty"`
	L2NormClip      *float64 `json:"l2_norm_clip,omitempty"`
	NoiseMultiplier *float64 `json:"noise_multiplier,omitempty"`
	NumMicrobatches *int     `json:"num_microbatches,omitempty"`
	LearningRate    *float64 `json:"learning_rate,omitempty"`
	Delta           *float64 `json:"delta,omitempty"`
	NumSamples      *int     `json:"num_samples,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	Epochs          *int     `json:"epochs,omitempty"`
}

// Default returns the built-in rules.
func Default() *Policy {
	return &Policy{
		MinEpsilon: 10,
		AllowedOptimizers: []string{
			optimizer.DPKerasSGDOptimizer.String(),
			optimizer.DPKerasAdamOptimizer.String(),
			optimizer.DPKerasAdagradOptimizer.String(),
		},
		Defaults: Defaults{
			Optimizer:       optimizer.DPKerasSGDOptimizer.String(),
			L2NormClip:      1.0,
			NoiseMultiplier: 0.5,
			LearningRate:    0.1,
			Delta:           1e-5,
			NumSamples:      250,
			BatchSize:       25,
			Epochs:          20,
		},
	}
}

// Load reads a YAML policy file. Keys absent from the file keep their
// built-in values. An empty path yields Default().
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML policy bytes over the built-in defaults. Unknown keys
// are rejected.
func Parse(b []byte) (*Policy, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode policy")
	}
	p.AllowedOptimizers = strutil.DedupeAndTrim(p.AllowedOptimizers)
	p.Defaults.Optimizer = strings.TrimSpace(p.Defaults.Optimizer)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the rules and the default parameters.
func (p *Policy) Validate() error {
	if p.MinEpsilon <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "min_epsilon must be positive")
	}
	for _, name := range p.AllowedOptimizers {
		if optimizer.Parse(name) == optimizer.Unknown {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown optimizer %q in allowed_optimizers", name))
		}
	}
	params, _ := p.Resolve(Overrides{})
	if err := params.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "policy defaults")
	}
	return nil
}

// AllowList returns the allowed optimizers as identities.
func (p *Policy) AllowList() []optimizer.Identity {
	out := make([]optimizer.Identity, 0, len(p.AllowedOptimizers))
	for _, name := range p.AllowedOptimizers {
		out = append(out, optimizer.Parse(name))
	}
	return out
}

// Resolve merges caller overrides over the policy defaults.
func (p *Policy) Resolve(o Overrides) (accountant.Parameters, optimizer.Identity) {
	d := p.Defaults
	params := accountant.Parameters{
		L2NormClip:      pick(o.L2NormClip, d.L2NormClip),
		NoiseMultiplier: pick(o.NoiseMultiplier, d.NoiseMultiplier),
		NumMicrobatches: pick(o.NumMicrobatches, d.NumMicrobatches),
		LearningRate:    pick(o.LearningRate, d.LearningRate),
		Delta:           pick(o.Delta, d.Delta),
		MinEpsilon:      p.MinEpsilon,
		NumSamples:      pick(o.NumSamples, d.NumSamples),
		BatchSize:       pick(o.BatchSize, d.BatchSize),
		Epochs:          pick(o.Epochs, d.Epochs),
	}
	return params, optimizer.Parse(pick(o.Optimizer, d.Optimizer))
}

func pick[T any](explicit *T, fallback T) T {
	if explicit != nil {
		return *explicit
	}
	return fallback
}
