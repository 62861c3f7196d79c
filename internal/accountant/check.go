package accountant

import (
	"context"
	"fmt"
	"log/slog"

	dErrors "safemodel/pkg/domain-errors"
)

// Report is the outcome of one budget check.
type Report struct {
	Epsilon              float64
	Met                  bool
	Message              string
	BatchSizeSubstituted bool
	// Parameters actually fed to the accountant, after any substitution.
	Parameters Parameters
}

// MsgBatchSizeSubstituted prefixes every rationale computed with a zero batch
// size replaced by 1.
const MsgBatchSizeSubstituted = "batch_size was 0, division by zero avoided by setting batch_size = 1."

// Checker runs the budget check against an Accountant.
type Checker struct {
	acct   Accountant
	logger *slog.Logger
}

type Option func(*Checker)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

func NewChecker(acct Accountant, opts ...Option) (*Checker, error) {
	if acct == nil {
		return nil, fmt.Errorf("accountant is required")
	}
	c := &Checker{acct: acct, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check computes epsilon for p and compares it with p.MinEpsilon.
// A zero batch size is a configuration error that is recovered from by
// substituting 1; the substitution is logged and stated in the report.
func (c *Checker) Check(ctx context.Context, p Parameters) (Report, error) {
	if err := p.Validate(); err != nil {
		return Report{}, err
	}

	substituted := false
	if p.BatchSize == 0 {
		c.logger.WarnContext(ctx, "batch size is zero, substituting 1",
			"num_samples", p.NumSamples,
			"epochs", p.Epochs,
		)
		p.BatchSize = 1
		substituted = true
	}

	eps, err := c.acct.ComputeEpsilon(p.NumSamples, p.BatchSize, p.NoiseMultiplier, p.Epochs, p.Delta)
	if err != nil {
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "compute epsilon")
	}

	met := BudgetMet(eps, p.MinEpsilon)
	report := Report{
		Epsilon:              eps,
		Met:                  met,
		BatchSizeSubstituted: substituted,
		Parameters:           p,
		Message:              feedback(met, eps, p),
	}
	if substituted {
		report.Message = MsgBatchSizeSubstituted + " " + report.Message
	}
	return report, nil
}

func feedback(met bool, eps float64, p Parameters) string {
	if met {
		return fmt.Sprintf("The requirements for DP are met, current epsilon is: %g. Calculated from the parameters: %s.", eps, p)
	}
	return fmt.Sprintf("The requirements for DP are not met, current epsilon is: %g. "+
		"To attain recommended DP the following parameters can be changed: %s.", eps, p)
}
