package release

import (
	"fmt"

	"safemodel/internal/accountant"
	dErrors "safemodel/pkg/domain-errors"
)

// Engine runs the release protocol. Checks run in order and the first
// failure is the verdict; there is no override.
type Engine struct {
	acct accountant.Accountant
}

func NewEngine(acct accountant.Accountant) (*Engine, error) {
	if acct == nil {
		return nil, fmt.Errorf("accountant is required")
	}
	return &Engine{acct: acct}, nil
}

// Evaluate returns the decision for in. An error means the budget could not
// be computed at all; no decision is made in that case.
func (e *Engine) Evaluate(in Input) (Decision, error) {
	d := Decision{EvaluatedAt: in.Now}
	block := func(check Check, reason Reason, msg string) (Decision, error) {
		d.Check, d.Reason, d.Message = check, reason, msg
		return d, nil
	}

	if ok, reason, msg := checkIntegrity(in.PostFit, in.PreRelease); !ok {
		return block(CheckIntegrity, reason, msg)
	}
	if ok, reason, msg := checkAllowList(in.Identity, in.AllowList); !ok {
		return block(CheckAllowList, reason, msg)
	}
	if ok, reason, msg := checkProvenance(in.DPConfirmed, in.DPMessage); !ok {
		return block(CheckProvenance, reason, msg)
	}
	if ok, reason, msg := checkConsistency(in.StoredProvenance, in.LiveProvenance); !ok {
		return block(CheckConsistency, reason, msg)
	}

	p := in.Parameters
	substituted := in.BatchSizeSubstituted
	if p.BatchSize == 0 {
		p.BatchSize = 1
		substituted = true
	}
	eps, err := e.acct.ComputeEpsilon(p.NumSamples, p.BatchSize, p.NoiseMultiplier, p.Epochs, p.Delta)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "compute epsilon")
	}
	d.Epsilon = &eps

	ok, reason, msg := checkBudget(eps, p.MinEpsilon)
	if substituted {
		msg = accountant.MsgBatchSizeSubstituted + " " + msg
	}
	d.Check, d.Reason, d.Message = CheckBudget, reason, msg
	d.SafeToRelease = ok
	return d, nil
}
