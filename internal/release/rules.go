package release

import (
	"fmt"

	"safemodel/internal/accountant"
	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
)

// The rules below are pure: no I/O, no side effects. Each returns whether the
// check passed, and on failure the reason and rationale.

// checkIntegrity compares the PRE_RELEASE capture with the POST_FIT one.
// Configs are compared first so a structural edit is reported as such.
func checkIntegrity(postFit *snapshot.Snapshot, preRelease snapshot.Snapshot) (bool, Reason, string) {
	if postFit == nil {
		return false, ReasonNoTraining, MsgNoTraining
	}
	if same, msg := snapshot.CompareConfigs(*postFit, preRelease); !same {
		return false, ReasonConfigMismatch, msg
	}
	if same, msg := snapshot.CompareWeights(*postFit, preRelease); !same {
		return false, ReasonWeightMismatch, msg
	}
	return true, "", ""
}

func checkAllowList(identity optimizer.Identity, allowList []optimizer.Identity) (bool, Reason, string) {
	allowed, msg := optimizer.IsAllowed(identity, allowList)
	if !allowed {
		return false, ReasonOptimizerNotAllowed, msg
	}
	return true, "", ""
}

func checkProvenance(confirmed bool, msg string) (bool, Reason, string) {
	if !confirmed {
		return false, ReasonDPNotConfirmed, msg
	}
	return true, "", ""
}

// checkConsistency requires the provenance recorded after fit to equal the
// live one, epsilon included.
func checkConsistency(stored *optimizer.Provenance, live optimizer.Provenance) (bool, Reason, string) {
	if stored == nil {
		return false, ReasonNoTraining, MsgNoTraining
	}
	if !stored.Equal(live) {
		return false, ReasonProvenanceChanged, MsgProvenanceChanged
	}
	return true, "", ""
}

func checkBudget(epsilon, minEpsilon float64) (bool, Reason, string) {
	if !accountant.BudgetMet(epsilon, minEpsilon) {
		return false, ReasonBudgetExceeded, fmt.Sprintf(
			"epsilon %g is not below the recommended maximum %g: discussion with a human reviewer is required before release",
			epsilon, minEpsilon)
	}
	return true, ReasonAllChecksPassed, fmt.Sprintf(
		"release allowed: epsilon %g is below the recommended maximum %g",
		epsilon, minEpsilon)
}
