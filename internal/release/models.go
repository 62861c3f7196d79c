package release

import (
	"time"

	"safemodel/internal/accountant"
	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
)

// Check names one step of the release protocol, in evaluation order.
type Check string

const (
	CheckIntegrity   Check = "integrity"
	CheckAllowList   Check = "optimizer_allow_list"
	CheckProvenance  Check = "optimizer_provenance"
	CheckConsistency Check = "provenance_consistency"
	CheckBudget      Check = "privacy_budget"
)

// Checks lists every check in the order they run.
var Checks = []Check{CheckIntegrity, CheckAllowList, CheckProvenance, CheckConsistency, CheckBudget}

// Reason is the machine-readable cause of a decision.
type Reason string

const (
	ReasonNoTraining          Reason = "no_training"
	ReasonConfigMismatch      Reason = "config_mismatch"
	ReasonWeightMismatch      Reason = "weight_mismatch"
	ReasonOptimizerNotAllowed Reason = "optimizer_not_allowed"
	ReasonDPNotConfirmed      Reason = "dp_not_confirmed"
	ReasonProvenanceChanged   Reason = "provenance_changed"
	ReasonBudgetExceeded      Reason = "budget_exceeded"
	ReasonAllChecksPassed     Reason = "all_checks_passed"
)

const (
	MsgNoTraining        = "no training has occurred: no post-fit snapshot is stored"
	MsgProvenanceChanged = "optimizer configuration changed since training"
)

// Decision is the verdict of one evaluation. It is a report, never stored as
// authoritative state.
type Decision struct {
	SafeToRelease bool      `json:"safe_to_release"`
	Message       string    `json:"message"`
	Epsilon       *float64  `json:"epsilon,omitempty"`
	Check         Check     `json:"check"`
	Reason        Reason    `json:"reason"`
	EvaluatedAt   time.Time `json:"evaluated_at"`

	// Fingerprints of the compared snapshots. PostFitFingerprint is empty
	// when no fit was recorded.
	PreReleaseFingerprint string `json:"pre_release_fingerprint,omitempty"`
	PostFitFingerprint    string `json:"post_fit_fingerprint,omitempty"`
}

// Input is everything the engine needs, already captured.
type Input struct {
	// PostFit is nil when no fit has completed.
	PostFit    *snapshot.Snapshot
	PreRelease snapshot.Snapshot

	Identity  optimizer.Identity
	AllowList []optimizer.Identity

	DPConfirmed bool
	DPMessage   string

	// StoredProvenance is nil when none was recorded after fit.
	StoredProvenance *optimizer.Provenance
	LiveProvenance   optimizer.Provenance

	Parameters accountant.Parameters

	// BatchSizeSubstituted is set when Parameters.BatchSize already replaces
	// a requested zero.
	BatchSizeSubstituted bool
	Now                  time.Time
}
