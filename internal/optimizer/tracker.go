package optimizer

import (
	"math"
	"sync"
)

// State is the DP provenance of the currently bound optimizer.
type State int

const (
	// NotDP: the bound optimizer has no DP gradient path.
	NotDP State = iota
	// DPConfiguredNotRun: a DP optimizer is bound but no fit has used it.
	DPConfiguredNotRun
	// DPConfirmed: a fit completed and the DP gradient path executed.
	DPConfirmed
)

func (s State) String() string {
	switch s {
	case NotDP:
		return "not_dp"
	case DPConfiguredNotRun:
		return "dp_configured_not_run"
	case DPConfirmed:
		return "dp_confirmed"
	default:
		return "unknown"
	}
}

// Tracker is the provenance state machine for one model.
//
//	Compile(non-DP)            -> NotDP
//	Compile(DP)                -> DPConfiguredNotRun
//	FitCompleted, flag set     -> DPConfirmed
//	FitCompleted, flag not set -> unchanged
//
// DPConfirmed is only reachable through FitCompleted; every Compile starts
// over from a fresh binding.
type Tracker struct {
	mu      sync.Mutex
	state   State
	binding *Binding
	fitted  bool // a fit has completed with some earlier binding
}

func NewTracker() *Tracker {
	return &Tracker{state: NotDP}
}

// Compile binds a fresh optimizer instance and resets the state.
func (t *Tracker) Compile(identity Identity) *Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.binding != nil && t.state == DPConfirmed {
		t.fitted = true
	}
	t.binding = newBinding(identity)
	if identity.IsDP() {
		t.state = DPConfiguredNotRun
	} else {
		t.state = NotDP
	}
	return t.binding
}

// FitCompleted promotes DPConfiguredNotRun to DPConfirmed when the bound
// optimizer's DP gradient flag was set during the fit.
func (t *Tracker) FitCompleted() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == DPConfiguredNotRun && t.binding.DPGradientsCalled() {
		t.state = DPConfirmed
	}
	return t.state
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Binding returns the currently bound optimizer, or nil before Compile.
func (t *Tracker) Binding() *Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.binding
}

// Identity of the bound optimizer; Unknown before Compile.
func (t *Tracker) Identity() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.binding == nil {
		return Unknown
	}
	return t.binding.identity
}

const (
	MsgNeverRun             = "DP optimizer configured but fit has never been run"
	MsgReconfiguredSinceFit = "optimizer reconfigured since training, fit has not been rerun"
)

// Confirmed reports whether the state is DPConfirmed. When it is not, the
// message distinguishes a non-DP optimizer, a DP optimizer that was never
// run, and one rebound after an earlier confirmed fit.
func (t *Tracker) Confirmed() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case DPConfirmed:
		return true, MsgDPRun
	case DPConfiguredNotRun:
		if t.fitted {
			return false, MsgReconfiguredSinceFit
		}
		return false, MsgNeverRun
	default:
		_, msg := WasDPExercised(t.binding)
		return false, msg
	}
}

// Provenance reports the live provenance of the bound optimizer, stamped with
// the epsilon the caller last computed.
func (t *Tracker) Provenance(epsilon float64) Provenance {
	t.mu.Lock()
	defer t.mu.Unlock()

	identity := Unknown
	if t.binding != nil {
		identity = t.binding.identity
	}
	invoked, rationale := WasDPExercised(t.binding)
	return Provenance{
		Identity:       identity,
		ConfiguredAsDP: identity.IsDP(),
		InvokedAsDP:    invoked,
		Rationale:      rationale,
		Epsilon:        epsilon,
	}
}

// Provenance is the record of how a model's optimizer was configured and
// used. A copy taken when a fit completes is compared with the live record
// at release time.
type Provenance struct {
	Identity       Identity `json:"identity"`
	ConfiguredAsDP bool     `json:"configured_as_dp"`
	InvokedAsDP    bool     `json:"invoked_as_dp"`
	Rationale      string   `json:"rationale"`
	Epsilon        float64  `json:"epsilon"`
}

// Equal compares every field; epsilons must be bit-identical.
func (p Provenance) Equal(o Provenance) bool {
	return p.Identity == o.Identity &&
		p.ConfiguredAsDP == o.ConfiguredAsDP &&
		p.InvokedAsDP == o.InvokedAsDP &&
		p.Rationale == o.Rationale &&
		math.Float64bits(p.Epsilon) == math.Float64bits(o.Epsilon)
}
