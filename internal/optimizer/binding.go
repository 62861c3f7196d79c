package optimizer

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Binding is one compiled optimizer instance. DP variants carry a
// DP-gradient flag that starts false and is set by the training path when
// the DP gradient computation executes; non-DP variants have no flag.
type Binding struct {
	id       uuid.UUID
	identity Identity
	hasFlag  bool
	called   atomic.Bool
}

func newBinding(identity Identity) *Binding {
	return &Binding{id: uuid.New(), identity: identity, hasFlag: identity.IsDP()}
}

func (b *Binding) ID() uuid.UUID           { return b.id }
func (b *Binding) Identity() Identity      { return b.identity }
func (b *Binding) HasDPGradientFlag() bool { return b.hasFlag }

// MarkDPGradientsCalled records that DP gradients were computed with this
// binding. It is a no-op for bindings without the flag.
func (b *Binding) MarkDPGradientsCalled() {
	if b.hasFlag {
		b.called.Store(true)
	}
}

// DPGradientsCalled reports the flag value; false when the flag is absent.
func (b *Binding) DPGradientsCalled() bool {
	return b.hasFlag && b.called.Load()
}

const (
	MsgNoDPFlag       = "optimizer does not record DP gradient calls so is not DP"
	MsgDPNotRun       = "optimizer has been changed but fit has not been rerun"
	MsgDPRun          = "DP variant of optimizer has been run"
	MsgNoOptimizerSet = "no optimizer has been compiled"
)

// WasDPExercised inspects a binding's DP-gradient flag. The three outcomes
// (absent, present but false, true) have distinct messages.
func WasDPExercised(b *Binding) (bool, string) {
	switch {
	case b == nil:
		return false, MsgNoOptimizerSet
	case !b.hasFlag:
		return false, MsgNoDPFlag
	case !b.called.Load():
		return false, MsgDPNotRun
	default:
		return true, MsgDPRun
	}
}
