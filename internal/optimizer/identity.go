// Package optimizer tracks which optimizer a model was compiled with and
// whether its differentially private gradient path actually ran.
package optimizer

import (
	"fmt"
	"slices"
	"strings"
)

// Identity names an optimizer. The set is closed: anything unrecognised
// parses to Unknown.
type Identity string

const (
	DPKerasSGDOptimizer     Identity = "DPKerasSGDOptimizer"
	DPKerasAdamOptimizer    Identity = "DPKerasAdamOptimizer"
	DPKerasAdagradOptimizer Identity = "DPKerasAdagradOptimizer"
	SGD                     Identity = "SGD"
	Adam                    Identity = "Adam"
	Adagrad                 Identity = "Adagrad"
	Unknown                 Identity = "Unknown"
)

var known = []Identity{
	DPKerasSGDOptimizer, DPKerasAdamOptimizer, DPKerasAdagradOptimizer,
	SGD, Adam, Adagrad,
}

// DefaultAllowList is the set of optimizers permitted for release.
func DefaultAllowList() []Identity {
	return []Identity{DPKerasSGDOptimizer, DPKerasAdamOptimizer, DPKerasAdagradOptimizer}
}

// Parse maps a name to an Identity. Package-qualified names such as
// "tensorflow_privacy.DPKerasSGDOptimizer" are accepted.
func Parse(name string) Identity {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	for _, k := range known {
		if strings.EqualFold(name, string(k)) {
			return k
		}
	}
	return Unknown
}

// IsDP reports whether the identity is one of the DP optimizer variants.
func (i Identity) IsDP() bool {
	switch i {
	case DPKerasSGDOptimizer, DPKerasAdamOptimizer, DPKerasAdagradOptimizer:
		return true
	default:
		return false
	}
}

func (i Identity) String() string { return string(i) }

// IsAllowed checks identity against the allow-list.
func IsAllowed(identity Identity, allowList []Identity) (bool, string) {
	if identity != Unknown && slices.Contains(allowList, identity) {
		return true, fmt.Sprintf("optimizer %s allowed", identity)
	}
	return false, fmt.Sprintf("optimizer %s is not allowed", identity)
}

const (
	DisclosureRiskWarning = "WARNING: model parameters may present a disclosure risk"
	changedFormat         = "Changed parameter optimizer = '%s'"
)

// Resolve returns the DP optimizer to compile with in place of identity and a
// message describing any substitution. DP identities resolve to themselves
// with an empty message. Non-DP variants resolve to their DP counterpart with
// a disclosure warning; Unknown falls back to DP-SGD.
func Resolve(identity Identity) (Identity, string) {
	var dp Identity
	switch identity {
	case DPKerasSGDOptimizer, DPKerasAdamOptimizer, DPKerasAdagradOptimizer:
		return identity, ""
	case SGD:
		dp = DPKerasSGDOptimizer
	case Adam:
		dp = DPKerasAdamOptimizer
	case Adagrad:
		dp = DPKerasAdagradOptimizer
	default:
		return DPKerasSGDOptimizer, fmt.Sprintf(changedFormat, DPKerasSGDOptimizer)
	}
	return dp, DisclosureRiskWarning + ". " + fmt.Sprintf(changedFormat, dp)
}
