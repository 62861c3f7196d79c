// Package accountant computes the privacy budget consumed by DP-SGD training
// and decides whether it meets a policy threshold.
package accountant

import (
	"math"

	dErrors "safemodel/pkg/domain-errors"
)

// Accountant computes the epsilon spent by training with the given
// parameters. Implementations must be deterministic.
type Accountant interface {
	ComputeEpsilon(n, batchSize int, noiseMultiplier float64, epochs int, delta float64) (float64, error)
}

// BudgetMet is the release threshold: strictly below the minimum.
func BudgetMet(epsilon, minEpsilon float64) bool {
	return epsilon < minEpsilon
}

const (
	minOrder = 2
	maxOrder = 256
)

// RDP accounts for the Poisson-subsampled Gaussian mechanism with Rényi
// differential privacy over integer orders and converts the tightest order
// to (epsilon, delta)-DP.
type RDP struct {
	orders []int
}

// NewRDP returns an accountant evaluating integer orders 2..256.
func NewRDP() *RDP {
	orders := make([]int, 0, maxOrder-minOrder+1)
	for a := minOrder; a <= maxOrder; a++ {
		orders = append(orders, a)
	}
	return &RDP{orders: orders}
}

// Steps is the number of optimizer steps taken over the given epochs.
func Steps(n, batchSize, epochs int) int {
	return int(math.Ceil(float64(epochs) * float64(n) / float64(batchSize)))
}

func (r *RDP) ComputeEpsilon(n, batchSize int, noiseMultiplier float64, epochs int, delta float64) (float64, error) {
	switch {
	case n <= 0:
		return 0, dErrors.New(dErrors.CodeInvalidInput, "number of samples must be positive")
	case batchSize <= 0:
		return 0, dErrors.New(dErrors.CodeInvalidInput, "batch size must be positive")
	case epochs <= 0:
		return 0, dErrors.New(dErrors.CodeInvalidInput, "epochs must be positive")
	case noiseMultiplier < 0 || math.IsNaN(noiseMultiplier):
		return 0, dErrors.New(dErrors.CodeInvalidInput, "noise multiplier must be non-negative")
	case !(delta > 0 && delta < 1):
		return 0, dErrors.New(dErrors.CodeInvalidInput, "delta must be in (0, 1)")
	}
	if noiseMultiplier == 0 {
		return math.Inf(1), nil
	}

	q := float64(batchSize) / float64(n)
	steps := float64(Steps(n, batchSize, epochs))
	logDelta := math.Log(delta)

	best := math.Inf(1)
	for _, a := range r.orders {
		alpha := float64(a)
		rdp := steps * logMoment(q, noiseMultiplier, a) / (alpha - 1)
		if eps := rdp - logDelta/(alpha-1); eps < best {
			best = eps
		}
	}
	return best, nil
}

// logMoment is log E[(P/Q)^alpha] for the sampled Gaussian mechanism with
// sampling rate q and noise multiplier sigma at integer order alpha.
func logMoment(q, sigma float64, alpha int) float64 {
	a := float64(alpha)
	if q >= 1 {
		return a * (a - 1) / (2 * sigma * sigma)
	}
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	terms := make([]float64, alpha+1)
	for i := 0; i <= alpha; i++ {
		fi := float64(i)
		terms[i] = logBinomial(alpha, i) + fi*logQ + (a-fi)*log1mQ + (fi*fi-fi)/(2*sigma*sigma)
	}
	return logSumExp(terms)
}

func logBinomial(n, k int) float64 {
	ln, _ := math.Lgamma(float64(n + 1))
	lk, _ := math.Lgamma(float64(k + 1))
	lnk, _ := math.Lgamma(float64(n - k + 1))
	return ln - lk - lnk
}

func logSumExp(xs []float64) float64 {
	m := math.Inf(-1)
	for _, x := range xs {
		m = max(m, x)
	}
	if math.IsInf(m, -1) {
		return m
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}
