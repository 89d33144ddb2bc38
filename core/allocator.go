package core

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	ex "quantlab/data/extensions"
	"quantlab/logger"
	sm "quantlab/models"
)

type AllocationMethod string

const (
	MinVariance AllocationMethod = "min_variance"
	RiskParity  AllocationMethod = "risk_parity"
)

// ParseAllocationMethod accepts the method names and their short forms
func ParseAllocationMethod(s string) (AllocationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "min_variance", "mv", "minimum_variance":
		return MinVariance, nil
	case "risk_parity", "hrp":
		return RiskParity, nil
	default:
		return "", fmt.Errorf("%w: unknown allocation method %q", ErrInvalidParameter, s)
	}
}

// weightTolerance is how far the weight sum may drift from one
const weightTolerance = 1e-6

type DroppedAsset struct {
	Symbol string
	Reason string
}

type AllocationResult struct {
	Method          AllocationMethod
	Weights         map[string]float64
	ExpectedReturns map[string]float64
	ExpectedReturn  float64
	Volatility      float64
	Dropped         []DroppedAsset
	Regularized     bool
}

// Allocator turns aligned return series into long only weights that sum to one
type Allocator struct {
	PeriodsPerYear int
	RidgeFactor    float64
	MaxIterations  int
	Tolerance      float64
	log            *logger.Logger
}

type AllocatorOption func(*Allocator)

func WithAllocatorPeriodsPerYear(n int) AllocatorOption {
	return func(a *Allocator) { a.PeriodsPerYear = n }
}

func WithRidgeFactor(f float64) AllocatorOption {
	return func(a *Allocator) { a.RidgeFactor = f }
}

func WithMaxIterations(n int) AllocatorOption {
	return func(a *Allocator) { a.MaxIterations = n }
}

func NewAllocator(log *logger.Logger, opts ...AllocatorOption) *Allocator {
	if log == nil {
		log = logger.Nop()
	}
	a := &Allocator{
		PeriodsPerYear: sm.Daily,
		RidgeFactor:    1e-6,
		MaxIterations:  500,
		Tolerance:      1e-10,
		log:            log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate drops assets that cannot be estimated, builds the covariance and runs the chosen method.
// It never falls back to equal weights: every failure is returned.
func (a *Allocator) Allocate(returns map[string]ReturnSeries, method AllocationMethod) (*AllocationResult, error) {
	if method != MinVariance && method != RiskParity {
		return nil, fmt.Errorf("%w: unknown allocation method %q", ErrInvalidParameter, method)
	}

	symbols := ex.SortedKeys(returns)
	if err := checkCommonIndex(symbols, returns); err != nil {
		return nil, err
	}

	res := &AllocationResult{
		Method:          method,
		Weights:         make(map[string]float64),
		ExpectedReturns: make(map[string]float64),
	}

	kept := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if reason := a.dropReason(returns[s]); reason != "" {
			a.log.WithFields(map[string]any{"symbol": s, "reason": reason}).Warn("dropping asset from allocation")
			res.Dropped = append(res.Dropped, DroppedAsset{Symbol: s, Reason: reason})
			continue
		}
		kept = append(kept, s)
	}

	if len(kept) < 2 {
		return nil, fmt.Errorf("%w: %d investable assets after filtering %d, need at least 2", ErrInsufficientAssets, len(kept), len(symbols))
	}

	data := make([][]float64, len(kept))
	mu := make([]float64, len(kept))
	for i, s := range kept {
		data[i] = returns[s].Values
		mu[i] = stat.Mean(returns[s].Valid(), nil) * float64(a.PeriodsPerYear)
		res.ExpectedReturns[s] = mu[i]
	}

	cov, err := GetCovarianceMatrix(data)
	if err != nil {
		return nil, err
	}

	cov, res.Regularized, err = a.ensurePositiveDefinite(cov)
	if err != nil {
		return nil, err
	}

	var weights []float64
	switch method {
	case MinVariance:
		weights, err = minimumVarianceWeights(cov, a.MaxIterations, a.Tolerance)
	case RiskParity:
		weights, err = hierarchicalRiskParityWeights(cov)
	}
	if err != nil {
		return nil, err
	}

	if weights, err = normalizeWeights(weights); err != nil {
		return nil, err
	}

	for i, s := range kept {
		res.Weights[s] = weights[i]
	}
	res.ExpectedReturn, _ = ex.DotProduct(weights, mu)
	res.Volatility = math.Sqrt(math.Max(0, PortfolioVariance(weights, cov)) * float64(a.PeriodsPerYear))

	return res, nil
}

func (a *Allocator) dropReason(rs ReturnSeries) string {
	valid := rs.Valid()
	if len(valid) < 2 {
		return fmt.Sprintf("%d valid observations, need at least 2", len(valid))
	}
	if stat.StdDev(valid, nil) < zeroStdDev {
		return "zero variance"
	}
	return ""
}

// ensurePositiveDefinite adds a ridge to the diagonal when the Cholesky factorization fails
func (a *Allocator) ensurePositiveDefinite(cov *mat.SymDense) (*mat.SymDense, bool, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return cov, false, nil
	}

	regularized := RegularizeCovariance(cov, a.RidgeFactor)
	if !chol.Factorize(regularized) {
		return nil, false, fmt.Errorf("%w: covariance matrix is singular even after a ridge of %g x mean variance", ErrOptimization, a.RidgeFactor)
	}

	a.log.WithField("ridgeFactor", a.RidgeFactor).Warn("covariance matrix was not positive definite, applied ridge regularization")
	return regularized, true, nil
}

func checkCommonIndex(symbols []string, returns map[string]ReturnSeries) error {
	if len(symbols) == 0 {
		return nil
	}
	first := returns[symbols[0]]
	for _, s := range symbols[1:] {
		if err := checkAligned(first, returns[s]); err != nil {
			return fmt.Errorf("%s and %s: %w", symbols[0], s, err)
		}
	}
	return nil
}

// normalizeWeights clips optimizer noise below zero and rescales, anything worse is an error
func normalizeWeights(weights []float64) ([]float64, error) {
	res := make([]float64, len(weights))
	for i, w := range weights {
		if !ex.IsFinite(w) || w < -weightTolerance {
			return nil, fmt.Errorf("%w: weight %d is %v", ErrOptimization, i, w)
		}
		res[i] = math.Max(0, w)
	}

	sum := ex.Sum(res)
	if math.Abs(sum-1) > weightTolerance*float64(len(res)) || sum <= 0 {
		return nil, fmt.Errorf("%w: weights sum to %v", ErrOptimization, sum)
	}
	for i := range res {
		res[i] /= sum
	}
	return res, nil
}

// minimumVarianceWeights solves min wᵀΣw subject to Σw = 1 and w >= 0 with a primal active set method.
// Each iteration solves the equality constrained problem on the free assets, steps toward it until
// a weight hits zero, and releases a bound asset whose multiplier is negative.
func minimumVarianceWeights(cov *mat.SymDense, maxIterations int, tolerance float64) ([]float64, error) {
	n := cov.SymmetricDim()
	w := make([]float64, n)
	free := make([]bool, n)
	for i := range n {
		w[i] = 1 / float64(n)
		free[i] = true
	}

	for range maxIterations {
		target, err := equalityConstrainedMinimum(cov, free)
		if err != nil {
			return nil, err
		}

		step, blocking := 1.0, -1
		for i := range n {
			if !free[i] || target[i] >= 0 {
				continue
			}
			current := math.Max(w[i], 0)
			if ratio := current / (current - target[i]); ratio < step {
				step, blocking = ratio, i
			}
		}

		for i := range n {
			w[i] = math.Max(0, w[i]+step*(target[i]-w[i]))
		}

		if blocking >= 0 {
			w[blocking] = 0
			free[blocking] = false
			continue
		}

		// at the minimum of the free set, every bound asset needs a non negative multiplier
		wv := mat.NewVecDense(n, w)
		var grad mat.VecDense
		grad.MulVec(cov, wv)
		lambda := mat.Inner(wv, cov, wv)

		enter, worst := -1, -tolerance*math.Max(1, math.Abs(lambda))
		for j := range n {
			if free[j] {
				continue
			}
			if m := grad.AtVec(j) - lambda; m < worst {
				enter, worst = j, m
			}
		}

		if enter < 0 {
			return w, nil
		}
		free[enter] = true
	}

	return nil, fmt.Errorf("%w: minimum variance did not converge within %d iterations", ErrOptimization, maxIterations)
}

// equalityConstrainedMinimum solves Σ_F x = 1 on the free set and scales x to sum to one
func equalityConstrainedMinimum(cov *mat.SymDense, free []bool) ([]float64, error) {
	idx := make([]int, 0, len(free))
	for i, f := range free {
		if f {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: no free assets left", ErrOptimization)
	}

	k := len(idx)
	sub := mat.NewSymDense(k, nil)
	for a := range k {
		for b := range a + 1 {
			sub.SetSym(a, b, cov.At(idx[a], idx[b]))
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(sub) {
		return nil, fmt.Errorf("%w: covariance of %d free assets is not positive definite", ErrOptimization, k)
	}

	ones := make([]float64, k)
	for i := range ones {
		ones[i] = 1
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(k, ones)); err != nil {
		// an ill conditioned system still yields a solution, checked below
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", ErrOptimization, err)
		}
	}

	sum := mat.Sum(&x)
	if sum <= 0 || !ex.IsFinite(sum) {
		return nil, fmt.Errorf("%w: degenerate equality constrained solution", ErrOptimization)
	}

	target := make([]float64, len(free))
	for a, i := range idx {
		target[i] = x.AtVec(a) / sum
	}
	return target, nil
}
