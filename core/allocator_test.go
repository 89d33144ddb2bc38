package core

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"quantlab/logger"
)

func mockReturnMap(t *testing.T, n int, seed uint64) map[string]ReturnSeries {
	t.Helper()
	returns := generateMockReturns(t, n, seed)
	return map[string]ReturnSeries{
		"AAA": datedSeries(t, returns[0]),
		"BBB": datedSeries(t, returns[1]),
		"CCC": datedSeries(t, returns[2]),
	}
}

func assertValidWeights(t *testing.T, res *AllocationResult) {
	t.Helper()
	var sum float64
	for symbol, w := range res.Weights {
		assert.GreaterOrEqual(t, w, 0.0, symbol)
		assert.LessOrEqual(t, w, 1.0, symbol)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestAllocate_MinVarianceMatchesClosedForm(t *testing.T) {
	returns := mockReturnMap(t, 2000, 42)
	res, err := NewAllocator(nil).Allocate(returns, MinVariance)
	require.NoError(t, err)
	assertValidWeights(t, res)
	assert.Equal(t, MinVariance, res.Method)
	assert.False(t, res.Regularized)
	assert.Empty(t, res.Dropped)

	// with no binding bound the answer is Σ⁻¹1 / 1ᵀΣ⁻¹1
	cov, err := GetCovarianceMatrix([][]float64{returns["AAA"].Values, returns["BBB"].Values, returns["CCC"].Values})
	require.NoError(t, err)
	var chol mat.Cholesky
	require.True(t, chol.Factorize(cov))
	var x mat.VecDense
	require.NoError(t, chol.SolveVecTo(&x, mat.NewVecDense(3, []float64{1, 1, 1})))
	total := mat.Sum(&x)

	for i, s := range []string{"AAA", "BBB", "CCC"} {
		assert.InDelta(t, x.AtVec(i)/total, res.Weights[s], 1e-8, s)
	}

	// the lowest volatility asset carries the most weight
	assert.Greater(t, res.Weights["AAA"], res.Weights["CCC"])
	assert.Greater(t, res.Volatility, 0.0)
}

func TestAllocate_MinVarianceLongOnlyBindsRedundantAsset(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	n := 750
	a, b, c := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range n {
		a[i] = rng.NormFloat64() * 0.01
		b[i] = 2*a[i] + rng.NormFloat64()*0.002
		c[i] = rng.NormFloat64() * 0.015
	}

	res, err := NewAllocator(nil).Allocate(map[string]ReturnSeries{
		"A": datedSeries(t, a), "B": datedSeries(t, b), "C": datedSeries(t, c),
	}, MinVariance)
	require.NoError(t, err)
	assertValidWeights(t, res)

	// unconstrained this would short B
	assert.InDelta(t, 0.0, res.Weights["B"], 1e-12)
	assert.Greater(t, res.Weights["A"], 0.5)
	assert.Greater(t, res.Weights["C"], 0.0)

	// no feasible move lowers the variance
	cov, err := GetCovarianceMatrix([][]float64{a, b, c})
	require.NoError(t, err)
	best := PortfolioVariance([]float64{res.Weights["A"], res.Weights["B"], res.Weights["C"]}, cov)
	for _, w := range [][]float64{{1, 0, 0}, {0, 0, 1}, {1. / 3, 1. / 3, 1. / 3}, {0.7, 0.05, 0.25}} {
		assert.LessOrEqual(t, best, PortfolioVariance(w, cov)+1e-15)
	}
}

func TestAllocate_AntiCorrelatedPair(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	x := make([]float64, 300)
	y := make([]float64, 300)
	for i := range x {
		x[i] = rng.NormFloat64() * 0.01
		y[i] = -x[i]
	}

	res, err := NewAllocator(nil).Allocate(map[string]ReturnSeries{
		"X": datedSeries(t, x), "Y": datedSeries(t, y),
	}, MinVariance)
	require.NoError(t, err)
	assertValidWeights(t, res)

	cov, err := GetCovarianceMatrix([][]float64{x, y})
	require.NoError(t, err)
	optimized := PortfolioVariance([]float64{res.Weights["X"], res.Weights["Y"]}, cov)
	naive := PortfolioVariance([]float64{0.5, 0.5}, cov)
	assert.LessOrEqual(t, optimized, naive+1e-12)
	assert.InDelta(t, 0.5, res.Weights["X"], 1e-3)
}

func TestAllocate_DropsUnusableAssets(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "warn")

	returns := mockReturnMap(t, 300, 8)
	constant := make([]float64, 300)
	gaps := make([]float64, 300)
	for i := range constant {
		constant[i] = 0.001
		gaps[i] = math.NaN()
	}
	gaps[10] = 0.01
	returns["FLAT"] = datedSeries(t, constant)
	returns["HOLE"] = datedSeries(t, gaps)

	res, err := NewAllocator(log).Allocate(returns, RiskParity)
	require.NoError(t, err)
	assertValidWeights(t, res)

	require.Len(t, res.Dropped, 2)
	assert.Equal(t, "FLAT", res.Dropped[0].Symbol)
	assert.Equal(t, "zero variance", res.Dropped[0].Reason)
	assert.Equal(t, "HOLE", res.Dropped[1].Symbol)
	assert.NotContains(t, res.Weights, "FLAT")
	assert.NotContains(t, res.Weights, "HOLE")
	assert.Contains(t, buf.String(), "dropping asset from allocation")
}

func TestAllocate_Errors(t *testing.T) {
	allocator := NewAllocator(nil)
	good := generateMockReturns(t, 100, 4)

	t.Run("insufficient assets after filtering", func(t *testing.T) {
		_, err := allocator.Allocate(map[string]ReturnSeries{
			"AAA":  datedSeries(t, good[0]),
			"FLAT": datedSeries(t, make([]float64, 100)),
		}, MinVariance)
		assert.ErrorIs(t, err, ErrInsufficientAssets)
	})

	t.Run("single asset", func(t *testing.T) {
		_, err := allocator.Allocate(map[string]ReturnSeries{"AAA": datedSeries(t, good[0])}, RiskParity)
		assert.ErrorIs(t, err, ErrInsufficientAssets)
	})

	t.Run("misaligned lengths", func(t *testing.T) {
		_, err := allocator.Allocate(map[string]ReturnSeries{
			"AAA": datedSeries(t, good[0]),
			"BBB": datedSeries(t, good[1][:50]),
		}, MinVariance)
		assert.ErrorIs(t, err, ErrAlignment)
	})

	t.Run("no overlapping observations", func(t *testing.T) {
		a, b := make([]float64, 100), make([]float64, 100)
		for i := range a {
			if i%2 == 0 {
				a[i], b[i] = good[0][i], math.NaN()
			} else {
				a[i], b[i] = math.NaN(), good[1][i]
			}
		}
		_, err := allocator.Allocate(map[string]ReturnSeries{
			"AAA": datedSeries(t, a), "BBB": datedSeries(t, b),
		}, MinVariance)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := allocator.Allocate(map[string]ReturnSeries{}, AllocationMethod("equal"))
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("iteration cap", func(t *testing.T) {
		capped := NewAllocator(nil, WithMaxIterations(0))
		_, err := capped.Allocate(mockReturnMap(t, 100, 4), MinVariance)
		assert.ErrorIs(t, err, ErrOptimization)
	})
}

func TestAllocate_IsDeterministic(t *testing.T) {
	for _, method := range []AllocationMethod{MinVariance, RiskParity} {
		first, err := NewAllocator(nil).Allocate(mockReturnMap(t, 500, 13), method)
		require.NoError(t, err)
		second, err := NewAllocator(nil).Allocate(mockReturnMap(t, 500, 13), method)
		require.NoError(t, err)
		assert.Equal(t, first.Weights, second.Weights, string(method))
	}
}

func TestEnsurePositiveDefinite_AppliesRidge(t *testing.T) {
	singular := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	allocator := NewAllocator(nil, WithRidgeFactor(1e-4))

	cov, regularized, err := allocator.ensurePositiveDefinite(singular)
	require.NoError(t, err)
	assert.True(t, regularized)
	assert.InDelta(t, 1+1e-4, cov.At(0, 0), 1e-15)
	assert.Equal(t, 1.0, cov.At(0, 1))
	assert.Equal(t, 1.0, singular.At(0, 0), "input matrix is left untouched")

	weights, err := minimumVarianceWeights(cov, 100, 1e-10)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, weights, 1e-9)

	negative := mat.NewSymDense(2, []float64{-1, 0, 0, -1})
	_, _, err = allocator.ensurePositiveDefinite(negative)
	assert.ErrorIs(t, err, ErrOptimization)
}

func TestParseAllocationMethod(t *testing.T) {
	tests := map[string]AllocationMethod{
		"":             MinVariance,
		"mv":           MinVariance,
		"MIN_VARIANCE": MinVariance,
		"hrp":          RiskParity,
		"risk_parity":  RiskParity,
	}
	for in, want := range tests {
		got, err := ParseAllocationMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAllocationMethod("equal_weight")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
