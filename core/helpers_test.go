package core

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	ex "quantlab/data/extensions"
	dm "quantlab/data/models"
	sm "quantlab/models"
)

const (
	mu_a    = 0.08
	mu_b    = 0.10
	mu_c    = 0.12
	sigma_a = 0.15
	sigma_b = 0.20
	sigma_c = 0.25
	corr_ab = 0.5
	corr_ac = 0.0
	corr_bc = 0.0
)

var testStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Helper: n days of correlated daily simple returns for three assets, seeded
func generateMockReturns(t *testing.T, n int, seed uint64) [][]float64 {
	t.Helper()

	nAssets := 3
	corrMatrix := mat.NewSymDense(nAssets, []float64{
		1.0, corr_ab, corr_ac,
		corr_ab, 1.0, corr_bc,
		corr_ac, corr_bc, 1.0,
	})
	var chol mat.Cholesky
	if ok := chol.Factorize(corrMatrix); !ok {
		t.Fatalf("correlation matrix is not positive definite")
	}
	L := new(mat.TriDense)
	chol.LTo(L)

	normalDist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, 0)}
	mus := []float64{mu_a, mu_b, mu_c}
	sigmas := []float64{sigma_a, sigma_b, sigma_c}

	res := make([][]float64, nAssets)
	for i := range res {
		res[i] = make([]float64, n)
	}

	z := make([]float64, nAssets)
	for day := range n {
		for i := range nAssets {
			z[i] = normalDist.Rand()
		}
		var correlatedZ mat.VecDense
		correlatedZ.MulVec(L, mat.NewVecDense(nAssets, z))

		for i := range nAssets {
			logReturn := (mus[i]-0.5*sigmas[i]*sigmas[i])/sm.Daily + sigmas[i]*correlatedZ.AtVec(i)/math.Sqrt(sm.Daily)
			res[i][day] = math.Exp(logReturn) - 1
		}
	}

	return res
}

// Helper: wrap raw values in a dated return series
func datedSeries(t *testing.T, values []float64) ReturnSeries {
	t.Helper()
	return ReturnSeries{Dates: ex.BusinessDays(testStart, len(values)), Values: values}
}

// Helper: price table whose closes compound the given returns from 100
func priceTableFromReturns(t *testing.T, returns map[string][]float64) *dm.PriceTable {
	t.Helper()

	rows := make(map[string][]*dm.TimeSeriesData, len(returns))
	for symbol, r := range returns {
		prices := ex.CompoundPrices(100, r)
		dates := ex.BusinessDays(testStart, len(prices))
		for i, p := range prices {
			if math.IsNaN(p) {
				continue
			}
			rows[symbol] = append(rows[symbol], &dm.TimeSeriesData{
				Timestamp: dates[i],
				TimeSeriesOHLCV: dm.TimeSeriesOHLCV{
					Open:  null.FloatFrom(p),
					High:  null.FloatFrom(p * 1.01),
					Low:   null.FloatFrom(p * 0.99),
					Close: null.FloatFrom(p),
				},
				AdjustedClose: null.FloatFrom(p),
			})
		}
	}

	table, err := dm.NewPriceTable(rows)
	if err != nil {
		t.Fatalf("error building price table: %s", err)
	}
	return table
}
