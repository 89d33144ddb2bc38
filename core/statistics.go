package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	ex "quantlab/data/extensions"
)

var nan = math.NaN()

// zeroStdDev is the standard deviation below which a series is treated as constant
const zeroStdDev = 1e-12

// GetCovarianceMatrix builds the sample covariance (n-1) of the columns in data.
// Each pair only uses the periods where both series are finite.
func GetCovarianceMatrix(data [][]float64) (*mat.SymDense, error) {
	n := len(data)
	covMatrix := mat.NewSymDense(n, nil)

	for i := range n {
		for j := range i + 1 {
			x, y := pairwiseComplete(data[i], data[j])
			if len(x) < 2 {
				return nil, fmt.Errorf("%w: series %d and %d overlap on %d observations", ErrInsufficientData, i, j, len(x))
			}
			covMatrix.SetSym(i, j, stat.Covariance(x, y, nil))
		}
	}

	return covMatrix, nil
}

// GetCorrelationMatrix builds a correlation matrix from a covariance matrix so diagonal is 1.
// corr_ij = cov_ij / sqrt(cov_ii*cov_jj)
func GetCorrelationMatrix(covMatrix *mat.SymDense) *mat.SymDense {
	n := covMatrix.SymmetricDim()
	corrMatrix := mat.NewSymDense(n, nil)

	for i := range n {
		for j := range i + 1 {
			if i == j {
				corrMatrix.SetSym(i, j, 1)
				continue
			}
			corr := covMatrix.At(i, j) / math.Sqrt(covMatrix.At(i, i)*covMatrix.At(j, j))
			corrMatrix.SetSym(i, j, math.Max(-1, math.Min(1, corr)))
		}
	}

	return corrMatrix
}

func GetCholeskyDecomposition(covMatrix *mat.SymDense) (*mat.TriDense, error) {
	chol := new(mat.Cholesky)
	if ok := chol.Factorize(covMatrix); !ok {
		return nil, fmt.Errorf("covariance matrix is not positive definite")
	}

	L := new(mat.TriDense)
	chol.LTo(L)

	return L, nil
}

// RegularizeCovariance returns a copy of the matrix with ridgeFactor * trace/n added to the diagonal
func RegularizeCovariance(covMatrix *mat.SymDense, ridgeFactor float64) *mat.SymDense {
	n := covMatrix.SymmetricDim()
	res := mat.NewSymDense(n, nil)
	res.CopySym(covMatrix)

	ridge := ridgeFactor * mat.Trace(covMatrix) / float64(n)
	for i := range n {
		res.SetSym(i, i, res.At(i, i)+ridge)
	}

	return res
}

// pairwiseComplete keeps the positions where both x and y are finite
func pairwiseComplete(x, y []float64) ([]float64, []float64) {
	n := ex.Min(len(x), len(y))
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := range n {
		if ex.IsFinite(x[i]) && ex.IsFinite(y[i]) {
			xs = append(xs, x[i])
			ys = append(ys, y[i])
		}
	}
	return xs, ys
}

// PortfolioVariance is wᵀΣw
func PortfolioVariance(weights []float64, covMatrix *mat.SymDense) float64 {
	w := mat.NewVecDense(len(weights), weights)
	return mat.Inner(w, covMatrix, w)
}
