package core

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// clusterNode is a node of the single linkage dendrogram, leaves hold one asset
type clusterNode struct {
	left, right *clusterNode
	members     []int
}

func (c *clusterNode) isLeaf() bool {
	return c.left == nil && c.right == nil
}

// hierarchicalRiskParityWeights clusters assets on correlation distance and splits
// capital down the tree in inverse proportion to each branch's variance
func hierarchicalRiskParityWeights(cov *mat.SymDense) ([]float64, error) {
	n := cov.SymmetricDim()
	dist := correlationDistance(GetCorrelationMatrix(cov))
	root := singleLinkage(dist)

	weights := make([]float64, n)
	bisect(root, 1.0, cov, weights)
	return weights, nil
}

// correlationDistance is sqrt((1 - rho) / 2), 0 for identical and 1 for opposite series
func correlationDistance(corr *mat.SymDense) *mat.SymDense {
	n := corr.SymmetricDim()
	dist := mat.NewSymDense(n, nil)
	for i := range n {
		for j := range i {
			dist.SetSym(i, j, math.Sqrt(math.Max(0, (1-corr.At(i, j))/2)))
		}
	}
	return dist
}

// singleLinkage merges the closest pair of clusters until one remains.
// Ties go to the pair that comes first in cluster order so the tree is reproducible.
func singleLinkage(dist *mat.SymDense) *clusterNode {
	n := dist.SymmetricDim()
	clusters := make([]*clusterNode, n)
	for i := range n {
		clusters[i] = &clusterNode{members: []int{i}}
	}

	for len(clusters) > 1 {
		bestA, bestB, best := 0, 1, math.Inf(1)
		for a := range clusters {
			for b := a + 1; b < len(clusters); b++ {
				if d := linkDistance(dist, clusters[a], clusters[b]); d < best {
					bestA, bestB, best = a, b, d
				}
			}
		}

		members := slices.Concat(clusters[bestA].members, clusters[bestB].members)
		slices.Sort(members)
		merged := &clusterNode{left: clusters[bestA], right: clusters[bestB], members: members}

		clusters = slices.Delete(clusters, bestB, bestB+1)
		clusters[bestA] = merged
	}

	return clusters[0]
}

func linkDistance(dist *mat.SymDense, a, b *clusterNode) float64 {
	d := math.Inf(1)
	for _, i := range a.members {
		for _, j := range b.members {
			d = math.Min(d, dist.At(i, j))
		}
	}
	return d
}

// bisect hands each child a share of the parent's weight inversely proportional to its variance
func bisect(node *clusterNode, weight float64, cov *mat.SymDense, weights []float64) {
	if node.isLeaf() {
		weights[node.members[0]] = weight
		return
	}

	vl := clusterVariance(cov, node.left.members)
	vr := clusterVariance(cov, node.right.members)

	share := 0.5
	if total := vl + vr; total > 0 {
		share = 1 - vl/total
	}

	bisect(node.left, weight*share, cov, weights)
	bisect(node.right, weight*(1-share), cov, weights)
}

// clusterVariance is the variance of the inverse variance portfolio of the members
func clusterVariance(cov *mat.SymDense, members []int) float64 {
	ivp := make([]float64, len(members))
	var total float64
	for k, i := range members {
		ivp[k] = 1 / cov.At(i, i)
		total += ivp[k]
	}

	var variance float64
	for a, i := range members {
		for b, j := range members {
			variance += ivp[a] / total * ivp[b] / total * cov.At(i, j)
		}
	}
	return variance
}
