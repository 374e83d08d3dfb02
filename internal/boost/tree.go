package boost

import (
	"math"
	"sort"
)

// Node is one node of a regression tree, stored flat so trees
// serialize to JSON directly. Feature == -1 marks a leaf.
type Node struct {
	Feature     int     `json:"feature"`
	Threshold   float64 `json:"threshold"`
	Left        int     `json:"left"`
	Right       int     `json:"right"`
	DefaultLeft bool    `json:"default_left"`
	Value       float64 `json:"value"` // leaf weight, already shrunk by the learning rate
}

// Tree is one boosted regression tree.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict routes x through the tree. Values equal to the missing
// sentinel follow each split's learned default direction.
func (t *Tree) Predict(x []float64, missing float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		v := x[n.Feature]
		switch {
		case v == missing:
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

// treeBuilder grows one tree on the sampled rows' gradients and
// hessians. gainByFeature accumulates split gains for the ensemble's
// importance report.
type treeBuilder struct {
	x             [][]float64
	grad, hess    []float64
	params        Params
	features      []int // column subsample for this tree
	gainByFeature []float64
	nodes         []Node
}

type split struct {
	feature     int
	threshold   float64
	defaultLeft bool
	gain        float64
}

// build grows the subtree for rows and returns its node index.
func (b *treeBuilder) build(rows []int, depth int) int {
	var sumG, sumH float64
	for _, r := range rows {
		sumG += b.grad[r]
		sumH += b.hess[r]
	}

	if depth < b.params.MaxDepth && len(rows) > 1 {
		if s, ok := b.bestSplit(rows, sumG, sumH); ok {
			b.gainByFeature[s.feature] += s.gain

			left, right := b.partition(rows, s)
			idx := len(b.nodes)
			b.nodes = append(b.nodes, Node{
				Feature:     s.feature,
				Threshold:   s.threshold,
				DefaultLeft: s.defaultLeft,
			})
			b.nodes[idx].Left = b.build(left, depth+1)
			b.nodes[idx].Right = b.build(right, depth+1)
			return idx
		}
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: -1,
		Value:   b.params.LearningRate * leafWeight(sumG, sumH, b.params),
	})
	return idx
}

// leafWeight is the regularized optimal leaf value: L1 soft threshold
// on the gradient sum, L2 on the hessian sum.
func leafWeight(sumG, sumH float64, p Params) float64 {
	g := sumG
	switch {
	case g > p.RegAlpha:
		g -= p.RegAlpha
	case g < -p.RegAlpha:
		g += p.RegAlpha
	default:
		return 0
	}
	return -g / (sumH + p.RegLambda)
}

// bestSplit scans the tree's feature subset for the split with the
// highest regularized gain, trying both default directions for rows
// whose value is the missing sentinel.
func (b *treeBuilder) bestSplit(rows []int, sumG, sumH float64) (split, bool) {
	best := split{gain: 0}
	found := false
	parentScore := score(sumG, sumH, b.params.RegLambda)

	for _, f := range b.features {
		present := make([]int, 0, len(rows))
		var missG, missH float64
		for _, r := range rows {
			if b.x[r][f] == b.params.Missing {
				missG += b.grad[r]
				missH += b.hess[r]
			} else {
				present = append(present, r)
			}
		}
		if len(present) < 2 {
			continue
		}
		sort.Slice(present, func(i, j int) bool {
			return b.x[present[i]][f] < b.x[present[j]][f]
		})

		var leftG, leftH float64
		for i := 1; i < len(present); i++ {
			prev, cur := present[i-1], present[i]
			leftG += b.grad[prev]
			leftH += b.hess[prev]
			if b.x[prev][f] == b.x[cur][f] {
				continue
			}
			threshold := (b.x[prev][f] + b.x[cur][f]) / 2
			rightG := sumG - missG - leftG
			rightH := sumH - missH - leftH

			for _, defaultLeft := range [2]bool{true, false} {
				lg, lh, rg, rh := leftG, leftH, rightG, rightH
				if defaultLeft {
					lg += missG
					lh += missH
				} else {
					rg += missG
					rh += missH
				}
				if lh < b.params.MinChildWeight || rh < b.params.MinChildWeight {
					continue
				}
				gain := 0.5*(score(lg, lh, b.params.RegLambda)+
					score(rg, rh, b.params.RegLambda)-parentScore) - b.params.Gamma
				if gain > best.gain {
					best = split{feature: f, threshold: threshold, defaultLeft: defaultLeft, gain: gain}
					found = true
				}
			}
		}
	}
	return best, found
}

func score(g, h, lambda float64) float64 {
	return g * g / (h + lambda)
}

// partition splits rows per the chosen split, routing sentinel rows to
// the default side.
func (b *treeBuilder) partition(rows []int, s split) (left, right []int) {
	for _, r := range rows {
		v := b.x[r][s.feature]
		switch {
		case v == b.params.Missing:
			if s.defaultLeft {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		case v < s.threshold:
			left = append(left, r)
		default:
			right = append(right, r)
		}
	}
	return left, right
}

// sigmoid is the logistic link used by the binary objective.
func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
