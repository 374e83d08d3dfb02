// Package boost implements a gradient-boosted decision-tree binary
// classifier with a logistic objective. Splits are scored with the
// second-order gain (regularized by lambda, alpha, and gamma), class
// imbalance is handled by a positive-class weight, and the dataset's
// missing-value sentinel is routed through a per-split default
// direction learned from the data.
package boost

// Params are the classifier hyperparameters. Zero values are not
// meaningful; start from DefaultParams.
type Params struct {
	// MaxDepth is the maximum tree depth.
	MaxDepth int `json:"max_depth"`

	// LearningRate shrinks each tree's contribution.
	LearningRate float64 `json:"learning_rate"`

	// Rounds is the number of boosting rounds (trees).
	Rounds int `json:"n_estimators"`

	// Subsample is the row fraction sampled per round.
	Subsample float64 `json:"subsample"`

	// ColsampleByTree is the feature fraction sampled per tree.
	ColsampleByTree float64 `json:"colsample_bytree"`

	// MinChildWeight is the minimum hessian sum in a child.
	MinChildWeight float64 `json:"min_child_weight"`

	// Gamma is the minimum gain required to make a split.
	Gamma float64 `json:"gamma"`

	// RegAlpha and RegLambda are the L1/L2 leaf regularizers.
	RegAlpha  float64 `json:"reg_alpha"`
	RegLambda float64 `json:"reg_lambda"`

	// ScalePosWeight multiplies the gradient weight of positive rows;
	// the training harness sets it to negatives/positives.
	ScalePosWeight float64 `json:"scale_pos_weight"`

	// Missing is the sentinel value treated as an absent input.
	Missing float64 `json:"missing"`

	// Seed drives row and column subsampling.
	Seed int64 `json:"random_state"`
}

// DefaultParams returns the production hyperparameters.
func DefaultParams() Params {
	return Params{
		MaxDepth:        5,
		LearningRate:    0.1,
		Rounds:          200,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		MinChildWeight:  3.0,
		Gamma:           0.1,
		RegAlpha:        0.01,
		RegLambda:       1.0,
		ScalePosWeight:  1.0,
		Missing:         -1.0,
		Seed:            42,
	}
}
