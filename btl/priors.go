package btl

import "math"

//TreePrior controls the depth-penalized split probability
//P(split at depth d) = Alpha * (1+d)^(-Beta).
type TreePrior struct {
	Alpha          float64
	Beta           float64
	MinSamplesLeaf int
}

//SplitProb evaluates the prior split probability at a given depth.
func (tp *TreePrior) SplitProb(depth int) float64 {
	return tp.Alpha * math.Pow(1+float64(depth), -tp.Beta)
}

//IGPrior is an inverse-gamma prior with shape a and scale b.
type IGPrior struct {
	Shape float64
	Scale float64
}
