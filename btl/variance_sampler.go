package btl

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

//drawInverseGamma samples from IG(shape, scale) by drawing from the
//corresponding gamma distribution and taking the reciprocal. The gamma Beta
//parameter is a rate, which matches the IG scale directly.
func drawInverseGamma(shape, scale float64, rng *rand.Rand) float64 {
	g := distuv.Gamma{Alpha: shape, Beta: scale, Src: rng}.Rand()
	return 1 / g
}

//GlobalVarianceSampler draws the global residual variance from its conjugate
//inverse-gamma posterior given the current residuals.
type GlobalVarianceSampler struct {
	Prior IGPrior
}

//PosteriorShape returns a/2 + N.
func (s *GlobalVarianceSampler) PosteriorShape(n int) float64 {
	return s.Prior.Shape/2 + float64(n)
}

//PosteriorScale returns a*b/2 + sum of squared residuals.
func (s *GlobalVarianceSampler) PosteriorScale(residual []float64) float64 {
	sumSq := 0.0
	for _, r := range residual {
		sumSq += r * r
	}
	return s.Prior.Shape*s.Prior.Scale/2 + sumSq
}

//Sample draws one variance value.
func (s *GlobalVarianceSampler) Sample(residual []float64, rng *rand.Rand) float64 {
	return drawInverseGamma(s.PosteriorShape(len(residual)), s.PosteriorScale(residual), rng)
}

//LeafScaleSampler draws the leaf prior scale tau from its conjugate
//inverse-gamma posterior over all leaf values of the ensemble.
type LeafScaleSampler struct {
	Prior IGPrior
}

//Sample draws one tau value given the ensemble's leaf count and the sum of
//squared leaf values.
func (s *LeafScaleSampler) Sample(numLeaves int, sumLeafSq float64, rng *rand.Rand) float64 {
	shape := s.Prior.Shape/2 + float64(numLeaves)
	scale := s.Prior.Shape*s.Prior.Scale/2 + sumLeafSq
	return drawInverseGamma(shape, scale, rng)
}
