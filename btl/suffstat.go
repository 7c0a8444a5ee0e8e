package btl

import (
	"log"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

//SuffStat is the minimal per-leaf summary needed to evaluate a leaf's
//marginal likelihood and posterior. All variants support zero-initialization,
//incrementing by one observation and recovering a sibling by subtraction.
type SuffStat interface {
	Reset()
	Increment(ds *Dataset, row int)
	SubtractSibling(parent, left SuffStat)
	Count() int
}

//LeafModel bundles the sufficient-statistic algebra and the conjugate
//posterior of one leaf parameterization. The tree samplers are generic over
//this capability set.
type LeafModel interface {
	NewSuffStat() SuffStat
	LogMarginal(s SuffStat, sigmaSq float64) float64
	DrawLeaf(s SuffStat, sigmaSq float64, rng *rand.Rand) []float64
	Dim() int
	SetPriorScale(tau float64)
}

//checkPosteriorVariance guards the conjugate draws: a non-positive posterior
//variance means the sufficient statistics have been corrupted.
func checkPosteriorVariance(v float64) {
	if !(v > 0) {
		log.Panicf("non-positive posterior variance %g: corrupted sufficient statistics", v)
	}
}

//ConstantSuffStat summarizes a leaf under the constant-mean model.
type ConstantSuffStat struct {
	N      int
	SumY   float64
	SumYSq float64
}

func (s *ConstantSuffStat) Reset() { *s = ConstantSuffStat{} }

func (s *ConstantSuffStat) Increment(ds *Dataset, row int) {
	r := ds.Residual[row]
	s.N++
	s.SumY += r
	s.SumYSq += r * r
}

func (s *ConstantSuffStat) SubtractSibling(parent, left SuffStat) {
	p := parent.(*ConstantSuffStat)
	l := left.(*ConstantSuffStat)
	s.N = p.N - l.N
	s.SumY = p.SumY - l.SumY
	s.SumYSq = p.SumYSq - l.SumYSq
}

func (s *ConstantSuffStat) Count() int { return s.N }

//ConstantLeafModel is the Gaussian constant-mean leaf with prior variance tau.
type ConstantLeafModel struct {
	Tau float64
}

func (m *ConstantLeafModel) NewSuffStat() SuffStat     { return &ConstantSuffStat{} }
func (m *ConstantLeafModel) Dim() int                  { return 1 }
func (m *ConstantLeafModel) SetPriorScale(tau float64) { m.Tau = tau }

func (m *ConstantLeafModel) LogMarginal(stat SuffStat, sigmaSq float64) float64 {
	s := stat.(*ConstantSuffStat)
	n := float64(s.N)
	return -n*0.5*math.Log(2*math.Pi) - n*math.Log(math.Sqrt(sigmaSq)) +
		0.5*math.Log(sigmaSq/(sigmaSq+m.Tau*n)) - s.SumYSq/(2*sigmaSq) +
		m.Tau*s.SumY*s.SumY/(2*sigmaSq*(sigmaSq+m.Tau*n))
}

func (m *ConstantLeafModel) DrawLeaf(stat SuffStat, sigmaSq float64, rng *rand.Rand) []float64 {
	s := stat.(*ConstantSuffStat)
	n := float64(s.N)
	mean := m.Tau * s.SumY / (sigmaSq + m.Tau*n)
	variance := m.Tau * sigmaSq / (sigmaSq + m.Tau*n)
	checkPosteriorVariance(variance)
	draw := distuv.Normal{Mu: mean, Sigma: math.Sqrt(variance), Src: rng}.Rand()
	return []float64{draw}
}

//UnivariateSuffStat summarizes a leaf under the univariate regression model
//with a single basis column b.
type UnivariateSuffStat struct {
	N      int
	SumBY  float64
	SumBSq float64
	SumYSq float64
}

func (s *UnivariateSuffStat) Reset() { *s = UnivariateSuffStat{} }

func (s *UnivariateSuffStat) Increment(ds *Dataset, row int) {
	r := ds.Residual[row]
	b := ds.Basis.At(row, 0)
	s.N++
	s.SumBY += b * r
	s.SumBSq += b * b
	s.SumYSq += r * r
}

func (s *UnivariateSuffStat) SubtractSibling(parent, left SuffStat) {
	p := parent.(*UnivariateSuffStat)
	l := left.(*UnivariateSuffStat)
	s.N = p.N - l.N
	s.SumBY = p.SumBY - l.SumBY
	s.SumBSq = p.SumBSq - l.SumBSq
	s.SumYSq = p.SumYSq - l.SumYSq
}

func (s *UnivariateSuffStat) Count() int { return s.N }

//UnivariateLeafModel is the Gaussian leaf regressing the residual on one
//basis column with prior coefficient variance tau.
type UnivariateLeafModel struct {
	Tau float64
}

func (m *UnivariateLeafModel) NewSuffStat() SuffStat     { return &UnivariateSuffStat{} }
func (m *UnivariateLeafModel) Dim() int                  { return 1 }
func (m *UnivariateLeafModel) SetPriorScale(tau float64) { m.Tau = tau }

func (m *UnivariateLeafModel) LogMarginal(stat SuffStat, sigmaSq float64) float64 {
	s := stat.(*UnivariateSuffStat)
	n := float64(s.N)
	return -n*0.5*math.Log(2*math.Pi) - n*math.Log(math.Sqrt(sigmaSq)) +
		0.5*math.Log(sigmaSq/(sigmaSq+m.Tau*s.SumBSq)) - s.SumYSq/(2*sigmaSq) +
		m.Tau*s.SumBY*s.SumBY/(2*sigmaSq*(sigmaSq+m.Tau*s.SumBSq))
}

func (m *UnivariateLeafModel) DrawLeaf(stat SuffStat, sigmaSq float64, rng *rand.Rand) []float64 {
	s := stat.(*UnivariateSuffStat)
	mean := m.Tau * s.SumBY / (sigmaSq + m.Tau*s.SumBSq)
	variance := m.Tau * sigmaSq / (sigmaSq + m.Tau*s.SumBSq)
	checkPosteriorVariance(variance)
	draw := distuv.Normal{Mu: mean, Sigma: math.Sqrt(variance), Src: rng}.Rand()
	return []float64{draw}
}

//MultivariateSuffStat summarizes a leaf under the multivariate regression
//model: XtX accumulates the precomputed basis outer products, Xty the
//basis-weighted residuals.
type MultivariateSuffStat struct {
	N      int
	XtX    *mat.SymDense
	Xty    *mat.VecDense
	SumYSq float64
	dim    int
}

//NewMultivariateSuffStat allocates a zeroed statistic of basis dimension d.
func NewMultivariateSuffStat(d int) *MultivariateSuffStat {
	return &MultivariateSuffStat{
		XtX: mat.NewSymDense(d, nil),
		Xty: mat.NewVecDense(d, nil),
		dim: d,
	}
}

func (s *MultivariateSuffStat) Reset() {
	s.N = 0
	s.SumYSq = 0
	s.XtX.Zero()
	s.Xty.Zero()
}

func (s *MultivariateSuffStat) Increment(ds *Dataset, row int) {
	r := ds.Residual[row]
	s.N++
	s.SumYSq += r * r
	for p := 0; p < s.dim; p++ {
		s.Xty.SetVec(p, s.Xty.AtVec(p)+ds.Basis.At(row, p)*r)
		for q := p; q < s.dim; q++ {
			s.XtX.SetSym(p, q, s.XtX.At(p, q)+ds.BasisOuter(row, p, q))
		}
	}
}

func (s *MultivariateSuffStat) SubtractSibling(parent, left SuffStat) {
	p := parent.(*MultivariateSuffStat)
	l := left.(*MultivariateSuffStat)
	s.N = p.N - l.N
	s.SumYSq = p.SumYSq - l.SumYSq
	for i := 0; i < s.dim; i++ {
		s.Xty.SetVec(i, p.Xty.AtVec(i)-l.Xty.AtVec(i))
		for j := i; j < s.dim; j++ {
			s.XtX.SetSym(i, j, p.XtX.At(i, j)-l.XtX.At(i, j))
		}
	}
}

func (s *MultivariateSuffStat) Count() int { return s.N }

//MultivariateLeafModel is the Gaussian leaf regressing the residual on a
//basis vector with prior covariance Sigma.
type MultivariateLeafModel struct {
	Sigma *mat.SymDense

	dim         int
	priorChol   mat.Cholesky
	priorInv    *mat.SymDense
	logDetPrior float64
}

//NewMultivariateLeafModel factorizes the prior covariance once up front.
func NewMultivariateLeafModel(dim int, sigma *mat.SymDense) *MultivariateLeafModel {
	m := &MultivariateLeafModel{Sigma: sigma, dim: dim}
	if !m.priorChol.Factorize(sigma) {
		log.Panic("leaf prior covariance is not positive definite")
	}
	m.logDetPrior = m.priorChol.LogDet()
	m.priorInv = mat.NewSymDense(dim, nil)
	HandleError(m.priorChol.InverseTo(m.priorInv))
	return m
}

func (m *MultivariateLeafModel) NewSuffStat() SuffStat {
	return NewMultivariateSuffStat(m.dim)
}

func (m *MultivariateLeafModel) Dim() int { return m.dim }

//SetPriorScale is a no-op: the multivariate prior is a full covariance, not a
//single hierarchical scale.
func (m *MultivariateLeafModel) SetPriorScale(tau float64) {}

//posteriorPrecision returns Sigma^-1 + XtX/sigmaSq.
func (m *MultivariateLeafModel) posteriorPrecision(s *MultivariateSuffStat, sigmaSq float64) *mat.SymDense {
	d := m.Dim()
	precision := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			precision.SetSym(i, j, m.priorInv.At(i, j)+s.XtX.At(i, j)/sigmaSq)
		}
	}
	return precision
}

func (m *MultivariateLeafModel) LogMarginal(stat SuffStat, sigmaSq float64) float64 {
	s := stat.(*MultivariateSuffStat)
	n := float64(s.N)
	d := m.Dim()

	precision := m.posteriorPrecision(s, sigmaSq)
	var chol mat.Cholesky
	if !chol.Factorize(precision) {
		log.Panic("posterior precision is not positive definite: corrupted sufficient statistics")
	}

	// Scaled score Xty / sigmaSq and the quadratic form through the posterior
	// covariance, solved via the factorization rather than an explicit inverse.
	score := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		score.SetVec(i, s.Xty.AtVec(i)/sigmaSq)
	}
	solved := mat.NewVecDense(d, nil)
	HandleError(chol.SolveVecTo(solved, score))
	quad := 0.5 * mat.Dot(score, solved)

	logDetPosterior := -chol.LogDet()
	return -n*0.5*math.Log(2*math.Pi*sigmaSq) - 0.5*(m.logDetPrior-logDetPosterior) -
		s.SumYSq/(2*sigmaSq) + quad
}

func (m *MultivariateLeafModel) DrawLeaf(stat SuffStat, sigmaSq float64, rng *rand.Rand) []float64 {
	s := stat.(*MultivariateSuffStat)
	d := m.Dim()

	precision := m.posteriorPrecision(s, sigmaSq)
	var precChol mat.Cholesky
	if !precChol.Factorize(precision) {
		log.Panic("posterior precision is not positive definite: corrupted sufficient statistics")
	}
	posteriorVar := mat.NewSymDense(d, nil)
	HandleError(precChol.InverseTo(posteriorVar))

	score := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		score.SetVec(i, s.Xty.AtVec(i)/sigmaSq)
	}
	mean := mat.NewVecDense(d, nil)
	mean.MulVec(posteriorVar, score)

	var varChol mat.Cholesky
	if !varChol.Factorize(posteriorVar) {
		log.Panic("posterior covariance is not positive definite: corrupted sufficient statistics")
	}
	lower := mat.NewTriDense(d, mat.Lower, nil)
	varChol.LTo(lower)

	stdNormal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	z := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		z.SetVec(i, stdNormal.Rand())
	}
	shift := mat.NewVecDense(d, nil)
	shift.MulVec(lower, z)

	out := make([]float64, d)
	for i := 0; i < d; i++ {
		out[i] = mean.AtVec(i) + shift.AtVec(i)
	}
	return out
}
