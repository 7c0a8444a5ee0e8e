package btl

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func fillRandomResiduals(ds *Dataset, rng *rand.Rand) {
	for i := range ds.Residual {
		ds.Residual[i] = rng.NormFloat64()
	}
}

//The subtract-sibling identity: parent minus left must equal a directly
//accumulated right statistic within rounding.
func TestConstantSuffStatSubtractIdentity(t *testing.T) {
	n := 64
	rng := rand.New(rand.NewSource(7))
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64()
	}
	ds := mustDataset(t, data, n, 1, nil, nil)
	fillRandomResiduals(ds, rng)

	parent := &ConstantSuffStat{}
	left := &ConstantSuffStat{}
	direct := &ConstantSuffStat{}
	for i := 0; i < n; i++ {
		parent.Increment(ds, i)
		if i < n/3 {
			left.Increment(ds, i)
		} else {
			direct.Increment(ds, i)
		}
	}
	right := &ConstantSuffStat{}
	right.SubtractSibling(parent, left)

	if right.N != direct.N {
		t.Fatalf("count mismatch: %d vs %d", right.N, direct.N)
	}
	if math.Abs(right.SumY-direct.SumY) > 1e-10 || math.Abs(right.SumYSq-direct.SumYSq) > 1e-10 {
		t.Fatalf("subtract identity violated: (%g, %g) vs (%g, %g)", right.SumY, right.SumYSq, direct.SumY, direct.SumYSq)
	}
}

func TestMultivariateSuffStatSubtractIdentity(t *testing.T) {
	n := 40
	d := 3
	rng := rand.New(rand.NewSource(11))
	data := make([]float64, n)
	basisData := make([]float64, n*d)
	for i := range data {
		data[i] = rng.Float64()
	}
	for i := range basisData {
		basisData[i] = rng.NormFloat64()
	}
	ds := mustDataset(t, data, n, 1, nil, nil)
	if err := ds.SetBasis(mat.NewDense(n, d, basisData)); err != nil {
		t.Fatalf("basis: %v", err)
	}
	fillRandomResiduals(ds, rng)

	parent := NewMultivariateSuffStat(d)
	left := NewMultivariateSuffStat(d)
	direct := NewMultivariateSuffStat(d)
	for i := 0; i < n; i++ {
		parent.Increment(ds, i)
		if i%2 == 0 {
			left.Increment(ds, i)
		} else {
			direct.Increment(ds, i)
		}
	}
	right := NewMultivariateSuffStat(d)
	right.SubtractSibling(parent, left)

	for p := 0; p < d; p++ {
		if math.Abs(right.Xty.AtVec(p)-direct.Xty.AtVec(p)) > 1e-9 {
			t.Fatalf("Xty mismatch at %d", p)
		}
		for q := p; q < d; q++ {
			if math.Abs(right.XtX.At(p, q)-direct.XtX.At(p, q)) > 1e-9 {
				t.Fatalf("XtX mismatch at (%d, %d)", p, q)
			}
		}
	}
}

//With a unit basis column, the univariate regression leaf degenerates to the
//constant-mean leaf: same marginal likelihood, same posterior.
func TestUnivariateMatchesConstantOnUnitBasis(t *testing.T) {
	n := 24
	rng := rand.New(rand.NewSource(3))
	data := make([]float64, n)
	ones := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64()
		ones[i] = 1
	}
	ds := mustDataset(t, data, n, 1, nil, nil)
	if err := ds.SetBasis(mat.NewDense(n, 1, ones)); err != nil {
		t.Fatalf("basis: %v", err)
	}
	fillRandomResiduals(ds, rng)

	constModel := &ConstantLeafModel{Tau: 0.7}
	uniModel := &UnivariateLeafModel{Tau: 0.7}
	constStat := constModel.NewSuffStat()
	uniStat := uniModel.NewSuffStat()
	for i := 0; i < n; i++ {
		constStat.Increment(ds, i)
		uniStat.Increment(ds, i)
	}

	sigmaSq := 1.3
	if diff := math.Abs(constModel.LogMarginal(constStat, sigmaSq) - uniModel.LogMarginal(uniStat, sigmaSq)); diff > 1e-9 {
		t.Fatalf("marginal likelihoods differ by %g on a unit basis", diff)
	}
}

//In one dimension the multivariate model must reproduce the univariate one.
func TestMultivariateMatchesUnivariateInOneDimension(t *testing.T) {
	n := 30
	rng := rand.New(rand.NewSource(5))
	data := make([]float64, n)
	basisData := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64()
		basisData[i] = rng.NormFloat64()
	}
	ds := mustDataset(t, data, n, 1, nil, nil)
	if err := ds.SetBasis(mat.NewDense(n, 1, basisData)); err != nil {
		t.Fatalf("basis: %v", err)
	}
	fillRandomResiduals(ds, rng)

	tau := 0.9
	uniModel := &UnivariateLeafModel{Tau: tau}
	sigma := mat.NewSymDense(1, []float64{tau})
	multiModel := NewMultivariateLeafModel(1, sigma)

	uniStat := uniModel.NewSuffStat()
	multiStat := multiModel.NewSuffStat()
	for i := 0; i < n; i++ {
		uniStat.Increment(ds, i)
		multiStat.Increment(ds, i)
	}

	sigmaSq := 0.8
	if diff := math.Abs(uniModel.LogMarginal(uniStat, sigmaSq) - multiModel.LogMarginal(multiStat, sigmaSq)); diff > 1e-8 {
		t.Fatalf("marginal likelihoods differ by %g in one dimension", diff)
	}
}
