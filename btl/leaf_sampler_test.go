package btl

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//With a fixed single-leaf tree the sampler's draws must match the closed-form
//conjugate posterior in mean and variance.
func TestConstantLeafPosteriorMoments(t *testing.T) {
	n := 10
	tau := 2.0
	sigmaSq := 1.5
	data := make([]float64, n)
	residuals := []float64{0.3, -1.2, 0.8, 1.4, -0.5, 0.9, -0.1, 2.0, -0.7, 0.6}
	ds := mustDataset(t, data, n, 1, nil, nil)
	copy(ds.Residual, residuals)

	model := &ConstantLeafModel{Tau: tau}
	stat_ := model.NewSuffStat()
	sumR := 0.0
	for i := 0; i < n; i++ {
		stat_.Increment(ds, i)
		sumR += residuals[i]
	}

	wantMean := tau * sumR / (sigmaSq + tau*float64(n))
	wantVar := tau * sigmaSq / (sigmaSq + tau*float64(n))

	rng := rand.New(rand.NewSource(42))
	k := 20000
	draws := make([]float64, k)
	for i := range draws {
		draws[i] = model.DrawLeaf(stat_, sigmaSq, rng)[0]
	}

	gotMean := stat.Mean(draws, nil)
	gotVar := stat.Variance(draws, nil)
	if math.Abs(gotMean-wantMean) > 0.02 {
		t.Fatalf("posterior mean %g, want %g", gotMean, wantMean)
	}
	if math.Abs(gotVar-wantVar)/wantVar > 0.05 {
		t.Fatalf("posterior variance %g, want %g", gotVar, wantVar)
	}
}

func TestUnivariateLeafPosteriorMoments(t *testing.T) {
	n := 12
	tau := 1.2
	sigmaSq := 0.8
	rng := rand.New(rand.NewSource(8))

	data := make([]float64, n)
	basisData := make([]float64, n)
	for i := range basisData {
		basisData[i] = 0.5 + rng.Float64()
	}
	ds := mustDataset(t, data, n, 1, nil, nil)
	if err := ds.SetBasis(mat.NewDense(n, 1, basisData)); err != nil {
		t.Fatalf("basis: %v", err)
	}
	fillRandomResiduals(ds, rng)

	model := &UnivariateLeafModel{Tau: tau}
	stat_ := model.NewSuffStat()
	sumBR, sumBSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		stat_.Increment(ds, i)
		sumBR += basisData[i] * ds.Residual[i]
		sumBSq += basisData[i] * basisData[i]
	}

	wantMean := tau * sumBR / (sigmaSq + tau*sumBSq)
	wantVar := tau * sigmaSq / (sigmaSq + tau*sumBSq)

	k := 20000
	draws := make([]float64, k)
	for i := range draws {
		draws[i] = model.DrawLeaf(stat_, sigmaSq, rng)[0]
	}
	gotMean := stat.Mean(draws, nil)
	gotVar := stat.Variance(draws, nil)
	if math.Abs(gotMean-wantMean) > 0.02 {
		t.Fatalf("posterior mean %g, want %g", gotMean, wantMean)
	}
	if math.Abs(gotVar-wantVar)/wantVar > 0.05 {
		t.Fatalf("posterior variance %g, want %g", gotVar, wantVar)
	}
}

//A corrupted statistic with negative sample count must be caught by the
//posterior variance guard rather than produce NaN draws.
func TestCorruptedStatisticIsFatal(t *testing.T) {
	model := &ConstantLeafModel{Tau: 1}
	stat_ := &ConstantSuffStat{N: -10, SumY: 0, SumYSq: 0}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on non-positive posterior variance")
		}
	}()
	model.DrawLeaf(stat_, 1.0, rand.New(rand.NewSource(1)))
}
