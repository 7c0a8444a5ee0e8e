package btl

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func baseConfig(method string) Config {
	return Config{
		NumTrees:         1,
		NumSamples:       50,
		NumBurnin:        20,
		Method:           method,
		Alpha:            0.95,
		Beta:             2,
		MinSamplesLeaf:   1,
		CutpointGridSize: 4,
		SigmaPriorShape:  1,
		SigmaPriorScale:  0.1,
		LeafScale:        1,
		Seed:             4,
	}
}

func runAndPredict(t *testing.T, config Config, x *mat.Dense, y []float64, kinds []FeatureKind) (*Runner, []float64) {
	t.Helper()
	runner, err := NewRunner(config)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := runner.LoadTrain(x, y, kinds); err != nil {
		t.Fatalf("load train: %v", err)
	}
	if err := runner.LoadPredict(x); err != nil {
		t.Fatalf("load predict: %v", err)
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	prediction, err := runner.Predict()
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	return runner, prediction
}

//posteriorMeanByRow averages the column-major prediction vector per row.
func posteriorMeanByRow(prediction []float64, rows int) []float64 {
	samples := len(prediction) / rows
	means := make([]float64, rows)
	for s := 0; s < samples; s++ {
		for r := 0; r < rows; r++ {
			means[r] += prediction[s*rows+r]
		}
	}
	for r := range means {
		means[r] /= float64(samples)
	}
	return means
}

func TestConfigValidation(t *testing.T) {
	config := baseConfig(MethodBART)
	config.NumTrees = 0
	if _, err := NewRunner(config); err == nil {
		t.Fatalf("expected an error for zero trees")
	}

	config = baseConfig("gibbs")
	if _, err := NewRunner(config); err == nil {
		t.Fatalf("expected an error for an unknown method")
	}

	config = baseConfig(MethodBART)
	config.Alpha = 1.5
	if _, err := NewRunner(config); err == nil {
		t.Fatalf("expected an error for alpha outside (0, 1)")
	}

	config = baseConfig(MethodXBART)
	config.CutpointGridSize = 1
	if _, err := NewRunner(config); err == nil {
		t.Fatalf("expected an error for a degenerate cutpoint grid")
	}
}

func TestLoadRejectsBadData(t *testing.T) {
	runner, err := NewRunner(baseConfig(MethodBART))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	x := mat.NewDense(2, 1, []float64{0, math.NaN()})
	if err := runner.LoadTrain(x, []float64{0, 1}, []FeatureKind{FeatureNumeric}); err == nil {
		t.Fatalf("expected an error for non-finite covariates")
	}
	x = mat.NewDense(2, 1, []float64{0, 1})
	if err := runner.LoadTrain(x, []float64{0, 1, 2}, []FeatureKind{FeatureNumeric}); err == nil {
		t.Fatalf("expected an error for a mismatched outcome length")
	}
	if err := runner.LoadTrain(x, []float64{0, 1}, []FeatureKind{FeatureKind(9)}); err == nil {
		t.Fatalf("expected an error for an unknown feature kind")
	}
}

//Root-only data: with a constant zero outcome, the posterior mean prediction
//must stay near zero and the residual variance must concentrate near zero.
func TestRootOnlyOutcome(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []float64{0, 0, 0, 0}
	kinds := []FeatureKind{FeatureNumeric}

	for _, method := range []string{MethodBART, MethodXBART} {
		config := baseConfig(method)
		config.NumSamples = 200
		config.NumBurnin = 200
		runner, prediction := runAndPredict(t, config, x, y, kinds)

		means := posteriorMeanByRow(prediction, 4)
		for r, m := range means {
			if math.Abs(m) > 0.05 {
				t.Fatalf("%s: posterior mean prediction at row %d is %g, want |.| <= 0.05", method, r, m)
			}
		}

		sigmaSum := 0.0
		for i := 0; i < runner.NumRetainedDraws(); i++ {
			sigmaSum += runner.Draw(i).SigmaSq
		}
		if avg := sigmaSum / float64(runner.NumRetainedDraws()); avg > 0.5 {
			t.Fatalf("%s: sigma^2 did not concentrate near zero, average %g", method, avg)
		}
	}
}

//Perfect split: the grow-from-root sampler must find the boundary between
//the two outcome groups.
func TestPerfectSplitXBART(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []float64{-1, -1, 1, 1}
	kinds := []FeatureKind{FeatureNumeric}

	config := baseConfig(MethodXBART)
	runner, prediction := runAndPredict(t, config, x, y, kinds)

	means := posteriorMeanByRow(prediction, 4)
	for _, r := range []int{0, 1} {
		if math.Abs(means[r]-(-1)) > 0.2 {
			t.Fatalf("row %d predicts %g, want within 0.2 of -1", r, means[r])
		}
	}
	for _, r := range []int{2, 3} {
		if math.Abs(means[r]-1) > 0.2 {
			t.Fatalf("row %d predicts %g, want within 0.2 of 1", r, means[r])
		}
	}

	lastTree := runner.Draw(runner.NumRetainedDraws() - 1).Trees[0]
	if lastTree.IsLeaf(RootNode) {
		t.Fatalf("expected the final tree to split at the root")
	}
	if lastTree.SplitFeature(RootNode) != 0 {
		t.Fatalf("expected a split on feature 0")
	}
	threshold := lastTree.Threshold(RootNode)
	if !(threshold > 1 && threshold <= 2) {
		t.Fatalf("expected a threshold between 1 and 2, got %g", threshold)
	}
}

//Unordered categorical: the selected subset must partition category 1
//against categories 0 and 2.
func TestCategoricalSubsetSelection(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{0, 0, 1, 1, 2, 2})
	y := []float64{1, 1, -1, -1, 1, 1}
	kinds := []FeatureKind{FeatureUnorderedCategorical}

	config := baseConfig(MethodXBART)
	runner, prediction := runAndPredict(t, config, x, y, kinds)

	means := posteriorMeanByRow(prediction, 6)
	for _, r := range []int{2, 3} {
		if means[r] >= 0 {
			t.Fatalf("row %d (category 1) predicts %g, want negative", r, means[r])
		}
	}
	for _, r := range []int{0, 1, 4, 5} {
		if means[r] <= 0 {
			t.Fatalf("row %d predicts %g, want positive", r, means[r])
		}
	}

	lastTree := runner.Draw(runner.NumRetainedDraws() - 1).Trees[0]
	if lastTree.IsLeaf(RootNode) || lastTree.RuleKind(RootNode) != SplitCategoricalRule {
		t.Fatalf("expected a categorical split at the root")
	}
	cats := lastTree.SplitCategories(RootNode)
	if len(cats) != 1 || cats[0] != 1 {
		t.Fatalf("expected the root split to isolate category 1, got %v", cats)
	}
}

//Two runs with identical seeds must produce bit-identical draws.
func TestReproducibility(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	n := 40
	xData := make([]float64, n*2)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		xData[2*i] = rng.Float64()
		xData[2*i+1] = rng.Float64()
		y[i] = math.Sin(5*xData[2*i]) + 0.1*rng.NormFloat64()
	}
	kinds := []FeatureKind{FeatureNumeric, FeatureNumeric}

	for _, method := range []string{MethodBART, MethodXBART} {
		config := baseConfig(method)
		config.NumTrees = 5
		config.Seed = 99

		x1 := mat.NewDense(n, 2, append([]float64(nil), xData...))
		x2 := mat.NewDense(n, 2, append([]float64(nil), xData...))
		runner1, prediction1 := runAndPredict(t, config, x1, append([]float64(nil), y...), kinds)
		runner2, prediction2 := runAndPredict(t, config, x2, append([]float64(nil), y...), kinds)

		for i := 0; i < runner1.NumRetainedDraws(); i++ {
			if runner1.Draw(i).SigmaSq != runner2.Draw(i).SigmaSq {
				t.Fatalf("%s: sigma^2 differs at draw %d", method, i)
			}
		}
		for i := range prediction1 {
			if prediction1[i] != prediction2[i] {
				t.Fatalf("%s: predictions differ at index %d", method, i)
			}
		}
	}
}

//Both samplers fit the same smooth signal to a comparable in-sample error.
func TestSamplerAgreementOnSmoothSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	n := 200
	p := 5
	xData := make([]float64, n*p)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xData[i*p+j] = 2 * math.Pi * rng.Float64()
		}
		y[i] = math.Sin(xData[i*p]) + 0.1*rng.NormFloat64()
	}
	kinds := make([]FeatureKind, p)

	rmse := map[string]float64{}
	for _, method := range []string{MethodBART, MethodXBART} {
		config := baseConfig(method)
		config.NumTrees = 20
		config.NumBurnin = 100
		config.NumSamples = 200
		config.CutpointGridSize = 20
		config.LeafScale = 0.05
		config.Seed = 7

		x := mat.NewDense(n, p, append([]float64(nil), xData...))
		_, prediction := runAndPredict(t, config, x, append([]float64(nil), y...), kinds)
		rmse[method] = Rmse(y, posteriorMeanByRow(prediction, n))
	}

	for method, v := range rmse {
		if v > 0.5 {
			t.Fatalf("%s: in-sample RMSE %g is too large", method, v)
		}
	}
	ratio := rmse[MethodBART] / rmse[MethodXBART]
	if ratio < 1.0/1.5 || ratio > 1.5 {
		t.Fatalf("samplers disagree: BART RMSE %g vs XBART RMSE %g", rmse[MethodBART], rmse[MethodXBART])
	}
}

//The driver's add-then-subtract residual cycle with an unchanged tree must
//leave the residual bit-identical.
func TestResidualCycleExact(t *testing.T) {
	n := 4
	data := []float64{0, 1, 2, 3}
	ds := mustDataset(t, data, n, 1, nil, nil)
	copy(ds.Residual, []float64{1, 2, -3, 4})

	tree := NewTree(1)
	left, right := tree.ExpandNumeric(RootNode, 0, 2)
	tree.SetLeaf(left, 0.25)
	tree.SetLeaf(right, -0.5)

	part := NewUnsortedPartition(n)
	part.SplitNumeric(ds, RootNode, left, right, 0, 2)
	mapper := NewSampleNodeMapper(1, n)
	part.UpdateObservationMapping(left, 0, mapper)
	part.UpdateObservationMapping(right, 0, mapper)

	before := append([]float64(nil), ds.Residual...)
	for k := 0; k < n; k++ {
		ds.ResidualAdd(k, tree.LeafValue(mapper.NodeId(k, 0)))
	}
	for k := 0; k < n; k++ {
		ds.ResidualSubtract(k, tree.LeafValue(mapper.NodeId(k, 0)))
	}
	for k := 0; k < n; k++ {
		if ds.Residual[k] != before[k] {
			t.Fatalf("residual %d changed: %g vs %g", k, ds.Residual[k], before[k])
		}
	}
}

//The univariate and multivariate regression leaves run end to end.
func TestRegressionLeafModels(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	n := 60
	xData := make([]float64, n)
	basisData := make([]float64, n*2)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		xData[i] = rng.Float64()
		basisData[2*i] = 1
		basisData[2*i+1] = rng.NormFloat64()
		y[i] = 0.5*basisData[2*i+1] + 0.05*rng.NormFloat64()
	}
	kinds := []FeatureKind{FeatureNumeric}

	for _, leafModel := range []string{LeafModelUnivariate, LeafModelMultivariate} {
		config := baseConfig(MethodXBART)
		config.NumTrees = 5
		config.LeafModel = leafModel

		runner, err := NewRunner(config)
		if err != nil {
			t.Fatalf("runner: %v", err)
		}
		x := mat.NewDense(n, 1, append([]float64(nil), xData...))
		if err := runner.LoadTrain(x, append([]float64(nil), y...), kinds); err != nil {
			t.Fatalf("load train: %v", err)
		}
		basisCols := 2
		if leafModel == LeafModelUnivariate {
			basisCols = 1
		}
		basis := mat.NewDense(n, basisCols, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < basisCols; j++ {
				basis.Set(i, j, basisData[2*i+j])
			}
		}
		if err := runner.LoadTrainBasis(basis); err != nil {
			t.Fatalf("load basis: %v", err)
		}
		if err := runner.LoadPredict(x); err != nil {
			t.Fatalf("load predict: %v", err)
		}
		if err := runner.LoadPredictBasis(basis); err != nil {
			t.Fatalf("load predict basis: %v", err)
		}
		if err := runner.Run(); err != nil {
			t.Fatalf("run: %v", err)
		}
		prediction, err := runner.Predict()
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		for _, v := range prediction {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s: non-finite prediction", leafModel)
			}
		}
		mean := stat.Mean(posteriorMeanByRow(prediction, n), nil)
		if math.Abs(mean-stat.Mean(y, nil)) > 0.5 {
			t.Fatalf("%s: prediction mean %g far from outcome mean %g", leafModel, mean, stat.Mean(y, nil))
		}
	}
}

//Hierarchical leaf scale sampling stays positive and finite across sweeps.
func TestLeafScaleUpdate(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []float64{-1, -1, 1, 1}
	kinds := []FeatureKind{FeatureNumeric}

	config := baseConfig(MethodXBART)
	config.SampleLeafScale = true
	config.TauPriorShape = 2
	config.TauPriorScale = 1

	runner, _ := runAndPredict(t, config, x, y, kinds)
	for i := 0; i < runner.NumRetainedDraws(); i++ {
		tau := runner.Draw(i).Tau
		if !(tau > 0) || math.IsInf(tau, 0) {
			t.Fatalf("draw %d has invalid tau %g", i, tau)
		}
	}
}
