package btl

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//Method selects which tree sampler drives the chain.
const (
	MethodBART  = "bart"
	MethodXBART = "xbart"
)

//Leaf model names accepted in the config.
const (
	LeafModelConstant     = "constant"
	LeafModelUnivariate   = "univariate_regression"
	LeafModelMultivariate = "multivariate_regression"
)

//Config collects every knob of one sampling run.
type Config struct {
	NumTrees         int     `json:"num_trees"`
	NumSamples       int     `json:"num_samples"`
	NumBurnin        int     `json:"num_burnin"`
	Method           string  `json:"method"`
	OutcomeType      string  `json:"outcome_type"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	MinSamplesLeaf   int     `json:"min_samples_leaf"`
	CutpointGridSize int     `json:"cutpoint_grid_size"`
	SigmaPriorShape  float64 `json:"a_sigma"`
	SigmaPriorScale  float64 `json:"b_sigma"`
	LeafScale        float64 `json:"tau"`
	SampleLeafScale  bool    `json:"sample_tau"`
	TauPriorShape    float64 `json:"a_tau"`
	TauPriorScale    float64 `json:"b_tau"`
	LeafModel        string  `json:"leaf_model"`
	Seed             uint64  `json:"seed"`
	SaveModelDraws   bool    `json:"save_model_draws"`
	SaveDir          string  `json:"save_dir"`
	Verbose          bool    `json:"verbose"`
}

//Validate reports configuration errors before any sampling starts.
func (c *Config) Validate() error {
	if c.NumTrees < 1 {
		return errors.Newf("num_trees must be at least 1, got %d", c.NumTrees)
	}
	if c.NumSamples < 1 {
		return errors.Newf("num_samples must be at least 1, got %d", c.NumSamples)
	}
	if c.NumBurnin < 0 {
		return errors.Newf("num_burnin must be non-negative, got %d", c.NumBurnin)
	}
	if c.Method != MethodBART && c.Method != MethodXBART {
		return errors.Newf("unknown method %q", c.Method)
	}
	if c.OutcomeType != "" && c.OutcomeType != "continuous" {
		return errors.Newf("unsupported outcome type %q", c.OutcomeType)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return errors.Newf("alpha must lie in (0, 1), got %g", c.Alpha)
	}
	if c.Beta <= 0 {
		return errors.Newf("beta must be positive, got %g", c.Beta)
	}
	if c.MinSamplesLeaf < 1 {
		return errors.Newf("min_samples_leaf must be at least 1, got %d", c.MinSamplesLeaf)
	}
	if c.Method == MethodXBART && c.CutpointGridSize < 2 {
		return errors.Newf("cutpoint_grid_size must be at least 2, got %d", c.CutpointGridSize)
	}
	if c.SigmaPriorShape <= 0 || c.SigmaPriorScale <= 0 {
		return errors.Newf("sigma^2 prior (%g, %g) must be positive", c.SigmaPriorShape, c.SigmaPriorScale)
	}
	if c.LeafScale <= 0 {
		return errors.Newf("leaf scale tau must be positive, got %g", c.LeafScale)
	}
	if c.SampleLeafScale && (c.TauPriorShape <= 0 || c.TauPriorScale <= 0) {
		return errors.Newf("tau prior (%g, %g) must be positive", c.TauPriorShape, c.TauPriorScale)
	}
	switch c.LeafModel {
	case "", LeafModelConstant, LeafModelUnivariate, LeafModelMultivariate:
	default:
		return errors.Newf("unknown leaf model %q", c.LeafModel)
	}
	return nil
}

//Runner owns one sampling run: the training data, the chain state, and the
//ring of model draws.
type Runner struct {
	config Config
	prior  TreePrior

	train        *Dataset
	predictCov   *mat.Dense
	predictBasis *mat.Dense

	model   LeafModel
	leafDim int

	mcmc *MCMCTreeSampler
	gfr  *GFRTreeSampler

	draws []*ModelDraw
	rng   *rand.Rand

	sigmaSq    float64
	tau        float64
	ybarOffset float64
	sdScale    float64
}

//NewRunner validates the config and seeds the single random stream.
func NewRunner(config Config) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		config:  config,
		prior:   TreePrior{Alpha: config.Alpha, Beta: config.Beta, MinSamplesLeaf: config.MinSamplesLeaf},
		rng:     rand.New(rand.NewSource(config.Seed)),
		tau:     config.LeafScale,
		sdScale: 1,
	}, nil
}

//LoadTrain validates and standardizes the training data. The residual is
//initialized to the centered, scaled outcome; predictions are mapped back to
//the outcome scale through the recorded offset and scale.
func (r *Runner) LoadTrain(covariates *mat.Dense, outcome []float64, kinds []FeatureKind) error {
	ds, err := NewDataset(covariates, outcome, kinds)
	if err != nil {
		return err
	}
	if len(outcome) == 0 {
		return errors.New("training outcome is required")
	}

	r.ybarOffset = stat.Mean(outcome, nil)
	r.sdScale = stat.StdDev(outcome, nil)
	if !(r.sdScale > 0) {
		r.sdScale = 1
	}
	for i := range ds.Residual {
		ds.Residual[i] = (outcome[i] - r.ybarOffset) / r.sdScale
	}
	r.train = ds
	return nil
}

//LoadTrainBasis attaches a leaf regression basis to the training data.
func (r *Runner) LoadTrainBasis(basis *mat.Dense) error {
	if r.train == nil {
		return errors.New("load training data before the basis")
	}
	return r.train.SetBasis(basis)
}

//LoadPredict stores covariates to predict on after the run.
func (r *Runner) LoadPredict(covariates *mat.Dense) error {
	if r.train == nil {
		return errors.New("load training data before prediction data")
	}
	_, w := covariates.Dims()
	if w != r.train.NumCovariates() {
		return errors.Newf("prediction data has %d columns, training data has %d", w, r.train.NumCovariates())
	}
	r.predictCov = covariates
	return nil
}

//LoadPredictBasis stores the basis matrix matching the prediction covariates.
func (r *Runner) LoadPredictBasis(basis *mat.Dense) error {
	if r.predictCov == nil {
		return errors.New("load prediction covariates before the basis")
	}
	h, _ := basis.Dims()
	if ph, _ := r.predictCov.Dims(); h != ph {
		return errors.Newf("prediction basis has %d rows, covariates have %d", h, ph)
	}
	r.predictBasis = basis
	return nil
}

func (r *Runner) buildLeafModel() (LeafModel, error) {
	kind := r.config.LeafModel
	if kind == "" {
		kind = LeafModelConstant
	}
	switch kind {
	case LeafModelConstant:
		return &ConstantLeafModel{Tau: r.config.LeafScale}, nil
	case LeafModelUnivariate:
		if r.train.BasisDim() < 1 {
			return nil, errors.New("univariate regression leaves need a basis column")
		}
		return &UnivariateLeafModel{Tau: r.config.LeafScale}, nil
	case LeafModelMultivariate:
		d := r.train.BasisDim()
		if d < 1 {
			return nil, errors.New("multivariate regression leaves need a basis matrix")
		}
		sigma := mat.NewSymDense(d, nil)
		for i := 0; i < d; i++ {
			sigma.SetSym(i, i, r.config.LeafScale)
		}
		return NewMultivariateLeafModel(d, sigma), nil
	}
	return nil, errors.Newf("unknown leaf model %q", kind)
}

//predictTrainObservation evaluates one tree for one training row using the
//current observation-to-leaf map instead of a root-to-leaf traversal.
func (r *Runner) predictTrainObservation(tree *Tree, observation, treeNum int) float64 {
	var nodeID int
	if r.config.Method == MethodBART {
		nodeID = r.mcmc.NodeId(observation, treeNum)
	} else {
		nodeID = r.gfr.NodeId(observation, treeNum)
	}
	vals := tree.LeafVector(nodeID)
	if r.train.Basis == nil {
		return vals[0]
	}
	sum := 0.0
	for k, v := range vals {
		sum += v * r.train.Basis.At(observation, k)
	}
	return sum
}

//Run executes num_burnin + num_samples sweeps, persisting one draw per
//retained sweep.
func (r *Runner) Run() error {
	if r.train == nil {
		return errors.New("no training data loaded")
	}
	model, err := r.buildLeafModel()
	if err != nil {
		return err
	}
	r.model = model
	r.leafDim = model.Dim()

	ds := r.train
	n := ds.NumObservations()
	numTrees := r.config.NumTrees
	numIters := r.config.NumBurnin + r.config.NumSamples

	varianceSampler := &GlobalVarianceSampler{Prior: IGPrior{Shape: r.config.SigmaPriorShape, Scale: r.config.SigmaPriorScale}}
	leafScaleSampler := &LeafScaleSampler{Prior: IGPrior{Shape: r.config.TauPriorShape, Scale: r.config.TauPriorScale}}

	switch r.config.Method {
	case MethodBART:
		r.mcmc = NewMCMCTreeSampler(n, numTrees)
	case MethodXBART:
		r.gfr = NewGFRTreeSampler(ds, numTrees, r.config.CutpointGridSize)
	}

	r.draws = make([]*ModelDraw, r.config.NumSamples)
	r.sigmaSq = 1

	// Burn-in draws overwrite slot 0 until retention begins: modelIter only
	// advances past prevModelIter once burn-in is complete.
	modelIter := 0
	prevModelIter := 0
	for i := 0; i < numIters; i++ {
		if i == 0 || modelIter > prevModelIter {
			r.draws[modelIter] = NewModelDraw(numTrees, r.leafDim)
			r.draws[modelIter].YbarOffset = r.ybarOffset
			r.draws[modelIter].SdScale = r.sdScale
		}
		draw := r.draws[modelIter]

		if i == 0 {
			r.initializeEnsemble(draw)
			if r.config.Method == MethodXBART {
				r.sigmaSq = varianceSampler.Sample(ds.Residual, r.rng)
			}
		}

		for j := 0; j < numTrees; j++ {
			prevTree := r.draws[prevModelIter].Trees[j]
			for k := 0; k < n; k++ {
				ds.ResidualAdd(k, r.predictTrainObservation(prevTree, k, j))
			}

			var tree *Tree
			switch r.config.Method {
			case MethodBART:
				if modelIter > prevModelIter {
					draw.CloneFromExistingTree(j, prevTree)
				}
				tree = draw.Trees[j]
				r.mcmc.SampleTree(tree, ds, r.model, &r.prior, r.sigmaSq, r.rng, j)
				SampleLeafParameters(tree, ds, r.model, r.mcmc.TreePartition(j), r.sigmaSq, r.rng)
			case MethodXBART:
				r.gfr.ResetForTree(j)
				draw.ResetTree(j, r.leafDim)
				tree = draw.Trees[j]
				r.gfr.SampleTree(tree, ds, r.model, &r.prior, r.sigmaSq, r.rng, j)
				SampleLeafParameters(tree, ds, r.model, r.gfr.Tracker(), r.sigmaSq, r.rng)
			}

			for k := 0; k < n; k++ {
				ds.ResidualSubtract(k, r.predictTrainObservation(tree, k, j))
			}
		}

		r.sigmaSq = varianceSampler.Sample(ds.Residual, r.rng)
		draw.SigmaSq = r.sigmaSq

		if r.config.SampleLeafScale {
			r.tau = leafScaleSampler.Sample(draw.NumLeaves(), draw.SumLeafSquared(), r.rng)
			r.model.SetPriorScale(r.tau)
		}
		draw.Tau = r.tau

		if r.config.SaveModelDraws && i >= r.config.NumBurnin {
			filename := filepath.Join(r.config.SaveDir, fmt.Sprintf("model_%d.json", i))
			if err := draw.Save(filename); err != nil {
				log.Printf("warning: failed to persist draw %d: %v", i, err)
			}
		}

		if r.config.Verbose {
			log.Printf("sweep %d/%d: sigma^2 = %g, in-sample rmse = %g",
				i+1, numIters, r.sigmaSq, r.sdScale*Rmse(ds.Residual, make([]float64, n)))
		}

		if i >= r.config.NumBurnin {
			prevModelIter = modelIter
			modelIter++
		}
	}
	return nil
}

//initializeEnsemble sets every tree to a constant root predicting the mean
//partial residual and removes those predictions from the residual.
func (r *Runner) initializeEnsemble(draw *ModelDraw) {
	ds := r.train
	n := ds.NumObservations()

	meanOutcome := stat.Mean(ds.Residual, nil)
	for j, tree := range draw.Trees {
		// Regression leaves start from zero coefficients; the constant model
		// absorbs the (already centered) mean.
		if ds.Basis == nil {
			tree.SetLeaf(RootNode, meanOutcome/float64(len(draw.Trees)))
		}
		for k := 0; k < n; k++ {
			ds.ResidualSubtract(k, r.predictTrainObservation(tree, k, j))
		}
	}
}

//taskPredictDraw fills one draw's slice of the prediction output.
type taskPredictDraw struct {
	draw   *ModelDraw
	cov    *mat.Dense
	basis  *mat.Dense
	out    []float64
	offset int
}

func (t *taskPredictDraw) Run() {
	h, _ := t.cov.Dims()
	for row := 0; row < h; row++ {
		t.out[t.offset+row] = t.draw.PredictRow(t.cov, t.basis, row)
	}
}

//Predict evaluates every retained draw on the prediction data. The result
//holds num_samples blocks of M rows in column-major order: sample index
//outer, row index inner.
func (r *Runner) Predict() ([]float64, error) {
	if r.predictCov == nil {
		return nil, errors.New("no prediction data loaded")
	}
	if len(r.draws) == 0 || r.draws[len(r.draws)-1] == nil {
		return nil, errors.New("no retained draws: call Run first")
	}
	h, _ := r.predictCov.Dims()
	out := make([]float64, h*len(r.draws))

	pool := NewPool(runtime.GOMAXPROCS(0))
	for j, draw := range r.draws {
		pool.AddTask(&taskPredictDraw{
			draw:   draw,
			cov:    r.predictCov,
			basis:  r.predictBasis,
			out:    out,
			offset: j * h,
		})
	}
	pool.Close()
	pool.WaitAll()
	return out, nil
}

//NumRetainedDraws returns the number of retained posterior samples.
func (r *Runner) NumRetainedDraws() int { return len(r.draws) }

//Draw returns one retained draw.
func (r *Runner) Draw(i int) *ModelDraw { return r.draws[i] }

//SaveDraw persists a single retained draw to the given path.
func (r *Runner) SaveDraw(drawID int, path string) error {
	if drawID < 0 || drawID >= len(r.draws) || r.draws[drawID] == nil {
		return errors.Newf("draw %d is not available", drawID)
	}
	return r.draws[drawID].Save(path)
}
