package btl

import (
	"log"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

//MCMCTreeSampler performs one Metropolis-Hastings grow/prune step per tree.
//It owns the unsorted partitions and the observation-to-leaf map, both of
//which persist across sweeps and are mutated incrementally on every accepted
//proposal.
type MCMCTreeSampler struct {
	mapper  *SampleNodeMapper
	tracker *UnsortedNodeTracker
}

//NewMCMCTreeSampler initializes root-only state for every tree.
func NewMCMCTreeSampler(n, numTrees int) *MCMCTreeSampler {
	s := &MCMCTreeSampler{
		mapper:  NewSampleNodeMapper(numTrees, n),
		tracker: NewUnsortedNodeTracker(n, numTrees),
	}
	for j := 0; j < numTrees; j++ {
		s.mapper.AssignAllSamplesToRoot(j)
	}
	return s
}

//NodeId returns the leaf an observation currently falls into for one tree.
func (s *MCMCTreeSampler) NodeId(observation, tree int) int {
	return s.mapper.NodeId(observation, tree)
}

//TreePartition exposes the partition of one tree, mostly for leaf sampling.
func (s *MCMCTreeSampler) TreePartition(tree int) *UnsortedPartition {
	return s.tracker.TreePartition(tree)
}

//SampleTree runs a single grow-or-prune MH step for one tree. Proposals that
//cannot form a valid split abort silently, leaving the tree unchanged and the
//chain valid.
func (s *MCMCTreeSampler) SampleTree(tree *Tree, ds *Dataset, model LeafModel, prior *TreePrior, sigmaSq float64, rng *rand.Rand, treeNum int) {
	part := s.tracker.TreePartition(treeNum)

	growPossible := false
	for _, leaf := range tree.Leaves() {
		if part.NodeSize(leaf) > 2*prior.MinSamplesLeaf {
			growPossible = true
			break
		}
	}
	prunePossible := tree.NumValidNodes() > 1

	var probGrow float64
	switch {
	case growPossible && prunePossible:
		probGrow = 0.5
	case growPossible:
		probGrow = 1.0
	case prunePossible:
		probGrow = 0.0
	default:
		log.Panicf("tree %d: neither grow nor prune is possible", treeNum)
	}

	if rng.Float64() < probGrow {
		s.growMCMC(tree, ds, model, prior, sigmaSq, rng, treeNum, probGrow)
	} else {
		s.pruneMCMC(tree, ds, model, prior, sigmaSq, rng, treeNum)
	}
}

//featureRange scans a set of rows for the minimum and maximum of one feature.
func featureRange(ds *Dataset, rows []int, feature int) (vmin, vmax float64) {
	vmin = math.Inf(1)
	vmax = math.Inf(-1)
	for _, row := range rows {
		v := ds.Covariates.At(row, feature)
		if v < vmin {
			vmin = v
		}
		if v > vmax {
			vmax = v
		}
	}
	return vmin, vmax
}

//evaluateProposedSplit accumulates parent, left and right sufficient
//statistics in one pass over a leaf's rows and returns the split and no-split
//log marginal likelihoods along with the child sample counts.
func evaluateProposedSplit(ds *Dataset, model LeafModel, rows []int, feature int, threshold float64, sigmaSq float64) (splitLogML, noSplitLogML float64, leftN, rightN int) {
	parentStat := model.NewSuffStat()
	leftStat := model.NewSuffStat()
	rightStat := model.NewSuffStat()
	for _, row := range rows {
		parentStat.Increment(ds, row)
		if SplitTrueNumeric(ds.Covariates.At(row, feature), threshold) {
			leftStat.Increment(ds, row)
		} else {
			rightStat.Increment(ds, row)
		}
	}
	splitLogML = model.LogMarginal(leftStat, sigmaSq) + model.LogMarginal(rightStat, sigmaSq)
	noSplitLogML = model.LogMarginal(parentStat, sigmaSq)
	return splitLogML, noSplitLogML, leftStat.Count(), rightStat.Count()
}

//nodeNonConstant reports whether any feature takes more than one value over a
//node's rows. Minimum and maximum are accumulated independently.
func nodeNonConstant(ds *Dataset, rows []int) bool {
	p := ds.NumCovariates()
	for j := 0; j < p; j++ {
		vmin, vmax := featureRange(ds, rows, j)
		if vmax > vmin {
			return true
		}
	}
	return false
}

//nodesNonConstantAfterSplit reports whether some feature would remain
//non-constant on both sides of the proposed split.
func nodesNonConstantAfterSplit(ds *Dataset, rows []int, feature int, threshold float64) bool {
	p := ds.NumCovariates()
	for j := 0; j < p; j++ {
		minLeft, maxLeft := math.Inf(1), math.Inf(-1)
		minRight, maxRight := math.Inf(1), math.Inf(-1)
		for _, row := range rows {
			v := ds.Covariates.At(row, j)
			if SplitTrueNumeric(ds.Covariates.At(row, feature), threshold) {
				if v < minLeft {
					minLeft = v
				}
				if v > maxLeft {
					maxLeft = v
				}
			} else {
				if v < minRight {
					minRight = v
				}
				if v > maxRight {
					maxRight = v
				}
			}
		}
		if maxLeft > minLeft && maxRight > minRight {
			return true
		}
	}
	return false
}

func (s *MCMCTreeSampler) growMCMC(tree *Tree, ds *Dataset, model LeafModel, prior *TreePrior, sigmaSq float64, rng *rand.Rand, treeNum int, probGrowOld float64) {
	part := s.tracker.TreePartition(treeNum)

	leaves := tree.Leaves()
	leaf := leaves[rng.Intn(len(leaves))]
	depth := tree.Depth(leaf)
	feature := rng.Intn(ds.NumCovariates())

	rows := part.NodeIndices(leaf)
	vmin, vmax := featureRange(ds, rows, feature)
	if vmax <= vmin {
		// Deterministic feature in this leaf: the move's acceptance
		// probability collapses to zero.
		return
	}
	threshold := distuv.Uniform{Min: vmin, Max: vmax, Src: rng}.Rand()

	splitLogML, noSplitLogML, leftN, rightN := evaluateProposedSplit(ds, model, rows, feature, threshold, sigmaSq)

	pg := prior.SplitProb(depth)
	pgl := prior.SplitProb(depth + 1)
	pgr := prior.SplitProb(depth + 1)

	// Probability that the reverse move (a prune) is proposed from the new
	// tree: a grow is possible there only when some child stays splittable.
	probPruneNew := 1.0
	if nodesNonConstantAfterSplit(ds, rows, feature, threshold) &&
		(leftN >= 2*prior.MinSamplesLeaf || rightN >= 2*prior.MinSamplesLeaf) {
		probPruneNew = 0.5
	}

	pLeaf := 1.0 / float64(len(leaves))
	pLeafParent := 1.0 / float64(tree.NumLeafParents()+1)

	logMHRatio := math.Log(pg) + math.Log(1-pgl) + math.Log(1-pgr) - math.Log(1-pg) +
		math.Log(probPruneNew) + math.Log(pLeafParent) - math.Log(probGrowOld) - math.Log(pLeaf) +
		splitLogML - noSplitLogML
	if logMHRatio > 0 {
		logMHRatio = 0
	}

	if math.Log(rng.Float64()) <= logMHRatio {
		left, right := tree.ExpandNumeric(leaf, feature, threshold)
		part.SplitNumeric(ds, leaf, left, right, feature, threshold)
		s.tracker.UpdateTreeMapping(tree, treeNum, s.mapper)
	}
}

func (s *MCMCTreeSampler) pruneMCMC(tree *Tree, ds *Dataset, model LeafModel, prior *TreePrior, sigmaSq float64, rng *rand.Rand, treeNum int) {
	part := s.tracker.TreePartition(treeNum)

	leafParents := tree.LeafParents()
	node := leafParents[rng.Intn(len(leafParents))]
	depth := tree.Depth(node)
	leftNode := tree.LeftChild(node)
	rightNode := tree.RightChild(node)

	// Both children are leaves, so their ranges are available directly.
	parentStat := model.NewSuffStat()
	leftStat := model.NewSuffStat()
	rightStat := model.NewSuffStat()
	for _, row := range part.NodeIndices(leftNode) {
		parentStat.Increment(ds, row)
		leftStat.Increment(ds, row)
	}
	for _, row := range part.NodeIndices(rightNode) {
		parentStat.Increment(ds, row)
		rightStat.Increment(ds, row)
	}
	splitLogML := model.LogMarginal(leftStat, sigmaSq) + model.LogMarginal(rightStat, sigmaSq)
	noSplitLogML := model.LogMarginal(parentStat, sigmaSq)

	pg := prior.SplitProb(depth)
	pgl := prior.SplitProb(depth + 1)
	pgr := prior.SplitProb(depth + 1)

	// The reverse move (a grow) is always possible from the pruned tree, so
	// only its proposal probability matters. The pruned tree has two fewer
	// nodes than the current one and can itself be pruned only if it has
	// more than one node.
	probGrowNew := 1.0
	if tree.NumValidNodes()-2 > 1 {
		probGrowNew = 0.5
	}

	probPruneOld := 1.0
	if nodeNonConstant(ds, part.NodeIndices(leftNode)) && nodeNonConstant(ds, part.NodeIndices(rightNode)) {
		probPruneOld = 0.5
	}

	pLeaf := 1.0 / float64(tree.NumLeaves()-1)
	pLeafParent := 1.0 / float64(len(leafParents))

	logMHRatio := math.Log(1-pg) - math.Log(pg) - math.Log(1-pgl) - math.Log(1-pgr) +
		math.Log(probPruneOld) + math.Log(pLeaf) - math.Log(probGrowNew) - math.Log(pLeafParent) +
		noSplitLogML - splitLogML
	if logMHRatio > 0 {
		logMHRatio = 0
	}

	if math.Log(rng.Float64()) <= logMHRatio {
		tree.CollapseToLeaf(node)
		part.PruneToLeaf(node)
		s.tracker.UpdateTreeMapping(tree, treeNum, s.mapper)
	}
}
