package btl

import (
	"math"

	"golang.org/x/exp/rand"
)

//GFRTreeSampler draws a whole tree at a time with the stochastic
//grow-from-root algorithm. Features are arg-sorted once per run; the sorted
//tracker is rebuilt from those presorts for every tree in every sweep.
type GFRTreeSampler struct {
	mapper  *SampleNodeMapper
	presort *PresortContainer
	tracker *SortedNodeTracker
	grid    *CutpointGrid
}

//NewGFRTreeSampler presorts every feature of the dataset and allocates the
//per-run state.
func NewGFRTreeSampler(ds *Dataset, numTrees, cutpointGridSize int) *GFRTreeSampler {
	s := &GFRTreeSampler{
		mapper:  NewSampleNodeMapper(numTrees, ds.NumObservations()),
		presort: NewPresortContainer(ds),
		grid:    NewCutpointGrid(ds.NumCovariates(), cutpointGridSize),
	}
	for j := 0; j < numTrees; j++ {
		s.mapper.AssignAllSamplesToRoot(j)
	}
	return s
}

//NodeId returns the leaf an observation currently falls into for one tree.
func (s *GFRTreeSampler) NodeId(observation, tree int) int {
	return s.mapper.NodeId(observation, tree)
}

//Tracker exposes the current sorted tracker for leaf sampling.
func (s *GFRTreeSampler) Tracker() *SortedNodeTracker { return s.tracker }

//ResetForTree rebuilds the sorted tracker from the dataset-wide presorts and
//points every observation of the tree back at the root.
func (s *GFRTreeSampler) ResetForTree(treeNum int) {
	s.tracker = NewSortedNodeTracker(s.presort)
	s.mapper.AssignAllSamplesToRoot(treeNum)
}

//cutpointCandidate identifies one enumerated split: a feature and the index
//of the last cutpoint bin routed to the left child.
type cutpointCandidate struct {
	feature int
	binIdx  int
}

//SampleTree grows one tree from the root with a breadth-first queue,
//sampling a split (or no-split) at every visited node.
func (s *GFRTreeSampler) SampleTree(tree *Tree, ds *Dataset, model LeafModel, prior *TreePrior, sigmaSq float64, rng *rand.Rand, treeNum int) {
	n := ds.NumObservations()
	queue := []int{RootNode}
	nodeRange := map[int][2]int{RootNode: {0, n}}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		r := nodeRange[node]
		queue = s.sampleSplitRule(tree, ds, model, prior, sigmaSq, rng, treeNum, node, r[0], r[1], queue, nodeRange)
	}
}

func (s *GFRTreeSampler) sampleSplitRule(tree *Tree, ds *Dataset, model LeafModel, prior *TreePrior, sigmaSq float64, rng *rand.Rand, treeNum, node, nodeBegin, nodeEnd int, queue []int, nodeRange map[int][2]int) []int {
	parentStat := model.NewSuffStat()
	for pos := nodeBegin; pos < nodeEnd; pos++ {
		parentStat.Increment(ds, s.tracker.SortIndex(pos, 0))
	}
	noSplitLogML := model.LogMarginal(parentStat, sigmaSq)

	s.grid.Reset()
	leftStat := model.NewSuffStat()
	rightStat := model.NewSuffStat()

	var candidates []cutpointCandidate
	var logEvals []float64
	for j := 0; j < ds.NumCovariates(); j++ {
		s.grid.CalculateStrides(ds, s.tracker, node, nodeBegin, nodeEnd, j)

		// Sweep the bins left to right, accumulating the left statistic
		// incrementally and recovering the right one by subtraction. The last
		// bin is never a cutpoint since it would leave the right child empty.
		leftStat.Reset()
		for b := 0; b < s.grid.NumBins(j)-1; b++ {
			start := s.grid.BinStart(j, b)
			for pos := start; pos < start+s.grid.BinLength(j, b); pos++ {
				leftStat.Increment(ds, s.tracker.SortIndex(pos, j))
			}
			rightStat.SubtractSibling(parentStat, leftStat)
			if leftStat.Count() < prior.MinSamplesLeaf || rightStat.Count() < prior.MinSamplesLeaf {
				continue
			}
			candidates = append(candidates, cutpointCandidate{feature: j, binIdx: b})
			logEvals = append(logEvals, model.LogMarginal(leftStat, sigmaSq)+model.LogMarginal(rightStat, sigmaSq))
		}
	}

	// No-split weight, corrected so that the draw below is a correctly
	// normalized posterior over the split/no-split choice: the tree prior
	// enters through the depth penalty and the cutpoint multiplicity through
	// log(numCutpoints). The multiplicity term is omitted when there are no
	// valid cutpoints.
	depth := tree.Depth(node)
	noSplitAdj := math.Log(math.Pow(1+float64(depth), prior.Beta)/prior.Alpha - 1)
	if len(candidates) > 0 {
		noSplitAdj += math.Log(float64(len(candidates)))
	}
	logEvals = append(logEvals, noSplitLogML+noSplitAdj)

	chosen := drawCategoricalLog(logEvals, rng)
	if chosen == len(candidates) {
		return queue
	}

	c := candidates[chosen]
	var left, right int
	if ds.Kinds[c.feature] == FeatureUnorderedCategorical {
		categories := s.grid.CutpointCategories(c.feature, c.binIdx)
		left, right = tree.ExpandCategorical(node, c.feature, categories)
		s.tracker.PartitionNodeCategorical(ds, node, left, right, c.feature, categories)
	} else {
		threshold := s.grid.CutpointValue(c.feature, c.binIdx)
		left, right = tree.ExpandNumeric(node, c.feature, threshold)
		s.tracker.PartitionNodeNumeric(ds, node, left, right, c.feature, threshold)
	}

	s.tracker.UpdateObservationMapping(left, treeNum, s.mapper)
	s.tracker.UpdateObservationMapping(right, treeNum, s.mapper)

	leftN := s.tracker.NodeEnd(left, 0) - s.tracker.NodeBegin(left, 0)
	nodeRange[left] = [2]int{nodeBegin, nodeBegin + leftN}
	nodeRange[right] = [2]int{nodeBegin + leftN, nodeEnd}
	return append(queue, left, right)
}

//drawCategoricalLog draws one index proportional to exp(logWeights),
//normalizing by the maximum log weight for numerical stability.
func drawCategoricalLog(logWeights []float64, rng *rand.Rand) int {
	maxLog := logWeights[0]
	for _, w := range logWeights[1:] {
		if w > maxLog {
			maxLog = w
		}
	}
	total := 0.0
	weights := make([]float64, len(logWeights))
	for i, w := range logWeights {
		weights[i] = math.Exp(w - maxLog)
		total += weights[i]
	}
	u := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if u < cum {
			return i
		}
	}
	return len(weights) - 1
}
