package btl

import (
	"sort"
)

//cutpointBin is one contiguous block of a node's range in a feature's sort
//order. Numeric bins carry the threshold that routes the bin and all earlier
//bins to the left; categorical bins carry the category occupying the block.
type cutpointBin struct {
	start    int
	length   int
	boundary float64
	category uint32
}

//CutpointGrid enumerates candidate split points for (node, feature) pairs
//during grow-from-root. One grid is allocated per sampler and reset for
//every node rather than reallocated.
type CutpointGrid struct {
	gridSize int
	bins     [][]cutpointBin
}

//NewCutpointGrid creates an empty grid for the given number of features.
func NewCutpointGrid(numFeatures, gridSize int) *CutpointGrid {
	return &CutpointGrid{
		gridSize: gridSize,
		bins:     make([][]cutpointBin, numFeatures),
	}
}

//Reset clears the per-feature bins while keeping their capacity.
func (g *CutpointGrid) Reset() {
	for j := range g.bins {
		g.bins[j] = g.bins[j][:0]
	}
}

//NumBins returns the number of bins currently enumerated for a feature.
//A feature with B bins offers B-1 candidate cutpoints, because partitioning
//the final bin to the left would leave the right child empty.
func (g *CutpointGrid) NumBins(feature int) int { return len(g.bins[feature]) }

func (g *CutpointGrid) BinStart(feature, b int) int  { return g.bins[feature][b].start }
func (g *CutpointGrid) BinLength(feature, b int) int { return g.bins[feature][b].length }

//CutpointValue returns the numeric threshold that routes bins 0..b left.
func (g *CutpointGrid) CutpointValue(feature, b int) float64 {
	return g.bins[feature][b].boundary
}

//CutpointCategories returns the category set that routes bins 0..b left.
func (g *CutpointGrid) CutpointCategories(feature, b int) []uint32 {
	cats := make([]uint32, 0, b+1)
	for i := 0; i <= b; i++ {
		cats = append(cats, g.bins[feature][i].category)
	}
	return cats
}

//CalculateStrides enumerates the bins of one feature over a node's range in
//the sorted tracker. Numeric and ordered categorical features bin by value:
//every distinct value gets its own bin when there are at most gridSize of
//them, otherwise evenly spaced quantile bins are snapped to value changes.
//Unordered categorical features get one bin per category present in the node,
//ordered by within-node mean residual so that prefix subsets form the
//candidate category sets.
func (g *CutpointGrid) CalculateStrides(ds *Dataset, tracker *SortedNodeTracker, nodeID, nodeBegin, nodeEnd, feature int) {
	g.bins[feature] = g.bins[feature][:0]
	if nodeEnd <= nodeBegin {
		return
	}
	if ds.Kinds[feature] == FeatureUnorderedCategorical {
		g.categoricalStrides(ds, tracker, nodeBegin, nodeEnd, feature)
		return
	}
	g.numericStrides(ds, tracker, nodeBegin, nodeEnd, feature)
}

//valueRun is a maximal block of equal feature values in the sorted order.
type valueRun struct {
	start, length int
	value         float64
}

func (g *CutpointGrid) nodeRuns(ds *Dataset, tracker *SortedNodeTracker, nodeBegin, nodeEnd, feature int) []valueRun {
	var runs []valueRun
	for pos := nodeBegin; pos < nodeEnd; pos++ {
		v := ds.Covariates.At(tracker.SortIndex(pos, feature), feature)
		if len(runs) == 0 || runs[len(runs)-1].value != v {
			runs = append(runs, valueRun{start: pos, length: 1, value: v})
		} else {
			runs[len(runs)-1].length++
		}
	}
	return runs
}

func (g *CutpointGrid) numericStrides(ds *Dataset, tracker *SortedNodeTracker, nodeBegin, nodeEnd, feature int) {
	runs := g.nodeRuns(ds, tracker, nodeBegin, nodeEnd, feature)

	if len(runs) <= g.gridSize {
		for r, run := range runs {
			bin := cutpointBin{start: run.start, length: run.length}
			if r+1 < len(runs) {
				bin.boundary = runs[r+1].value
			}
			g.bins[feature] = append(g.bins[feature], bin)
		}
		return
	}

	// Quantile bins snapped to value changes so that every bin boundary is an
	// exact split threshold.
	nodeN := nodeEnd - nodeBegin
	stride := float64(nodeN) / float64(g.gridSize)
	binStart := runs[0].start
	binLength := 0
	for r, run := range runs {
		binLength += run.length
		filled := float64(len(g.bins[feature])+1) * stride
		if float64(binStart+binLength-nodeBegin) >= filled || r == len(runs)-1 {
			bin := cutpointBin{start: binStart, length: binLength}
			if r+1 < len(runs) {
				bin.boundary = runs[r+1].value
			}
			g.bins[feature] = append(g.bins[feature], bin)
			binStart += binLength
			binLength = 0
		}
	}
}

func (g *CutpointGrid) categoricalStrides(ds *Dataset, tracker *SortedNodeTracker, nodeBegin, nodeEnd, feature int) {
	runs := g.nodeRuns(ds, tracker, nodeBegin, nodeEnd, feature)

	// Order categories by their within-node mean residual: prefix subsets of
	// this ordering are the candidate category sets.
	sums := make([]float64, len(runs))
	for r, run := range runs {
		for pos := run.start; pos < run.start+run.length; pos++ {
			sums[r] += ds.Residual[tracker.SortIndex(pos, feature)]
		}
	}
	order := make([]int, len(runs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sums[order[a]]/float64(runs[order[a]].length) < sums[order[b]]/float64(runs[order[b]].length)
	})

	limit := len(order)
	if limit > g.gridSize {
		limit = g.gridSize
	}
	for _, r := range order[:limit] {
		g.bins[feature] = append(g.bins[feature], cutpointBin{
			start:    runs[r].start,
			length:   runs[r].length,
			category: uint32(runs[r].value),
		})
	}
}
