package btl

import (
	"golang.org/x/exp/rand"
)

//NodeRowSource yields the observation rows currently contained in a node.
//Both partition trackers implement it, so leaf sampling is agnostic to which
//algorithm produced the tree.
type NodeRowSource interface {
	NodeRows(id int) []int
}

//NodeRows returns the rows of a node of the unsorted partition.
func (p *UnsortedPartition) NodeRows(id int) []int { return p.NodeIndices(id) }

//NodeRows returns the rows of a node of the sorted tracker.
func (t *SortedNodeTracker) NodeRows(id int) []int { return t.NodeIndices(id, 0) }

//SampleLeafParameters draws fresh leaf parameters for every leaf of a tree
//from the leaf model's conjugate posterior and writes them into the tree.
func SampleLeafParameters(tree *Tree, ds *Dataset, model LeafModel, rows NodeRowSource, sigmaSq float64, rng *rand.Rand) {
	stat := model.NewSuffStat()
	for _, leaf := range tree.Leaves() {
		stat.Reset()
		for _, row := range rows.NodeRows(leaf) {
			stat.Increment(ds, row)
		}
		tree.SetLeafVector(leaf, model.DrawLeaf(stat, sigmaSq, rng))
	}
}
