package btl

import (
	"log"
)

//FeaturePresortRoot holds the stable argsort of one covariate column over the
//whole dataset. It is computed once per run and shared by every per-sweep
//sorted partition, so features are only arg-sorted one time.
type FeaturePresortRoot struct {
	sortIndices []int
}

//PresortContainer stores one FeaturePresortRoot per covariate column.
type PresortContainer struct {
	roots []*FeaturePresortRoot
}

//NewPresortContainer arg-sorts every covariate column of the dataset.
func NewPresortContainer(ds *Dataset) *PresortContainer {
	c := &PresortContainer{roots: make([]*FeaturePresortRoot, ds.NumCovariates())}
	for j := range c.roots {
		c.roots[j] = &FeaturePresortRoot{sortIndices: columnArgsort(ds.Covariates, j)}
	}
	return c
}

type nodeOffsetSize struct {
	begin, size int
}

//FeaturePresortPartition tracks one feature's sort order through a tree's
//split lifecycle. Within every live node its slice of the sort index lists
//the node's observations in ascending order of the feature.
type FeaturePresortPartition struct {
	sortIndices []int
	nodes       []nodeOffsetSize
	feature     int
}

func newFeaturePresortPartition(root *FeaturePresortRoot, feature int) *FeaturePresortPartition {
	p := &FeaturePresortPartition{
		sortIndices: append([]int(nil), root.sortIndices...),
		feature:     feature,
	}
	p.nodes = append(p.nodes, nodeOffsetSize{begin: 0, size: len(p.sortIndices)})
	return p
}

func (p *FeaturePresortPartition) NodeBegin(id int) int { return p.nodes[id].begin }
func (p *FeaturePresortPartition) NodeEnd(id int) int   { return p.nodes[id].begin + p.nodes[id].size }
func (p *FeaturePresortPartition) NodeSize(id int) int  { return p.nodes[id].size }

//SortIndex returns the row stored at one position of the feature's sort order.
func (p *FeaturePresortPartition) SortIndex(pos int) int { return p.sortIndices[pos] }

//NodeIndices copies out the rows of one node in the feature's sort order.
func (p *FeaturePresortPartition) NodeIndices(id int) []int {
	out := make([]int, p.NodeSize(id))
	copy(out, p.sortIndices[p.NodeBegin(id):p.NodeEnd(id)])
	return out
}

//splitFeature stably sifts one node's range so that rows routed left by the
//split rule occupy the prefix. The stable scan preserves the feature's sort
//order inside each side. Children are appended in tree allocation order.
func (p *FeaturePresortPartition) splitFeature(id int, routeLeft func(row int) bool) {
	begin, end := p.NodeBegin(id), p.NodeEnd(id)
	leftBlock := make([]int, 0, end-begin)
	rightBlock := make([]int, 0, end-begin)
	for _, row := range p.sortIndices[begin:end] {
		if routeLeft(row) {
			leftBlock = append(leftBlock, row)
		} else {
			rightBlock = append(rightBlock, row)
		}
	}
	copy(p.sortIndices[begin:], leftBlock)
	copy(p.sortIndices[begin+len(leftBlock):], rightBlock)
	p.addLeftRightNodes(begin, len(leftBlock), begin+len(leftBlock), len(rightBlock))
}

func (p *FeaturePresortPartition) addLeftRightNodes(leftBegin, leftSize, rightBegin, rightSize int) {
	p.nodes = append(p.nodes, nodeOffsetSize{begin: leftBegin, size: leftSize})
	p.nodes = append(p.nodes, nodeOffsetSize{begin: rightBegin, size: rightSize})
}

//UpdateObservationMapping writes a node's id into the mapper for all its rows.
func (p *FeaturePresortPartition) UpdateObservationMapping(id, tree int, mapper *SampleNodeMapper) {
	for pos := p.NodeBegin(id); pos < p.NodeEnd(id); pos++ {
		mapper.SetNodeId(p.sortIndices[pos], tree, id)
	}
}

//SortedNodeTracker tracks observations through a tree partition with every
//feature pre-sorted. It is rebuilt from the presort container for each new
//tree, since grow-from-root reconstructs the partition from scratch.
type SortedNodeTracker struct {
	partitions []*FeaturePresortPartition
}

//NewSortedNodeTracker clones the presorted root order for every feature.
func NewSortedNodeTracker(container *PresortContainer) *SortedNodeTracker {
	t := &SortedNodeTracker{partitions: make([]*FeaturePresortPartition, len(container.roots))}
	for j := range t.partitions {
		t.partitions[j] = newFeaturePresortPartition(container.roots[j], j)
	}
	return t
}

//PartitionNodeNumeric applies a numeric split to every feature's sort order.
//The two child node ids must have been allocated by the tree as consecutive
//ids directly following the existing node count.
func (t *SortedNodeTracker) PartitionNodeNumeric(ds *Dataset, id, leftID, rightID, splitFeature int, threshold float64) {
	t.checkChildIDs(leftID, rightID)
	for _, p := range t.partitions {
		p.splitFeature(id, func(row int) bool {
			return SplitTrueNumeric(ds.Covariates.At(row, splitFeature), threshold)
		})
	}
}

//PartitionNodeCategorical applies a category-set split to every feature's sort order.
func (t *SortedNodeTracker) PartitionNodeCategorical(ds *Dataset, id, leftID, rightID, splitFeature int, categories []uint32) {
	t.checkChildIDs(leftID, rightID)
	for _, p := range t.partitions {
		p.splitFeature(id, func(row int) bool {
			return SplitTrueCategorical(ds.Covariates.At(row, splitFeature), categories)
		})
	}
}

func (t *SortedNodeTracker) checkChildIDs(leftID, rightID int) {
	next := len(t.partitions[0].nodes)
	if leftID != next || rightID != next+1 {
		log.Panicf("sorted tracker expects child ids (%d, %d), got (%d, %d)", next, next+1, leftID, rightID)
	}
}

func (t *SortedNodeTracker) NodeBegin(id, feature int) int { return t.partitions[feature].NodeBegin(id) }
func (t *SortedNodeTracker) NodeEnd(id, feature int) int   { return t.partitions[feature].NodeEnd(id) }

//SortIndex returns the row at one position of one feature's sort order.
func (t *SortedNodeTracker) SortIndex(pos, feature int) int {
	return t.partitions[feature].SortIndex(pos)
}

//NodeIndices copies out the rows of a node in one feature's sort order.
func (t *SortedNodeTracker) NodeIndices(id, feature int) []int {
	return t.partitions[feature].NodeIndices(id)
}

//UpdateObservationMapping refreshes the mapper for one node using feature 0,
//whose node membership is identical across features by construction.
func (t *SortedNodeTracker) UpdateObservationMapping(id, tree int, mapper *SampleNodeMapper) {
	t.partitions[0].UpdateObservationMapping(id, tree, mapper)
}
