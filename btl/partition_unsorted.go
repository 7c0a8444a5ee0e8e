package btl

import (
	"log"
)

//SampleNodeMapper stores, for every tree in the ensemble, the id of the leaf
//each observation currently falls into.
type SampleNodeMapper struct {
	treeObservationIndices [][]int
}

//NewSampleNodeMapper allocates a mapper for numTrees trees over n observations.
func NewSampleNodeMapper(numTrees, n int) *SampleNodeMapper {
	m := &SampleNodeMapper{treeObservationIndices: make([][]int, numTrees)}
	for j := range m.treeObservationIndices {
		m.treeObservationIndices[j] = make([]int, n)
	}
	return m
}

func (m *SampleNodeMapper) NodeId(observation, tree int) int {
	return m.treeObservationIndices[tree][observation]
}

func (m *SampleNodeMapper) SetNodeId(observation, tree, node int) {
	m.treeObservationIndices[tree][observation] = node
}

//AssignAllSamplesToRoot points every observation of one tree back at the root.
func (m *SampleNodeMapper) AssignAllSamplesToRoot(tree int) {
	indices := m.treeObservationIndices[tree]
	for i := range indices {
		indices[i] = RootNode
	}
}

//NumTrees returns the number of trees tracked by the mapper.
func (m *SampleNodeMapper) NumTrees() int { return len(m.treeObservationIndices) }

//UnsortedPartition tracks, for one tree, which observations sit in which node.
//It keeps a permutation of row indices plus per-node (begin, length) ranges so
//that the rows of any live node occupy one contiguous slice of the permutation.
type UnsortedPartition struct {
	indices    []int
	nodeBegin  []int
	nodeLength []int
	parent     []int
	left       []int
	right      []int
	valid      []bool
}

//NewUnsortedPartition creates a root-only partition over n observations.
func NewUnsortedPartition(n int) *UnsortedPartition {
	p := &UnsortedPartition{
		indices:    make([]int, n),
		nodeBegin:  []int{0},
		nodeLength: []int{n},
		parent:     []int{noNode},
		left:       []int{noNode},
		right:      []int{noNode},
		valid:      []bool{true},
	}
	for i := range p.indices {
		p.indices[i] = i
	}
	return p
}

func (p *UnsortedPartition) ensureNode(id int) {
	for len(p.nodeBegin) <= id {
		p.nodeBegin = append(p.nodeBegin, 0)
		p.nodeLength = append(p.nodeLength, 0)
		p.parent = append(p.parent, noNode)
		p.left = append(p.left, noNode)
		p.right = append(p.right, noNode)
		p.valid = append(p.valid, false)
	}
}

func (p *UnsortedPartition) NodeBegin(id int) int { return p.nodeBegin[id] }
func (p *UnsortedPartition) NodeEnd(id int) int   { return p.nodeBegin[id] + p.nodeLength[id] }
func (p *UnsortedPartition) NodeSize(id int) int  { return p.nodeLength[id] }
func (p *UnsortedPartition) Parent(id int) int    { return p.parent[id] }
func (p *UnsortedPartition) LeftNode(id int) int  { return p.left[id] }
func (p *UnsortedPartition) RightNode(id int) int { return p.right[id] }

func (p *UnsortedPartition) IsValidNode(id int) bool {
	return id >= 0 && id < len(p.valid) && p.valid[id]
}

func (p *UnsortedPartition) IsLeaf(id int) bool {
	return p.IsValidNode(id) && p.left[id] == noNode
}

//NodeIndices returns a view into the permutation slice for one node.
func (p *UnsortedPartition) NodeIndices(id int) []int {
	return p.indices[p.NodeBegin(id):p.NodeEnd(id)]
}

//splitNode reorders a leaf's range so that rows routed left by the rule occupy
//the prefix, then registers the two child node ids supplied by the tree.
func (p *UnsortedPartition) splitNode(id, leftID, rightID int, routeLeft func(row int) bool) {
	if !p.IsLeaf(id) {
		log.Panicf("partition node %d is not a leaf", id)
	}
	begin, end := p.NodeBegin(id), p.NodeEnd(id)
	leftBlock := make([]int, 0, end-begin)
	rightBlock := make([]int, 0, end-begin)
	for _, row := range p.indices[begin:end] {
		if routeLeft(row) {
			leftBlock = append(leftBlock, row)
		} else {
			rightBlock = append(rightBlock, row)
		}
	}
	copy(p.indices[begin:], leftBlock)
	copy(p.indices[begin+len(leftBlock):], rightBlock)

	p.ensureNode(leftID)
	p.ensureNode(rightID)
	p.nodeBegin[leftID] = begin
	p.nodeLength[leftID] = len(leftBlock)
	p.nodeBegin[rightID] = begin + len(leftBlock)
	p.nodeLength[rightID] = len(rightBlock)
	p.parent[leftID] = id
	p.parent[rightID] = id
	p.left[leftID], p.right[leftID] = noNode, noNode
	p.left[rightID], p.right[rightID] = noNode, noNode
	p.valid[leftID] = true
	p.valid[rightID] = true
	p.left[id] = leftID
	p.right[id] = rightID
}

//SplitNumeric partitions a leaf by a numeric threshold rule.
func (p *UnsortedPartition) SplitNumeric(ds *Dataset, id, leftID, rightID, feature int, threshold float64) {
	p.splitNode(id, leftID, rightID, func(row int) bool {
		return SplitTrueNumeric(ds.Covariates.At(row, feature), threshold)
	})
}

//SplitCategorical partitions a leaf by a category-set rule.
func (p *UnsortedPartition) SplitCategorical(ds *Dataset, id, leftID, rightID, feature int, categories []uint32) {
	p.splitNode(id, leftID, rightID, func(row int) bool {
		return SplitTrueCategorical(ds.Covariates.At(row, feature), categories)
	})
}

//PruneToLeaf merges the ranges of a leaf-parent's children back into it.
//The children's ranges are already contiguous within the parent, so only the
//node bookkeeping changes.
func (p *UnsortedPartition) PruneToLeaf(id int) {
	leftID, rightID := p.left[id], p.right[id]
	if leftID == noNode || !p.IsLeaf(leftID) || !p.IsLeaf(rightID) {
		log.Panicf("cannot prune partition node %d: children are not both leaves", id)
	}
	p.valid[leftID] = false
	p.valid[rightID] = false
	p.parent[leftID], p.parent[rightID] = noNode, noNode
	p.left[id], p.right[id] = noNode, noNode
}

//UpdateObservationMapping writes one node's id into the mapper for each of its rows.
func (p *UnsortedPartition) UpdateObservationMapping(id, tree int, mapper *SampleNodeMapper) {
	for _, row := range p.NodeIndices(id) {
		mapper.SetNodeId(row, tree, id)
	}
}

//UnsortedNodeTracker bundles one UnsortedPartition per tree of the ensemble.
type UnsortedNodeTracker struct {
	partitions []*UnsortedPartition
}

//NewUnsortedNodeTracker creates root-only partitions for every tree.
func NewUnsortedNodeTracker(n, numTrees int) *UnsortedNodeTracker {
	t := &UnsortedNodeTracker{partitions: make([]*UnsortedPartition, numTrees)}
	for i := range t.partitions {
		t.partitions[i] = NewUnsortedPartition(n)
	}
	return t
}

//TreePartition exposes the partition of one tree.
func (t *UnsortedNodeTracker) TreePartition(tree int) *UnsortedPartition {
	return t.partitions[tree]
}

//UpdateTreeMapping refreshes the observation mapping for every leaf of a tree.
func (t *UnsortedNodeTracker) UpdateTreeMapping(tree *Tree, treeNum int, mapper *SampleNodeMapper) {
	for _, leaf := range tree.Leaves() {
		t.partitions[treeNum].UpdateObservationMapping(leaf, treeNum, mapper)
	}
}
