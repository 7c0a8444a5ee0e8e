package btl

import (
	"log"
)

//RootNode is the id of the root of every tree.
const RootNode = 0

const noNode = -1

//SplitKind distinguishes the split rule carried by an internal node.
type SplitKind int32

const (
	SplitNone SplitKind = iota
	SplitNumericRule
	SplitCategoricalRule
)

//treeNode is one slot of the sparse node array. A leaf carries LeafValue and
//no children; an internal node carries a split rule and two child ids.
type treeNode struct {
	Parent     int
	Left       int
	Right      int
	Kind       SplitKind
	Feature    int
	Threshold  float64
	Categories []uint32
	LeafValue  []float64
	Deleted    bool
}

//Tree is a growable binary decision tree addressed by integer node ids.
//Deleted node slots are recycled through a free list so that ids stay small.
type Tree struct {
	nodes     []treeNode
	freeNodes []int
	leafDim   int
}

//NewTree creates a single-leaf tree with a zero leaf value of the given dimension.
func NewTree(leafDim int) *Tree {
	t := &Tree{leafDim: leafDim}
	t.nodes = append(t.nodes, treeNode{
		Parent:    noNode,
		Left:      noNode,
		Right:     noNode,
		Feature:   noNode,
		LeafValue: make([]float64, leafDim),
	})
	return t
}

//Reset collapses the tree back to a single zero-valued root leaf.
func (t *Tree) Reset() {
	t.nodes = t.nodes[:0]
	t.freeNodes = t.freeNodes[:0]
	t.nodes = append(t.nodes, treeNode{
		Parent:    noNode,
		Left:      noNode,
		Right:     noNode,
		Feature:   noNode,
		LeafValue: make([]float64, t.leafDim),
	})
}

//Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:     make([]treeNode, len(t.nodes)),
		freeNodes: append([]int(nil), t.freeNodes...),
		leafDim:   t.leafDim,
	}
	copy(c.nodes, t.nodes)
	for i := range c.nodes {
		c.nodes[i].Categories = append([]uint32(nil), t.nodes[i].Categories...)
		c.nodes[i].LeafValue = append([]float64(nil), t.nodes[i].LeafValue...)
	}
	return c
}

//LeafDim returns the dimension of the leaf parameter vector.
func (t *Tree) LeafDim() int { return t.leafDim }

//IsValidNode reports whether the id refers to a live node.
func (t *Tree) IsValidNode(id int) bool {
	return id >= 0 && id < len(t.nodes) && !t.nodes[id].Deleted
}

//IsLeaf reports whether a live node is a leaf.
func (t *Tree) IsLeaf(id int) bool {
	return t.IsValidNode(id) && t.nodes[id].Left == noNode
}

func (t *Tree) Parent(id int) int     { return t.nodes[id].Parent }
func (t *Tree) LeftChild(id int) int  { return t.nodes[id].Left }
func (t *Tree) RightChild(id int) int { return t.nodes[id].Right }

//SplitFeature returns the feature index of an internal node's rule.
func (t *Tree) SplitFeature(id int) int { return t.nodes[id].Feature }

//Threshold returns the numeric threshold of an internal node's rule.
func (t *Tree) Threshold(id int) float64 { return t.nodes[id].Threshold }

//SplitCategories returns the category set of a categorical split rule.
func (t *Tree) SplitCategories(id int) []uint32 { return t.nodes[id].Categories }

//RuleKind returns the split kind of a node (SplitNone for leaves).
func (t *Tree) RuleKind(id int) SplitKind { return t.nodes[id].Kind }

//Depth returns the number of edges from the root to a node.
func (t *Tree) Depth(id int) int {
	d := 0
	for t.nodes[id].Parent != noNode {
		id = t.nodes[id].Parent
		d++
	}
	return d
}

//Leaves lists the ids of all live leaves in increasing id order.
func (t *Tree) Leaves() []int {
	var leaves []int
	for id := range t.nodes {
		if t.IsLeaf(id) {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

//LeafParents lists the internal nodes whose both children are leaves.
func (t *Tree) LeafParents() []int {
	var parents []int
	for id := range t.nodes {
		if !t.IsValidNode(id) || t.IsLeaf(id) {
			continue
		}
		if t.IsLeaf(t.nodes[id].Left) && t.IsLeaf(t.nodes[id].Right) {
			parents = append(parents, id)
		}
	}
	return parents
}

func (t *Tree) NumLeaves() int      { return len(t.Leaves()) }
func (t *Tree) NumLeafParents() int { return len(t.LeafParents()) }

//NumValidNodes counts live nodes, leaves and internal alike.
func (t *Tree) NumValidNodes() int {
	n := 0
	for id := range t.nodes {
		if t.IsValidNode(id) {
			n++
		}
	}
	return n
}

//LeafValue returns the scalar value of a leaf (first component of the vector).
func (t *Tree) LeafValue(id int) float64 { return t.nodes[id].LeafValue[0] }

//LeafVector returns the leaf parameter vector.
func (t *Tree) LeafVector(id int) []float64 { return t.nodes[id].LeafValue }

//SetLeaf overwrites the scalar value of a leaf.
func (t *Tree) SetLeaf(id int, val float64) {
	if !t.IsLeaf(id) {
		log.Panicf("node %d is not a leaf", id)
	}
	t.nodes[id].LeafValue[0] = val
}

//SetLeafVector overwrites the parameter vector of a leaf.
func (t *Tree) SetLeafVector(id int, vals []float64) {
	if !t.IsLeaf(id) {
		log.Panicf("node %d is not a leaf", id)
	}
	if len(vals) != t.leafDim {
		log.Panicf("leaf vector of length %d does not match leaf dimension %d", len(vals), t.leafDim)
	}
	copy(t.nodes[id].LeafValue, vals)
}

func (t *Tree) allocateNode() int {
	if n := len(t.freeNodes); n > 0 {
		id := t.freeNodes[n-1]
		t.freeNodes = t.freeNodes[:n-1]
		t.nodes[id] = treeNode{
			Parent:    noNode,
			Left:      noNode,
			Right:     noNode,
			Feature:   noNode,
			LeafValue: make([]float64, t.leafDim),
		}
		return id
	}
	t.nodes = append(t.nodes, treeNode{
		Parent:    noNode,
		Left:      noNode,
		Right:     noNode,
		Feature:   noNode,
		LeafValue: make([]float64, t.leafDim),
	})
	return len(t.nodes) - 1
}

//ExpandNumeric turns a leaf into an internal node with a numeric split rule
//and returns the ids of the two fresh zero-valued child leaves.
func (t *Tree) ExpandNumeric(id, feature int, threshold float64) (left, right int) {
	if !t.IsLeaf(id) {
		log.Panicf("cannot expand node %d: not a leaf", id)
	}
	left = t.allocateNode()
	right = t.allocateNode()
	t.nodes[left].Parent = id
	t.nodes[right].Parent = id
	t.nodes[id].Left = left
	t.nodes[id].Right = right
	t.nodes[id].Kind = SplitNumericRule
	t.nodes[id].Feature = feature
	t.nodes[id].Threshold = threshold
	t.nodes[id].Categories = nil
	t.nodes[id].LeafValue = nil
	return left, right
}

//ExpandCategorical turns a leaf into an internal node routing the given
//category set to the left child.
func (t *Tree) ExpandCategorical(id, feature int, categories []uint32) (left, right int) {
	if !t.IsLeaf(id) {
		log.Panicf("cannot expand node %d: not a leaf", id)
	}
	left = t.allocateNode()
	right = t.allocateNode()
	t.nodes[left].Parent = id
	t.nodes[right].Parent = id
	t.nodes[id].Left = left
	t.nodes[id].Right = right
	t.nodes[id].Kind = SplitCategoricalRule
	t.nodes[id].Feature = feature
	t.nodes[id].Threshold = 0
	t.nodes[id].Categories = append([]uint32(nil), categories...)
	t.nodes[id].LeafValue = nil
	return left, right
}

//CollapseToLeaf converts an internal node whose both children are leaves back
//into a zero-valued leaf, recycling the child node ids.
func (t *Tree) CollapseToLeaf(id int) {
	left, right := t.nodes[id].Left, t.nodes[id].Right
	if left == noNode || !t.IsLeaf(left) || !t.IsLeaf(right) {
		log.Panicf("cannot collapse node %d: children are not both leaves", id)
	}
	t.nodes[left] = treeNode{Parent: noNode, Left: noNode, Right: noNode, Feature: noNode, Deleted: true}
	t.nodes[right] = treeNode{Parent: noNode, Left: noNode, Right: noNode, Feature: noNode, Deleted: true}
	t.freeNodes = append(t.freeNodes, right, left)
	t.nodes[id].Left = noNode
	t.nodes[id].Right = noNode
	t.nodes[id].Kind = SplitNone
	t.nodes[id].Feature = noNode
	t.nodes[id].Threshold = 0
	t.nodes[id].Categories = nil
	t.nodes[id].LeafValue = make([]float64, t.leafDim)
}

//SplitTrueNumeric reports whether a feature value routes to the left child.
func SplitTrueNumeric(featureValue, threshold float64) bool {
	return featureValue < threshold
}

//SplitTrueCategorical reports whether a category value belongs to the left set.
func SplitTrueCategorical(featureValue float64, categories []uint32) bool {
	v := uint32(featureValue)
	for _, c := range categories {
		if c == v {
			return true
		}
	}
	return false
}

//RouteLeft evaluates a node's split rule against one feature value.
func (t *Tree) RouteLeft(id int, featureValue float64) bool {
	if t.nodes[id].Kind == SplitCategoricalRule {
		return SplitTrueCategorical(featureValue, t.nodes[id].Categories)
	}
	return SplitTrueNumeric(featureValue, t.nodes[id].Threshold)
}

//LeafForRow walks the tree from the root for one covariate row and returns
//the id of the leaf the row falls into.
func (t *Tree) LeafForRow(covariates rowReader, row int) int {
	id := RootNode
	for !t.IsLeaf(id) {
		if t.RouteLeft(id, covariates.At(row, t.nodes[id].Feature)) {
			id = t.nodes[id].Left
		} else {
			id = t.nodes[id].Right
		}
	}
	return id
}

//rowReader is the minimal matrix access the tree needs for prediction.
type rowReader interface {
	At(i, j int) float64
}

//SerializedNode is the persisted form of one tree node.
type SerializedNode struct {
	ID         int       `json:"id"`
	Kind       SplitKind `json:"kind"`
	Feature    int       `json:"feature,omitempty"`
	Threshold  float64   `json:"threshold,omitempty"`
	Categories []uint32  `json:"categories,omitempty"`
	Leaf       []float64 `json:"leaf,omitempty"`
	Left       int       `json:"left"`
	Right      int       `json:"right"`
}

//Serialize flattens the tree into a pre-order node list.
func (t *Tree) Serialize() []SerializedNode {
	var out []SerializedNode
	var walk func(id int)
	walk = func(id int) {
		node := t.nodes[id]
		out = append(out, SerializedNode{
			ID:         id,
			Kind:       node.Kind,
			Feature:    node.Feature,
			Threshold:  node.Threshold,
			Categories: node.Categories,
			Leaf:       node.LeafValue,
			Left:       node.Left,
			Right:      node.Right,
		})
		if node.Left != noNode {
			walk(node.Left)
			walk(node.Right)
		}
	}
	walk(RootNode)
	return out
}

//DeserializeTree rebuilds a tree from its pre-order node list.
func DeserializeTree(nodes []SerializedNode, leafDim int) *Tree {
	maxID := 0
	for _, n := range nodes {
		if n.ID > maxID {
			maxID = n.ID
		}
	}
	t := &Tree{leafDim: leafDim, nodes: make([]treeNode, maxID+1)}
	live := make([]bool, maxID+1)
	for _, n := range nodes {
		t.nodes[n.ID] = treeNode{
			Parent:     noNode,
			Left:       n.Left,
			Right:      n.Right,
			Kind:       n.Kind,
			Feature:    n.Feature,
			Threshold:  n.Threshold,
			Categories: append([]uint32(nil), n.Categories...),
			LeafValue:  append([]float64(nil), n.Leaf...),
		}
		live[n.ID] = true
	}
	for id := range t.nodes {
		if !live[id] {
			t.nodes[id].Deleted = true
			t.freeNodes = append(t.freeNodes, id)
			continue
		}
		if t.nodes[id].Left != noNode {
			t.nodes[t.nodes[id].Left].Parent = id
			t.nodes[t.nodes[id].Right].Parent = id
		}
	}
	return t
}

//StructuralEqual reports whether two trees have the same live shape, split
//rules and leaf values.
func StructuralEqual(a, b *Tree) bool {
	var walk func(x, y int) bool
	walk = func(x, y int) bool {
		ax, by := a.nodes[x], b.nodes[y]
		if (ax.Left == noNode) != (by.Left == noNode) {
			return false
		}
		if ax.Left == noNode {
			if len(ax.LeafValue) != len(by.LeafValue) {
				return false
			}
			for i := range ax.LeafValue {
				if ax.LeafValue[i] != by.LeafValue[i] {
					return false
				}
			}
			return true
		}
		if ax.Kind != by.Kind || ax.Feature != by.Feature || ax.Threshold != by.Threshold {
			return false
		}
		if len(ax.Categories) != len(by.Categories) {
			return false
		}
		for i := range ax.Categories {
			if ax.Categories[i] != by.Categories[i] {
				return false
			}
		}
		return walk(ax.Left, by.Left) && walk(ax.Right, by.Right)
	}
	return walk(RootNode, RootNode)
}
