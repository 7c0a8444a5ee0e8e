package btl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func buildSampleTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree(1)
	left, right := tree.ExpandNumeric(RootNode, 0, 1.5)
	tree.SetLeaf(right, 0.75)
	catLeft, catRight := tree.ExpandCategorical(left, 1, []uint32{0, 2})
	tree.SetLeaf(catLeft, -0.25)
	tree.SetLeaf(catRight, 0.5)
	return tree
}

func TestTreeSerializationRoundTrip(t *testing.T) {
	tree := buildSampleTree(t)
	nodes := tree.Serialize()
	require.Equal(t, RootNode, nodes[0].ID, "serialization must be pre-order")

	rebuilt := DeserializeTree(nodes, 1)
	require.True(t, StructuralEqual(tree, rebuilt))
}

func TestModelDrawSaveLoad(t *testing.T) {
	draw := NewModelDraw(2, 1)
	draw.Trees[0] = buildSampleTree(t)
	draw.SigmaSq = 0.42
	draw.Tau = 1.7
	draw.YbarOffset = 3.5
	draw.SdScale = 2.0

	path := filepath.Join(t.TempDir(), "draw_0.json")
	require.NoError(t, draw.Save(path))

	loaded, err := LoadModelDraw(path)
	require.NoError(t, err)
	require.Equal(t, draw.SigmaSq, loaded.SigmaSq)
	require.Equal(t, draw.Tau, loaded.Tau)
	require.Equal(t, draw.YbarOffset, loaded.YbarOffset)
	require.Equal(t, draw.SdScale, loaded.SdScale)
	require.True(t, StructuralEqual(draw.Trees[0], loaded.Trees[0]))
	require.True(t, StructuralEqual(draw.Trees[1], loaded.Trees[1]))

	// Predictions must survive the round trip exactly.
	cov := mat.NewDense(3, 2, []float64{
		0, 0,
		2, 1,
		1, 2,
	})
	for row := 0; row < 3; row++ {
		require.Equal(t, draw.PredictRow(cov, nil, row), loaded.PredictRow(cov, nil, row))
	}
}

func TestPredictRowAppliesOutcomeScale(t *testing.T) {
	draw := NewModelDraw(1, 1)
	draw.Trees[0].SetLeaf(RootNode, 0.5)
	draw.YbarOffset = 10
	draw.SdScale = 4

	cov := mat.NewDense(1, 1, []float64{0})
	require.Equal(t, 12.0, draw.PredictRow(cov, nil, 0))
}

func TestTreeShapeQueries(t *testing.T) {
	tree := buildSampleTree(t)

	require.Equal(t, 3, tree.NumLeaves())
	require.Equal(t, 5, tree.NumValidNodes())
	require.Equal(t, []int{1}, tree.LeafParents(), "only the categorical node has two leaf children")
	require.Equal(t, 2, tree.Depth(tree.LeftChild(tree.LeftChild(RootNode))))

	// Rows route through both rules: feature 0 at 1.5, then categories {0, 2}.
	cov := mat.NewDense(2, 2, []float64{
		0, 2,
		0, 1,
	})
	require.Equal(t, -0.25, tree.LeafVector(tree.LeafForRow(cov, 0))[0])
	require.Equal(t, 0.5, tree.LeafVector(tree.LeafForRow(cov, 1))[0])
}
