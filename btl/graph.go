package btl

import (
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//nodeGraphDescription renders the label of an internal node.
func (t *Tree) nodeGraphDescription(id int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("id: ", id))
	if t.RuleKind(id) == SplitCategoricalRule {
		sb.WriteString(fmt.Sprintf("f_%d in %v", t.SplitFeature(id), t.SplitCategories(id)))
	} else {
		sb.WriteString(fmt.Sprintf("f_%d < %6.5f", t.SplitFeature(id), t.Threshold(id)))
	}
	return sb.String()
}

//leafGraphDescription renders the label of a leaf node.
func (t *Tree) leafGraphDescription(id int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("id: ", id))
	sb.WriteString("[")
	for _, val := range t.LeafVector(id) {
		sb.WriteString(fmt.Sprintf("  %6.2f,\n", val))
	}
	sb.WriteString("]")
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, tree *Tree, nodeID int, parentNode *cgraph.Node) {
	currentNode, err := g.CreateNode(fmt.Sprint(nodeID))
	HandleError(err)

	if parentNode != nil {
		g.CreateEdge("", parentNode, currentNode)
	}

	if tree.IsLeaf(nodeID) {
		currentNode.Set("label", tree.leafGraphDescription(nodeID))
		currentNode.Set("shape", "box")
	} else {
		currentNode.Set("label", tree.nodeGraphDescription(nodeID))
		recurrentDraw(g, tree, tree.LeftChild(nodeID), currentNode)
		recurrentDraw(g, tree, tree.RightChild(nodeID), currentNode)
	}
}

//DrawGraph builds a graphviz graph of the tree.
func (t *Tree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	HandleError(err)

	recurrentDraw(graph, t, RootNode, nil)

	return graphViz, graph
}

//RenderTrees writes one figure per tree of the draw into a directory.
func (d *ModelDraw) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]

	for graphInd, currentTree := range d.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph := currentTree.DrawGraph()
		if err := graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename)); err != nil {
			return err
		}
	}
	return nil
}
