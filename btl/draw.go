package btl

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

//ModelDraw is one retained posterior sample: a tree ensemble together with
//the global parameters drawn in the same sweep and the outcome rescaling
//recorded at load time.
type ModelDraw struct {
	Trees      []*Tree
	SigmaSq    float64
	Tau        float64
	YbarOffset float64
	SdScale    float64
}

//NewModelDraw creates a draw of numTrees root-only trees.
func NewModelDraw(numTrees, leafDim int) *ModelDraw {
	d := &ModelDraw{Trees: make([]*Tree, numTrees), SdScale: 1}
	for j := range d.Trees {
		d.Trees[j] = NewTree(leafDim)
	}
	return d
}

//ResetTree replaces one tree with a fresh root-only tree.
func (d *ModelDraw) ResetTree(j, leafDim int) {
	d.Trees[j] = NewTree(leafDim)
}

//CloneFromExistingTree overwrites one slot with a deep copy of another tree.
func (d *ModelDraw) CloneFromExistingTree(j int, tree *Tree) {
	d.Trees[j] = tree.Clone()
}

//NumLeaves counts the leaves across the whole ensemble.
func (d *ModelDraw) NumLeaves() int {
	n := 0
	for _, tree := range d.Trees {
		n += tree.NumLeaves()
	}
	return n
}

//SumLeafSquared sums the squared leaf parameters across the ensemble, the
//statistic consumed by the hierarchical leaf scale update.
func (d *ModelDraw) SumLeafSquared() float64 {
	s := 0.0
	for _, tree := range d.Trees {
		for _, leaf := range tree.Leaves() {
			for _, v := range tree.LeafVector(leaf) {
				s += v * v
			}
		}
	}
	return s
}

//PredictRow sums the per-tree predictions for one covariate row and maps the
//result back onto the outcome scale.
func (d *ModelDraw) PredictRow(covariates *mat.Dense, basis *mat.Dense, row int) float64 {
	sum := 0.0
	for _, tree := range d.Trees {
		leaf := tree.LeafForRow(covariates, row)
		vals := tree.LeafVector(leaf)
		if basis == nil {
			sum += vals[0]
		} else {
			for k, v := range vals {
				sum += v * basis.At(row, k)
			}
		}
	}
	return sum*d.SdScale + d.YbarOffset
}

//serializedDraw is the on-disk form of a draw: every tree as a pre-order
//node list, followed by the global parameters.
type serializedDraw struct {
	Trees      [][]SerializedNode `json:"trees"`
	LeafDim    int                `json:"leaf_dim"`
	SigmaSq    float64            `json:"sigma_sq"`
	Tau        float64            `json:"tau"`
	YbarOffset float64            `json:"ybar_offset"`
	SdScale    float64            `json:"sd_scale"`
}

//Save writes the draw as indented JSON.
func (d *ModelDraw) Save(filename string) error {
	leafDim := 1
	if len(d.Trees) > 0 {
		leafDim = d.Trees[0].LeafDim()
	}
	out := serializedDraw{
		Trees:      make([][]SerializedNode, len(d.Trees)),
		LeafDim:    leafDim,
		SigmaSq:    d.SigmaSq,
		Tau:        d.Tau,
		YbarOffset: d.YbarOffset,
		SdScale:    d.SdScale,
	}
	for j, tree := range d.Trees {
		out.Trees[j] = tree.Serialize()
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal draw")
	}
	dest, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer func() { HandleError(dest.Close()) }()
	_, err = dest.Write(payload)
	return errors.Wrapf(err, "write %s", filename)
}

//LoadModelDraw reads a draw back from disk.
func LoadModelDraw(filename string) (*ModelDraw, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	defer func() { HandleError(source.Close()) }()

	var in serializedDraw
	if err := json.NewDecoder(source).Decode(&in); err != nil {
		return nil, errors.Wrapf(err, "decode %s", filename)
	}
	d := &ModelDraw{
		Trees:      make([]*Tree, len(in.Trees)),
		SigmaSq:    in.SigmaSq,
		Tau:        in.Tau,
		YbarOffset: in.YbarOffset,
		SdScale:    in.SdScale,
	}
	for j, nodes := range in.Trees {
		d.Trees[j] = DeserializeTree(nodes, in.LeafDim)
	}
	return d, nil
}
