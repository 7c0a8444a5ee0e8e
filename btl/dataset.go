package btl

import (
	"math"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//FeatureKind describes how a covariate column is interpreted by the samplers.
type FeatureKind int32

const (
	FeatureNumeric FeatureKind = iota
	FeatureOrderedCategorical
	FeatureUnorderedCategorical
)

//ParseFeatureKind converts a config string into a FeatureKind.
func ParseFeatureKind(name string) (FeatureKind, error) {
	switch name {
	case "numeric":
		return FeatureNumeric, nil
	case "ordered_categorical":
		return FeatureOrderedCategorical, nil
	case "unordered_categorical":
		return FeatureUnorderedCategorical, nil
	}
	return FeatureNumeric, errors.Newf("unknown feature kind %q", name)
}

//Dataset bundles the covariate matrix, the outcome and the mutable residual
//used by the tree samplers. The covariates and the outcome never change after
//construction; only the residual is rewritten as trees enter and leave the fit.
type Dataset struct {
	Covariates *mat.Dense
	Basis      *mat.Dense
	Outcome    []float64
	Residual   []float64
	Kinds      []FeatureKind

	basisOuter *tensor.Dense
}

//NewDataset validates the raw training arrays and assembles a Dataset.
//The residual starts as a copy of the outcome.
func NewDataset(covariates *mat.Dense, outcome []float64, kinds []FeatureKind) (*Dataset, error) {
	if covariates == nil {
		return nil, errors.New("covariate matrix is required")
	}
	h, w := covariates.Dims()
	if h < 1 || w < 1 {
		return nil, errors.Newf("covariate matrix must be at least 1x1, got %dx%d", h, w)
	}
	if len(outcome) > 0 && len(outcome) != h {
		return nil, errors.Newf("outcome length %d does not match %d covariate rows", len(outcome), h)
	}
	if len(kinds) != w {
		return nil, errors.Newf("feature kind vector length %d does not match %d covariate columns", len(kinds), w)
	}
	for j, kind := range kinds {
		switch kind {
		case FeatureNumeric, FeatureOrderedCategorical, FeatureUnorderedCategorical:
		default:
			return nil, errors.Newf("feature %d has unknown kind %d", j, kind)
		}
		for i := 0; i < h; i++ {
			v := covariates.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Newf("covariate (%d, %d) is not finite", i, j)
			}
			if kind != FeatureNumeric && (v < 0 || v != math.Trunc(v)) {
				return nil, errors.Newf("categorical feature %d has non-integer value %g at row %d", j, v, i)
			}
		}
	}
	for i, v := range outcome {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Newf("outcome at row %d is not finite", i)
		}
	}

	ds := &Dataset{
		Covariates: covariates,
		Outcome:    append([]float64(nil), outcome...),
		Residual:   append([]float64(nil), outcome...),
		Kinds:      append([]FeatureKind(nil), kinds...),
	}
	return ds, nil
}

//SetBasis attaches a leaf regression basis and precomputes the per-row outer
//products consumed by the multivariate sufficient statistics.
func (ds *Dataset) SetBasis(basis *mat.Dense) error {
	h, d := basis.Dims()
	if h != ds.NumObservations() {
		return errors.Newf("basis height %d does not match %d observations", h, ds.NumObservations())
	}
	ds.Basis = basis
	ds.basisOuter = tensor.New(tensor.WithShape(h, d, d), tensor.Of(tensor.Float64))
	for p := 0; p < h; p++ {
		for q := 0; q < d; q++ {
			for r := 0; r < d; r++ {
				HandleError(ds.basisOuter.SetAt(basis.At(p, q)*basis.At(p, r), p, q, r))
			}
		}
	}
	return nil
}

//NumObservations returns the number of rows in the dataset.
func (ds *Dataset) NumObservations() int {
	h, _ := ds.Covariates.Dims()
	return h
}

//NumCovariates returns the number of covariate columns.
func (ds *Dataset) NumCovariates() int {
	_, w := ds.Covariates.Dims()
	return w
}

//BasisDim returns the width of the regression basis, or zero without one.
func (ds *Dataset) BasisDim() int {
	if ds.Basis == nil {
		return 0
	}
	_, d := ds.Basis.Dims()
	return d
}

//BasisOuter returns the (p, q) entry of the precomputed outer product for one row.
func (ds *Dataset) BasisOuter(row, p, q int) float64 {
	element, err := ds.basisOuter.At(row, p, q)
	HandleError(err)
	return element.(float64)
}

func (ds *Dataset) ResidualAdd(row int, val float64)      { ds.Residual[row] += val }
func (ds *Dataset) ResidualSubtract(row int, val float64) { ds.Residual[row] -= val }

//ResidualReset rewrites every residual entry back to the outcome value.
func (ds *Dataset) ResidualReset() {
	copy(ds.Residual, ds.Outcome)
}

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fileName)
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy header of %s", fileName)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, errors.Wrapf(err, "read npy payload of %s", fileName)
	}
	return denseMat, nil
}

//WriteNpy dumps a dense matrix into an npy file.
func WriteNpy(fileName string, m *mat.Dense) error {
	dst, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "create %s", fileName)
	}
	defer func() { HandleError(dst.Close()) }()
	return errors.Wrapf(npyio.Write(dst, m), "write %s", fileName)
}
