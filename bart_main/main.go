package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/tarstars/bayes_additive_trees/btl"
)

func decodeConfig(srcConfig string, out interface{}) error {
	file, err := os.Open(srcConfig)
	if err != nil {
		return errors.Wrapf(err, "open config %s", srcConfig)
	}
	defer func() { btl.HandleError(file.Close()) }()

	return errors.Wrapf(json.NewDecoder(file).Decode(out), "decode config %s", srcConfig)
}

//TrainConfig describes one training run: the data files, the sampler knobs
//and the optional prediction output.
type TrainConfig struct {
	CovariatesFile     string   `json:"filename_covariates"`
	OutcomeFile        string   `json:"filename_outcome"`
	BasisFile          string   `json:"filename_basis"`
	FeatureKinds       []string `json:"feature_kinds"`
	PredictFile        string   `json:"filename_predict_covariates"`
	PredictBasisFile   string   `json:"filename_predict_basis"`
	PredictionOutFile  string   `json:"filename_prediction"`
	Sampler            btl.Config `json:"sampler"`
}

func outcomeVector(m *mat.Dense) ([]float64, error) {
	h, w := m.Dims()
	if w != 1 {
		return nil, errors.Newf("outcome file must hold a single column, got %d", w)
	}
	out := make([]float64, h)
	for i := 0; i < h; i++ {
		out[i] = m.At(i, 0)
	}
	return out, nil
}

func featureKinds(names []string, numCovariates int) ([]btl.FeatureKind, error) {
	if len(names) == 0 {
		kinds := make([]btl.FeatureKind, numCovariates)
		return kinds, nil
	}
	if len(names) != numCovariates {
		return nil, errors.Newf("%d feature kinds for %d covariate columns", len(names), numCovariates)
	}
	kinds := make([]btl.FeatureKind, len(names))
	for j, name := range names {
		kind, err := btl.ParseFeatureKind(name)
		if err != nil {
			return nil, err
		}
		kinds[j] = kind
	}
	return kinds, nil
}

func train(srcConfig string) error {
	var trainConfig TrainConfig
	if err := decodeConfig(srcConfig, &trainConfig); err != nil {
		return err
	}

	log.Print("\ttry to load covariates <", trainConfig.CovariatesFile, ">")
	covariates, err := btl.ReadNpy(trainConfig.CovariatesFile)
	if err != nil {
		return err
	}
	log.Print("\ttry to load outcome <", trainConfig.OutcomeFile, ">")
	outcomeMat, err := btl.ReadNpy(trainConfig.OutcomeFile)
	if err != nil {
		return err
	}
	outcome, err := outcomeVector(outcomeMat)
	if err != nil {
		return err
	}
	_, numCovariates := covariates.Dims()
	kinds, err := featureKinds(trainConfig.FeatureKinds, numCovariates)
	if err != nil {
		return err
	}

	runner, err := btl.NewRunner(trainConfig.Sampler)
	if err != nil {
		return err
	}
	if err := runner.LoadTrain(covariates, outcome, kinds); err != nil {
		return err
	}
	if trainConfig.BasisFile != "" {
		basis, err := btl.ReadNpy(trainConfig.BasisFile)
		if err != nil {
			return err
		}
		if err := runner.LoadTrainBasis(basis); err != nil {
			return err
		}
	}
	if trainConfig.PredictFile != "" {
		predictCov, err := btl.ReadNpy(trainConfig.PredictFile)
		if err != nil {
			return err
		}
		if err := runner.LoadPredict(predictCov); err != nil {
			return err
		}
		if trainConfig.PredictBasisFile != "" {
			predictBasis, err := btl.ReadNpy(trainConfig.PredictBasisFile)
			if err != nil {
				return err
			}
			if err := runner.LoadPredictBasis(predictBasis); err != nil {
				return err
			}
		}
	}

	if err := runner.Run(); err != nil {
		return err
	}

	if trainConfig.PredictFile != "" && trainConfig.PredictionOutFile != "" {
		prediction, err := runner.Predict()
		if err != nil {
			return err
		}
		rows := len(prediction) / runner.NumRetainedDraws()
		return btl.WriteNpy(trainConfig.PredictionOutFile, mat.NewDense(runner.NumRetainedDraws(), rows, prediction))
	}
	return nil
}

//PredictConfig evaluates previously saved draws on new covariates.
type PredictConfig struct {
	DrawFiles         []string `json:"filenames_draws"`
	CovariatesFile    string   `json:"filename_covariates"`
	BasisFile         string   `json:"filename_basis"`
	PredictionOutFile string   `json:"filename_prediction"`
}

func predict(srcConfig string) error {
	var predictConfig PredictConfig
	if err := decodeConfig(srcConfig, &predictConfig); err != nil {
		return err
	}
	if len(predictConfig.DrawFiles) == 0 {
		return errors.New("no draw files listed")
	}

	covariates, err := btl.ReadNpy(predictConfig.CovariatesFile)
	if err != nil {
		return err
	}
	var basis *mat.Dense
	if predictConfig.BasisFile != "" {
		if basis, err = btl.ReadNpy(predictConfig.BasisFile); err != nil {
			return err
		}
	}

	h, _ := covariates.Dims()
	prediction := mat.NewDense(len(predictConfig.DrawFiles), h, nil)
	for j, filename := range predictConfig.DrawFiles {
		draw, err := btl.LoadModelDraw(filename)
		if err != nil {
			return err
		}
		for row := 0; row < h; row++ {
			prediction.Set(j, row, draw.PredictRow(covariates, basis, row))
		}
	}
	return btl.WriteNpy(predictConfig.PredictionOutFile, prediction)
}

//RenderConfig draws the trees of one saved draw as figures.
type RenderConfig struct {
	DrawFile          string `json:"filename_draw"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix"`
}

func render(srcConfig string) error {
	var renderConfig RenderConfig
	if err := decodeConfig(srcConfig, &renderConfig); err != nil {
		return err
	}
	draw, err := btl.LoadModelDraw(renderConfig.DrawFile)
	if err != nil {
		return err
	}
	if renderConfig.FigureType == "" {
		renderConfig.FigureType = "svg"
	}
	if renderConfig.DumpPrefix == "" {
		renderConfig.DumpPrefix = "tree"
	}
	return draw.RenderTrees(renderConfig.DumpPrefix, renderConfig.FigureType, renderConfig.PicturesDirectory)
}

func commandWithConfig(use, short string, run func(string) error) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", use+"_config.json", "config file for this command")
	return cmd
}

func cliParser() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bart_main",
		Short: "bart_main draws posterior samples of a sum-of-trees regression model",
	}
	rootCmd.AddCommand(
		commandWithConfig("train", "run the sampler on a training dataset", train),
		commandWithConfig("predict", "evaluate saved draws on new covariates", predict),
		commandWithConfig("render", "render the trees of a saved draw", render),
	)
	return rootCmd
}

func main() {
	if err := cliParser().Execute(); err != nil {
		log.Fatal(err)
	}
}
