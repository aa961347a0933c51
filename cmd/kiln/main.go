// Package main provides the Kiln ML training core CLI.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/train"
)

const version = "v0.0.1-dev"

type backend = *autodiff.Backend[*cpu.CPUBackend]

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("Kiln ML Training Core %s\n", version)
	case "check":
		runCheck(os.Args[2:])
	case "train":
		runTrain(os.Args[2:])
	case "eval":
		runEval(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("Kiln - Trainable Model Lifecycle for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version                 Show version")
	fmt.Println("  check -config FILE      Validate and print a training config")
	fmt.Println("  train -config FILE      Train the built-in classifier on CSV data")
	fmt.Println("  eval  -config FILE      Evaluate the built-in classifier on CSV data")
}

// runCheck loads a config file and prints the resolved settings, so config
// mistakes surface before a training run does.
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Training config YAML")
	fs.Parse(args)
	if *configPath == "" {
		log.Fatal("check: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("check: %v", err)
	}

	p := cfg.Params
	fmt.Printf("config %s is valid\n", *configPath)
	fmt.Printf("  optimizer: %s, lr=%g, accum=%d\n", p.Optimizer, p.LearningRate, p.GradientsAccumCount)
	if p.DecayType != "" {
		fmt.Printf("  decay: %s (duration=%d, start=%d, minimum=%g)\n",
			p.DecayType, p.DecayStepDuration, p.StartDecaySteps, p.MinimumLearningRate)
	}
	if p.Regularization != nil {
		fmt.Printf("  regularization: %s scale=%g\n", p.Regularization.Type, p.Regularization.Scale)
	}
	if p.ClipGradients != nil {
		fmt.Printf("  clip_gradients: %g\n", *p.ClipGradients)
	}
	if cfg.Data.Source != "" {
		fmt.Printf("  data: %s\n", cfg.Data.Source)
	}
}

// runTrain trains the built-in classifier: config supplies the optimization
// settings and the CSV data source (features columns, label last).
func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "Training config YAML")
	dataPath := fs.String("data", "", "CSV data file (overrides the config's data source)")
	epochs := fs.Int("epochs", 10, "Number of training epochs")
	batchSize := fs.Int("batch", 32, "Batch size")
	hidden := fs.Int("hidden", 32, "Hidden layer width")
	fs.Parse(args)

	session, pipeline := newSession(*configPath, *dataPath, *hidden)

	numBatches := pipeline.NumExamples() / *batchSize
	if numBatches == 0 {
		numBatches = 1
		*batchSize = pipeline.NumExamples()
	}
	for epoch := 1; epoch <= *epochs; epoch++ {
		var epochLoss float32
		for b := 0; b < numBatches; b++ {
			batch, err := pipeline.MakeFeatures([2]int{b * *batchSize, (b + 1) * *batchSize})
			if err != nil {
				log.Fatalf("train: batch: %v", err)
			}
			loss, _, err := session.TrainStep(batch, batch)
			if err != nil {
				log.Fatalf("train: step: %v", err)
			}
			epochLoss += loss
		}
		fmt.Printf("epoch %3d  step %4d  loss %.4f\n",
			epoch, session.Step(), epochLoss/float32(numBatches))
	}

	loss, metrics := evaluate(session, pipeline)
	fmt.Printf("final loss %.4f  accuracy %.1f%%\n", loss, metrics["accuracy"]*100)
}

// runEval builds a fresh (untrained) classifier over the CSV data and
// reports its loss and accuracy.
func runEval(args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	configPath := fs.String("config", "", "Training config YAML")
	dataPath := fs.String("data", "", "CSV data file (overrides the config's data source)")
	hidden := fs.Int("hidden", 32, "Hidden layer width")
	fs.Parse(args)

	session, pipeline := newSession(*configPath, *dataPath, *hidden)
	loss, metrics := evaluate(session, pipeline)
	fmt.Printf("loss %.4f  accuracy %.1f%%\n", loss, metrics["accuracy"]*100)
}

func newSession(configPath, dataPath string, hidden int) (*train.Session[backend], *data.TensorPipeline) {
	if configPath == "" {
		log.Fatal("-config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if dataPath == "" {
		dataPath = cfg.Data.Source
	}
	if dataPath == "" {
		log.Fatal("no data source: set data.source in the config or pass -data")
	}

	features, labels, numClasses, err := loadCSV(dataPath)
	if err != nil {
		log.Fatalf("data: %v", err)
	}
	pipeline := data.NewTensorPipeline(features, labels, numClasses)

	model := newMLP(pipeline, hidden, autodiff.New(cpu.New()))
	if err := model.Initialize(cfg.Data); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	session, err := train.NewSession[backend](model, cfg.Params)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	fmt.Printf("session %s: %d examples, %d classes, %d parameters\n",
		session.ID(), pipeline.NumExamples(), numClasses, model.Params().Len())
	return session, pipeline
}

func evaluate(session *train.Session[backend], pipeline *data.TensorPipeline) (float32, map[string]float64) {
	batch, err := pipeline.MakeFeatures([2]int{0, pipeline.NumExamples()})
	if err != nil {
		log.Fatalf("eval: batch: %v", err)
	}
	loss, metrics, err := session.Evaluate(batch, batch)
	if err != nil {
		log.Fatalf("eval: %v", err)
	}
	return loss, metrics
}

// loadCSV reads rows of float features with an integer class label in the
// last column. Class count is inferred from the largest label.
func loadCSV(path string) ([][]float32, []int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, 0, fmt.Errorf("%s: no rows", path)
	}

	features := make([][]float32, 0, len(rows))
	labels := make([]int64, 0, len(rows))
	numClasses := 0
	for i, row := range rows {
		if len(row) < 2 {
			return nil, nil, 0, fmt.Errorf("%s row %d: need at least one feature and a label", path, i+1)
		}
		feats := make([]float32, len(row)-1)
		for j, cell := range row[:len(row)-1] {
			v, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("%s row %d col %d: %w", path, i+1, j+1, err)
			}
			feats[j] = float32(v)
		}
		label, err := strconv.ParseInt(row[len(row)-1], 10, 64)
		if err != nil || label < 0 {
			return nil, nil, 0, fmt.Errorf("%s row %d: bad label %q", path, i+1, row[len(row)-1])
		}
		features = append(features, feats)
		labels = append(labels, label)
		if int(label)+1 > numClasses {
			numClasses = int(label) + 1
		}
	}
	return features, labels, numClasses, nil
}
