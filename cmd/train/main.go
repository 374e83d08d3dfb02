package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/alignment-data/runmatch/internal/boost"
	"github.com/alignment-data/runmatch/internal/dataset"
	"github.com/alignment-data/runmatch/internal/store"
	"github.com/alignment-data/runmatch/internal/training"
)

func main() {
	var datasetPath string
	var dbPath string
	var artifactsDir string
	var paramsPath string
	var folds int
	var holdout float64
	var seed int64

	flag.StringVar(&datasetPath, "dataset", "", "path to a dataset archive built by build-dataset")
	flag.StringVar(&dbPath, "db", "", "path to sqlite db; builds a fresh dataset when -dataset is not given")
	flag.StringVar(&artifactsDir, "artifacts", "artifacts", "output directory for model artifacts")
	flag.StringVar(&paramsPath, "params", "", "optional JSON file overriding hyperparameters")
	flag.IntVar(&folds, "folds", 5, "stratified cross-validation fold count")
	flag.Float64Var(&holdout, "holdout", 0.2, "holdout fraction")
	flag.Int64Var(&seed, "seed", 42, "random seed for the split and fold assignment")
	flag.Parse()

	if datasetPath == "" && dbPath == "" {
		log.Fatalf("one of -dataset or -db must be provided")
	}
	if holdout <= 0 || holdout >= 1 {
		log.Fatalf("holdout must be in (0,1), got %v", holdout)
	}

	d, err := loadOrBuild(datasetPath, dbPath, seed)
	if err != nil {
		log.Fatalf("%v", err)
	}

	hp := boost.DefaultParams()
	if paramsPath != "" {
		data, err := os.ReadFile(paramsPath)
		if err != nil {
			log.Fatalf("read params: %v", err)
		}
		// Overrides are partial: unset fields keep their defaults.
		if err := json.Unmarshal(data, &hp); err != nil {
			log.Fatalf("parse params: %v", err)
		}
	}

	cfg := training.Config{Folds: folds, HoldoutFraction: holdout, Seed: seed}
	artifact, err := training.Train(d, hp, cfg)
	if err != nil {
		log.Fatalf("train: %v", err)
	}

	if err := artifact.Save(artifactsDir); err != nil {
		log.Fatalf("save artifacts: %v", err)
	}

	m := artifact.Metrics
	fmt.Printf("trained on %d samples: CV AUC %.4f +/- %.4f, holdout AUC %.4f -> %s\n",
		m.NumSamples, m.CVAUCMean, m.CVAUCStd, m.HoldoutAUC, artifactsDir)
}

func loadOrBuild(datasetPath, dbPath string, seed int64) (*dataset.Dataset, error) {
	if datasetPath != "" {
		d, err := dataset.Load(datasetPath)
		if err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
		return d, nil
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer s.Close()

	cfg := dataset.DefaultBuildConfig()
	cfg.Seed = seed
	d, err := dataset.Build(context.Background(), s, cfg)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	return d, nil
}
