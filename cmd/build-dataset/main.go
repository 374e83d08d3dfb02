package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/alignment-data/runmatch/internal/dataset"
	"github.com/alignment-data/runmatch/internal/store"
)

func main() {
	var dbPath string
	var output string
	var negRatio float64
	var hardShare float64
	var seed int64

	flag.StringVar(&dbPath, "db", "runmatch.db", "path to sqlite db with matched pairs")
	flag.StringVar(&output, "output", "training_dataset.json.gz", "output dataset archive path")
	flag.Float64Var(&negRatio, "neg-ratio", 3.0, "negative:positive target ratio")
	flag.Float64Var(&hardShare, "hard-fraction", 0.6, "fraction of negatives mined as hard near-misses")
	flag.Int64Var(&seed, "seed", 42, "random seed for shuffle and easy-negative mining")
	flag.Parse()

	if negRatio <= 0 {
		log.Fatalf("neg-ratio must be positive, got %v", negRatio)
	}
	if hardShare < 0 || hardShare > 1 {
		log.Fatalf("hard-fraction must be in [0,1], got %v", hardShare)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer s.Close()

	cfg := dataset.DefaultBuildConfig()
	cfg.NegRatio = negRatio
	cfg.HardShare = hardShare
	cfg.Seed = seed

	d, err := dataset.Build(context.Background(), s, cfg)
	if err != nil {
		log.Fatalf("build dataset: %v", err)
	}

	if err := d.Save(output); err != nil {
		log.Fatalf("save dataset: %v", err)
	}

	pos, hard, easy := d.Counts()
	fmt.Printf("dataset %s: %d samples (%d positive, %d hard negative, %d easy negative) -> %s\n",
		d.BuildID, len(d.X), pos, hard, easy, output)
}
