package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vanshika/kgcommit/internal/document"
	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		schemaPath  = flag.String("schema", "", "schema file (JSON or YAML) to generate data for")
		vertices    = flag.Int("vertices", cfg.VerticesPerLabel, "number of vertices to generate per vertex label")
		edges       = flag.Int("edges", cfg.EdgesPerLabel, "number of edges to generate per edge label")
		faultChance = flag.Float64("fault-chance", cfg.FaultChance, "probability that a vertex is generated broken")
		seed        = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		output      = flag.String("output", "", "output file, .yaml/.yml for YAML; stdout when empty")
		omitSchema  = flag.Bool("omit-schema", false, "leave the schema out, producing a schema-free document")
	)
	flag.Parse()

	if *schemaPath == "" {
		fmt.Fprintln(os.Stderr, "-schema is required")
		flag.Usage()
		os.Exit(2)
	}

	var schema domain.Schema
	if err := document.Decode(*schemaPath, &schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load schema: %v\n", err)
		os.Exit(1)
	}

	genCfg := generator.Config{
		VerticesPerLabel: *vertices,
		EdgesPerLabel:    *edges,
		FaultChance:      clampProbability(*faultChance),
		Seed:             *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	gen, err := generator.New(genCfg, &schema)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid schema: %v\n", err)
		os.Exit(1)
	}
	dataset, err := gen.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if err := generator.WriteDataset(dataset, *output, *omitSchema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		fmt.Fprintf(os.Stdout, "Generated %d vertices (%d faulty), %d edges and %d triples into %s\n",
			len(dataset.Data.Vertices), dataset.Faults, len(dataset.Data.Edges), len(dataset.Data.Triples), *output)
	}
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
