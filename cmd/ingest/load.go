package main

import (
	"github.com/vanshika/kgcommit/internal/document"
	"github.com/vanshika/kgcommit/internal/domain"
)

func loadGraphData(path string) (domain.GraphData, error) {
	var doc domain.GraphData
	if err := document.Decode(path, &doc); err != nil {
		return domain.GraphData{}, err
	}
	return doc, nil
}

func loadSchema(path string) (*domain.Schema, error) {
	var schema domain.Schema
	if err := document.Decode(path, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// writeResults writes a single annotated document as is and several as an
// array in input order. An empty path means stdout.
func writeResults(path string, results []domain.GraphData) error {
	if len(results) == 1 {
		return document.Write(path, results[0])
	}
	return document.Write(path, results)
}
