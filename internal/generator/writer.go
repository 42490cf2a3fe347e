package generator

import (
	"fmt"

	"github.com/vanshika/kgcommit/internal/document"
)

// WriteDataset serializes the generated graph data to path, as YAML when the
// extension asks for it and JSON otherwise. An empty path writes to stdout.
// The schema is left out when omitSchema is set, which yields a schema-free
// document of vertices, edges and triples.
func WriteDataset(dataset Dataset, path string, omitSchema bool) error {
	data := dataset.Data
	if omitSchema {
		data.Schema = nil
	}
	if err := document.Write(path, data); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}
