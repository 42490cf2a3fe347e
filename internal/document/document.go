// Package document reads and writes graph data and schema files. The format
// follows the file extension: .yaml and .yml are YAML, anything else is JSON.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IsYAML reports whether path names a YAML file.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Decode reads path into target. JSON numbers are kept as json.Number so
// integer and float properties stay distinguishable.
func Decode(path string, target any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if IsYAML(path) {
		if err := yaml.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Write encodes v to path, or to stdout when path is empty (as indented JSON).
func Write(path string, v any) error {
	if path == "" {
		return Encode(os.Stdout, false, v)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(file, IsYAML(path), v); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Encode writes v to w as YAML or indented JSON.
func Encode(w io.Writer, asYAML bool, v any) error {
	if asYAML {
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return encoder.Close()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
