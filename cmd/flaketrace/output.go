package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"flaketrace/internal/flaky"
	"flaketrace/internal/format"
	"flaketrace/internal/ingest"
)

type outputKind struct {
	json bool
	mode format.Mode
}

func parseOutput(s string) (outputKind, error) {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return outputKind{json: true}, nil
	}
	m, err := format.ParseMode(s)
	if err != nil {
		return outputKind{}, fmt.Errorf("--output: want json, ascii or markdown, got %q", s)
	}
	return outputKind{mode: m}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isJUnit(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

// loadInputs reads tests from every path. JUnit reports are merged into one
// history per test; JSON and YAML documents are appended as-is.
func loadInputs(paths []string) ([]flaky.Input, error) {
	var (
		inputs []flaky.Input
		junit  []string
	)
	for _, p := range paths {
		if isJUnit(p) {
			junit = append(junit, p)
			continue
		}
		in, err := ingest.LoadInputs(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		inputs = append(inputs, in...)
	}
	if len(junit) > 0 {
		reports, err := ingest.LoadJUnit(junit...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, ingest.FromJUnit(reports...)...)
	}
	return inputs, nil
}
