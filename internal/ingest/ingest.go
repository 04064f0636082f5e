// Package ingest reads run histories and failure records from JSON, YAML
// and JUnit XML files.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"flaketrace/internal/flaky"
	"flaketrace/internal/rootcause"
)

// ErrEmpty is returned when a document decodes to nothing.
var ErrEmpty = errors.New("ingest: empty document")

// LoadInputs reads a batch of tests from a JSON or YAML file. The document
// is either a list of tests, a single test, or an object with a "tests" key.
func LoadInputs(path string) ([]flaky.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return ParseInputs(data, filepath.Ext(path))
}

// ParseInputs decodes inputs from bytes. ext is a format hint; empty means
// detect from the first non-space byte.
func ParseInputs(data []byte, ext string) ([]flaky.Input, error) {
	format := detect(data, ext)
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, ErrEmpty
	}

	var list []flaky.Input
	if err := unmarshal(format, data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Tests []flaky.Input `json:"tests" yaml:"tests"`
	}
	if err := unmarshal(format, data, &wrapped); err == nil && wrapped.Tests != nil {
		return wrapped.Tests, nil
	}
	var one flaky.Input
	if err := unmarshal(format, data, &one); err != nil {
		return nil, fmt.Errorf("parse inputs %s: %w", format, err)
	}
	if one.TestID == "" && one.TestName == "" && len(one.Runs) == 0 {
		return nil, ErrEmpty
	}
	return []flaky.Input{one}, nil
}

// failureDoc is a Failure with optional file references. Relative paths
// resolve against the document's directory.
type failureDoc struct {
	rootcause.Failure `yaml:",inline"`

	ScreenshotFiles *struct {
		Before string `json:"before" yaml:"before"`
		After  string `json:"after" yaml:"after"`
		Diff   string `json:"diff" yaml:"diff"`
	} `json:"screenshot_files,omitempty" yaml:"screenshot_files,omitempty"`
	DOMSnapshotFile string `json:"dom_snapshot_file,omitempty" yaml:"dom_snapshot_file,omitempty"`
	BaselineDOMFile string `json:"baseline_dom_file,omitempty" yaml:"baseline_dom_file,omitempty"`
}

// LoadFailure reads one failure record and any artifacts it references.
func LoadFailure(path string) (rootcause.Failure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rootcause.Failure{}, fmt.Errorf("read failure: %w", err)
	}
	return ParseFailure(data, filepath.Ext(path), filepath.Dir(path))
}

// ParseFailure decodes a failure record. Artifact file references resolve
// against dir.
func ParseFailure(data []byte, ext, dir string) (rootcause.Failure, error) {
	if strings.TrimSpace(string(data)) == "" {
		return rootcause.Failure{}, ErrEmpty
	}
	format := detect(data, ext)
	var doc failureDoc
	if err := unmarshal(format, data, &doc); err != nil {
		return rootcause.Failure{}, fmt.Errorf("parse failure %s: %w", format, err)
	}

	f := doc.Failure
	read := func(name string) ([]byte, error) {
		if name == "" {
			return nil, nil
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		return b, nil
	}
	if s := doc.ScreenshotFiles; s != nil {
		if f.Screenshots == nil {
			f.Screenshots = &rootcause.Screenshots{}
		}
		var err error
		for _, ref := range []struct {
			name string
			dst  *[]byte
		}{{s.Before, &f.Screenshots.Before}, {s.After, &f.Screenshots.After}, {s.Diff, &f.Screenshots.Diff}} {
			if ref.name == "" {
				continue
			}
			if *ref.dst, err = read(ref.name); err != nil {
				return rootcause.Failure{}, err
			}
		}
	}
	if doc.DOMSnapshotFile != "" {
		b, err := read(doc.DOMSnapshotFile)
		if err != nil {
			return rootcause.Failure{}, err
		}
		f.DOMSnapshot = string(b)
	}
	if doc.BaselineDOMFile != "" {
		b, err := read(doc.BaselineDOMFile)
		if err != nil {
			return rootcause.Failure{}, err
		}
		f.BaselineDOM = string(b)
	}
	return f, nil
}

func detect(data []byte, ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "json"
	}
	return "yaml"
}

func unmarshal(format string, data []byte, v any) error {
	if format == "json" {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}
