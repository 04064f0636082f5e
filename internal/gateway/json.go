package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema for structured responses.
type Schema struct {
	compiled *gojsonschema.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(src string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{compiled: s}, nil
}

// MustSchema is NewSchema for package-level schemas.
func MustSchema(src string) *Schema {
	s, err := NewSchema(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	res, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !res.Valid() {
		msgs := make([]string, len(res.Errors()))
		for i, desc := range res.Errors() {
			msgs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrMalformedResponse, strings.Join(msgs, "; "))
	}
	return nil
}

// GenerateJSON asks a for a structured answer, extracts the first JSON
// object from the reply, validates it against schema (when non-nil) and
// unmarshals it into out.
func GenerateJSON(ctx context.Context, a Assistant, prompt string, schema *Schema, out any) error {
	text, err := a.GenerateAnalysis(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate analysis: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyResponse
	}
	raw, ok := ExtractJSON(text)
	if !ok {
		return fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}
	if schema != nil {
		if err := schema.Validate([]byte(raw)); err != nil {
			return err
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object in text. Markdown code
// fences around it are ignored.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
