package statement

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// LoadFile reads templates from a YAML (.yaml, .yml) or CUE (.cue) file.
func LoadFile(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statements: %w", err)
	}
	return Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Parse decodes templates in format "yaml" or "cue".
// The document must be a flat map of string keys to string templates.
func Parse(data []byte, format string) (Templates, error) {
	var t Templates
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML statements: %w", err)
		}
	case "cue":
		v := cuecontext.New().CompileBytes(data)
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE statements: %w", err)
		}
		if err := v.Decode(&t); err != nil {
			return nil, fmt.Errorf("failed to decode CUE statements: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported statements format %q: must be yaml or cue", format)
	}
	if t == nil {
		t = Templates{}
	}
	return t, nil
}
