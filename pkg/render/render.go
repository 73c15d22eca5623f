// Package render turns an analysis.Report into text, JSON or YAML.
// Renderers read the report only; they never recompute statistics.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/logflow/oplog/pkg/analysis"
)

// Format names an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats in help order.
var Formats = []Format{FormatText, FormatJSON, FormatYAML}

// Renderer writes a report.
type Renderer interface {
	Render(w io.Writer, r *analysis.Report) error
}

// Options tune the text renderer.
type Options struct {
	Color    bool
	BarWidth int
}

// New returns the renderer for format.
func New(format string, opts Options) (Renderer, error) {
	switch Format(format) {
	case FormatText, "":
		if opts.BarWidth <= 0 {
			opts.BarWidth = 30
		}
		return &textRenderer{opts: opts}, nil
	case FormatJSON:
		return jsonRenderer{}, nil
	case FormatYAML:
		return yamlRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

type jsonRenderer struct{}

func (jsonRenderer) Render(w io.Writer, r *analysis.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type yamlRenderer struct{}

func (yamlRenderer) Render(w io.Writer, r *analysis.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
