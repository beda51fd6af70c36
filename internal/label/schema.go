// Package label renders TSPL2 label jobs from JSON templates and hands them
// to thermal printers.
package label

import (
	"encoding/json"
	"fmt"
	"sort"
)

const defaultDPI = 203

// Schema is a label template: page geometry, the elements to draw and the
// variables the elements may reference as {{name}}.
type Schema struct {
	Name      string                 `json:"name"`
	WidthMM   float64                `json:"width_mm"`
	HeightMM  float64                `json:"height_mm"`
	GapMM     float64                `json:"gap_mm"`
	DPI       int                    `json:"dpi"`
	Priority  int                    `json:"priority"`
	Elements  []Element              `json:"elements"`
	Variables map[string]VariableDef `json:"variables"`
}

// Element is one drawing command. Which fields apply depends on Type.
type Element struct {
	Type     string `json:"type"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Rotation int    `json:"rotation,omitempty"`
	Content  string `json:"content,omitempty"`

	// text, block and line
	Font   string `json:"font,omitempty"`
	XScale int    `json:"x_scale,omitempty"`
	YScale int    `json:"y_scale,omitempty"`
	Width  int    `json:"width,omitempty"`

	// barcode
	Symbology string `json:"symbology,omitempty"`
	Height    int    `json:"height,omitempty"`
	Narrow    int    `json:"narrow,omitempty"`
	Wide      int    `json:"wide,omitempty"`

	// qrcode
	Level     string `json:"level,omitempty"`
	CellWidth int    `json:"cell_width,omitempty"`

	// pdf417 and datamatrix
	Columns    int    `json:"columns,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	Security   int    `json:"security,omitempty"`
	ModuleSize int    `json:"module_size,omitempty"`
	Encoding   string `json:"encoding,omitempty"`

	// shapes
	XEnd      int `json:"x_end,omitempty"`
	YEnd      int `json:"y_end,omitempty"`
	Radius    int `json:"radius,omitempty"`
	XRadius   int `json:"x_radius,omitempty"`
	YRadius   int `json:"y_radius,omitempty"`
	Thickness int `json:"thickness,omitempty"`

	ImagePath string `json:"image_path,omitempty"`
}

type VariableDef struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default"`
}

// ParseSchema decodes a template and fills in defaults.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse label schema: %w", err)
	}
	if s.WidthMM <= 0 || s.HeightMM <= 0 {
		return nil, fmt.Errorf("label schema %q: width_mm and height_mm must be positive", s.Name)
	}
	if s.DPI == 0 {
		s.DPI = defaultDPI
	}
	return &s, nil
}

// Validate reports the first required variable that has neither a value
// nor a default.
func (s *Schema) Validate(vars map[string]string) error {
	for _, name := range s.RequiredVariables() {
		if vars[name] == "" && s.Variables[name].Default == "" {
			return fmt.Errorf("required variable '%s' is missing", name)
		}
	}
	return nil
}

// RequiredVariables is sorted by name.
func (s *Schema) RequiredVariables() []string {
	var names []string
	for name, def := range s.Variables {
		if def.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
