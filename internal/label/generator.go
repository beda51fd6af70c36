package label

import (
	"fmt"
	"regexp"
	"strings"
)

const MimeType = "application/x-tspl"

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Generate renders one TSPL2 program printing the label copies times.
func Generate(s *Schema, vars map[string]string, copies int) (string, error) {
	if err := s.Validate(vars); err != nil {
		return "", err
	}
	if copies < 1 {
		copies = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SIZE %s mm, %s mm\n", mm(s.WidthMM), mm(s.HeightMM))
	fmt.Fprintf(&sb, "GAP %s mm, 0 mm\n", mm(s.GapMM))
	sb.WriteString("DIRECTION 0\n")
	sb.WriteString("CLS\n")

	for i := range s.Elements {
		cmd, err := element(&s.Elements[i], func(text string) string { return substitute(text, vars, s) })
		if err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
		sb.WriteString(cmd)
		sb.WriteByte('\n')
	}

	fmt.Fprintf(&sb, "PRINT %d\n", copies)
	return sb.String(), nil
}

func element(e *Element, expand func(string) string) (string, error) {
	text := func() string { return escape(expand(e.Content)) }

	switch e.Type {
	case "text":
		return fmt.Sprintf(`TEXT %d,%d,"%s",%d,%d,%d,"%s"`,
			e.X, e.Y, or(e.Font, "3"), e.Rotation, orInt(e.XScale, 1), orInt(e.YScale, 1), text()), nil
	case "block":
		return fmt.Sprintf(`BLOCK %d,%d,%d,%d,"%s",%d,%d,%d,"%s"`,
			e.X, e.Y, e.Width, e.Height, or(e.Font, "3"), e.Rotation, orInt(e.XScale, 1), orInt(e.YScale, 1), text()), nil
	case "barcode":
		narrow := orInt(e.Narrow, 2)
		return fmt.Sprintf(`BARCODE %d,%d,"%s",%d,%d,%d,%d,%d,"%s"`,
			e.X, e.Y, or(e.Symbology, "128"), orInt(e.Height, 80), e.Rotation, narrow, orInt(e.Wide, 2), narrow, text()), nil
	case "qrcode":
		return fmt.Sprintf(`QRCODE %d,%d,%s,%d,A,%d,"%s"`,
			e.X, e.Y, or(e.Level, "M"), orInt(e.CellWidth, 4), e.Rotation, text()), nil
	case "pdf417":
		return fmt.Sprintf(`PDF417 %d,%d,%d,%d,%d,%d,%d,"%s"`,
			e.X, e.Y, orInt(e.Columns, 3), e.Rows, e.Security, orInt(e.ModuleSize, 2), e.Rotation, text()), nil
	case "datamatrix":
		return fmt.Sprintf(`DMATRIX %d,%d,%d,%d,%s,"%s"`,
			e.X, e.Y, orInt(e.ModuleSize, 2), e.Rotation, or(e.Encoding, "A"), text()), nil
	case "box":
		return fmt.Sprintf("BOX %d,%d,%d,%d,%d", e.X, e.Y, e.XEnd, e.YEnd, orInt(e.Thickness, 1)), nil
	case "line":
		return fmt.Sprintf("BAR %d,%d,%d,%d", e.X, e.Y, e.Width, orInt(e.Thickness, 1)), nil
	case "circle":
		return fmt.Sprintf("CIRCLE %d,%d,%d,%d", e.X, e.Y, e.Radius, orInt(e.Thickness, 1)), nil
	case "ellipse":
		return fmt.Sprintf("ELLIPSE %d,%d,%d,%d,%d", e.X, e.Y, e.XRadius, e.YRadius, orInt(e.Thickness, 1)), nil
	case "image":
		return fmt.Sprintf(`PUTBMP %d,%d,"%s"`, e.X, e.Y, escape(e.ImagePath)), nil
	default:
		return "", fmt.Errorf("unsupported element type %q", e.Type)
	}
}

// substitute replaces {{name}} with the supplied value, falling back to
// the variable's default. Unknown placeholders become empty.
func substitute(text string, vars map[string]string, s *Schema) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v := vars[name]; v != "" {
			return v
		}
		return s.Variables[name].Default
	})
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func escape(s string) string { return escaper.Replace(s) }

func mm(v float64) string { return fmt.Sprintf("%.0f", v) }

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
