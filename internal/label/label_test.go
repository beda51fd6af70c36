package label

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shippingTemplate = `{
	"name": "shipping",
	"width_mm": 100,
	"height_mm": 50,
	"gap_mm": 3,
	"priority": 2,
	"elements": [
		{"type": "text", "x": 10, "y": 10, "content": "To: {{name}}"},
		{"type": "barcode", "x": 10, "y": 60, "content": "{{tracking}}"},
		{"type": "qrcode", "x": 300, "y": 10, "content": "{{tracking}}", "level": "H"},
		{"type": "box", "x": 0, "y": 0, "x_end": 790, "y_end": 390, "thickness": 3}
	],
	"variables": {
		"name": {"type": "string", "required": true},
		"tracking": {"type": "barcode", "required": true},
		"note": {"type": "string", "default": "fragile"}
	}
}`

func writeTemplate(t *testing.T, dir, app, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, app+".json"), []byte(body), 0o644))
}

func TestGenerate(t *testing.T) {
	s, err := ParseSchema([]byte(shippingTemplate))
	require.NoError(t, err)
	assert.Equal(t, defaultDPI, s.DPI)

	out, err := Generate(s, map[string]string{"name": `Ada "AL" Lovelace`, "tracking": "1Z999"}, 2)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"SIZE 100 mm, 50 mm",
		"GAP 3 mm, 0 mm",
		"DIRECTION 0",
		"CLS",
		`TEXT 10,10,"3",0,1,1,"To: Ada \"AL\" Lovelace"`,
		`BARCODE 10,60,"128",80,0,2,2,2,"1Z999"`,
		`QRCODE 300,10,H,4,A,0,"1Z999"`,
		"BOX 0,0,790,390,3",
		"PRINT 2",
	}, lines)
}

func TestGenerate_MissingRequiredVariable(t *testing.T) {
	s, err := ParseSchema([]byte(shippingTemplate))
	require.NoError(t, err)

	_, err = Generate(s, map[string]string{"name": "x"}, 1)
	assert.ErrorContains(t, err, "tracking")
}

func TestGenerate_DefaultsAndUnsupported(t *testing.T) {
	s := &Schema{
		WidthMM: 50, HeightMM: 25,
		Elements:  []Element{{Type: "text", Content: "{{note}}{{unknown}}"}},
		Variables: map[string]VariableDef{"note": {Default: "fragile"}},
	}
	out, err := Generate(s, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, out, `"fragile"`)
	assert.Contains(t, out, "PRINT 1")

	s.Elements = append(s.Elements, Element{Type: "hologram"})
	_, err = Generate(s, nil, 1)
	assert.ErrorContains(t, err, "hologram")
}

func TestParseSchema_Invalid(t *testing.T) {
	_, err := ParseSchema([]byte(`{`))
	assert.Error(t, err)
	_, err = ParseSchema([]byte(`{"name":"flat","width_mm":0,"height_mm":10}`))
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "shipping", shippingTemplate)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignore"), 0o644))

	c := NewCatalog(dir)
	s, err := c.Get("shipping")
	require.NoError(t, err)
	assert.Equal(t, "shipping", s.Name)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	_, err = c.Get("../etc/passwd")
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	ids, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"shipping"}, ids)

	// Cached until reloaded.
	writeTemplate(t, dir, "shipping", strings.Replace(shippingTemplate, `"priority": 2`, `"priority": 9`, 1))
	s, err = c.Get("shipping")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Priority)
	c.Reload()
	s, err = c.Get("shipping")
	require.NoError(t, err)
	assert.Equal(t, 9, s.Priority)
}

func newTestRenderer(t *testing.T, printer *Printer) *Renderer {
	t.Helper()
	templates := t.TempDir()
	writeTemplate(t, templates, "shipping", shippingTemplate)
	return NewRenderer(NewCatalog(templates), t.TempDir(), printer)
}

func TestRenderJob_WritesReport(t *testing.T) {
	r := newTestRenderer(t, nil)

	job, err := r.NewJob(Request{
		ReferenceID: "order-42",
		AppID:       "shipping",
		Variables:   map[string]string{"name": "Ada", "tracking": "1Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Priority())
	assert.Equal(t, "order-42", job.ReferenceID())
	assert.Equal(t, "shipping", job.AppID())

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.ReportPath("order-42"), res.ReportURI)
	assert.Equal(t, MimeType, res.MimeType)

	data, err := os.ReadFile(res.ReportURI)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"To: Ada"`)

	entries, err := os.ReadDir(filepath.Dir(res.ReportURI))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRenderer_NewJobRejects(t *testing.T) {
	r := newTestRenderer(t, nil)
	vars := map[string]string{"name": "Ada", "tracking": "1Z"}
	override := 7

	job, err := r.NewJob(Request{ReferenceID: "p", AppID: "shipping", Variables: vars, Priority: &override})
	require.NoError(t, err)
	assert.Equal(t, 7, job.Priority())

	_, err = r.NewJob(Request{ReferenceID: "a/b", AppID: "shipping", Variables: vars})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.NewJob(Request{ReferenceID: "x", AppID: "nope", Variables: vars})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	_, err = r.NewJob(Request{ReferenceID: "x", AppID: "shipping"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.NewJob(Request{ReferenceID: "x", AppID: "shipping", Variables: vars, Copies: 5000})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRenderJob_CancelledContext(t *testing.T) {
	r := newTestRenderer(t, nil)
	job, err := r.NewJob(Request{ReferenceID: "c", AppID: "shipping", Variables: map[string]string{"name": "A", "tracking": "1"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(r.ReportPath("c"))
	assert.True(t, os.IsNotExist(statErr))
}

// fakePrinter answers status queries with status and records everything
// else it receives.
func fakePrinter(t *testing.T, status string) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_ = c.SetDeadline(time.Now().Add(2 * time.Second))
				head := make([]byte, len(statusCommand))
				n, _ := io.ReadFull(c, head)
				if string(head[:n]) == statusCommand {
					c.Write([]byte(status))
					return
				}
				rest, _ := io.ReadAll(c)
				ch <- string(head[:n]) + string(rest)
			}(conn)
		}
	}()
	return ln.Addr().String(), ch
}

func TestRenderJob_SendsToPrinter(t *testing.T) {
	addr, received := fakePrinter(t, "@@@@")
	r := newTestRenderer(t, &Printer{Timeout: time.Second, CheckStatus: true})

	job, err := r.NewJob(Request{
		ReferenceID: "net-1",
		AppID:       "shipping",
		Variables:   map[string]string{"name": "Ada", "tracking": "1Z"},
		Printer:     addr,
	})
	require.NoError(t, err)
	_, err = job.Run(context.Background())
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.True(t, strings.HasPrefix(got, "SIZE 100 mm"))
		assert.Contains(t, got, "PRINT 1")
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestPrinter_RefusesWhenPaused(t *testing.T) {
	addr, _ := fakePrinter(t, "P@@@")
	p := &Printer{Timeout: time.Second, CheckStatus: true}

	st, err := p.Status(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "paused", st.State)
	assert.False(t, st.CanPrint)

	err = p.Send(context.Background(), addr, "PRINT 1\n")
	assert.ErrorIs(t, err, ErrPrinterCannotPrint)
}

func TestPrinter_Offline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = (&Printer{Timeout: 200 * time.Millisecond}).Send(context.Background(), addr, "PRINT 1\n")
	assert.ErrorIs(t, err, ErrPrinterOffline)
}

func TestParseStatus(t *testing.T) {
	st := parseStatus([]byte("@A@A"))
	assert.Equal(t, "normal", st.State)
	assert.Equal(t, "paper_low", st.Warning)
	assert.Equal(t, "paper_empty", st.MediaError)
	assert.False(t, st.CanPrint)

	assert.Equal(t, "unknown", parseStatus([]byte("Z@@@")).State)
}

func TestPurgeReports(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.tspl")
	fresh := filepath.Join(dir, "fresh.tspl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	n, err := PurgeReports(dir, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)

	n, err = PurgeReports(filepath.Join(dir, "absent"), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
