package label

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownTemplate = errors.New("unknown label template")

// validName restricts app and reference ids to names that are safe to use
// as file names.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Catalog loads label templates from <dir>/<app id>.json and caches them.
type Catalog struct {
	dir string

	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, schemas: make(map[string]*Schema)}
}

// Get returns the template for appID, reading it from disk on first use.
func (c *Catalog) Get(appID string) (*Schema, error) {
	if !validName.MatchString(appID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, appID)
	}

	c.mu.RLock()
	s, ok := c.schemas[appID]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	data, err := os.ReadFile(filepath.Join(c.dir, appID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, appID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read label template %s: %w", appID, err)
	}
	s, err = ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("label template %s: %w", appID, err)
	}

	c.mu.Lock()
	c.schemas[appID] = s
	c.mu.Unlock()
	return s, nil
}

// Reload drops cached templates so edits on disk are picked up.
func (c *Catalog) Reload() {
	c.mu.Lock()
	c.schemas = make(map[string]*Schema)
	c.mu.Unlock()
}

// List returns the app ids of all templates in the directory.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list label templates: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if id := strings.TrimSuffix(name, ".json"); validName.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
