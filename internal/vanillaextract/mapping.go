// Package vanillaextract resolves hashed class names for vanilla
// extract (.css.ts) stylesheets.
//
// The mappings are read from JSON files written by the bundler plugin:
// in development it writes them to a cache dir when the stylesheet is
// requested with ?writeStyleMappings=1, in production they are emitted
// next to the build. A class that cannot be resolved logs a warning and
// renders as an empty string rather than failing the page.
package vanillaextract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/logging"
)

const (
	devMappingsDir  = "development-css-mappings"
	prodMappingsDir = "production-css-mappings"
)

var cacheNamePattern = regexp.MustCompile(`[/.]`)

// cacheName flattens a relative stylesheet path into a single filename.
func cacheName(filename string) string {
	return cacheNamePattern.ReplaceAllString(filepath.ToSlash(filename), "_")
}

// Config configures a Resolver.
type Config struct {
	Bundler bundler.Bundler
	// CacheDir is where the dev bundler plugin writes mapping files and
	// import scripts.
	CacheDir string
	// ProductionDir is where the production build writes mapping files.
	ProductionDir string

	HTTPClient *http.Client
	Logger     logging.Logger
}

// Resolver loads and caches class mappings per stylesheet. It
// implements bundler.VanillaExtractResolver so ViteCSSEmbed can find
// the dev import script.
type Resolver struct {
	bundler       bundler.Bundler
	cacheDir      string
	productionDir string
	client        *http.Client
	logger        logging.Logger

	mu       sync.Mutex
	mappings map[string]*fileMapping
}

type fileMapping struct {
	// filename is relative to the bundler root.
	filename string
	// cacheFile holds the JSON class mapping.
	cacheFile string
	// importScript is the generated dev-mode script that imports the
	// css and sets up HMR. Empty in production.
	importScript string
	classes      map[string]string
}

func NewResolver(cfg Config) *Resolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{
		bundler:       cfg.Bundler,
		cacheDir:      cfg.CacheDir,
		productionDir: cfg.ProductionDir,
		client:        client,
		logger:        logger.WithComponent("vanillaextract"),
		mappings:      map[string]*fileMapping{},
	}
}

// resolve returns the mapping for path, loading it on first use. In
// development the mapping file is refreshed from the dev server each
// time so edits are picked up.
func (r *Resolver) resolve(ctx context.Context, path string) *fileMapping {
	rel := r.relative(path)
	r.mu.Lock()
	m, ok := r.mappings[rel]
	if !ok {
		name := cacheName(rel)
		m = &fileMapping{filename: rel}
		if r.bundler.IsDevelopment() {
			m.cacheFile = filepath.Join(r.cacheDir, devMappingsDir, name+".json")
			m.importScript = filepath.Join(r.cacheDir, devMappingsDir, name+".ts")
		} else {
			m.cacheFile = filepath.Join(r.productionDir, prodMappingsDir, name+".json")
		}
		r.mappings[rel] = m
	}
	r.mu.Unlock()

	if r.bundler.IsDevelopment() {
		r.refresh(ctx, m)
		r.load(ctx, m)
	} else if m.classes == nil {
		r.load(ctx, m)
	}
	return m
}

func (r *Resolver) relative(path string) string {
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(r.bundler.RootDir(), path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// refresh asks the dev server to write out the mapping file for the
// stylesheet. Mappings can go stale when the source changes, so this
// runs before each load.
func (r *Resolver) refresh(ctx context.Context, m *fileMapping) {
	url, err := r.bundler.GetURL(m.filename)
	if err != nil {
		r.logger.Warn(ctx, err, "could not build stylesheet URL", "filename", m.filename)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?writeStyleMappings=1", nil)
	if err != nil {
		r.logger.Warn(ctx, err, "could not build style mappings request", "filename", m.filename)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn(ctx, err, "failed to get requested stylesheet, is the dev server running?", "filename", m.filename)
		return
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		if _, err := os.Stat(m.cacheFile); err != nil {
			r.logger.Warn(ctx, nil, "stylesheet exists but class name mappings could not be extracted, try making a change to the file or restarting the dev server", "filename", m.filename)
		}
	case http.StatusNotFound:
		r.logger.Warn(ctx, nil, "requested stylesheet doesn't exist", "filename", m.filename)
	case http.StatusInternalServerError:
		r.logger.Warn(ctx, nil, "requested stylesheet could not be processed, check for syntax errors", "filename", m.filename)
	}
}

func (r *Resolver) load(ctx context.Context, m *fileMapping) {
	data, err := os.ReadFile(m.cacheFile)
	if err != nil {
		r.logger.Warn(ctx, err, "mapping file not found, no class names will be resolved", "filename", m.filename, "cacheFile", m.cacheFile)
		m.classes = nil
		return
	}
	var classes map[string]string
	if err := json.Unmarshal(data, &classes); err != nil {
		// in dev the file may be mid-write
		r.logger.Warn(ctx, err, "failed to parse mapping file", "cacheFile", m.cacheFile)
		return
	}
	m.classes = classes
}

// Class returns the hashed class name for name in the stylesheet at
// path. Unresolvable classes return "" so templates degrade rather
// than fail.
func (r *Resolver) Class(ctx context.Context, path string, name string) string {
	m := r.resolve(ctx, path)
	if m.classes == nil {
		r.logger.Warn(ctx, nil, "class name cannot be resolved because the mapping file was not found", "class", name, "filename", m.filename)
		return ""
	}
	hashed, ok := m.classes[name]
	if !ok {
		r.logger.Warn(ctx, nil, "requested class name does not exist", "class", name, "filename", m.filename, "known", strings.Join(sortedClassNames(m.classes), ", "))
		return ""
	}
	return hashed
}

// ImportScriptFilename returns the generated dev-mode import script for
// the stylesheet. Only available in development.
func (r *Resolver) ImportScriptFilename(ctx context.Context, path string) (string, error) {
	if !r.bundler.IsDevelopment() {
		return "", fmt.Errorf("import scripts are only generated in development")
	}
	m := r.resolve(ctx, path)
	if _, err := os.Stat(m.importScript); err != nil {
		return "", fmt.Errorf("no import script for %s: %w", m.filename, err)
	}
	return m.importScript, nil
}

func sortedClassNames(classes map[string]string) []string {
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
