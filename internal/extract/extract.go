// Package extract statically collects the frontend assets referenced by
// an application so they can be fed to the production build. It scans
// template sources for asset references, unions them with the asset
// registry and resolves everything through the bundler's resolver chain.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alliancesoftware/apfrontend/internal/assets"
	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// assetReferencePattern matches quoted references to bundleable files.
// Scanning is purely lexical; anything that looks like an asset path is
// a candidate and the resolver chain decides whether it's real.
var assetReferencePattern = regexp.MustCompile("[\"'`]([^\"'`\\s]+[.](?:tsx|ts|jsx|js|mjs|css|scss|svg|png|jpg|jpeg|gif|webp|woff|woff2))[\"'`]")

// defaultScanExtensions are the source files scanned for references.
var defaultScanExtensions = []string{".templ", ".go", ".html"}

// defaultExcludeDirs are always skipped while walking template dirs.
var defaultExcludeDirs = []string{"node_modules", ".git", "vendor"}

// Config configures an Extractor.
type Config struct {
	Bundler bundler.Bundler
	// Registry contributes assets that can't be found by scanning.
	// Optional.
	Registry *assets.Registry
	// TemplateDirs are the directories scanned for asset references.
	// Relative paths are taken from the bundler root.
	TemplateDirs []string
	// ExcludeDirs are directory names skipped during the walk, in
	// addition to node_modules, .git and vendor.
	ExcludeDirs []string
	// ScanExtensions overrides the file extensions scanned
	// (default .templ, .go, .html).
	ScanExtensions []string
	Logger         logging.Logger
}

// Extractor finds the asset entry points an application needs built.
type Extractor struct {
	bundler        bundler.Bundler
	registry       *assets.Registry
	templateDirs   []string
	excludeDirs    map[string]bool
	scanExtensions map[string]bool
	logger         logging.Logger
}

func New(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	excludes := map[string]bool{}
	for _, dir := range append(append([]string{}, defaultExcludeDirs...), cfg.ExcludeDirs...) {
		excludes[dir] = true
	}
	scanExts := cfg.ScanExtensions
	if len(scanExts) == 0 {
		scanExts = defaultScanExtensions
	}
	extensions := map[string]bool{}
	for _, ext := range scanExts {
		extensions[ext] = true
	}
	return &Extractor{
		bundler:        cfg.Bundler,
		registry:       cfg.Registry,
		templateDirs:   cfg.TemplateDirs,
		excludeDirs:    excludes,
		scanExtensions: extensions,
		logger:         logger.WithComponent("extract"),
	}
}

// reference is a candidate asset path and the file it was found in.
type reference struct {
	path       string
	sourcePath string
}

// Collect scans the template dirs and the registry and returns the
// root-relative paths of every resolvable asset, sorted and deduplicated.
// References that don't resolve to a file are skipped; dynamically built
// paths can't be seen statically and belong in the registry instead.
func (e *Extractor) Collect(ctx context.Context) ([]string, error) {
	rootDir := e.bundler.RootDir()
	var refs []reference
	for _, dir := range e.templateDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(rootDir, dir)
		}
		dirRefs, err := e.scanDir(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		refs = append(refs, dirRefs...)
	}

	found := map[string]bool{}
	for _, ref := range refs {
		resolved, err := e.bundler.ResolvePath(ref.path, bundler.ResolveContext{
			RootDir:    rootDir,
			SourcePath: ref.sourcePath,
		}, nil)
		if err != nil {
			e.logger.Debug(ctx, "skipping unresolvable asset reference",
				"path", ref.path, "sourcePath", ref.sourcePath, "reason", err.Error())
			continue
		}
		rel, err := filepath.Rel(rootDir, resolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			e.logger.Warn(ctx, err, "resolved asset is outside the project root", "path", resolved)
			continue
		}
		found[filepath.ToSlash(rel)] = true
	}

	if e.registry != nil {
		for _, path := range e.registry.AssetPaths() {
			rel, err := filepath.Rel(rootDir, path)
			if err != nil || strings.HasPrefix(rel, "..") {
				e.logger.Warn(ctx, err, "registered asset is outside the project root", "path", path)
				continue
			}
			found[filepath.ToSlash(rel)] = true
		}
	}

	entries := make([]string, 0, len(found))
	for path := range found {
		entries = append(entries, path)
	}
	sort.Strings(entries)
	e.logger.Info(ctx, "collected assets", "count", len(entries), "references", len(refs))
	return entries, nil
}

func (e *Extractor) scanDir(ctx context.Context, dir string) ([]reference, error) {
	var refs []reference
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if e.excludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.scanExtensions[filepath.Ext(path)] || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		fileRefs, err := e.scanFile(path)
		if err != nil {
			return err
		}
		refs = append(refs, fileRefs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (e *Extractor) scanFile(path string) ([]reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var refs []reference
	for _, match := range assetReferencePattern.FindAllSubmatch(data, -1) {
		candidate := string(match[1])
		if strings.Contains(candidate, "://") || strings.HasPrefix(candidate, "data:") {
			continue
		}
		refs = append(refs, reference{path: candidate, sourcePath: path})
	}
	return refs, nil
}

// WriteEntries writes the collected entry list to w as json or yaml.
func WriteEntries(w io.Writer, entries []string, format string) error {
	doc := struct {
		Entries []string `json:"entries" yaml:"entries"`
	}{Entries: entries}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q, expected json or yaml", format)
	}
}
