package bundler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// AssetDependencies is the transitive dependency closure of an asset.
type AssetDependencies struct {
	// Dependencies are statically imported assets, including the asset
	// itself and dependencies of dependencies.
	Dependencies []*ManifestAsset
	// DynamicDependencies are assets only reachable through import()
	// calls. Dependencies of a dynamic import are themselves dynamic so
	// the full set can be preloaded if desired.
	DynamicDependencies []*ManifestAsset
}

// JSDependencies returns the built javascript files, de-duplicated in
// first-seen order.
func (d *AssetDependencies) JSDependencies() []string {
	var deps []string
	for _, asset := range d.Dependencies {
		deps = appendUnique(deps, asset.File)
	}
	return deps
}

// CSSDependencies returns the built css files, de-duplicated in
// first-seen order.
func (d *AssetDependencies) CSSDependencies() []string {
	var deps []string
	for _, asset := range d.Dependencies {
		for _, css := range asset.CSS {
			deps = appendUnique(deps, css)
		}
	}
	return deps
}

// DynamicJSDependencies returns the javascript files used only by
// dynamic imports.
func (d *AssetDependencies) DynamicJSDependencies() []string {
	var deps []string
	for _, asset := range d.DynamicDependencies {
		deps = appendUnique(deps, asset.File)
	}
	return deps
}

// DynamicCSSDependencies returns the css files used only by dynamic
// imports.
func (d *AssetDependencies) DynamicCSSDependencies() []string {
	var deps []string
	for _, asset := range d.DynamicDependencies {
		for _, css := range asset.CSS {
			deps = appendUnique(deps, css)
		}
	}
	return deps
}

// Merge adds other's dependencies to d, skipping duplicates.
func (d *AssetDependencies) Merge(other *AssetDependencies) {
	for _, dep := range other.Dependencies {
		if !containsAsset(d.Dependencies, dep) {
			d.Dependencies = append(d.Dependencies, dep)
		}
	}
	for _, dep := range other.DynamicDependencies {
		if !containsAsset(d.DynamicDependencies, dep) {
			d.DynamicDependencies = append(d.DynamicDependencies, dep)
		}
	}
}

// ManifestAsset is one entry of a Vite build manifest. See
// https://github.com/vitejs/vite/blob/main/packages/vite/src/node/plugins/manifest.ts
// for the file format.
type ManifestAsset struct {
	manifest *Manifest
	// File is the built file (a hashed js or css file).
	File string
	// IsEntry is false for files that are only dependencies of entry points.
	IsEntry bool
	// IsDynamicEntry is true for files reached via import().
	IsDynamicEntry bool
	// Src is the source the file was built from. Unset for common chunks.
	Src string
	// CSS lists css files produced from this asset's imports.
	CSS []string
	// Assets lists other static assets (images etc) the asset references.
	Assets []string
	// Imports lists source paths imported statically.
	Imports []string
	// DynamicImports lists source paths imported via import().
	DynamicImports []string

	deps *AssetDependencies
}

// Dependencies returns the precomputed dependency closure for this
// asset, including itself.
func (a *ManifestAsset) Dependencies() *AssetDependencies {
	return a.deps
}

// ContentType returns the content type of the asset's source, e.g.
// text/javascript for tsx or text/css for vanilla-extract files.
func (a *ManifestAsset) ContentType() string {
	return contentTypeForPath(a.Src)
}

// manifestEntry matches the manifest.json value shape.
type manifestEntry struct {
	File           string   `json:"file"`
	IsEntry        bool     `json:"isEntry"`
	IsDynamicEntry bool     `json:"isDynamicEntry"`
	Src            string   `json:"src"`
	CSS            []string `json:"css"`
	Assets         []string `json:"assets"`
	Imports        []string `json:"imports"`
	DynamicImports []string `json:"dynamicImports"`
}

// Manifest holds the entries of a Vite manifest.json keyed by source
// path. Dependency closures are computed once at load; entries are
// read-only afterwards and safe for concurrent use.
type Manifest struct {
	// RootDir is what absolute paths are made relative to.
	RootDir string
	// ManifestFile is the path entries were read from.
	ManifestFile string

	entries map[string]*ManifestAsset
}

// LoadManifest reads manifest.json from manifestFile. A missing file is
// only a warning, the manifest may legitimately not exist before the
// first build; lookups on the empty manifest fail with
// ManifestAssetMissingError.
func LoadManifest(rootDir, manifestFile string, logger logging.Logger) (*Manifest, error) {
	m := &Manifest{
		RootDir:      rootDir,
		ManifestFile: manifestFile,
		entries:      map[string]*ManifestAsset{},
	}
	data, err := os.ReadFile(manifestFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn(context.Background(), nil, "manifest file does not exist, have you run the frontend build?",
				"manifestFile", manifestFile)
			return m, nil
		}
		return nil, err
	}
	var raw map[string]manifestEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, value := range raw {
		asset := &ManifestAsset{
			manifest:       m,
			File:           value.File,
			IsEntry:        value.IsEntry,
			IsDynamicEntry: value.IsDynamicEntry,
			Src:            value.Src,
			CSS:            value.CSS,
			Assets:         value.Assets,
			Imports:        value.Imports,
			DynamicImports: value.DynamicImports,
		}
		m.entries[key] = asset
		// index files are also reachable by their directory, so that
		// "components/table" and "components/table/index.tsx" resolve to
		// the same entry like they do on the dev server
		base := filepath.Base(key)
		if strings.TrimSuffix(base, filepath.Ext(base)) == "index" {
			m.entries[filepath.Dir(key)] = asset
		}
	}
	cache := map[*ManifestAsset]*AssetDependencies{}
	for _, asset := range m.entries {
		if _, err := m.collectDependencies(asset, cache); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GetAsset returns the entry for path. Absolute paths are made relative
// to the manifest root first.
func (m *Manifest) GetAsset(path string) (*ManifestAsset, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(m.RootDir, path)
		if err != nil {
			return nil, err
		}
		path = rel
	}
	asset, ok := m.entries[path]
	if !ok {
		return nil, &ManifestAssetMissingError{Path: path, ManifestFile: m.ManifestFile}
	}
	return asset, nil
}

// HasAsset reports whether path has a manifest entry.
func (m *Manifest) HasAsset(path string) bool {
	_, err := m.GetAsset(path)
	return err == nil
}

// collectDependencies walks the import graph of asset. The closure is
// inserted into cache before recursing so import cycles terminate with
// the partial closure collected so far.
func (m *Manifest) collectDependencies(asset *ManifestAsset, cache map[*ManifestAsset]*AssetDependencies) (*AssetDependencies, error) {
	if deps, ok := cache[asset]; ok {
		return deps, nil
	}
	deps := &AssetDependencies{Dependencies: []*ManifestAsset{asset}}
	cache[asset] = deps
	asset.deps = deps
	for _, imp := range asset.Imports {
		sub, err := m.GetAsset(imp)
		if err != nil {
			return nil, err
		}
		if !containsAsset(deps.Dependencies, sub) {
			deps.Dependencies = append(deps.Dependencies, sub)
		}
		subDeps, err := m.collectDependencies(sub, cache)
		if err != nil {
			return nil, err
		}
		for _, d := range subDeps.Dependencies {
			if !containsAsset(deps.Dependencies, d) {
				deps.Dependencies = append(deps.Dependencies, d)
			}
		}
		for _, d := range subDeps.DynamicDependencies {
			if !containsAsset(deps.DynamicDependencies, d) {
				deps.DynamicDependencies = append(deps.DynamicDependencies, d)
			}
		}
	}
	for _, imp := range asset.DynamicImports {
		sub, err := m.GetAsset(imp)
		if err != nil {
			return nil, err
		}
		if !containsAsset(deps.DynamicDependencies, sub) {
			deps.DynamicDependencies = append(deps.DynamicDependencies, sub)
		}
		// everything reached through a dynamic import is itself dynamic
		subDeps, err := m.collectDependencies(sub, cache)
		if err != nil {
			return nil, err
		}
		for _, d := range append(append([]*ManifestAsset{}, subDeps.Dependencies...), subDeps.DynamicDependencies...) {
			if !containsAsset(deps.DynamicDependencies, d) {
				deps.DynamicDependencies = append(deps.DynamicDependencies, d)
			}
		}
	}
	// anything loaded statically doesn't need to appear as dynamic too
	pruned := deps.DynamicDependencies[:0]
	for _, d := range deps.DynamicDependencies {
		if !containsAsset(deps.Dependencies, d) {
			pruned = append(pruned, d)
		}
	}
	deps.DynamicDependencies = pruned
	return deps, nil
}

func containsAsset(assets []*ManifestAsset, target *ManifestAsset) bool {
	for _, a := range assets {
		if a == target {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
