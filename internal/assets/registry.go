// Package assets holds the registry of frontend files that must be
// included in the production build but can't be discovered by scanning
// templates, e.g. files referenced from dynamically built paths.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry stores extra assets to include in the frontend build. It
// should be populated at startup then locked; the extract command reads
// it and AssetContext.Close validates used assets against it.
type Registry struct {
	mu     sync.Mutex
	assets map[string]bool
	locked bool
}

func NewRegistry() *Registry {
	return &Registry{assets: map[string]bool{}}
}

// AddAsset registers filenames for inclusion in the build. Filenames
// must be absolute and must exist on disk.
func (r *Registry) AddAsset(filenames ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return fmt.Errorf("cannot add assets to registry after it's locked; make sure all assets are added at startup")
	}
	for _, filename := range filenames {
		if !filepath.IsAbs(filename) {
			return fmt.Errorf("asset filenames should be absolute; received '%s'", filename)
		}
		if _, err := os.Stat(filename); err != nil {
			return fmt.Errorf("%s was added to frontend asset registry but does not exist", filename)
		}
	}
	for _, filename := range filenames {
		r.assets[filename] = true
	}
	return nil
}

// Lock prevents further additions. Called once startup registration is
// complete so nothing sneaks in after the build has extracted assets.
func (r *Registry) Lock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = true
}

// AssetPaths returns every registered asset, sorted for stable output.
func (r *Registry) AssetPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.assets))
	for path := range r.assets {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Unknown returns the given paths that aren't in the registry, in input
// order. Satisfies the asset context's registry interface.
func (r *Registry) Unknown(paths ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing []string
	for _, path := range paths {
		if !r.assets[path] {
			missing = append(missing, path)
		}
	}
	return missing
}
