package bundler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestManifest(t *testing.T, contents string) *Manifest {
	t.Helper()
	dir := t.TempDir()
	path := writeManifest(t, dir, contents)
	m, err := LoadManifest(dir, path, testLogger())
	require.NoError(t, err)
	return m
}

func TestLoadManifestMissingFile(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(dir, filepath.Join(dir, "manifest.json"), testLogger())
	require.NoError(t, err, "a missing manifest is not an error, the build may not have run yet")

	_, err = m.GetAsset("frontend/src/main.tsx")
	var missing *ManifestAssetMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "frontend/src/main.tsx", missing.Path)
	assert.Contains(t, err.Error(), "not found in manifest file")
}

func TestManifestGetAsset(t *testing.T) {
	m := loadTestManifest(t, `{
		"frontend/src/main.tsx": {"file": "assets/main-abc123.js", "isEntry": true}
	}`)

	t.Run("relative path", func(t *testing.T) {
		asset, err := m.GetAsset("frontend/src/main.tsx")
		require.NoError(t, err)
		assert.Equal(t, "assets/main-abc123.js", asset.File)
		assert.True(t, asset.IsEntry)
	})

	t.Run("absolute paths are made relative to the root", func(t *testing.T) {
		asset, err := m.GetAsset(filepath.Join(m.RootDir, "frontend/src/main.tsx"))
		require.NoError(t, err)
		assert.Equal(t, "assets/main-abc123.js", asset.File)
	})

	t.Run("unknown path", func(t *testing.T) {
		assert.False(t, m.HasAsset("frontend/src/other.tsx"))
	})
}

func TestManifestIndexAliasing(t *testing.T) {
	m := loadTestManifest(t, `{
		"frontend/src/components/table/index.tsx": {"file": "assets/table-abc.js", "isEntry": true}
	}`)

	byFile, err := m.GetAsset("frontend/src/components/table/index.tsx")
	require.NoError(t, err)
	byDir, err := m.GetAsset("frontend/src/components/table")
	require.NoError(t, err)
	assert.Same(t, byFile, byDir, "directory and index file should resolve to the same entry")
}

func TestManifestDependencyClosure(t *testing.T) {
	// main -> shared (static), main -> lazy (dynamic), lazy -> leaf (static)
	m := loadTestManifest(t, `{
		"frontend/src/main.tsx": {
			"file": "assets/main-1.js",
			"isEntry": true,
			"css": ["assets/main-1.css"],
			"imports": ["frontend/src/shared.ts"],
			"dynamicImports": ["frontend/src/lazy.tsx"]
		},
		"frontend/src/shared.ts": {
			"file": "assets/shared-1.js",
			"css": ["assets/shared-1.css"]
		},
		"frontend/src/lazy.tsx": {
			"file": "assets/lazy-1.js",
			"isDynamicEntry": true,
			"imports": ["frontend/src/leaf.ts"]
		},
		"frontend/src/leaf.ts": {
			"file": "assets/leaf-1.js"
		}
	}`)

	main, err := m.GetAsset("frontend/src/main.tsx")
	require.NoError(t, err)
	deps := main.Dependencies()

	assert.Equal(t, []string{"assets/main-1.js", "assets/shared-1.js"}, deps.JSDependencies(),
		"static closure includes the asset itself first")
	assert.Equal(t, []string{"assets/main-1.css", "assets/shared-1.css"}, deps.CSSDependencies())
	assert.ElementsMatch(t, []string{"assets/lazy-1.js", "assets/leaf-1.js"}, deps.DynamicJSDependencies(),
		"dependencies of a dynamic import are dynamic too")
}

func TestManifestDynamicPrunedWhenStaticallyLoaded(t *testing.T) {
	// shared is imported statically and dynamically; static wins
	m := loadTestManifest(t, `{
		"frontend/src/main.tsx": {
			"file": "assets/main-1.js",
			"isEntry": true,
			"imports": ["frontend/src/shared.ts"],
			"dynamicImports": ["frontend/src/shared.ts"]
		},
		"frontend/src/shared.ts": {
			"file": "assets/shared-1.js"
		}
	}`)

	main, err := m.GetAsset("frontend/src/main.tsx")
	require.NoError(t, err)
	deps := main.Dependencies()
	assert.Equal(t, []string{"assets/main-1.js", "assets/shared-1.js"}, deps.JSDependencies())
	assert.Empty(t, deps.DynamicJSDependencies(),
		"an asset loaded statically shouldn't be listed as a dynamic dependency as well")
}

func TestManifestImportCycle(t *testing.T) {
	m := loadTestManifest(t, `{
		"frontend/src/a.ts": {
			"file": "assets/a-1.js",
			"isEntry": true,
			"imports": ["frontend/src/b.ts"]
		},
		"frontend/src/b.ts": {
			"file": "assets/b-1.js",
			"imports": ["frontend/src/a.ts"]
		}
	}`)

	a, err := m.GetAsset("frontend/src/a.ts")
	require.NoError(t, err)
	b, err := m.GetAsset("frontend/src/b.ts")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"assets/a-1.js", "assets/b-1.js"}, a.Dependencies().JSDependencies())
	assert.ElementsMatch(t, []string{"assets/a-1.js", "assets/b-1.js"}, b.Dependencies().JSDependencies())
}

func TestManifestMissingImportErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{
		"frontend/src/main.tsx": {
			"file": "assets/main-1.js",
			"imports": ["frontend/src/gone.ts"]
		}
	}`)
	_, err := LoadManifest(dir, path, testLogger())
	var missing *ManifestAssetMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "frontend/src/gone.ts", missing.Path)
}

func TestAssetDependenciesMerge(t *testing.T) {
	a := &ManifestAsset{File: "assets/a.js"}
	b := &ManifestAsset{File: "assets/b.js"}
	c := &ManifestAsset{File: "assets/c.js"}

	deps := &AssetDependencies{Dependencies: []*ManifestAsset{a}}
	deps.Merge(&AssetDependencies{
		Dependencies:        []*ManifestAsset{a, b},
		DynamicDependencies: []*ManifestAsset{c},
	})
	assert.Equal(t, []*ManifestAsset{a, b}, deps.Dependencies)
	assert.Equal(t, []*ManifestAsset{c}, deps.DynamicDependencies)
}

func TestManifestAssetContentType(t *testing.T) {
	assert.Equal(t, "text/javascript", (&ManifestAsset{Src: "frontend/src/main.tsx"}).ContentType())
	assert.Equal(t, "text/css", (&ManifestAsset{Src: "frontend/src/theme.css"}).ContentType())
	assert.Equal(t, "text/css", (&ManifestAsset{Src: "frontend/src/styles.css.ts"}).ContentType())
	assert.Equal(t, "text/javascript", (&ManifestAsset{}).ContentType())
}
