package bundler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegExAliasResolver(t *testing.T) {
	r, err := NewRegExAliasResolver(`^@components/`, "frontend/src/components/")
	require.NoError(t, err)

	t.Run("rewrites matching paths", func(t *testing.T) {
		resolved, ok := r.Resolve("@components/Button.tsx", ResolveContext{})
		assert.True(t, ok)
		assert.Equal(t, "frontend/src/components/Button.tsx", resolved)
	})

	t.Run("declines unchanged paths", func(t *testing.T) {
		_, ok := r.Resolve("frontend/src/main.ts", ResolveContext{})
		assert.False(t, ok, "resolver should pass on paths the expression doesn't touch")
	})

	t.Run("invalid expression errors", func(t *testing.T) {
		_, err := NewRegExAliasResolver(`^[`, "x")
		assert.Error(t, err)
	})
}

func TestSourceDirResolver(t *testing.T) {
	r := SourceDirResolver{BaseDir: "/project/frontend/src"}

	resolved, ok := r.Resolve("components/Button.tsx", ResolveContext{})
	assert.True(t, ok)
	assert.Equal(t, "/project/frontend/src/components/Button.tsx", resolved)

	_, ok = r.Resolve("/already/absolute.ts", ResolveContext{})
	assert.False(t, ok, "absolute paths are left for other resolvers")
}

func TestRelativePathResolver(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "pages", "home.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, []byte("<html></html>"), 0o644))

	r := RelativePathResolver{}

	t.Run("resolves against the source file's directory", func(t *testing.T) {
		resolved, ok := r.Resolve("./widget.tsx", ResolveContext{RootDir: dir, SourcePath: source})
		require.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "pages", "widget.tsx"), resolved)
	})

	t.Run("resolves parent references", func(t *testing.T) {
		resolved, ok := r.Resolve("../shared.tsx", ResolveContext{RootDir: dir, SourcePath: source})
		require.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "shared.tsx"), resolved)
	})

	t.Run("source may already be a directory", func(t *testing.T) {
		resolved, ok := r.Resolve("./widget.tsx", ResolveContext{RootDir: dir, SourcePath: filepath.Join(dir, "pages")})
		require.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "pages", "widget.tsx"), resolved)
	})

	t.Run("declines non-relative paths", func(t *testing.T) {
		_, ok := r.Resolve("widget.tsx", ResolveContext{RootDir: dir, SourcePath: source})
		assert.False(t, ok)
	})

	t.Run("declines without a source path", func(t *testing.T) {
		_, ok := r.Resolve("./widget.tsx", ResolveContext{RootDir: dir})
		assert.False(t, ok)
	})
}

func TestPathSuffixes(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.ts", ".ts"},
		{"styles.css.ts", ".css.ts"},
		{"frontend/src/app.module.css", ".module.css"},
		{"README", ""},
		{"frontend/src", ""},
		{".env", ""},
		{".env.local", ".local"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathSuffixes(tt.path), "path %q", tt.path)
	}
}

func TestDevServerCheck(t *testing.T) {
	t.Run("running server for this project", func(t *testing.T) {
		c := DevServerCheck{IsRunning: true, ProjectDir: "/project"}
		assert.True(t, c.IsOK("/project"))
		assert.False(t, c.IsWrongServer("/project"))
	})

	t.Run("running server for another project", func(t *testing.T) {
		c := DevServerCheck{IsRunning: true, ProjectDir: "/elsewhere"}
		assert.False(t, c.IsOK("/project"))
		assert.True(t, c.IsWrongServer("/project"))
	})

	t.Run("not running", func(t *testing.T) {
		c := DevServerCheck{}
		assert.False(t, c.IsOK("/project"))
		assert.False(t, c.IsWrongServer("/project"))
	})
}

func TestMatchesContentType(t *testing.T) {
	js := &fakeEmbed{key: "a", contentType: "text/javascript"}
	assert.True(t, MatchesContentType(js, ""))
	assert.True(t, MatchesContentType(js, "text/javascript"))
	assert.False(t, MatchesContentType(js, "text/css"))
}

func TestResolveWithResolvers(t *testing.T) {
	alias, err := NewRegExAliasResolver(`^@/`, "frontend/src/")
	require.NoError(t, err)
	resolvers := []PathResolver{alias, SourceDirResolver{BaseDir: "/project/frontend"}}
	rc := ResolveContext{RootDir: "/project"}

	t.Run("first matching resolver wins", func(t *testing.T) {
		got := resolveWithResolvers("@/main.ts", resolvers, rc, "/project")
		assert.Equal(t, "/project/frontend/src/main.ts", got)
	})

	t.Run("raw fallback is absolutized against the root", func(t *testing.T) {
		got := resolveWithResolvers("/project/other.ts", nil, rc, "/project")
		assert.Equal(t, "/project/other.ts", got)

		got = resolveWithResolvers("other.ts", nil, rc, "/project")
		assert.Equal(t, "/project/other.ts", got)
	})
}
