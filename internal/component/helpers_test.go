package component

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/codegen"
	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/stretchr/testify/require"
)

// fakeBundler resolves against a real (temp) root dir but produces
// predictable URLs.
type fakeBundler struct {
	rootDir    string
	ssrEnabled bool
	embeds     []bundler.Embed
}

func (b *fakeBundler) RootDir() string     { return b.rootDir }
func (b *fakeBundler) IsDevelopment() bool { return true }
func (b *fakeBundler) IsSSREnabled() bool  { return b.ssrEnabled }

func (b *fakeBundler) GetURL(path string) (string, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(b.rootDir, path)
		if err != nil {
			return "", err
		}
		path = rel
	}
	return "/assets/" + filepath.ToSlash(path), nil
}

func (b *fakeBundler) DoesAssetExist(path string) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.rootDir, path)
	}
	_, err := os.Stat(path)
	return err == nil
}

func (b *fakeBundler) GetEmbedItems(paths []string, contentType string) ([]bundler.Embed, error) {
	var items []bundler.Embed
	for _, item := range b.embeds {
		if bundler.MatchesContentType(item, contentType) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (b *fakeBundler) ResolvePath(path string, rc bundler.ResolveContext, opts *bundler.ValidateOptions) (string, error) {
	return b.ValidatePath(path, opts)
}

func (b *fakeBundler) ValidatePath(path string, opts *bundler.ValidateOptions) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.rootDir, path)
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if opts != nil {
		for _, ext := range opts.ResolveExtensions {
			if _, err := os.Stat(path + ext); err == nil {
				return path + ext, nil
			}
		}
	}
	return "", fmt.Errorf("path %s does not exist", path)
}

func (b *fakeBundler) ResolveSSRImportPath(path string) (string, error) { return path, nil }
func (b *fakeBundler) GetSSRURL() string                                { return "" }
func (b *fakeBundler) GetSSRHeaders() map[string]string                 { return nil }
func (b *fakeBundler) GetPreambleHTML() string                          { return "" }

func (b *fakeBundler) CheckDevServer(ctx context.Context) bundler.DevServerCheck {
	return bundler.DevServerCheck{}
}

func (b *fakeBundler) FormatCode(ctx context.Context, code string) string { return code }

// newTestEnv creates an environment over a temp project dir populated
// with the source files the tests import.
func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	root := t.TempDir()
	files := []string{
		"frontend/src/renderComponent.tsx",
		"frontend/src/re-exports.tsx",
		"frontend/src/components/Button.tsx",
		"frontend/src/components/Table.tsx",
	}
	for _, name := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("export {}\n"), 0o644))
	}
	return &Environment{
		Bundler:             &fakeBundler{rootDir: root, ssrEnabled: true},
		RenderComponentFile: "frontend/src/renderComponent.tsx",
		Logger:              logging.Discard(),
	}
}

// newRenderContext attaches a fresh asset context for a single render.
func newRenderContext(env *Environment) (context.Context, *bundler.AssetContext) {
	ac := bundler.NewAssetContext(bundler.AssetContextConfig{
		Bundler:    env.Bundler,
		SkipChecks: true,
		Logger:     logging.Discard(),
	})
	return bundler.WithAssetContext(context.Background(), ac), ac
}

type fakeEmbed struct {
	key         string
	contentType string
	code        string
}

func (e *fakeEmbed) ContentType() string                  { return e.contentType }
func (e *fakeEmbed) Dependencies() ([]bundler.Embed, error) { return nil, nil }
func (e *fakeEmbed) CanEmbedHead() bool                   { return true }
func (e *fakeEmbed) HTMLAttrs() map[string]string         { return nil }
func (e *fakeEmbed) Key() string                          { return e.key }

func (e *fakeEmbed) GenerateCode(target bundler.HTMLTarget) (string, error) {
	return e.code, nil
}

func resolveContext(env *Environment) bundler.ResolveContext {
	return bundler.ResolveContext{RootDir: env.Bundler.RootDir()}
}

// resolveButton returns an import source for the Button test component.
func resolveButton(t *testing.T, env *Environment) Source {
	t.Helper()
	source, err := ResolveSource(env.Bundler, resolveContext(env), "frontend/src/components/Button.tsx", "Button")
	require.NoError(t, err)
	return source
}

// printNode renders a single node with the generator's printer.
func printNode(t *testing.T, g *Generator, node codegen.Node) string {
	t.Helper()
	code, err := g.printer.Print(node)
	require.NoError(t, err)
	return code
}
