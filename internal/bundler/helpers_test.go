package bundler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// fakeBundler is a minimal Bundler for tests that don't need real Vite
// behavior. Paths validate as-is, SSR import paths resolve to
// themselves.
type fakeBundler struct {
	rootDir      string
	ssrEnabled   bool
	ssrURL       string
	headers      map[string]string
	ssrImportErr error
}

func (f *fakeBundler) RootDir() string     { return f.rootDir }
func (f *fakeBundler) IsDevelopment() bool { return true }
func (f *fakeBundler) IsSSREnabled() bool  { return f.ssrEnabled }

func (f *fakeBundler) GetURL(path string) (string, error) { return "/assets/" + path, nil }

func (f *fakeBundler) DoesAssetExist(path string) bool { return true }

func (f *fakeBundler) GetEmbedItems(paths []string, contentType string) ([]Embed, error) {
	return nil, nil
}

func (f *fakeBundler) ResolvePath(path string, rc ResolveContext, opts *ValidateOptions) (string, error) {
	return path, nil
}

func (f *fakeBundler) ValidatePath(path string, opts *ValidateOptions) (string, error) {
	return path, nil
}

func (f *fakeBundler) ResolveSSRImportPath(path string) (string, error) {
	if f.ssrImportErr != nil {
		return "", f.ssrImportErr
	}
	return path, nil
}

func (f *fakeBundler) GetSSRURL() string { return f.ssrURL }

func (f *fakeBundler) GetSSRHeaders() map[string]string {
	if f.headers == nil {
		return map[string]string{}
	}
	return f.headers
}

func (f *fakeBundler) GetPreambleHTML() string { return "" }

func (f *fakeBundler) CheckDevServer(ctx context.Context) DevServerCheck {
	return DevServerCheck{IsRunning: true, ProjectDir: f.rootDir}
}

func (f *fakeBundler) FormatCode(ctx context.Context, code string) string { return code }

// fakeEmbed is a canned Embed for queue tests.
type fakeEmbed struct {
	key         string
	contentType string
	code        string
	err         error
}

func (e *fakeEmbed) ContentType() string                           { return e.contentType }
func (e *fakeEmbed) Dependencies() ([]Embed, error)                { return nil, nil }
func (e *fakeEmbed) GenerateCode(target HTMLTarget) (string, error) { return e.code, e.err }
func (e *fakeEmbed) CanEmbedHead() bool                            { return true }
func (e *fakeEmbed) HTMLAttrs() map[string]string                  { return nil }
func (e *fakeEmbed) Key() string                                   { return e.key }

// fakeSSRItem queues a fixed payload.
type fakeSSRItem struct {
	ssrType string
	payload func(sctx *SerializerContext) (*ordered.Map, error)
}

func (i *fakeSSRItem) SSRType() string { return i.ssrType }

func (i *fakeSSRItem) SSRPayload(sctx *SerializerContext) (*ordered.Map, error) {
	if i.payload != nil {
		return i.payload(sctx)
	}
	m := ordered.NewMap()
	m.Set("component", "div")
	return m, nil
}

// writeManifest writes a manifest.json into dir and returns its path.
func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testLogger() logging.Logger { return logging.Discard() }
