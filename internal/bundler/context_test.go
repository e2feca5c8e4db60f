package bundler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAsset struct {
	paths        []string
	dynamicPaths []string
}

func (a *staticAsset) PathsForBundling() []string        { return a.paths }
func (a *staticAsset) DynamicPathsForBundling() []string { return a.dynamicPaths }

type allowlistRegistry struct {
	known map[string]bool
}

func (r *allowlistRegistry) Unknown(paths ...string) []string {
	var unknown []string
	for _, p := range paths {
		if !r.known[p] {
			unknown = append(unknown, p)
		}
	}
	return unknown
}

func newTestContext(t *testing.T, cfg AssetContextConfig) *AssetContext {
	t.Helper()
	if cfg.Bundler == nil {
		cfg.Bundler = &fakeBundler{rootDir: t.TempDir()}
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	return NewAssetContext(cfg)
}

func TestAssetContextOnContext(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
	ctx := WithAssetContext(context.Background(), ac)

	got, ok := AssetContextFrom(ctx)
	require.True(t, ok)
	assert.Same(t, ac, got)

	_, ok = AssetContextFrom(context.Background())
	assert.False(t, ok)
}

func TestAssetContextGenerateID(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
	first := ac.GenerateID()
	second := ac.GenerateID()
	assert.NotEqual(t, first, second)

	// ids from different contexts never collide even at the same counter
	other := newTestContext(t, AssetContextConfig{SkipChecks: true})
	assert.NotEqual(t, first, other.GenerateID())
}

func TestAssetContextAssetPaths(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
	button := &staticAsset{paths: []string{"frontend/src/Button.tsx", "frontend/src/theme.css"}}
	table := &staticAsset{paths: []string{"frontend/src/Table.tsx", "frontend/src/theme.css"}}
	ac.AddAsset(button)
	ac.AddAsset(table)
	ac.AddAsset(button)

	assert.Len(t, ac.Assets(), 2, "the same asset added twice is recorded once")
	assert.Equal(t,
		[]string{"frontend/src/Button.tsx", "frontend/src/theme.css", "frontend/src/Table.tsx"},
		ac.AssetPaths())
}

func TestQueueSSRDisabled(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{
		Bundler:    &fakeBundler{rootDir: t.TempDir(), ssrEnabled: false},
		SkipChecks: true,
	})
	placeholder := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})
	assert.Equal(t, "<!-- SSR NOT ENABLED -->", placeholder)
	assert.False(t, ac.RequiresPostProcessing(), "nothing was queued with SSR disabled")
}

func TestQueueSSRPlaceholders(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{
		Bundler:    &fakeBundler{rootDir: t.TempDir(), ssrEnabled: true},
		SkipChecks: true,
	})
	assert.Equal(t, "<!-- ___SSR_PLACEHOLDER_0___ -->", ac.QueueSSR(&fakeSSRItem{ssrType: "Component"}))
	assert.Equal(t, "<!-- ___SSR_PLACEHOLDER_1___ -->", ac.QueueSSR(&fakeSSRItem{ssrType: "Component"}))
	assert.True(t, ac.RequiresPostProcessing())
}

func TestRegisterEmbedCollectedAssetsTag(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
	placeholder, err := ac.RegisterEmbedCollectedAssetsTag()
	require.NoError(t, err)
	assert.Equal(t, EmbedCollectedAssetsPlaceholder, placeholder)

	_, err = ac.RegisterEmbedCollectedAssetsTag()
	assert.Error(t, err, "a page may only contain one collected-assets tag")
}

func TestPostProcessEmbeds(t *testing.T) {
	t.Run("substitutes queued embeds in order", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
		placeholder, err := ac.RegisterEmbedCollectedAssetsTag()
		require.NoError(t, err)

		ac.QueueEmbedFile(&fakeEmbed{key: "js:main", contentType: "text/javascript", code: `<script src="/main.js"></script>`})
		ac.QueueEmbedFile(&fakeEmbed{key: "css:main", contentType: "text/css", code: `<link rel="stylesheet" href="/main.css">`})
		// duplicate key is dropped
		ac.QueueEmbedFile(&fakeEmbed{key: "js:main", contentType: "text/javascript", code: `<script>ignored</script>`})

		out, err := ac.PostProcess(context.Background(), "<head>"+placeholder+"</head>")
		require.NoError(t, err)
		assert.Equal(t,
			"<head><script src=\"/main.js\"></script>\n<link rel=\"stylesheet\" href=\"/main.css\"></head>",
			out)
	})

	t.Run("empty code is skipped", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
		placeholder, err := ac.RegisterEmbedCollectedAssetsTag()
		require.NoError(t, err)
		ac.QueueEmbedFile(&fakeEmbed{key: "a", code: ""})
		ac.QueueEmbedFile(&fakeEmbed{key: "b", code: "<script></script>"})

		out, err := ac.PostProcess(context.Background(), placeholder)
		require.NoError(t, err)
		assert.Equal(t, "<script></script>", out)
	})

	t.Run("placeholder removed when nothing queued", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
		placeholder, err := ac.RegisterEmbedCollectedAssetsTag()
		require.NoError(t, err)

		out, err := ac.PostProcess(context.Background(), "<head>"+placeholder+"</head>")
		require.NoError(t, err)
		assert.Equal(t, "<head></head>", out)
	})

	t.Run("queued embeds without a tag leave content untouched", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
		ac.QueueEmbedFile(&fakeEmbed{key: "a", code: "<script></script>"})

		out, err := ac.PostProcess(context.Background(), "<body></body>")
		require.NoError(t, err)
		assert.Equal(t, "<body></body>", out)
	})

	t.Run("queues are drained even on failure", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
		placeholder, err := ac.RegisterEmbedCollectedAssetsTag()
		require.NoError(t, err)
		ac.QueueEmbedFile(&fakeEmbed{key: "a", err: assert.AnError})

		_, err = ac.PostProcess(context.Background(), placeholder)
		require.Error(t, err)
		assert.False(t, ac.RequiresPostProcessing())
	})
}

func TestAbortPostProcess(t *testing.T) {
	ac := newTestContext(t, AssetContextConfig{SkipChecks: true})
	ac.QueueEmbedFile(&fakeEmbed{key: "a", code: "<script></script>"})
	require.True(t, ac.RequiresPostProcessing())

	ac.AbortPostProcess()
	assert.False(t, ac.RequiresPostProcessing())
}

func TestAssetContextClose(t *testing.T) {
	registry := &allowlistRegistry{known: map[string]bool{
		"frontend/src/Button.tsx": true,
	}}

	t.Run("registered assets pass", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{Registry: registry})
		ac.AddAsset(&staticAsset{paths: []string{"frontend/src/Button.tsx"}})
		assert.NoError(t, ac.Close())
	})

	t.Run("unknown paths are reported", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{Registry: registry})
		ac.AddAsset(&staticAsset{
			paths:        []string{"frontend/src/Button.tsx", "frontend/src/Mystery.tsx"},
			dynamicPaths: []string{"frontend/src/icons/save.svg"},
		})
		err := ac.Close()
		var undiscoverable *UndiscoverableAssetsError
		require.ErrorAs(t, err, &undiscoverable)
		assert.Equal(t, []string{"frontend/src/Mystery.tsx", "frontend/src/icons/save.svg"}, undiscoverable.Paths)
	})

	t.Run("pending post processing is an error", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{})
		ac.QueueEmbedFile(&fakeEmbed{key: "a", code: "<script></script>"})
		err := ac.Close()
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "PostProcess"))
	})

	t.Run("skip checks bypasses everything", func(t *testing.T) {
		ac := newTestContext(t, AssetContextConfig{Registry: registry, SkipChecks: true})
		ac.AddAsset(&staticAsset{paths: []string{"frontend/src/Mystery.tsx"}})
		ac.QueueEmbedFile(&fakeEmbed{key: "a", code: "<script></script>"})
		assert.NoError(t, ac.Close())
	})
}
