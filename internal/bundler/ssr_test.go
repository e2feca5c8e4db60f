package bundler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

func TestSerializerContextAddImport(t *testing.T) {
	sctx := NewSerializerContext(&fakeBundler{rootDir: t.TempDir()})

	key1, err := sctx.AddImport(ImportDefinition{Path: "frontend/src/Button.tsx", ImportName: "Button"})
	require.NoError(t, err)
	key2, err := sctx.AddImport(ImportDefinition{Path: "frontend/src/Table.tsx", ImportName: "default", IsDefaultImport: true})
	require.NoError(t, err)
	again, err := sctx.AddImport(ImportDefinition{Path: "frontend/src/Button.tsx", ImportName: "Button"})
	require.NoError(t, err)

	assert.Equal(t, key1, again, "the same import should reuse its cache key")
	assert.NotEqual(t, key1, key2)

	imports := sctx.RequiredImports()
	require.Len(t, imports, 2)
	assert.Equal(t, RequiredImport{Path: "frontend/src/Button.tsx", ImportName: "Button"}, imports[key1])
	assert.Equal(t, RequiredImport{Path: "frontend/src/Table.tsx", ImportName: "default", IsDefaultImport: true}, imports[key2])
}

func TestSerializerContextPrefixesDiffer(t *testing.T) {
	b := &fakeBundler{rootDir: t.TempDir()}
	key1, err := NewSerializerContext(b).AddImport(ImportDefinition{Path: "a.tsx", ImportName: "A"})
	require.NoError(t, err)
	key2, err := NewSerializerContext(b).AddImport(ImportDefinition{Path: "a.tsx", ImportName: "A"})
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2, "cache keys from separate requests must not collide on the render server")
}

func TestSerializeValue(t *testing.T) {
	b := &fakeBundler{rootDir: t.TempDir()}

	t.Run("plain values pass through", func(t *testing.T) {
		sctx := NewSerializerContext(b)
		out, err := SerializeValue("hello", sctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("custom values become tagged triples", func(t *testing.T) {
		sctx := NewSerializerContext(b)
		out, err := SerializeValue(ImportDefinition{Path: "frontend/src/Button.tsx", ImportName: "Button"}, sctx)
		require.NoError(t, err)

		triple, ok := out.([]any)
		require.True(t, ok)
		require.Len(t, triple, 3)
		assert.Equal(t, "@@CUSTOM", triple[0])
		assert.Equal(t, "ModuleImport", triple[1])
		assert.Contains(t, sctx.RequiredImports(), triple[2].(string))
	})

	t.Run("containers are walked", func(t *testing.T) {
		sctx := NewSerializerContext(b)
		props := ordered.NewMap()
		props.Set("label", "Save")
		props.Set("icons", []any{ImportDefinition{Path: "frontend/src/icons.tsx", ImportName: "SaveIcon"}})
		out, err := SerializeValue(props, sctx)
		require.NoError(t, err)

		m, ok := out.(*ordered.Map)
		require.True(t, ok)
		assert.Equal(t, []string{"label", "icons"}, m.Keys())
		icons, _ := m.Get("icons")
		triple := icons.([]any)[0].([]any)
		assert.Equal(t, "@@CUSTOM", triple[0])
	})
}

func TestRequiredImportWireFormat(t *testing.T) {
	data, err := json.Marshal(RequiredImport{Path: "assets/Button-1.js", ImportName: "Button", IsDefaultImport: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path": "assets/Button-1.js", "importName": "Button", "isDefaultImport": true}`, string(data))
}

func TestHTTPSSREngine(t *testing.T) {
	t.Run("posts the request and decodes the response", func(t *testing.T) {
		var gotHeaders http.Header
		var gotRequest ServerRenderRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"renderedItems": {"ph": {"html": "<div>ok</div>"}}, "errors": {}}`))
		}))
		defer server.Close()

		engine := &HTTPSSREngine{
			Bundler: &fakeBundler{
				rootDir:    "/project",
				ssrEnabled: true,
				ssrURL:     server.URL + "/ssr",
				headers:    map[string]string{"X-SSR-ROOT-DIR": "/project"},
			},
			Logger: testLogger(),
		}
		resp, err := engine.Render(context.Background(), &ServerRenderRequest{
			ItemsJSON:     `{}`,
			GlobalContext: map[string]any{"currentUrl": "http://localhost/"},
		})
		require.NoError(t, err)
		assert.Equal(t, "<div>ok</div>", resp.RenderedItems["ph"].HTML)
		assert.Equal(t, "/project", gotHeaders.Get("X-SSR-ROOT-DIR"))
		assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
		assert.Equal(t, "http://localhost/", gotRequest.GlobalContext["currentUrl"])
	})

	t.Run("no SSR URL is an error", func(t *testing.T) {
		engine := &HTTPSSREngine{Bundler: &fakeBundler{}, Logger: testLogger()}
		_, err := engine.Render(context.Background(), &ServerRenderRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no SSR URL defined")
	})

	t.Run("error body from the server is surfaced", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "boom", "stack": "at render"}`))
		}))
		defer server.Close()

		engine := &HTTPSSREngine{Bundler: &fakeBundler{ssrURL: server.URL}, Logger: testLogger()}
		_, err := engine.Render(context.Background(), &ServerRenderRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.Contains(t, err.Error(), "at render")
	})

	t.Run("slow server times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		engine := &HTTPSSREngine{
			Bundler: &fakeBundler{ssrURL: server.URL},
			Timeout: 20 * time.Millisecond,
			Logger:  testLogger(),
		}
		_, err := engine.Render(context.Background(), &ServerRenderRequest{})
		require.Error(t, err)
	})
}

// renderScript is an SSREngine stubbed with a function.
type renderScript func(req *ServerRenderRequest) (*ServerRenderResponse, error)

func (f renderScript) Render(ctx context.Context, req *ServerRenderRequest) (*ServerRenderResponse, error) {
	return f(req)
}

func TestPostProcessSSR(t *testing.T) {
	newSSRContext := func(t *testing.T, engine SSREngine) *AssetContext {
		return newTestContext(t, AssetContextConfig{
			Bundler:    &fakeBundler{rootDir: t.TempDir(), ssrEnabled: true},
			SSREngine:  engine,
			SkipChecks: true,
			CurrentURL: "http://localhost:8000/page/",
		})
	}

	t.Run("placeholders are replaced with rendered html", func(t *testing.T) {
		var gotRequest *ServerRenderRequest
		engine := renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
			gotRequest = req
			var items map[string]struct {
				SSRType string         `json:"ssrType"`
				Payload map[string]any `json:"payload"`
			}
			require.NoError(t, json.Unmarshal([]byte(req.ItemsJSON), &items))
			resp := &ServerRenderResponse{RenderedItems: map[string]RenderedItem{}}
			for placeholder := range items {
				resp.RenderedItems[placeholder] = RenderedItem{HTML: "<div>rendered</div>"}
			}
			return resp, nil
		})
		ac := newSSRContext(t, engine)
		placeholder := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})

		out, err := ac.PostProcess(context.Background(), "<body>"+placeholder+"</body>")
		require.NoError(t, err)
		assert.Equal(t, "<body><div>rendered</div></body>", out)
		assert.Equal(t, "http://localhost:8000/page/", gotRequest.GlobalContext["currentUrl"])
	})

	t.Run("per item failures degrade only that placeholder", func(t *testing.T) {
		engine := renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
			var items map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(req.ItemsJSON), &items))
			resp := &ServerRenderResponse{
				RenderedItems: map[string]RenderedItem{},
				Errors:        map[string]any{},
			}
			first := true
			for placeholder := range items {
				if first {
					resp.RenderedItems[placeholder] = RenderedItem{HTML: "<div>ok</div>"}
					first = false
				} else {
					resp.Errors[placeholder] = map[string]any{"message": "component exploded"}
				}
			}
			return resp, nil
		})
		ac := newSSRContext(t, engine)
		ph1 := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})
		ph2 := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})

		out, err := ac.PostProcess(context.Background(), ph1+"|"+ph2)
		require.NoError(t, err)
		// one of the two placeholders rendered, the other failed; which is
		// which depends on map iteration in the stub
		assert.Contains(t, out, "<div>ok</div>")
		assert.Contains(t, out, SSRFailurePlaceholder)
		assert.NotContains(t, out, "___SSR_PLACEHOLDER_")
	})

	t.Run("engine failure degrades every placeholder", func(t *testing.T) {
		engine := renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
			return nil, assert.AnError
		})
		ac := newSSRContext(t, engine)
		ph1 := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})
		ph2 := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})

		out, err := ac.PostProcess(context.Background(), ph1+"|"+ph2)
		require.NoError(t, err, "SSR failures degrade instead of erroring, hydration still runs client side")
		assert.Equal(t, SSRFailurePlaceholder+"|"+SSRFailurePlaceholder, out)
	})

	t.Run("payload serialization failure is an error", func(t *testing.T) {
		ac := newSSRContext(t, renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
			t.Fatal("engine should not be called when serialization fails")
			return nil, nil
		}))
		ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})
		placeholder := ac.QueueSSR(&fakeSSRItem{
			ssrType: "Component",
			payload: func(sctx *SerializerContext) (*ordered.Map, error) { return nil, assert.AnError },
		})

		_, err := ac.PostProcess(context.Background(), placeholder)
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("import missing from the server manifest is an error", func(t *testing.T) {
		manifestErr := &ManifestAssetMissingError{Path: "frontend/src/Button.tsx", ManifestFile: "server/manifest.json"}
		ac := newTestContext(t, AssetContextConfig{
			Bundler: &fakeBundler{
				rootDir:      t.TempDir(),
				ssrEnabled:   true,
				ssrImportErr: manifestErr,
			},
			SSREngine: renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
				t.Fatal("engine should not be called when an import cannot be resolved")
				return nil, nil
			}),
			SkipChecks: true,
		})
		placeholder := ac.QueueSSR(&fakeSSRItem{
			ssrType: "Component",
			payload: func(sctx *SerializerContext) (*ordered.Map, error) {
				m := ordered.NewMap()
				m.Set("component", ImportDefinition{Path: "frontend/src/Button.tsx", ImportName: "Button"})
				return m, nil
			},
		})

		out, err := ac.PostProcess(context.Background(), "before "+placeholder+" after")
		require.Error(t, err, "a component missing from the server build would fail on every request, so it must surface")
		var missing *ManifestAssetMissingError
		assert.ErrorAs(t, err, &missing)
		assert.Empty(t, out)
	})

	t.Run("global context resolver values are merged", func(t *testing.T) {
		var gotRequest *ServerRenderRequest
		engine := renderScript(func(req *ServerRenderRequest) (*ServerRenderResponse, error) {
			gotRequest = req
			return &ServerRenderResponse{}, nil
		})
		ac := newTestContext(t, AssetContextConfig{
			Bundler:    &fakeBundler{rootDir: t.TempDir(), ssrEnabled: true},
			SSREngine:  engine,
			SkipChecks: true,
			CurrentURL: "http://localhost:8000/",
			GlobalContextResolver: func(ctx context.Context) map[string]any {
				return map[string]any{"locale": "en-AU"}
			},
		})
		placeholder := ac.QueueSSR(&fakeSSRItem{ssrType: "Component"})

		_, err := ac.PostProcess(context.Background(), placeholder)
		require.NoError(t, err)
		assert.Equal(t, "en-AU", gotRequest.GlobalContext["locale"])
		assert.Equal(t, "http://localhost:8000/", gotRequest.GlobalContext["currentUrl"])
	})
}
