package bundler

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// SSRFailurePlaceholder replaces an SSR placeholder whose render failed.
// Client side hydration still runs, so the page works without the server
// rendered HTML.
const SSRFailurePlaceholder = "<!-- SSR_FAILED -->"

// SSRItem is something that can be server side rendered. The type tells
// the render server how to handle the item; the payload carries the data
// it needs.
type SSRItem interface {
	SSRType() string
	SSRPayload(sctx *SerializerContext) (*ordered.Map, error)
}

// SSRCustomValue serializes as a tagged triple
// ["@@CUSTOM", tag, representation] that the render server's JSON
// reviver turns back into a real value.
type SSRCustomValue interface {
	SSRTag() string
	SSRRepresentation(sctx *SerializerContext) (any, error)
}

// ImportDefinition describes a module import the render server must
// resolve before parsing the items JSON. Imports are collected up front
// and referenced by cache key; resolving each once proved much faster
// than resolving them as they are encountered during parsing.
type ImportDefinition struct {
	Path            string
	ImportName      string
	IsDefaultImport bool
}

func (d ImportDefinition) SSRTag() string { return "ModuleImport" }

func (d ImportDefinition) SSRRepresentation(sctx *SerializerContext) (any, error) {
	return sctx.AddImport(d)
}

// RequiredImport is the wire form of an ImportDefinition.
type RequiredImport struct {
	Path            string `json:"path"`
	ImportName      string `json:"importName"`
	IsDefaultImport bool   `json:"isDefaultImport"`
}

// SerializerContext collects the imports required by the values being
// serialized for one SSR request.
type SerializerContext struct {
	bundler Bundler
	prefix  string
	order   []ImportDefinition
	imports map[ImportDefinition]requiredImportEntry
}

type requiredImportEntry struct {
	cacheKey string
	wire     RequiredImport
}

// NewSerializerContext returns a context with a request-unique cache key
// prefix.
func NewSerializerContext(b Bundler) *SerializerContext {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return &SerializerContext{
		bundler: b,
		prefix:  hex.EncodeToString(buf),
		imports: map[ImportDefinition]requiredImportEntry{},
	}
}

// AddImport registers definition and returns its cache key. The path is
// validated (trying .ts/.tsx when it has no extension) and mapped to the
// server build file; a path missing from the server manifest is a hard
// error since rendering would fail anyway.
func (sctx *SerializerContext) AddImport(definition ImportDefinition) (string, error) {
	if entry, ok := sctx.imports[definition]; ok {
		return entry.cacheKey, nil
	}
	validated, err := sctx.bundler.ValidatePath(definition.Path, &ValidateOptions{
		ResolveExtensions: []string{".ts", ".tsx"},
	})
	if err != nil {
		return "", err
	}
	resolved, err := sctx.bundler.ResolveSSRImportPath(validated)
	if err != nil {
		return "", err
	}
	cacheKey := fmt.Sprintf("%s__%d", sctx.prefix, len(sctx.imports))
	sctx.imports[definition] = requiredImportEntry{
		cacheKey: cacheKey,
		wire: RequiredImport{
			Path:            resolved,
			ImportName:      definition.ImportName,
			IsDefaultImport: definition.IsDefaultImport,
		},
	}
	sctx.order = append(sctx.order, definition)
	return cacheKey, nil
}

// RequiredImports returns the collected imports keyed by cache key.
func (sctx *SerializerContext) RequiredImports() map[string]RequiredImport {
	out := make(map[string]RequiredImport, len(sctx.imports))
	for _, def := range sctx.order {
		entry := sctx.imports[def]
		out[entry.cacheKey] = entry.wire
	}
	return out
}

// SerializeValue recursively converts value to a JSON-encodable form,
// expanding SSRCustomValue implementations into their tagged triples.
func SerializeValue(value any, sctx *SerializerContext) (any, error) {
	switch v := value.(type) {
	case SSRCustomValue:
		repr, err := v.SSRRepresentation(sctx)
		if err != nil {
			return nil, err
		}
		serialized, err := SerializeValue(repr, sctx)
		if err != nil {
			return nil, err
		}
		return []any{"@@CUSTOM", v.SSRTag(), serialized}, nil
	case *ordered.Map:
		out := ordered.NewMap()
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			serialized, err := SerializeValue(item, sctx)
			if err != nil {
				return nil, err
			}
			out.Set(key, serialized)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			serialized, err := SerializeValue(item, sctx)
			if err != nil {
				return nil, err
			}
			out[key] = serialized
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			serialized, err := SerializeValue(item, sctx)
			if err != nil {
				return nil, err
			}
			out = append(out, serialized)
		}
		return out, nil
	}
	return value, nil
}

// ServerRenderRequest is the body POSTed to the render server. ItemsJSON
// is pre-encoded so the server can parse it with a reviver after loading
// RequiredImports.
type ServerRenderRequest struct {
	ItemsJSON       string                    `json:"itemsJson"`
	RequiredImports map[string]RequiredImport `json:"requiredImports"`
	GlobalContext   map[string]any            `json:"globalContext"`
}

// RenderedItem is one successfully rendered placeholder. RenderErrors
// holds errors that occurred without stopping the render.
type RenderedItem struct {
	HTML         string   `json:"html"`
	RenderErrors []string `json:"renderErrors"`
}

// ServerRenderResponse is the render server's reply. Every requested
// placeholder appears in either RenderedItems or Errors.
type ServerRenderResponse struct {
	RenderedItems map[string]RenderedItem `json:"renderedItems"`
	Errors        map[string]any          `json:"errors"`
}

// SSREngine performs one render request. Implementations go over HTTP to
// a render server or run in process.
type SSREngine interface {
	Render(ctx context.Context, req *ServerRenderRequest) (*ServerRenderResponse, error)
}

// HTTPSSREngine sends render requests to the URL the bundler provides:
// the dev server in development, the SSR service in production.
type HTTPSSREngine struct {
	Bundler Bundler
	Client  *http.Client
	// Timeout bounds the request; SSR that is slower than this is worse
	// than serving without it. Defaults to 1s.
	Timeout time.Duration
	Logger  logging.Logger
}

func (e *HTTPSSREngine) Render(ctx context.Context, req *ServerRenderRequest) (*ServerRenderResponse, error) {
	ssrURL := e.Bundler.GetSSRURL()
	if ssrURL == "" {
		return nil, errors.New("cannot perform SSR, no SSR URL defined; set the production SSR URL on the bundler")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ssrURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range e.Bundler.GetSSRHeaders() {
		httpReq.Header.Set(key, value)
	}
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New("timed out connecting to SSR server for rendering")
		}
		return nil, fmt.Errorf("failed to connect to SSR server for rendering, is it running?: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		var errBody struct {
			Error string `json:"error"`
			Stack string `json:"stack"`
		}
		if json.Unmarshal(content, &errBody) == nil && errBody.Error != "" {
			msg := fmt.Sprintf("bad response %d from SSR server: %s", resp.StatusCode, errBody.Error)
			if errBody.Stack != "" {
				msg += "\n" + errBody.Stack
			}
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("bad response %d from SSR server: %s", resp.StatusCode, string(content))
	}
	var out ServerRenderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode JSON from server rendering: %w", err)
	}
	return &out, nil
}

// serverSideRenderer exchanges the queued SSR placeholders in a rendered
// page for their server rendered HTML.
type serverSideRenderer struct {
	bundler Bundler
	engine  SSREngine
	logger  logging.Logger
	queue   *ordered.Map // placeholder -> SSRItem
}

// process replaces every queued placeholder in content. Transport
// failures degrade to SSRFailurePlaceholder rather than breaking the
// page; serialization failures, including an import missing from the
// server build manifest, are real bugs and propagate to the caller.
func (r *serverSideRenderer) process(ctx context.Context, content string, globalContext map[string]any) (string, error) {
	if r.queue.Len() == 0 {
		return content, nil
	}
	failAll := func() string {
		for _, placeholder := range r.queue.Keys() {
			content = strings.Replace(content, placeholder, SSRFailurePlaceholder, 1)
		}
		return content
	}

	sctx := NewSerializerContext(r.bundler)
	// items are serialized first so sctx accumulates the required imports
	serialized := ordered.NewMap()
	for _, placeholder := range r.queue.Keys() {
		value, _ := r.queue.Get(placeholder)
		item := value.(SSRItem)
		payload, err := item.SSRPayload(sctx)
		if err != nil {
			return "", fmt.Errorf("failed to serialize item %s for server rendering: %w", placeholder, err)
		}
		serializedPayload, err := SerializeValue(payload, sctx)
		if err != nil {
			return "", fmt.Errorf("failed to serialize item %s for server rendering: %w", placeholder, err)
		}
		entry := ordered.NewMap()
		entry.Set("ssrType", item.SSRType())
		entry.Set("payload", serializedPayload)
		serialized.Set(placeholder, entry)
	}
	itemsJSON, err := json.Marshal(serialized)
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON for server rendering: %w", err)
	}
	resp, err := r.engine.Render(ctx, &ServerRenderRequest{
		ItemsJSON:       string(itemsJSON),
		RequiredImports: sctx.RequiredImports(),
		GlobalContext:   globalContext,
	})
	if err != nil {
		r.logger.Error(ctx, err, "server rendering failed")
		return failAll(), nil
	}
	for placeholder, item := range resp.RenderedItems {
		content = strings.Replace(content, placeholder, item.HTML, 1)
		if len(item.RenderErrors) > 0 {
			r.logger.Warn(ctx, nil, "SSR succeeded with errors", "placeholder", placeholder, "renderErrors", item.RenderErrors)
		}
	}
	for placeholder, detail := range resp.Errors {
		r.logger.Error(ctx, nil, "server rendering failed for item", "placeholder", placeholder, "detail", detail)
		content = strings.Replace(content, placeholder, SSRFailurePlaceholder, 1)
	}
	return content, nil
}
