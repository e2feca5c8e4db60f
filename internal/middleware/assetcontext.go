// Package middleware integrates asset tracking with net/http request
// handling. The asset context middleware buffers responses so SSR
// placeholders and embed tags queued during rendering can be exchanged
// for final HTML before anything reaches the client.
package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Page serves a templ component built per request. Wrap it with
// AssetContext so components rendered inside the page can queue assets
// and SSR work.
func Page(page func(r *http.Request) templ.Component) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := page(r).Render(r.Context(), w); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// Chain composes middlewares into one. The first middleware is the
// outermost: requests flow first to last, responses last to first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// AssetContextOptions tunes the asset context middleware. The zero value
// is usable.
type AssetContextOptions struct {
	// HTMLTarget defaults to HTMLTargetBrowser.
	HTMLTarget *bundler.HTMLTarget
	// GlobalContextResolver adds request-derived values to the SSR
	// global context.
	GlobalContextResolver bundler.GlobalContextResolver
	// SSREngine overrides the default HTTP engine.
	SSREngine bundler.SSREngine
	// SkipChecks disables the close-time asset discoverability checks.
	SkipChecks bool
	HTTPClient *http.Client
	Logger     logging.Logger
}

// AssetContext returns middleware that opens a bundler.AssetContext for
// each request and post-processes HTML responses. Responses are buffered
// in full; handlers that stream or hijack the connection should not be
// wrapped.
//
// Non-HTML responses with queued work get their queues dropped with a
// warning: rendering a component into a JSON response is a bug in the
// handler, not a reason to fail the request.
func AssetContext(b bundler.Bundler, registry bundler.AssetRegistry, opts AssetContextOptions) Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := bundler.NewAssetContext(bundler.AssetContextConfig{
				Bundler:               b,
				Registry:              registry,
				HTMLTarget:            opts.HTMLTarget,
				SkipChecks:            opts.SkipChecks,
				CurrentURL:            requestURL(r),
				GlobalContextResolver: opts.GlobalContextResolver,
				SSREngine:             opts.SSREngine,
				HTTPClient:            opts.HTTPClient,
				Logger:                opts.Logger,
			})
			defer func() {
				if err := ac.Close(); err != nil {
					logger.Warn(r.Context(), err, "asset context closed with errors",
						"url", r.URL.String())
				}
			}()

			buffered := &bufferedResponse{header: http.Header{}}
			next.ServeHTTP(buffered, r.WithContext(bundler.WithAssetContext(r.Context(), ac)))

			if !ac.RequiresPostProcessing() {
				buffered.copyTo(w)
				return
			}
			if !isHTML(buffered) {
				logger.Warn(r.Context(), nil, "response queued assets or SSR but is not HTML, skipping post processing",
					"url", r.URL.String(), "contentType", buffered.header.Get("Content-Type"))
				ac.AbortPostProcess()
				buffered.copyTo(w)
				return
			}
			processed, err := ac.PostProcess(r.Context(), buffered.body.String())
			if err != nil {
				logger.Error(r.Context(), err, "post processing failed", "url", r.URL.String())
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			buffered.body.Reset()
			buffered.body.WriteString(processed)
			buffered.copyTo(w)
		})
	}
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

func isHTML(resp *bufferedResponse) bool {
	contentType := resp.header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.body.Bytes())
	}
	return strings.Contains(contentType, "text/html")
}

// bufferedResponse holds a handler's response until post processing has
// run.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedResponse) copyTo(w http.ResponseWriter) {
	header := w.Header()
	for key, values := range b.header {
		header[key] = values
	}
	// the body may have changed size during post processing
	if header.Get("Content-Length") != "" {
		header.Set("Content-Length", strconv.Itoa(b.body.Len()))
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	// a write error here means the client went away, nothing to do
	_, _ = w.Write(b.body.Bytes())
}
