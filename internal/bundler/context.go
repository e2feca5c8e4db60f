package bundler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// EmbedCollectedAssetsPlaceholder is the token written where collected
// asset tags are substituted during post processing.
const EmbedCollectedAssetsPlaceholder = "__BundlerAssetContext__embed_placeholder__"

// ssrNotEnabledPlaceholder is output where SSR was requested but the
// bundler has it disabled, to make the why obvious when debugging.
const ssrNotEnabledPlaceholder = "<!-- SSR NOT ENABLED -->"

// Asset is something rendered on a page whose files must end up in the
// production build. Assets must be statically resolvable so the build
// can extract them without rendering every page.
type Asset interface {
	// PathsForBundling returns the files this asset requires.
	PathsForBundling() []string
	// DynamicPathsForBundling returns files only known at render time,
	// e.g. from a prop value. Used to verify they will exist in
	// production.
	DynamicPathsForBundling() []string
}

// AssetRegistry answers which of a set of paths are not registered for
// bundling. Paths the build cannot discover statically must be
// registered or production is missing files.
type AssetRegistry interface {
	Unknown(paths ...string) []string
}

// UndiscoverableAssetsError reports assets that were used but cannot be
// discovered at build time and aren't in the asset registry.
type UndiscoverableAssetsError struct {
	Paths []string
}

func (e *UndiscoverableAssetsError) Error() string {
	return fmt.Sprintf(
		"the following paths were used but cannot be auto-discovered at build time:\n%s\n\nadd them to the asset registry to resolve",
		strings.Join(e.Paths, "\n"))
}

// GlobalContextResolver supplies extra global context values for SSR
// requests, e.g. the current user's locale.
type GlobalContextResolver func(ctx context.Context) map[string]any

// AssetContextConfig configures NewAssetContext.
type AssetContextConfig struct {
	Bundler  Bundler
	Registry AssetRegistry
	// HTMLTarget defaults to HTMLTargetBrowser.
	HTMLTarget *HTMLTarget
	// SkipChecks disables the Close time validation. Useful in tests.
	SkipChecks bool
	// CurrentURL is the absolute URL of the request being rendered,
	// passed to SSR as globalContext.currentUrl.
	CurrentURL string
	// GlobalContextResolver adds values to the SSR global context.
	GlobalContextResolver GlobalContextResolver
	// SSREngine performs SSR requests. Defaults to HTTPSSREngine
	// against the bundler's SSR URL.
	SSREngine SSREngine

	HTTPClient *http.Client
	Logger     logging.Logger
}

var assetContextCounter atomic.Uint64

// AssetContext tracks the assets, embeds and SSR items used while
// rendering one page. It travels on the request's context.Context; post
// processing exchanges the placeholders it handed out for final HTML.
type AssetContext struct {
	bundler               Bundler
	registry              AssetRegistry
	htmlTarget            HTMLTarget
	skipChecks            bool
	currentURL            string
	globalContextResolver GlobalContextResolver
	ssrEngine             SSREngine
	logger                logging.Logger

	mu                    sync.Mutex
	assets                []Asset
	embedQueue            []Embed
	embedKeys             map[string]bool
	ssrQueue              *ordered.Map // placeholder -> SSRItem
	currentID             int
	idPrefix              string
	collectedPlaceholder  string
}

// NewAssetContext returns a context ready to track one render.
func NewAssetContext(cfg AssetContextConfig) *AssetContext {
	target := HTMLTargetBrowser
	if cfg.HTMLTarget != nil {
		target = *cfg.HTMLTarget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	engine := cfg.SSREngine
	if engine == nil {
		engine = &HTTPSSREngine{Bundler: cfg.Bundler, Client: cfg.HTTPClient, Logger: logger}
	}
	return &AssetContext{
		bundler:               cfg.Bundler,
		registry:              cfg.Registry,
		htmlTarget:            target,
		skipChecks:            cfg.SkipChecks,
		currentURL:            cfg.CurrentURL,
		globalContextResolver: cfg.GlobalContextResolver,
		ssrEngine:             engine,
		logger:                logger.WithComponent("assetcontext"),
		embedKeys:             map[string]bool{},
		ssrQueue:              ordered.NewMap(),
		idPrefix:              fmt.Sprintf("%d_", assetContextCounter.Add(1)),
	}
}

// Bundler returns the bundler this context renders against.
func (c *AssetContext) Bundler() Bundler { return c.bundler }

// HTMLTarget returns the target HTML is being generated for.
func (c *AssetContext) HTMLTarget() HTMLTarget { return c.htmlTarget }

type assetContextKey struct{}

// WithAssetContext attaches ac to ctx.
func WithAssetContext(ctx context.Context, ac *AssetContext) context.Context {
	return context.WithValue(ctx, assetContextKey{}, ac)
}

// AssetContextFrom returns the AssetContext attached to ctx, if any.
func AssetContextFrom(ctx context.Context) (*AssetContext, bool) {
	ac, ok := ctx.Value(assetContextKey{}).(*AssetContext)
	return ac, ok
}

// AddAsset records an asset used during this render.
func (c *AssetContext) AddAsset(asset Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.assets {
		if a == asset {
			return
		}
	}
	c.assets = append(c.assets, asset)
}

// Assets returns the assets recorded so far.
func (c *AssetContext) Assets() []Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Asset(nil), c.assets...)
}

// AssetPaths returns the bundling paths of all recorded assets,
// de-duplicated in first-seen order.
func (c *AssetContext) AssetPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var paths []string
	for _, asset := range c.assets {
		for _, path := range asset.PathsForBundling() {
			paths = appendUnique(paths, path)
		}
	}
	return paths
}

// QueueEmbedFile queues item for embedding during post processing.
// Duplicates (by key) are dropped, order is preserved.
func (c *AssetContext) QueueEmbedFile(item Embed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embedKeys[item.Key()] {
		return
	}
	c.embedKeys[item.Key()] = true
	c.embedQueue = append(c.embedQueue, item)
}

// QueueSSR queues item for server side rendering and returns the
// placeholder to write into the HTML. When the bundler has SSR disabled
// the placeholder is a comment saying so; it is safe to output and will
// simply never be replaced.
func (c *AssetContext) QueueSSR(item SSRItem) string {
	if !c.bundler.IsSSREnabled() {
		return ssrNotEnabledPlaceholder
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	placeholder := fmt.Sprintf("<!-- ___SSR_PLACEHOLDER_%d___ -->", c.ssrQueue.Len())
	c.ssrQueue.Set(placeholder, item)
	return placeholder
}

// GenerateID returns an id unique within this context, e.g. for the
// container elements components render into.
func (c *AssetContext) GenerateID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("%s%d", c.idPrefix, c.currentID)
	c.currentID++
	return id
}

// RegisterEmbedCollectedAssetsTag marks that the page contains the
// collected-assets tag and returns the placeholder it should render.
// A page may only contain one such tag.
func (c *AssetContext) RegisterEmbedCollectedAssetsTag() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectedPlaceholder != "" {
		return "", fmt.Errorf("duplicate collected-assets tags detected, only one such tag should exist")
	}
	c.collectedPlaceholder = EmbedCollectedAssetsPlaceholder
	return c.collectedPlaceholder, nil
}

// RequiresPostProcessing reports whether PostProcess must run before the
// content is sent.
func (c *AssetContext) RequiresPostProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.embedQueue) > 0 || c.ssrQueue.Len() > 0
}

// AbortPostProcess drops the queues when post processing can't happen,
// e.g. when the response turned out not to be HTML.
func (c *AssetContext) AbortPostProcess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearQueuesLocked()
}

func (c *AssetContext) clearQueuesLocked() {
	c.embedQueue = nil
	c.embedKeys = map[string]bool{}
	c.ssrQueue = ordered.NewMap()
}

// PostProcess exchanges SSR placeholders for rendered HTML and the
// collected-assets placeholder for embed tags. content must be the full
// page; this is the last step before it is sent. The queues are drained
// whether or not processing succeeds.
func (c *AssetContext) PostProcess(ctx context.Context, content string) (string, error) {
	c.mu.Lock()
	ssrQueue := c.ssrQueue
	embedQueue := c.embedQueue
	collectedPlaceholder := c.collectedPlaceholder
	c.clearQueuesLocked()
	c.mu.Unlock()

	if ssrQueue.Len() > 0 {
		globalContext := map[string]any{}
		if c.currentURL != "" {
			globalContext["currentUrl"] = c.currentURL
		}
		if c.globalContextResolver != nil {
			for key, value := range c.globalContextResolver(ctx) {
				globalContext[key] = value
			}
		}
		renderer := &serverSideRenderer{
			bundler: c.bundler,
			engine:  c.ssrEngine,
			logger:  c.logger,
			queue:   ssrQueue,
		}
		processed, err := renderer.process(ctx, content, globalContext)
		if err != nil {
			return "", err
		}
		content = processed
	}
	if len(embedQueue) > 0 {
		if collectedPlaceholder == "" {
			c.logger.Warn(ctx, nil, "assets require embedding but no collected-assets tag exists in the page")
			return content, nil
		}
		var tags []string
		for _, item := range embedQueue {
			code, err := item.GenerateCode(c.htmlTarget)
			if err != nil {
				return "", err
			}
			if code != "" {
				tags = append(tags, code)
			}
		}
		content = strings.Replace(content, collectedPlaceholder, strings.Join(tags, "\n"), 1)
	} else if collectedPlaceholder != "" {
		// nothing to embed, but the placeholder must still go
		content = strings.Replace(content, collectedPlaceholder, "", 1)
	}
	return content, nil
}

// Close validates the context at the end of a render: every used asset
// must be discoverable at build time (or registered) and post processing
// must have run if anything was queued. SkipChecks bypasses all of it.
func (c *AssetContext) Close() error {
	if c.skipChecks {
		return nil
	}
	c.mu.Lock()
	assets := append([]Asset(nil), c.assets...)
	c.mu.Unlock()
	if c.registry != nil {
		var unknown []string
		for _, asset := range assets {
			for _, path := range c.registry.Unknown(asset.PathsForBundling()...) {
				unknown = appendUnique(unknown, path)
			}
			for _, path := range c.registry.Unknown(asset.DynamicPathsForBundling()...) {
				unknown = appendUnique(unknown, path)
			}
		}
		if len(unknown) > 0 {
			return &UndiscoverableAssetsError{Paths: unknown}
		}
	}
	if c.RequiresPostProcessing() {
		return fmt.Errorf("AssetContext.PostProcess was not called but is required")
	}
	return nil
}
