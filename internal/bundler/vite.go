package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// ViteMode is the mode the bundler runs in.
type ViteMode string

const (
	// ViteModeDevelopment serves assets from the Vite dev server.
	ViteModeDevelopment ViteMode = "development"
	// ViteModeProduction serves built assets resolved via manifest.json.
	ViteModeProduction ViteMode = "production"
	// ViteModePreview uses built assets with `vite preview` serving SSR.
	ViteModePreview ViteMode = "preview"
)

// VanillaExtractResolver supplies the dev-mode import script for a
// vanilla extract (.css.ts) file.
type VanillaExtractResolver interface {
	ImportScriptFilename(ctx context.Context, path string) (string, error)
}

// ViteBundlerConfig configures NewViteBundler.
type ViteBundlerConfig struct {
	// RootDir is the project root all paths resolve against.
	RootDir string
	// PathResolvers are tried in order by ResolvePath.
	PathResolvers []PathResolver
	// BuildDir is where client builds are written (contains manifest.json).
	BuildDir string
	// ServerBuildDir is where SSR builds are written. Required unless
	// DisableSSR is set.
	ServerBuildDir string
	// NodeModulesDir is the project's node_modules directory; assets
	// under it are resolved through the dev server's package redirect.
	NodeModulesDir string

	ServerHost     string
	ServerPort     string
	ServerProtocol string
	// ServerResolvePackageURL is the dev server route that redirects a
	// package path to Vite's optimized dep URL.
	ServerResolvePackageURL string

	// StaticURL is the base URL built assets are served from in
	// production and preview.
	StaticURL string

	Mode ViteMode
	// DisableSSR turns server side rendering off entirely.
	DisableSSR bool
	// ProductionSSRURL is the base URL of the production SSR service.
	ProductionSSRURL string

	// DevCodeFormatLimit caps the size of code sent for formatting; 0
	// means no limit.
	DevCodeFormatLimit int
	// DevCodeFormatTimeout bounds the format-code request.
	DevCodeFormatTimeout time.Duration

	// WaitForServer, when set, is called before requesting anything from
	// the dev server, e.g. to poll until it is up.
	WaitForServer func()

	// VanillaExtract resolves dev import scripts for .css.ts files.
	VanillaExtract VanillaExtractResolver

	HTTPClient *http.Client
	Logger     logging.Logger
}

// ViteBundler is the Bundler implementation for Vite.
type ViteBundler struct {
	rootDir        string
	resolvers      []PathResolver
	buildDir       string
	serverBuildDir string
	nodeModulesDir string
	mode           ViteMode
	disableSSR     bool
	staticURL      string

	devServerURLBase           string
	devServerURL               string
	devServerResolvePackageURL string
	previewURL                 string
	productionSSRURL           string

	// manifestMu guards the manifests, which ManifestWatcher can swap
	// while requests are reading them.
	manifestMu          sync.RWMutex
	buildManifest       *Manifest
	serverBuildManifest *Manifest

	formatLimit   int
	formatTimeout time.Duration
	waitForServer func()

	vanillaExtract VanillaExtractResolver
	client         *http.Client
	logger         logging.Logger

	// ssrImportPaths caches path -> resolved import path; swapping in a
	// new server manifest replaces the whole map.
	ssrImportPaths atomic.Pointer[sync.Map]
}

// NewViteBundler validates cfg, loads manifests outside development mode
// and returns the bundler.
func NewViteBundler(cfg ViteBundlerConfig) (*ViteBundler, error) {
	switch cfg.Mode {
	case ViteModeDevelopment, ViteModeProduction, ViteModePreview:
	default:
		return nil, fmt.Errorf("mode must be one of development, production, preview; received: '%s'", cfg.Mode)
	}
	if cfg.ServerBuildDir == "" && !cfg.DisableSSR {
		return nil, errors.New("ServerBuildDir must be set if SSR is enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	formatTimeout := cfg.DevCodeFormatTimeout
	if formatTimeout == 0 {
		formatTimeout = 5 * time.Second
	}
	b := &ViteBundler{
		rootDir:          cfg.RootDir,
		resolvers:        cfg.PathResolvers,
		buildDir:         cfg.BuildDir,
		serverBuildDir:   cfg.ServerBuildDir,
		nodeModulesDir:   cfg.NodeModulesDir,
		mode:             cfg.Mode,
		disableSSR:       cfg.DisableSSR,
		staticURL:        cfg.StaticURL,
		productionSSRURL: cfg.ProductionSSRURL,
		formatLimit:      cfg.DevCodeFormatLimit,
		formatTimeout:    formatTimeout,
		waitForServer:    cfg.WaitForServer,
		vanillaExtract:   cfg.VanillaExtract,
		client:           client,
		logger:           logger.WithComponent("bundler"),
	}
	b.ssrImportPaths.Store(&sync.Map{})
	if cfg.Mode != ViteModeDevelopment {
		manifest, err := LoadManifest(cfg.RootDir, filepath.Join(cfg.BuildDir, "manifest.json"), logger)
		if err != nil {
			return nil, err
		}
		b.buildManifest = manifest
		if cfg.ServerBuildDir != "" {
			serverManifest, err := LoadManifest(cfg.RootDir, filepath.Join(cfg.ServerBuildDir, "manifest.json"), logger)
			if err != nil {
				return nil, err
			}
			b.serverBuildManifest = serverManifest
		}
	}
	switch cfg.Mode {
	case ViteModeDevelopment:
		if cfg.StaticURL == "" {
			return nil, errors.New("StaticURL must be set when using the Vite bundler in development mode")
		}
		if strings.HasPrefix(cfg.StaticURL, "http") {
			return nil, fmt.Errorf("StaticURL cannot be a full URL in %s mode", cfg.Mode)
		}
		b.devServerURLBase = fmt.Sprintf("%s://%s:%s", cfg.ServerProtocol, cfg.ServerHost, cfg.ServerPort)
		b.devServerURL = joinURL(b.devServerURLBase, cfg.StaticURL)
		b.devServerResolvePackageURL = joinURL(b.devServerURLBase, cfg.ServerResolvePackageURL) + "/"
	case ViteModePreview:
		b.previewURL = fmt.Sprintf("%s://%s:%s", cfg.ServerProtocol, cfg.ServerHost, cfg.ServerPort)
	}
	return b, nil
}

func joinURL(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

func (b *ViteBundler) RootDir() string { return b.rootDir }

func (b *ViteBundler) IsDevelopment() bool { return b.mode == ViteModeDevelopment }

func (b *ViteBundler) IsSSREnabled() bool { return !b.disableSSR }

// Mode returns the mode the bundler is running in.
func (b *ViteBundler) Mode() ViteMode { return b.mode }

// BuildManifest returns the client build manifest. Nil in development.
func (b *ViteBundler) BuildManifest() *Manifest {
	b.manifestMu.RLock()
	defer b.manifestMu.RUnlock()
	return b.buildManifest
}

func (b *ViteBundler) serverManifest() *Manifest {
	b.manifestMu.RLock()
	defer b.manifestMu.RUnlock()
	return b.serverBuildManifest
}

// setManifest swaps in a freshly loaded manifest. isServer selects the
// SSR manifest; swapping it also drops the cached SSR import paths.
func (b *ViteBundler) setManifest(m *Manifest, isServer bool) {
	b.manifestMu.Lock()
	defer b.manifestMu.Unlock()
	if isServer {
		b.serverBuildManifest = m
		b.ssrImportPaths.Store(&sync.Map{})
	} else {
		b.buildManifest = m
	}
}

// DevServerURLBase returns the dev server origin. Empty outside
// development mode.
func (b *ViteBundler) DevServerURLBase() string { return b.devServerURLBase }

// resolveURL returns the URL an already-built or source path is served
// from: the static URL in production and preview, the dev server in
// development.
func (b *ViteBundler) resolveURL(path string) string {
	if b.waitForServer != nil {
		b.waitForServer()
	}
	if b.mode != ViteModeDevelopment {
		return joinURL(b.staticURL, path)
	}
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(b.rootDir, path); err == nil {
			path = rel
		}
	}
	return joinURL(b.devServerURL, path)
}

// GetURL returns the URL that loads path. In development assets under
// node_modules go via the dev server's package redirect so Vite's
// optimized deps get used; in production the manifest decides the file.
func (b *ViteBundler) GetURL(path string) (string, error) {
	if b.mode == ViteModeDevelopment {
		if b.nodeModulesDir != "" && strings.HasPrefix(path, b.nodeModulesDir) {
			rel, err := filepath.Rel(b.nodeModulesDir, path)
			if err != nil {
				return "", err
			}
			return b.devServerResolvePackageURL + rel, nil
		}
		return b.resolveURL(path), nil
	}
	asset, err := b.BuildManifest().GetAsset(path)
	if err != nil {
		return "", err
	}
	return b.resolveURL(asset.File), nil
}

// DoesAssetExist checks the filesystem in development. In production
// node_modules may not exist, so the manifest is consulted instead.
func (b *ViteBundler) DoesAssetExist(path string) bool {
	if b.mode == ViteModeDevelopment {
		_, err := os.Stat(path)
		return err == nil
	}
	return b.BuildManifest().HasAsset(path)
}

// ResolvePath resolves path through the configured resolvers, falls back
// to the raw value, absolutizes against the root dir and validates the
// result.
func (b *ViteBundler) ResolvePath(path string, rc ResolveContext, opts *ValidateOptions) (string, error) {
	resolved := resolveWithResolvers(path, b.resolvers, rc, b.rootDir)
	return b.ValidatePath(resolved, opts)
}

// ValidatePath checks that path exists and optionally has an accepted
// suffix. When the name has no suffix each of opts.ResolveExtensions is
// tried in turn, e.g. "components/Button" finds "components/Button.tsx".
func (b *ViteBundler) ValidatePath(path string, opts *ValidateOptions) (string, error) {
	if opts == nil {
		opts = &ValidateOptions{}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.rootDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		var attempted []string
		if len(opts.ResolveExtensions) > 0 && pathSuffixes(path) == "" {
			for _, ext := range opts.ResolveExtensions {
				candidate := path + ext
				if b.DoesAssetExist(candidate) {
					path = candidate
					break
				}
				rel, relErr := filepath.Rel(b.rootDir, candidate)
				if relErr != nil {
					rel = candidate
				}
				attempted = append(attempted, rel)
			}
		}
		if !b.DoesAssetExist(path) {
			return "", &AssetResolutionError{
				Path:           path,
				Attempted:      attempted,
				NeedsExtension: pathSuffixes(path) == "" && len(opts.ResolveExtensions) == 0,
			}
		}
	}
	if len(opts.SuffixWhitelist) > 0 {
		suffix := pathSuffixes(path)
		allowed := false
		for _, s := range opts.SuffixWhitelist {
			if s == suffix {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", &SuffixNotAllowedError{Path: path, Whitelist: opts.SuffixWhitelist, Hint: opts.SuffixHint}
		}
	}
	return path, nil
}

// GetEmbedItems creates the embeds needed to load paths, in order and
// de-duplicated, filtered to contentType when non-empty.
//
// Note that in development a '.css' path still embeds as javascript,
// because that is how Vite serves CSS with hot module reloading.
func (b *ViteBundler) GetEmbedItems(paths []string, contentType string) ([]Embed, error) {
	var items []Embed
	seen := map[string]bool{}
	add := func(item Embed) {
		if !seen[item.Key()] && MatchesContentType(item, contentType) {
			seen[item.Key()] = true
			items = append(items, item)
		}
	}
	for _, path := range paths {
		item := b.createEmbedItem(path)
		add(item)
		deps, err := item.Dependencies()
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			add(dep)
		}
	}
	return items, nil
}

func (b *ViteBundler) createEmbedItem(path string) Embed {
	contentType := contentTypeForPath(path)
	if contentType == "" {
		// no extension, assume javascript (e.g. `core-ui` resolving to
		// `core-ui/index.tsx`)
		contentType = "text/javascript"
	}
	switch {
	case contentType == "text/css":
		return newViteCSSEmbed(b, path, contentType)
	case contentType == "text/javascript":
		return newViteJavaScriptEmbed(b, path, contentType)
	case strings.HasPrefix(contentType, "image/"):
		return newViteImageEmbed(b, path, contentType)
	}
	b.logger.Warn(context.Background(), nil, "unknown content type for embed, assuming javascript",
		"contentType", contentType, "path", path)
	return newViteJavaScriptEmbed(b, path, contentType)
}

// GetPreambleHTML returns the Vite HMR client script in development,
// nothing otherwise.
func (b *ViteBundler) GetPreambleHTML() string {
	if b.mode != ViteModeDevelopment {
		return ""
	}
	return createHTMLTag("script", []htmlAttr{
		{"type", "module"},
		{"src", joinURL(b.devServerURL, "@vite/client")},
	})
}

// ResolveSSRImportPath maps a source path to what an ES import should
// reference during SSR. In development the source path works directly;
// in production it must be the built server file.
func (b *ViteBundler) ResolveSSRImportPath(path string) (string, error) {
	if b.IsDevelopment() {
		return path, nil
	}
	cache := b.ssrImportPaths.Load()
	if cached, ok := cache.Load(path); ok {
		return cached.(string), nil
	}
	asset, err := b.serverManifest().GetAsset(path)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(b.serverBuildDir, asset.File)
	cache.Store(path, resolved)
	return resolved, nil
}

// GetSSRURL returns the URL SSR requests go to: the dev server's ssr
// endpoint in development, the preview server in preview and the
// configured SSR service in production. Empty when unconfigured.
func (b *ViteBundler) GetSSRURL() string {
	switch b.mode {
	case ViteModeDevelopment:
		return joinURL(b.devServerURLBase, "ssr")
	case ViteModePreview:
		return joinURL(b.previewURL, "ssr")
	}
	if b.productionSSRURL != "" {
		return joinURL(b.productionSSRURL, "ssr")
	}
	return ""
}

// GetSSRHeaders adds X-SSR-ROOT-DIR in development so the dev server can
// reject SSR requests that belong to a different project.
func (b *ViteBundler) GetSSRHeaders() map[string]string {
	if b.IsDevelopment() {
		return map[string]string{"X-SSR-ROOT-DIR": b.rootDir}
	}
	return map[string]string{}
}

// CheckDevServer pings the dev server's check endpoint and reports
// whether it is running and for which project.
func (b *ViteBundler) CheckDevServer(ctx context.Context) DevServerCheck {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(b.devServerURLBase, "check"), nil)
	if err != nil {
		return DevServerCheck{}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return DevServerCheck{}
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return DevServerCheck{IsRunning: true, ReadTimeout: true}
		}
		return DevServerCheck{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DevServerCheck{}
	}
	var body struct {
		ProjectDir string `json:"projectDir"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return DevServerCheck{}
	}
	return DevServerCheck{IsRunning: true, ProjectDir: body.ProjectDir}
}

// FormatCode formats generated code through the dev server's format-code
// endpoint. Outside development, or over the configured size limit, it
// is a no-op; any failure logs and returns the input unchanged.
func (b *ViteBundler) FormatCode(ctx context.Context, code string) string {
	if !b.IsDevelopment() {
		return code
	}
	if b.formatLimit != 0 && len(code) >= b.formatLimit {
		return code
	}
	if b.waitForServer != nil {
		b.waitForServer()
	}
	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		b.logger.Error(ctx, err, "failed to encode JSON for code formatting")
		return code
	}
	ctx, cancel := context.WithTimeout(ctx, b.formatTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(b.devServerURLBase, "format-code"), bytes.NewReader(payload))
	if err != nil {
		return code
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.logger.Error(ctx, err, "timed out connecting to vite server for code formatting")
		} else {
			b.logger.Error(ctx, err, "failed to connect to vite server for code formatting, is it running?")
		}
		return code
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		b.logger.Error(ctx, nil, "bad response from dev server for format-code action",
			"status", resp.StatusCode, "content", string(content))
		return code
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.logger.Error(ctx, err, "failed to decode JSON from code formatting")
		return code
	}
	return body.Code
}
