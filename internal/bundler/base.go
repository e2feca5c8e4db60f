// Package bundler integrates a frontend bundler (Vite) with Go rendered
// pages: resolving asset paths, tracking which assets a request uses,
// embedding the tags to load them and performing server side rendering.
package bundler

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ResolveContext carries the context a path is being resolved in.
type ResolveContext struct {
	// RootDir is the project root; resolved paths sit under it.
	RootDir string
	// SourcePath is the file the reference appears in (e.g. a template).
	// May be empty.
	SourcePath string
}

// PathResolver resolves a path string to a filesystem path. Resolvers are
// tried in order; ok false means the next resolver gets a go.
type PathResolver interface {
	Resolve(path string, rc ResolveContext) (resolved string, ok bool)
}

// RegExAliasResolver rewrites a path using a regular expression, e.g. to
// expand aliases like "@components/". It declines paths the expression
// leaves unchanged.
type RegExAliasResolver struct {
	find    *regexp.Regexp
	replace string
}

func NewRegExAliasResolver(find, replace string) (*RegExAliasResolver, error) {
	re, err := regexp.Compile(find)
	if err != nil {
		return nil, err
	}
	return &RegExAliasResolver{find: re, replace: replace}, nil
}

func (r *RegExAliasResolver) Resolve(path string, rc ResolveContext) (string, bool) {
	replaced := r.find.ReplaceAllString(path, r.replace)
	if replaced == path {
		return "", false
	}
	return replaced, true
}

// SourceDirResolver resolves any non-absolute path relative to BaseDir.
type SourceDirResolver struct {
	BaseDir string
}

func (r SourceDirResolver) Resolve(path string, rc ResolveContext) (string, bool) {
	if filepath.IsAbs(path) {
		return "", false
	}
	return filepath.Join(r.BaseDir, path), true
}

// RelativePathResolver resolves paths beginning with "./" or "../"
// relative to the source path in the resolve context.
type RelativePathResolver struct{}

func (RelativePathResolver) Resolve(path string, rc ResolveContext) (string, bool) {
	if !strings.HasPrefix(path, "./") && !strings.HasPrefix(path, "../") {
		return "", false
	}
	if rc.SourcePath == "" {
		return "", false
	}
	source := rc.SourcePath
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		source = filepath.Dir(source)
	}
	return filepath.Clean(filepath.Join(source, path)), true
}

// ValidateOptions controls ValidatePath.
type ValidateOptions struct {
	// SuffixWhitelist restricts accepted suffixes (each including the
	// leading '.'). Empty accepts any suffix.
	SuffixWhitelist []string
	// SuffixHint is appended to the whitelist error message.
	SuffixHint string
	// ResolveExtensions are tried in turn when the path has no suffix
	// and doesn't exist as written.
	ResolveExtensions []string
}

// DevServerCheck describes the status of the bundler dev server.
type DevServerCheck struct {
	// IsRunning is true when something answered at the expected address.
	IsRunning bool
	// ReadTimeout is true when the server accepted the connection but
	// didn't respond in time.
	ReadTimeout bool
	// ProjectDir is the project the running server belongs to.
	ProjectDir string
}

// IsWrongServer reports whether a server is running but belongs to a
// different project than rootDir.
func (c DevServerCheck) IsWrongServer(rootDir string) bool {
	return c.IsRunning && c.ProjectDir != rootDir
}

// IsOK reports whether the running server serves this project.
func (c DevServerCheck) IsOK(rootDir string) bool {
	return c.IsRunning && !c.IsWrongServer(rootDir)
}

// HTMLTarget describes what the generated HTML will be used for. A
// browser loads CSS externally and runs scripts; a PDF renderer wants
// inline CSS and no scripts.
type HTMLTarget struct {
	// Label identifies the target in logs.
	Label string
	// IncludeScripts controls whether script tags are emitted.
	IncludeScripts bool
	// InlineCSS emits CSS in <style> tags instead of external links.
	InlineCSS bool
}

var (
	HTMLTargetBrowser = HTMLTarget{Label: "browser", IncludeScripts: true}
	HTMLTargetPDF     = HTMLTarget{Label: "pdf", InlineCSS: true}
)

// Embed is a file that should be embedded in the page. Each embed
// generates its own HTML and may differ between dev and production or
// between targets.
type Embed interface {
	// ContentType returns the embed's content type, commonly
	// text/javascript or text/css.
	ContentType() string
	// Dependencies returns additional embeds this one requires, e.g.
	// the CSS extracted from a JS entry point.
	Dependencies() ([]Embed, error)
	// GenerateCode returns the HTML to embed the file for target.
	GenerateCode(target HTMLTarget) (string, error)
	// CanEmbedHead is true when the embed can move to the document head
	// instead of appearing inline where it was used.
	CanEmbedHead() bool
	// HTMLAttrs returns extra attributes rendered on the tag.
	HTMLAttrs() map[string]string
	// Key identifies the embed for de-duplication.
	Key() string
}

// MatchesContentType reports whether e matches contentType. An empty
// contentType matches everything.
func MatchesContentType(e Embed, contentType string) bool {
	return contentType == "" || e.ContentType() == contentType
}

// Bundler abstracts the frontend build tool. Paths passed in are project
// relative or absolute source paths; where they end up (dev server URL,
// hashed production file) is the bundler's concern.
type Bundler interface {
	// RootDir returns the project root everything resolves against.
	RootDir() string
	// IsDevelopment is true when serving unbundled assets from a dev server.
	IsDevelopment() bool
	// IsSSREnabled is true when server side rendering is available.
	IsSSREnabled() bool
	// GetURL returns the URL that loads the asset at path.
	GetURL(path string) (string, error)
	// DoesAssetExist checks whether the asset is known. In production
	// this consults the build manifest rather than the filesystem.
	DoesAssetExist(path string) bool
	// GetEmbedItems creates the embeds needed to load paths, filtered
	// by contentType when non-empty.
	GetEmbedItems(paths []string, contentType string) ([]Embed, error)
	// ResolvePath resolves a path string through the configured
	// resolvers and validates the result.
	ResolvePath(path string, rc ResolveContext, opts *ValidateOptions) (string, error)
	// ValidatePath checks an already-resolved path exists, trying
	// opts.ResolveExtensions when the name has no suffix.
	ValidatePath(path string, opts *ValidateOptions) (string, error)
	// ResolveSSRImportPath maps a source path to the specifier usable in
	// an ES import during SSR. In production this is the built file.
	ResolveSSRImportPath(path string) (string, error)
	// GetSSRURL returns the URL SSR requests are POSTed to.
	GetSSRURL() string
	// GetSSRHeaders returns extra headers for the SSR request.
	GetSSRHeaders() map[string]string
	// GetPreambleHTML returns HTML for the document head, e.g. the dev
	// server client for hot module reloading.
	GetPreambleHTML() string
	// CheckDevServer checks whether the dev server is running and for
	// which project.
	CheckDevServer(ctx context.Context) DevServerCheck
	// FormatCode formats generated code for readability. Only worth the
	// cost in development; any failure returns the input unchanged.
	FormatCode(ctx context.Context, code string) string
}

// pathSuffixes returns the joined extensions of the final path element,
// e.g. ".css.ts" for "styles.css.ts". Empty when there is no extension.
func pathSuffixes(path string) string {
	name := strings.TrimPrefix(filepath.Base(path), ".")
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}

// resolveWithResolvers runs path through resolvers in order, falling back
// to the raw path, and absolutizes the result against rootDir.
func resolveWithResolvers(path string, resolvers []PathResolver, rc ResolveContext, rootDir string) string {
	resolved := path
	for _, r := range resolvers {
		if out, ok := r.Resolve(path, rc); ok {
			resolved = out
			break
		}
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(rootDir, resolved)
	}
	return resolved
}
