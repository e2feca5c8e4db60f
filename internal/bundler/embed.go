package bundler

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// htmlAttr is an ordered attribute for createHTMLTag.
type htmlAttr struct {
	name  string
	value string
}

// createHTMLTag renders a tag with attributes in the given order.
func createHTMLTag(tagName string, attrs []htmlAttr) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, a.name, a.value))
	}
	tag := strings.TrimRight("<"+tagName+" "+strings.Join(parts, " "), " ")
	if tagName == "link" || tagName == "img" {
		return tag + ">"
	}
	return fmt.Sprintf("%s></%s>", tag, tagName)
}

// sortedAttrs flattens an attribute map in sorted order, for stable output.
func sortedAttrs(attrs map[string]string) []htmlAttr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]htmlAttr, 0, len(keys))
	for _, k := range keys {
		out = append(out, htmlAttr{k, attrs[k]})
	}
	return out
}

// contentTypeForPath guesses a content type from a source path. An empty
// src is assumed to be javascript (a common chunk). Vanilla extract
// files (.css.ts) count as css.
func contentTypeForPath(src string) string {
	if src == "" {
		return "text/javascript"
	}
	ext := strings.ToLower(strings.TrimPrefix(pathSuffixes(src), "."))
	switch ext {
	case "js", "jsx", "mjs", "ts", "tsx":
		return "text/javascript"
	case "css", "css.ts":
		return "text/css"
	}
	return mime.TypeByExtension(filepath.Ext(src))
}

// viteEmbed is the shared state of the Vite embed kinds.
type viteEmbed struct {
	bundler     *ViteBundler
	path        string
	contentType string
	htmlAttrs   map[string]string
}

func (e *viteEmbed) ContentType() string { return e.contentType }

func (e *viteEmbed) HTMLAttrs() map[string]string { return e.htmlAttrs }

func (e *viteEmbed) CanEmbedHead() bool { return true }

func (e *viteEmbed) Dependencies() ([]Embed, error) { return nil, nil }

// ViteJavaScriptEmbed loads a javascript asset. In development it loads
// from the dev server, in production from the bundled file.
type ViteJavaScriptEmbed struct {
	viteEmbed
}

func newViteJavaScriptEmbed(b *ViteBundler, path, contentType string) *ViteJavaScriptEmbed {
	return &ViteJavaScriptEmbed{viteEmbed{bundler: b, path: path, contentType: contentType}}
}

func (e *ViteJavaScriptEmbed) Key() string {
	return "js:" + e.path
}

// Dependencies returns the CSS extracted from this entry's dependency
// closure. In development Vite loads CSS through the module graph so
// there is nothing to add.
func (e *ViteJavaScriptEmbed) Dependencies() ([]Embed, error) {
	if e.bundler.IsDevelopment() {
		return nil, nil
	}
	asset, err := e.bundler.BuildManifest().GetAsset(e.path)
	if err != nil {
		return nil, err
	}
	var deps []Embed
	for _, cssPath := range asset.Dependencies().CSSDependencies() {
		deps = append(deps, newResolvedViteCSSEmbed(e.bundler, cssPath))
	}
	return deps, nil
}

func (e *ViteJavaScriptEmbed) GenerateCode(target HTMLTarget) (string, error) {
	if !target.IncludeScripts {
		return "", nil
	}
	if e.bundler.IsDevelopment() {
		return createHTMLTag("script", []htmlAttr{
			{"src", e.bundler.resolveURL(e.path)},
			{"type", "module"},
		}), nil
	}
	asset, err := e.bundler.BuildManifest().GetAsset(e.path)
	if err != nil {
		return "", err
	}
	attrs := sortedAttrs(e.htmlAttrs)
	attrs = append(attrs, htmlAttr{"src", e.bundler.resolveURL(asset.File)}, htmlAttr{"type", "module"})
	return createHTMLTag("script", attrs), nil
}

// ViteCSSEmbed loads a css asset. In development CSS loads through
// javascript so hot module reloading works; in production it links the
// built css file, or inlines it for targets that want inline css.
type ViteCSSEmbed struct {
	viteEmbed
	// isResolvedFromManifest means path is already a built css file and
	// needs no further manifest lookup.
	isResolvedFromManifest bool
}

func newViteCSSEmbed(b *ViteBundler, path, contentType string) *ViteCSSEmbed {
	return &ViteCSSEmbed{viteEmbed: viteEmbed{bundler: b, path: path, contentType: contentType}}
}

func newResolvedViteCSSEmbed(b *ViteBundler, path string) *ViteCSSEmbed {
	return &ViteCSSEmbed{
		viteEmbed:              viteEmbed{bundler: b, path: path, contentType: "text/css"},
		isResolvedFromManifest: true,
	}
}

func (e *ViteCSSEmbed) Key() string {
	return fmt.Sprintf("css:%s:%t", e.path, e.isResolvedFromManifest)
}

func (e *ViteCSSEmbed) isVanillaExtractFile() bool {
	return strings.HasSuffix(strings.ToLower(e.path), ".css.ts")
}

// Dependencies returns the built css files from the manifest. For
// vanilla extract the manifest's main file is a useless javascript stub
// and the real css sits in the entry's css list; for plain css files the
// list is empty and the file itself is the css.
func (e *ViteCSSEmbed) Dependencies() ([]Embed, error) {
	if e.bundler.IsDevelopment() {
		return nil, nil
	}
	asset, err := e.bundler.BuildManifest().GetAsset(e.path)
	if err != nil {
		return nil, err
	}
	var deps []Embed
	for _, cssFile := range asset.CSS {
		deps = append(deps, newResolvedViteCSSEmbed(e.bundler, cssFile))
	}
	return deps, nil
}

func (e *ViteCSSEmbed) GenerateCode(target HTMLTarget) (string, error) {
	if e.bundler.IsDevelopment() {
		if target.InlineCSS {
			e.bundler.logger.Warn(context.Background(), nil,
				"inlining CSS is not supported in dev mode, CSS will be loaded via JS instead")
		}
		if e.isVanillaExtractFile() && e.bundler.vanillaExtract != nil {
			// the intermediate import script wires up hot module
			// reloading; loading the .css.ts directly forces full page
			// reloads on change
			fn, err := e.bundler.vanillaExtract.ImportScriptFilename(context.Background(), e.path)
			if err != nil || fn == "" {
				e.bundler.logger.Warn(context.Background(), err,
					"expected an import script for vanilla extract file, hot loading will not work",
					"path", e.path)
			} else {
				attrs := sortedAttrs(e.htmlAttrs)
				attrs = append(attrs,
					htmlAttr{"src", e.bundler.resolveURL(fn)},
					htmlAttr{"type", "module"},
					// blocks rendering until loaded, which reduces the
					// flash of unstyled content
					htmlAttr{"blocking", "render"},
				)
				return createHTMLTag("script", attrs), nil
			}
		}
		attrs := sortedAttrs(e.htmlAttrs)
		attrs = append(attrs, htmlAttr{"src", e.bundler.resolveURL(e.path)}, htmlAttr{"type", "module"})
		return createHTMLTag("script", attrs), nil
	}
	if !e.isResolvedFromManifest && e.isVanillaExtractFile() {
		// the manifest entry's file is a do-nothing javascript stub for
		// vanilla extract; the real css comes back from Dependencies
		return "", nil
	}
	file := e.path
	if !e.isResolvedFromManifest {
		asset, err := e.bundler.BuildManifest().GetAsset(e.path)
		if err != nil {
			return "", err
		}
		file = asset.File
	}
	if target.InlineCSS {
		contents, err := os.ReadFile(filepath.Join(filepath.Dir(e.bundler.BuildManifest().ManifestFile), file))
		if err != nil {
			return "", err
		}
		return "<style>" + string(contents) + "</style>", nil
	}
	attrs := sortedAttrs(e.htmlAttrs)
	attrs = append(attrs, htmlAttr{"rel", "stylesheet"}, htmlAttr{"href", e.bundler.resolveURL(file)})
	return createHTMLTag("link", attrs), nil
}

// ViteImageEmbed embeds an image as an img tag. In production the hashed
// asset file is used, which gives cache busting for free.
type ViteImageEmbed struct {
	viteEmbed
}

func newViteImageEmbed(b *ViteBundler, path, contentType string) *ViteImageEmbed {
	return &ViteImageEmbed{viteEmbed{bundler: b, path: path, contentType: contentType}}
}

func (e *ViteImageEmbed) Key() string {
	return "img:" + e.path
}

// CanEmbedHead is false; images display inline where they are used.
func (e *ViteImageEmbed) CanEmbedHead() bool { return false }

func (e *ViteImageEmbed) GenerateCode(target HTMLTarget) (string, error) {
	file := e.path
	if !e.bundler.IsDevelopment() {
		asset, err := e.bundler.BuildManifest().GetAsset(e.path)
		if err != nil {
			return "", err
		}
		if len(asset.Assets) != 1 {
			e.bundler.logger.Warn(context.Background(), nil, "expected 1 asset for image",
				"path", e.path, "assets", asset.Assets)
		}
		if len(asset.Assets) > 0 {
			file = asset.Assets[0]
		}
	}
	attrs := sortedAttrs(e.htmlAttrs)
	attrs = append(attrs, htmlAttr{"src", e.bundler.resolveURL(file)})
	return createHTMLTag("img", attrs), nil
}
