// Package htmlparse converts HTML strings into a tree of elements and
// text that the component renderer can turn into React elements. It also
// handles the placeholder tokens used to carry dynamic values through an
// HTML string so it can be parsed in one pass.
package htmlparse

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

const (
	placeholderPrefix = "_______placeholder_____$"
	placeholderSuffix = "$_"
)

// Placeholder returns the token to substitute for a dynamic value before
// parsing. After parsing, SplitPlaceholders exchanges tokens for the
// original values.
func Placeholder(id string) string {
	return placeholderPrefix + id + placeholderSuffix
}

// Element is a parsed HTML element. Attrs values are strings, or true
// for boolean attributes like disabled; names have been mapped to their
// React form (class becomes className and so on). Children holds
// *Element and string values.
type Element struct {
	Tag      string
	Attrs    *ordered.Map
	Children []any
}

// Extracted from https://developer.mozilla.org/en-US/docs/Glossary/Void_element
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// IsVoidElement reports whether tag never has children.
func IsVoidElement(tag string) bool {
	return voidElements[strings.ToLower(tag)]
}

// Extracted from https://html.spec.whatwg.org/multipage/indices.html#attributes-3
var booleanAttributes = map[string]bool{
	"allowfullscreen": true, "async": true, "autofocus": true,
	"autoplay": true, "checked": true, "controls": true, "default": true,
	"defer": true, "disabled": true, "formnovalidate": true, "inert": true,
	"ismap": true, "itemscope": true, "multiple": true, "muted": true,
	"nomodule": true, "novalidate": true, "open": true, "playsinline": true,
	"readonly": true, "required": true, "reversed": true, "selected": true,
	"shadowrootdelegatesfocus": true, "shadowrootclonable": true,
	"shadowrootserializable": true,
}

// Not strictly accurate but good enough for our purposes, see
// https://html.spec.whatwg.org/multipage/syntax.html#attributes-2
var validAttributeName = regexp.MustCompile(`^[^\s/<>='"]+$`)

// IsValidAttributeName reports whether name can appear on an HTML tag.
func IsValidAttributeName(name string) bool {
	return validAttributeName.MatchString(name)
}

// reactAttributeNames maps lowercased HTML attribute names to the cased
// names React expects for DOM props. Names not listed pass through
// unchanged, which covers data-* and aria-* attributes.
var reactAttributeNames = map[string]string{
	"accept-charset":  "acceptCharset",
	"accesskey":       "accessKey",
	"allowfullscreen": "allowFullScreen",
	"autocapitalize":  "autoCapitalize",
	"autocomplete":    "autoComplete",
	"autocorrect":     "autoCorrect",
	"autofocus":       "autoFocus",
	"autoplay":        "autoPlay",
	"cellpadding":     "cellPadding",
	"cellspacing":     "cellSpacing",
	"charset":         "charSet",
	"class":           "className",
	"colspan":         "colSpan",
	"contenteditable": "contentEditable",
	"crossorigin":     "crossOrigin",
	"datetime":        "dateTime",
	"enctype":         "encType",
	"fetchpriority":   "fetchPriority",
	"for":             "htmlFor",
	"formaction":      "formAction",
	"formenctype":     "formEncType",
	"formmethod":      "formMethod",
	"formnovalidate":  "formNoValidate",
	"formtarget":      "formTarget",
	"frameborder":     "frameBorder",
	"hreflang":        "hrefLang",
	"http-equiv":      "httpEquiv",
	"inputmode":       "inputMode",
	"ismap":           "isMap",
	"maxlength":       "maxLength",
	"minlength":       "minLength",
	"nomodule":        "noModule",
	"novalidate":      "noValidate",
	"playsinline":     "playsInline",
	"readonly":        "readOnly",
	"referrerpolicy":  "referrerPolicy",
	"rowspan":         "rowSpan",
	"spellcheck":      "spellCheck",
	"srcdoc":          "srcDoc",
	"srclang":         "srcLang",
	"srcset":          "srcSet",
	"tabindex":        "tabIndex",
	"usemap":          "useMap",
}

// TransformAttributeName returns the React DOM prop name for an HTML
// attribute.
func TransformAttributeName(name string) string {
	if mapped, ok := reactAttributeNames[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// Parser converts HTML fragments. A zero value works; Logger enables
// warnings about dropped attributes.
type Parser struct {
	Logger logging.Logger
}

func (p *Parser) logger() logging.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger
}

// ParseFragment parses an HTML fragment into a tree of *Element and
// string nodes. Invalid attribute names are dropped with a warning;
// boolean attributes become true values.
func (p *Parser) ParseFragment(fragment string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
}

// Convert parses fragment and returns the converted element tree.
func (p *Parser) Convert(ctx context.Context, fragment string) ([]any, error) {
	nodes, err := p.ParseFragment(fragment)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, node := range nodes {
		out = append(out, p.convertNode(ctx, node, fragment)...)
	}
	return out, nil
}

func (p *Parser) convertNode(ctx context.Context, node *html.Node, original string) []any {
	switch node.Type {
	case html.TextNode:
		if node.Data == "" {
			return nil
		}
		return []any{node.Data}
	case html.ElementNode:
		el := &Element{
			Tag:   node.Data,
			Attrs: p.convertAttributes(ctx, node.Attr, original),
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			el.Children = append(el.Children, p.convertNode(ctx, child, original)...)
		}
		return []any{el}
	}
	// comments, doctypes etc contribute nothing
	return nil
}

func (p *Parser) convertAttributes(ctx context.Context, attrs []html.Attribute, original string) *ordered.Map {
	out := ordered.NewMap()
	var badKeys []string
	for _, attr := range attrs {
		switch {
		case !IsValidAttributeName(attr.Key):
			badKeys = append(badKeys, attr.Key)
		case attr.Val == "" && booleanAttributes[strings.ToLower(attr.Key)]:
			out.Set(TransformAttributeName(attr.Key), true)
		default:
			out.Set(TransformAttributeName(attr.Key), attr.Val)
		}
	}
	if len(badKeys) > 0 {
		p.logger().Warn(ctx, nil, "invalid HTML attributes removed from tag",
			"html", original, "removed", strings.Join(badKeys, ", "))
	}
	return out
}

// SplitPlaceholders splits content on placeholder tokens, exchanging
// each for its value from replacements. With no replacements, or no
// tokens, the content comes back as a single element.
func SplitPlaceholders(content string, replacements map[string]any) []any {
	if len(replacements) == 0 {
		return []any{content}
	}
	parts := strings.Split(content, placeholderPrefix)
	first, parts := parts[0], parts[1:]
	if len(parts) == 0 {
		return []any{first}
	}
	var out []any
	if first != "" {
		out = append(out, first)
	}
	for _, part := range parts {
		id, extra, _ := strings.Cut(part, placeholderSuffix)
		out = append(out, replacements[id])
		if extra != "" {
			out = append(out, extra)
		}
	}
	return out
}
