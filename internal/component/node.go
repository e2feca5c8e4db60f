package component

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/a-h/templ"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/codegen"
	"github.com/alliancesoftware/apfrontend/internal/logging"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// DefaultContainerTag is the custom element components render into.
// Styled with display: contents it has no layout impact.
const DefaultContainerTag = "dj-component"

// ssrOptOutComment appears in the HTML where SSR was explicitly
// disabled, to make the why obvious when inspecting output.
const ssrOptOutComment = "<!-- SSR OPT OUT -->"

// FormInputContextKey ferries extra widget context one level through a
// form input's props. It is stripped during prop resolution; it must
// never reach generated code or SSR payloads.
const FormInputContextKey = "__form_input_context__"

// ErrOmitComponent signals that a component should not render at all,
// e.g. when a permission check decided the user can't see the content.
// Return it (or wrap it) from a prop handler or child to drop the
// component silently.
var ErrOmitComponent = errors.New("omit component from rendering")

// Renderable is anything that can render itself to HTML, e.g. a templ
// component passed as a child.
type Renderable interface {
	Render(ctx context.Context, w io.Writer) error
}

// Node satisfies templ.Component so mounts drop straight into templ
// templates with @node.
var _ templ.Component = (*Node)(nil)

// Environment holds what component rendering needs: the bundler, the
// render entry point and the prop handler chain. One Environment serves
// all requests.
type Environment struct {
	Bundler bundler.Bundler
	// RenderComponentFile exports renderComponent and createElement,
	// the entry point generated code calls into.
	RenderComponentFile string
	// PropHandlers convert raw prop values. Defaults to
	// DefaultPropHandlers.
	PropHandlers []PropHandler
	Logger       logging.Logger
}

func (env *Environment) handlers() []PropHandler {
	if env.PropHandlers == nil {
		return DefaultPropHandlers()
	}
	return env.PropHandlers
}

func (env *Environment) logger() logging.Logger {
	if env.Logger == nil {
		return logging.Discard()
	}
	return env.Logger
}

// NewNode returns a component node ready to render.
func (env *Environment) NewNode(source Source, props *Props, children ...any) *Node {
	if env.RenderComponentFile == "" {
		panic("component: Environment.RenderComponentFile must be set")
	}
	if props == nil {
		props = NewProps()
	}
	var extraProps *Props
	if extra, ok := props.Pop("props"); ok {
		extraProps, _ = extra.(*Props)
	}
	return &Node{
		env:          env,
		Source:       source,
		Props:        props,
		Children:     children,
		ContainerTag: DefaultContainerTag,
		extraProps:   extraProps,
	}
}

// Node is a component to render. It implements templ's Component
// interface so it can appear directly inside templates, and the asset
// context's Asset interface so its files reach the production build.
type Node struct {
	env *Environment

	Source   Source
	Props    *Props
	Children []any

	// SSRDisabled skips server side rendering for this component only.
	SSRDisabled bool
	// OmitIfEmpty drops the component entirely when it has no children.
	OmitIfEmpty bool
	// TargetVariable, when set, binds the resolved component into the
	// active variable scope under that name instead of emitting markup,
	// so it can be passed as a prop to a later component.
	TargetVariable string
	// ContainerTag is the element the component mounts into.
	ContainerTag string
	// ContainerProps are extra attributes for the container element.
	ContainerProps map[string]string

	// extraProps is the "props" prop split out at construction; its
	// entries merge over Props so a dynamically built map can be spread
	// into a component.
	extraProps *Props

	dynamicDeps []string
}

// PathsForBundling returns the files the build must include for this
// component: the render entry point and the component's own source.
func (n *Node) PathsForBundling() []string {
	paths := []string{n.env.RenderComponentFile}
	if source, ok := n.Source.(ImportSource); ok {
		paths = append(paths, source.Path)
	}
	return paths
}

// DynamicPathsForBundling returns files only known at render time, e.g.
// imports required by prop values.
func (n *Node) DynamicPathsForBundling() []string {
	return n.dynamicDeps
}

// addDynamicDependency records a render time import so the asset
// registry check can verify it will exist in production.
func (n *Node) addDynamicDependency(path string) {
	for _, p := range n.PathsForBundling() {
		if p == path {
			return
		}
	}
	for _, p := range n.dynamicDeps {
		if p == path {
			return
		}
	}
	n.dynamicDeps = append(n.dynamicDeps, path)
}

// resolveProp converts a raw prop value to something serializable,
// running the environment's prop handlers.
func (n *Node) resolveProp(ctx context.Context, value any) (any, error) {
	switch v := value.(type) {
	case *Node:
		return NewNestedProp(ctx, v)
	case map[string]any:
		out := ordered.NewMap()
		for _, key := range sortedKeys(v) {
			resolved, err := n.resolveProp(ctx, v[key])
			if err != nil {
				return nil, err
			}
			out.Set(key, resolved)
		}
		return out, nil
	case *ordered.Map:
		out := ordered.NewMap()
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			resolved, err := n.resolveProp(ctx, item)
			if err != nil {
				return nil, err
			}
			out.Set(key, resolved)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			resolved, err := n.resolveProp(ctx, item)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	}
	for _, handler := range n.env.handlers() {
		if handler.ShouldApply(value) {
			return handler.Handle(ctx, value, n)
		}
	}
	return value, nil
}

// resolveChildren renders and converts the node's children into a list
// of strings and NestedProps, normalized per JSX whitespace rules.
func (n *Node) resolveChildren(ctx context.Context) ([]any, error) {
	var children []any
	for _, child := range n.Children {
		switch v := child.(type) {
		case *Node:
			nested, err := NewNestedProp(ctx, v)
			if errors.Is(err, ErrOmitComponent) {
				continue
			}
			if err != nil {
				return nil, err
			}
			children = append(children, nested)
		case string:
			children = append(children, v)
		case Renderable:
			// opaque content may render components of its own; they
			// register on the accumulator and leave placeholders in the
			// rendered string
			acc := newAccumulator(n.env.logger())
			var buf strings.Builder
			if err := v.Render(withAccumulator(ctx, acc), &buf); err != nil {
				return nil, err
			}
			parts, err := acc.Apply(buf.String())
			if err != nil {
				return nil, err
			}
			children = append(children, parts...)
		default:
			resolved, err := n.resolveProp(ctx, child)
			if errors.Is(err, ErrOmitComponent) {
				continue
			}
			if err != nil {
				return nil, err
			}
			children = append(children, resolved)
		}
	}
	children = NormalizeChildren(children)
	if n.OmitIfEmpty && len(children) == 0 {
		return nil, ErrOmitComponent
	}
	return children, nil
}

// ResolveProps resolves all props, including children, into their
// serializable form. The form input context key exists only to pass
// extra context to widgets and is dropped here.
func (n *Node) ResolveProps(ctx context.Context) (*Props, error) {
	props := NewProps()
	for _, key := range n.Props.Keys() {
		if key == FormInputContextKey {
			continue
		}
		value, _ := n.Props.Get(key)
		resolved, err := n.resolveProp(ctx, value)
		if err != nil {
			return nil, err
		}
		props.Set(key, resolved)
	}
	if n.extraProps != nil {
		for _, key := range n.extraProps.Keys() {
			if key == FormInputContextKey {
				continue
			}
			value, _ := n.extraProps.Get(key)
			resolved, err := n.resolveProp(ctx, value)
			if err != nil {
				return nil, err
			}
			props.Set(key, resolved)
		}
	}
	if len(n.Children) > 0 {
		children, err := n.resolveChildren(ctx)
		if err != nil {
			return nil, err
		}
		if len(children) == 1 {
			// many components expect a single child rather than a list
			props.Set("children", children[0])
		} else if len(children) > 0 {
			props.Set("children", children)
		} else if n.OmitIfEmpty {
			return nil, ErrOmitComponent
		}
	} else if n.OmitIfEmpty {
		return nil, ErrOmitComponent
	}
	return props, nil
}

// Render writes the component's HTML. Inside another component it
// registers with the accumulator and writes a placeholder instead; at
// the top level it writes the container element, the SSR placeholder
// and the mounting script.
func (n *Node) Render(ctx context.Context, w io.Writer) error {
	out, err := n.renderComponent(ctx)
	if errors.Is(err, ErrOmitComponent) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func (n *Node) renderComponent(ctx context.Context) (string, error) {
	ac, hasContext := bundler.AssetContextFrom(ctx)
	if hasContext {
		items, err := n.env.Bundler.GetEmbedItems(n.PathsForBundling(), "text/css")
		if err != nil {
			return "", err
		}
		for _, item := range items {
			ac.QueueEmbedFile(item)
		}
		ac.AddAsset(n)
	}

	if acc, ok := accumulatorFrom(ctx); ok {
		nested, err := NewNestedProp(ctx, n)
		if err != nil {
			return "", err
		}
		return acc.Add(nested), nil
	}

	if n.TargetVariable != "" {
		nested, err := NewNestedProp(ctx, n)
		if err != nil {
			return "", err
		}
		if !storeVariable(ctx, n.TargetVariable, nested) {
			n.env.logger().Warn(ctx, nil, "component has a target variable but no variable scope is active", "variable", n.TargetVariable)
		}
		return "", nil
	}

	if !hasContext {
		return "", errors.New("component rendering requires an asset context, wrap the request with bundler.WithAssetContext")
	}

	props, err := n.ResolveProps(ctx)
	if err != nil {
		return "", err
	}
	containerID := ac.GenerateID()

	generator := NewGenerator(n.env, n)
	// generate the code first so a failure doesn't leave an SSR item queued
	code, err := generator.GenerateCode(props, containerID, !n.SSRDisabled)
	if err != nil {
		return "", err
	}
	code = strings.TrimSpace(n.env.Bundler.FormatCode(ctx, code))

	ssrPlaceholder := ssrOptOutComment
	if !n.SSRDisabled {
		ssrPlaceholder = ac.QueueSSR(&ssrItem{
			source:           n.Source,
			props:            props,
			identifierPrefix: containerID,
		})
	}
	if !ac.HTMLTarget().IncludeScripts {
		return ssrPlaceholder, nil
	}

	tag := n.ContainerTag
	if tag == "" {
		tag = DefaultContainerTag
	}
	var b strings.Builder
	b.WriteString("<" + tag + " ")
	b.WriteString(n.containerAttrs(containerID))
	b.WriteString(">")
	b.WriteString(ssrPlaceholder)
	b.WriteString("</" + tag + ">\n")
	b.WriteString("<script type=\"module\">\n" + code + "\n</script>")
	return b.String(), nil
}

func (n *Node) containerAttrs(containerID string) string {
	keys := make([]string, 0, len(n.ContainerProps))
	for key := range n.ContainerProps {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, key, html.EscapeString(n.ContainerProps[key])))
	}
	parts = append(parts, fmt.Sprintf(`data-djid="%s"`, containerID))
	return strings.Join(parts, " ")
}

// NestedProp is a component used as a prop or child of another
// component. See the Component reviver on the render server for the SSR
// side.
type NestedProp struct {
	Component *Node
	// Props are the resolved props, children included.
	Props *Props
}

// NewNestedProp resolves component's props eagerly. Returns
// ErrOmitComponent when the component declines to render. The nested
// component never goes through Render itself, so its stylesheets and
// asset registration happen here.
func NewNestedProp(ctx context.Context, component *Node) (*NestedProp, error) {
	if ac, ok := bundler.AssetContextFrom(ctx); ok {
		items, err := component.env.Bundler.GetEmbedItems(component.PathsForBundling(), "text/css")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			ac.QueueEmbedFile(item)
		}
		ac.AddAsset(component)
	}
	props, err := component.ResolveProps(ctx)
	if err != nil {
		return nil, err
	}
	return &NestedProp{Component: component, Props: props}, nil
}

func (p *NestedProp) SSRTag() string { return "Component" }

func (p *NestedProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	props, err := p.Props.Serialize(sctx)
	if err != nil {
		return nil, err
	}
	repr := ordered.NewMap()
	repr.Set("component", sourceSSRValue(p.Component.Source))
	repr.Set("props", props)
	return repr, nil
}

// GenerateCode renders the nested component as a JSX element in the
// parent's generated code.
func (p *NestedProp) GenerateCode(g *Generator) (codegen.Node, error) {
	return g.createJSXElement(p.Component, p.Props)
}

// sourceSSRValue returns the serializable form of a component source: a
// plain tag name for common components, the import custom value
// otherwise.
func sourceSSRValue(source Source) any {
	if common, ok := source.(CommonSource); ok {
		return common.Name
	}
	return source
}

// ssrItem is a component queued for server side rendering. The payload
// matches the ComponentSSRItem type on the render server.
type ssrItem struct {
	source Source
	props  *Props
	// identifierPrefix guarantees unique React ids when multiple roots
	// render on one page.
	identifierPrefix string
}

func (i *ssrItem) SSRType() string { return "Component" }

func (i *ssrItem) SSRPayload(sctx *bundler.SerializerContext) (*ordered.Map, error) {
	props, err := i.props.Serialize(sctx)
	if err != nil {
		return nil, err
	}
	payload := ordered.NewMap()
	payload.Set("component", sourceSSRValue(i.source))
	payload.Set("props", props)
	payload.Set("identifierPrefix", i.identifierPrefix)
	return payload, nil
}
