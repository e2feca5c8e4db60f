package component

import (
	"context"
	"fmt"
	"strings"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/codegen"
)

// renderComponentImportPriority sorts the createElement / renderComponent
// import first. The render entry point sets up the runtime the rest of
// the imports rely on, so it must load before them.
const renderComponentImportPriority = 100

// Generator produces the module script that mounts a component in the
// browser. One Generator serves one root component render.
type Generator struct {
	env  *Environment
	node *Node

	writer          *codegen.SourceFileWriter
	printer         *codegen.Printer
	renderComponent codegen.Identifier
	// requiresWrapper is set when a prop needs to render hooks, which
	// must happen inside a function component.
	requiresWrapper bool
}

// NewGenerator returns a generator for node. createElement and
// renderComponent resolve from the environment's render entry point.
func NewGenerator(env *Environment, node *Node) *Generator {
	printer := &codegen.Printer{
		ResolveImportURL: func(source string) string {
			url, err := resolveImportURL(env.Bundler, source)
			if err != nil {
				env.logger().Warn(context.Background(), err, "could not resolve import URL", "source", source)
				return source
			}
			return url
		},
	}
	writer := codegen.NewSourceFileWriter(printer)
	createElement := writer.ResolveImport(
		env.RenderComponentFile,
		namedImport("createElement"),
		renderComponentImportPriority,
	)
	printer.JSXTransform = createElement
	renderComponent := writer.ResolveImport(
		env.RenderComponentFile,
		namedImport("renderComponent"),
		renderComponentImportPriority,
	)
	return &Generator{
		env:             env,
		node:            node,
		writer:          writer,
		printer:         printer,
		renderComponent: renderComponent,
	}
}

// namedImport returns a named import specifier for name. The writer may
// rename the local binding on collision.
func namedImport(name string) *codegen.ImportSpecifier {
	id := codegen.Ident(name)
	return &codegen.ImportSpecifier{Imported: id, Local: id}
}

// resolveImportURL maps an import source to the URL the browser loads it
// from.
func resolveImportURL(b bundler.Bundler, source string) (string, error) {
	validated, err := b.ValidatePath(source, &bundler.ValidateOptions{ResolveExtensions: []string{".ts", ".tsx"}})
	if err != nil {
		return "", err
	}
	return b.GetURL(validated)
}

// RequireWrapperComponent forces the generated code to render inside a
// function component, e.g. so a prop can use a hook.
func (g *Generator) RequireWrapperComponent() {
	g.requiresWrapper = true
}

// ResolvePropImport adds an import a prop value requires and returns the
// local identifier it is bound to. The imported file is recorded as a
// dynamic dependency so the production build check knows about it.
func (g *Generator) ResolvePropImport(path string, spec codegen.Specifier, priority int) (codegen.Identifier, error) {
	validated, err := g.env.Bundler.ValidatePath(path, &bundler.ValidateOptions{ResolveExtensions: []string{".ts", ".tsx"}})
	if err != nil {
		return codegen.Identifier{}, err
	}
	g.node.addDynamicDependency(validated)
	return g.writer.ResolveImport(path, spec, priority), nil
}

// componentExpr returns the expression the component renders as: a
// string literal for native elements, the imported identifier (with any
// property access) otherwise.
func (g *Generator) componentExpr(source Source) (codegen.Node, error) {
	switch s := source.(type) {
	case CommonSource:
		return codegen.StringLiteral{Value: s.Name}, nil
	case ImportSource:
		var spec codegen.Specifier
		if s.IsDefaultImport {
			spec = &codegen.ImportDefaultSpecifier{Local: codegen.Ident(s.ImportName)}
		} else {
			spec = namedImport(s.ImportName)
		}
		// nested component imports are only known at render time
		g.node.addDynamicDependency(s.Path)
		ident := g.writer.ResolveImport(s.Path, spec, 0)
		if s.PropertyName != "" {
			return codegen.PropertyAccess{Expr: ident, Name: codegen.Ident(s.PropertyName)}, nil
		}
		return ident, nil
	}
	return nil, fmt.Errorf("cannot generate code for component source %T", source)
}

// convertProp maps a resolved prop value to a code node.
func (g *Generator) convertProp(value any) (codegen.Node, error) {
	return codegen.Convert(value, func(v any) (codegen.Node, error) {
		switch t := v.(type) {
		case Prop:
			return t.GenerateCode(g)
		case *Props:
			return g.propsObject(t)
		case ImportSource:
			return g.componentExpr(t)
		}
		return nil, &codegen.UnconvertibleValueError{Value: v}
	})
}

// propsObject renders props as an object literal, keys camelized the
// same way the SSR payload camelizes them.
func (g *Generator) propsObject(props *Props) (codegen.Node, error) {
	properties := make([]codegen.Node, 0, len(props.Keys()))
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		node, err := g.convertProp(value)
		if err != nil {
			return nil, err
		}
		properties = append(properties, codegen.ObjectProperty{Name: codegen.ObjectKey(camelize(key)), Init: node})
	}
	return codegen.ObjectLiteral{Properties: properties}, nil
}

// createJSXElement builds the JSX element for node with the given
// resolved props. Children become JSX children rather than an attribute.
func (g *Generator) createJSXElement(node *Node, props *Props) (codegen.Node, error) {
	tagName, err := g.componentExpr(node.Source)
	if err != nil {
		return nil, err
	}
	var attributes []codegen.Node
	var children []codegen.Node
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		if key == "children" {
			items, ok := value.([]any)
			if !ok {
				items = []any{value}
			}
			for _, child := range items {
				childNode, err := g.convertProp(child)
				if err != nil {
					return nil, err
				}
				children = append(children, childNode)
			}
			continue
		}
		valueNode, err := g.convertProp(value)
		if err != nil {
			return nil, err
		}
		var name codegen.Node
		if strings.Contains(key, "-") {
			name = codegen.StringLiteral{Value: key}
		} else {
			name = codegen.Ident(camelize(key))
		}
		attributes = append(attributes, codegen.JSXAttribute{Name: name, Value: valueNode})
	}
	return codegen.JSXElement{TagName: tagName, Attributes: attributes, Children: children}, nil
}

// GenerateCode returns the module script for the component: its imports,
// the element and the renderComponent call that mounts it on the
// container identified by containerID.
func (g *Generator) GenerateCode(props *Props, containerID string, ssr bool) (string, error) {
	element, err := g.createJSXElement(g.node, props)
	if err != nil {
		return "", err
	}
	var elementExpr codegen.Node = element
	if g.requiresWrapper {
		wrapper := codegen.Ident("Wrapper")
		g.writer.AddNode(codegen.FunctionDecl{
			Name: wrapper,
			Body: []codegen.Node{codegen.ReturnStatement{Expr: element}},
		})
		elementExpr = codegen.JSXElement{TagName: wrapper}
	}
	g.writer.AddNode(codegen.CallExpr{
		Callee: g.renderComponent,
		Args: []codegen.Node{
			codegen.CallExpr{
				Callee: codegen.Accessor(codegen.Ident("document"), "querySelector"),
				Args:   []codegen.Node{codegen.StringLiteral{Value: fmt.Sprintf("[data-djid='%s']", containerID)}},
			},
			elementExpr,
			codegen.StringLiteral{Value: containerID},
			codegen.BooleanLiteral{Value: ssr},
		},
	})
	return g.writer.Code()
}
