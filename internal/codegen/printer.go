package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
)

// DefaultJSXTransform rewrites JSX elements to React.createElement calls.
var DefaultJSXTransform Node = PropertyAccess{
	Expr: Identifier{Name: "React"},
	Name: Identifier{Name: "createElement"},
}

// Printer renders nodes to source text.
//
// When JSXTransform is set, JSX elements are printed as calls to that
// expression (createElement style) instead of literal JSX syntax. The
// relevant import must be added by the caller.
type Printer struct {
	// JSXTransform is the expression JSX elements are rewritten to.
	// nil means literal JSX output.
	JSXTransform Node
	// ResolveImportURL, if set, maps import sources to their final URL
	// (e.g. a dev server URL or a built file).
	ResolveImportURL func(source string) string

	stack []Node
}

// NewPrinter returns a Printer using DefaultJSXTransform.
func NewPrinter() *Printer {
	return &Printer{JSXTransform: DefaultJSXTransform}
}

// Print recursively renders the code for node. Unrecognized node kinds are
// an error; exhaustiveness is part of the contract.
func (p *Printer) Print(node Node) (string, error) {
	p.stack = append(p.stack, node)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	switch n := node.(type) {
	case JSXText:
		return p.printJSXString(n.Value)
	case StringLiteral:
		if p.withinJSX() {
			return p.printJSXString(n.Value)
		}
		return formatString(n.Value), nil
	case NumericLiteral:
		return strconv.FormatFloat(n.Value, 'g', -1, 64), nil
	case BooleanLiteral:
		if n.Value {
			return "true", nil
		}
		return "false", nil
	case NullLiteral:
		return "null", nil
	case RawExpr:
		return n.Code, nil
	case Identifier:
		return n.Name, nil
	case JSXExpression:
		value, err := p.Print(n.Expr)
		if err != nil {
			return "", err
		}
		if p.JSXTransform != nil {
			return value, nil
		}
		return "{" + value + "}", nil
	case JSXElement:
		return p.printJSXElement(n)
	case ObjectProperty:
		// shorthand when key and value are the same identifier
		if nameID, ok := n.Name.(Identifier); ok {
			if initID, ok := n.Init.(Identifier); ok && nameID == initID {
				return nameID.Name, nil
			}
		}
		name, err := p.Print(n.Name)
		if err != nil {
			return "", err
		}
		init, err := p.Print(n.Init)
		if err != nil {
			return "", err
		}
		return name + ": " + init, nil
	case SpreadAssignment:
		expr, err := p.Print(n.Expr)
		if err != nil {
			return "", err
		}
		return "..." + expr, nil
	case ObjectLiteral:
		values := make([]string, 0, len(n.Properties))
		for _, prop := range n.Properties {
			code, err := p.Print(prop)
			if err != nil {
				return "", err
			}
			values = append(values, code)
		}
		return "{" + strings.Join(values, ", ") + "}", nil
	case ArrayLiteral:
		values := make([]string, 0, len(n.Elements))
		for _, el := range n.Elements {
			code, err := p.Print(el)
			if err != nil {
				return "", err
			}
			values = append(values, code)
		}
		return "[" + strings.Join(values, ", ") + "]", nil
	case CallExpr:
		callee, err := p.Print(n.Callee)
		if err != nil {
			return "", err
		}
		args, err := p.printList(n.Args)
		if err != nil {
			return "", err
		}
		return callee + "(" + args + ")", nil
	case NewExpr:
		callee, err := p.Print(n.Callee)
		if err != nil {
			return "", err
		}
		args, err := p.printList(n.Args)
		if err != nil {
			return "", err
		}
		return "new " + callee + "(" + args + ")", nil
	case PropertyAccess:
		expr, err := p.Print(n.Expr)
		if err != nil {
			return "", err
		}
		return expr + "." + n.Name.Name, nil
	case ElementAccess:
		expr, err := p.Print(n.Expr)
		if err != nil {
			return "", err
		}
		index, err := p.Print(n.Index)
		if err != nil {
			return "", err
		}
		return expr + "[" + index + "]", nil
	case TemplateLiteral:
		var b strings.Builder
		b.WriteByte('`')
		for _, part := range n.Parts {
			if s, ok := part.(StringLiteral); ok {
				b.WriteString(s.Value)
				continue
			}
			code, err := p.Print(part)
			if err != nil {
				return "", err
			}
			b.WriteString("${" + code + "}")
		}
		b.WriteByte('`')
		return b.String(), nil
	case FunctionDecl:
		params := make([]string, 0, len(n.Params))
		for _, param := range n.Params {
			params = append(params, param.Name)
		}
		statements := make([]string, 0, len(n.Body))
		for _, stmt := range n.Body {
			code, err := p.Print(stmt)
			if err != nil {
				return "", err
			}
			statements = append(statements, code)
		}
		code := fmt.Sprintf("function %s(%s) {\n  %s;\n}", n.Name.Name, strings.Join(params, ", "), strings.Join(statements, ";\n"))
		if n.Export {
			code = "export " + code
		}
		return code, nil
	case ReturnStatement:
		expr, err := p.Print(n.Expr)
		if err != nil {
			return "", err
		}
		return "return " + expr, nil
	case *ImportSpecifier:
		if n.Imported == n.Local {
			return n.Imported.Name, nil
		}
		return n.Imported.Name + " as " + n.Local.Name, nil
	case *ImportDefaultSpecifier:
		return n.Local.Name, nil
	case *ImportDeclaration:
		return p.printImport(n)
	}
	return "", fmt.Errorf("don't know how to print %s", nodeKind(node))
}

func (p *Printer) printList(nodes []Node) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		code, err := p.Print(n)
		if err != nil {
			return "", err
		}
		parts = append(parts, code)
	}
	return strings.Join(parts, ", "), nil
}

// printJSXString prints a string appearing as a JSX child. With a JSX
// transform active it becomes a plain string literal argument; in literal
// JSX output strings needing escaping are wrapped in an expression.
func (p *Printer) printJSXString(value string) (string, error) {
	if p.JSXTransform != nil {
		return formatString(value), nil
	}
	if value != html.EscapeString(value) {
		return "{" + formatString(value) + "}", nil
	}
	return value, nil
}

func (p *Printer) printJSXElement(n JSXElement) (string, error) {
	if p.JSXTransform != nil {
		props := make([]Node, 0, len(n.Attributes))
		for _, attr := range n.Attributes {
			switch a := attr.(type) {
			case JSXAttribute:
				props = append(props, ObjectProperty{Name: a.Name, Init: a.Value})
			case JSXSpreadAttribute:
				props = append(props, SpreadAssignment{Expr: a.Expr})
			default:
				return "", fmt.Errorf("invalid JSX attribute node %s", nodeKind(attr))
			}
		}
		args := make([]Node, 0, len(n.Children)+2)
		args = append(args, n.TagName, ObjectLiteral{Properties: props})
		args = append(args, n.Children...)
		return p.Print(CallExpr{Callee: p.JSXTransform, Args: args})
	}

	attrs := make([]string, 0, len(n.Attributes))
	for _, attr := range n.Attributes {
		switch a := attr.(type) {
		case JSXAttribute:
			var name string
			if s, ok := a.Name.(StringLiteral); ok {
				// e.g. "aria-label" is used as is
				name = s.Value
			} else {
				printed, err := p.Print(a.Name)
				if err != nil {
					return "", err
				}
				name = printed
			}
			if s, ok := a.Value.(StringLiteral); ok {
				attrs = append(attrs, name+"="+formatString(s.Value))
			} else {
				value, err := p.Print(a.Value)
				if err != nil {
					return "", err
				}
				attrs = append(attrs, name+"={"+value+"}")
			}
		case JSXSpreadAttribute:
			expr, err := p.Print(a.Expr)
			if err != nil {
				return "", err
			}
			attrs = append(attrs, "{..."+expr+"}")
		default:
			return "", fmt.Errorf("invalid JSX attribute node %s", nodeKind(attr))
		}
	}
	attrsStr := ""
	if len(attrs) > 0 {
		attrsStr = " " + strings.Join(attrs, " ")
	}
	var tagName string
	if s, ok := n.TagName.(StringLiteral); ok {
		tagName = s.Value
	} else {
		printed, err := p.Print(n.TagName)
		if err != nil {
			return "", err
		}
		tagName = printed
	}
	if len(n.Children) > 0 {
		var children strings.Builder
		for _, child := range n.Children {
			code, err := p.Print(child)
			if err != nil {
				return "", err
			}
			children.WriteString(code)
		}
		return fmt.Sprintf("<%s%s>%s</%s>", tagName, attrsStr, children.String(), tagName), nil
	}
	return fmt.Sprintf("<%s%s />", tagName, attrsStr), nil
}

func (p *Printer) printImport(n *ImportDeclaration) (string, error) {
	defaultSpec := n.DefaultSpecifier()
	named := make([]Specifier, 0, len(n.Specifiers))
	for _, s := range n.Specifiers {
		if s != Specifier(defaultSpec) {
			named = append(named, s)
		}
	}
	// sorted so generated code is consistent, makes tests easier
	sort.Slice(named, func(i, j int) bool {
		return named[i].LocalName() < named[j].LocalName()
	})
	parts := make([]string, 0, len(named))
	for _, s := range named {
		code, err := p.Print(s)
		if err != nil {
			return "", err
		}
		parts = append(parts, code)
	}
	source := n.Source
	if p.ResolveImportURL != nil {
		source = p.ResolveImportURL(source)
	}
	if defaultSpec != nil {
		if len(named) == 0 {
			return fmt.Sprintf("import %s from '%s';", defaultSpec.Local.Name, source), nil
		}
		return fmt.Sprintf("import %s, { %s } from '%s';", defaultSpec.Local.Name, strings.Join(parts, ", "), source), nil
	}
	return fmt.Sprintf("import { %s } from '%s';", strings.Join(parts, ", "), source), nil
}

// withinJSX reports whether the current node's parent is a JSX element.
func (p *Printer) withinJSX() bool {
	if len(p.stack) < 2 {
		return false
	}
	_, ok := p.stack[len(p.stack)-2].(JSXElement)
	return ok
}

// formatString escapes and quotes a string. JSON escaping is used, but
// non-ASCII characters are left intact so generated strings stay readable.
func formatString(value string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		// encoding a string cannot fail; fall back to quoting
		return strconv.Quote(value)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
