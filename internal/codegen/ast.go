// Package codegen provides a small typed AST for generated browser code,
// a printer that renders nodes to source text, and a source-file writer
// that deduplicates imports and assigns collision-free local names.
//
// The output is not pretty-printed; in development the bundler's
// format-code endpoint is used to make the generated code readable.
package codegen

import (
	"fmt"
	"regexp"
	"strings"
)

// Node is implemented by every AST node kind.
type Node interface {
	isNode()
}

var identifierRe = regexp.MustCompile(`^[$_0-9a-zA-Z]*$`)

// Identifier is a name in generated code.
//
// Construct with NewIdentifier (or Ident for trusted literals); malformed
// names fail at construction time, not at print time.
type Identifier struct {
	Name string
}

// NewIdentifier validates name and returns an Identifier.
func NewIdentifier(name string) (Identifier, error) {
	if name == "" {
		return Identifier{}, fmt.Errorf("identifier cannot be empty")
	}
	if name[0] >= '0' && name[0] <= '9' {
		return Identifier{}, fmt.Errorf("identifier %q cannot start with a digit", name)
	}
	if !identifierRe.MatchString(name) {
		return Identifier{}, fmt.Errorf("identifier %q contains invalid characters", name)
	}
	return Identifier{Name: name}, nil
}

// Ident is like NewIdentifier but panics on invalid input. Intended for
// literal names known at compile time.
func Ident(name string) Identifier {
	id, err := NewIdentifier(name)
	if err != nil {
		panic(err)
	}
	return id
}

// IsValidIdentifier reports whether name could be used as an identifier.
func IsValidIdentifier(name string) bool {
	_, err := NewIdentifier(name)
	return err == nil
}

// StringLiteral is a quoted string.
type StringLiteral struct {
	Value string
}

// NumericLiteral is a number literal.
type NumericLiteral struct {
	Value float64
}

// BooleanLiteral is true or false.
type BooleanLiteral struct {
	Value bool
}

// NullLiteral is the null keyword.
type NullLiteral struct{}

// RawExpr is printed verbatim. Used for values with no literal syntax,
// e.g. Infinity and NaN.
type RawExpr struct {
	Code string
}

// ObjectProperty is a single key/value pair in an ObjectLiteral.
type ObjectProperty struct {
	Name Node
	Init Node
}

// SpreadAssignment is `...expr` in an object or array literal.
type SpreadAssignment struct {
	Expr Node
}

// ObjectLiteral is `{ ... }`. Properties are ObjectProperty or
// SpreadAssignment nodes.
type ObjectLiteral struct {
	Properties []Node
}

// ArrayLiteral is `[ ... ]`.
type ArrayLiteral struct {
	Elements []Node
}

// CallExpr is `callee(args...)`.
type CallExpr struct {
	Callee Node
	Args   []Node
}

// NewExpr is `new callee(args...)`.
type NewExpr struct {
	Callee Node
	Args   []Node
}

// PropertyAccess is `expr.name`.
type PropertyAccess struct {
	Expr Node
	Name Identifier
}

// ElementAccess is `expr[index]`.
type ElementAccess struct {
	Expr  Node
	Index Node
}

// TemplateLiteral is a backtick string. String parts are emitted inline,
// any other node becomes a `${...}` substitution.
type TemplateLiteral struct {
	Parts []Node
}

// FunctionDecl is a function declaration.
type FunctionDecl struct {
	Name   Identifier
	Params []Identifier
	Body   []Node
	Export bool
}

// ReturnStatement is `return expr`.
type ReturnStatement struct {
	Expr Node
}

// JSXAttribute is a single attribute on a JSXElement. Name is an
// Identifier, or a StringLiteral for names like "aria-label".
type JSXAttribute struct {
	Name  Node
	Value Node
}

// JSXSpreadAttribute is `{...expr}` in a JSX attribute position.
type JSXSpreadAttribute struct {
	Expr Node
}

// JSXExpression wraps an arbitrary expression as a JSX child.
type JSXExpression struct {
	Expr Node
}

// JSXText is literal text inside a JSX element.
type JSXText struct {
	Value string
}

// JSXElement is `<Tag attr=...>children</Tag>`. TagName is an Identifier
// (or PropertyAccess) for components, or a StringLiteral for native
// elements like "div".
type JSXElement struct {
	TagName    Node
	Attributes []Node
	Children   []Node
}

// ImportSpecifier is a named import. Local may be renamed by the writer
// to avoid collisions, in which case it prints as `imported as local`.
type ImportSpecifier struct {
	Imported Identifier
	Local    Identifier
}

// NewImportSpecifier returns a named import specifier whose local name
// matches the imported name.
func NewImportSpecifier(name string) (*ImportSpecifier, error) {
	id, err := NewIdentifier(name)
	if err != nil {
		return nil, err
	}
	return &ImportSpecifier{Imported: id, Local: id}, nil
}

// ImportDefaultSpecifier is a default import.
type ImportDefaultSpecifier struct {
	Local Identifier
}

// NewImportDefaultSpecifier returns a default import specifier.
func NewImportDefaultSpecifier(name string) (*ImportDefaultSpecifier, error) {
	id, err := NewIdentifier(name)
	if err != nil {
		return nil, err
	}
	return &ImportDefaultSpecifier{Local: id}, nil
}

// Specifier is implemented by ImportSpecifier and ImportDefaultSpecifier.
type Specifier interface {
	Node
	// LocalName returns the local binding name of the specifier.
	LocalName() string
	// Rename changes the local binding name.
	Rename(id Identifier)
}

func (s *ImportSpecifier) LocalName() string { return s.Local.Name }
func (s *ImportSpecifier) Rename(id Identifier) {
	s.Local = id
}

func (s *ImportDefaultSpecifier) LocalName() string { return s.Local.Name }
func (s *ImportDefaultSpecifier) Rename(id Identifier) {
	s.Local = id
}

// ImportDeclaration is `import defaultSpec, { named... } from 'source'`.
type ImportDeclaration struct {
	Source string
	// Priority controls output ordering; higher priority imports are
	// emitted first. Ties are broken by source path.
	Priority   int
	Specifiers []Specifier
}

// DefaultSpecifier returns the default specifier, or nil.
func (d *ImportDeclaration) DefaultSpecifier() *ImportDefaultSpecifier {
	for _, s := range d.Specifiers {
		if ds, ok := s.(*ImportDefaultSpecifier); ok {
			return ds
		}
	}
	return nil
}

// FindSpecifier returns the existing specifier matching spec, if any.
// A default specifier matches any default specifier; a named specifier
// matches on the imported name.
func (d *ImportDeclaration) FindSpecifier(spec Specifier) Specifier {
	for _, s := range d.Specifiers {
		switch want := spec.(type) {
		case *ImportDefaultSpecifier:
			if _, ok := s.(*ImportDefaultSpecifier); ok {
				return s
			}
		case *ImportSpecifier:
			if named, ok := s.(*ImportSpecifier); ok && named.Imported == want.Imported {
				return s
			}
		}
	}
	return nil
}

// AddSpecifier adds spec to the declaration. Adding a duplicate is an
// error; use FindSpecifier first.
func (d *ImportDeclaration) AddSpecifier(spec Specifier) error {
	if existing := d.FindSpecifier(spec); existing != nil {
		return fmt.Errorf("specifier %q already exists for import of %q", spec.LocalName(), d.Source)
	}
	d.Specifiers = append(d.Specifiers, spec)
	return nil
}

func (Identifier) isNode()              {}
func (StringLiteral) isNode()           {}
func (NumericLiteral) isNode()          {}
func (BooleanLiteral) isNode()          {}
func (NullLiteral) isNode()             {}
func (RawExpr) isNode()                 {}
func (ObjectProperty) isNode()          {}
func (SpreadAssignment) isNode()        {}
func (ObjectLiteral) isNode()           {}
func (ArrayLiteral) isNode()            {}
func (CallExpr) isNode()                {}
func (NewExpr) isNode()                 {}
func (PropertyAccess) isNode()          {}
func (ElementAccess) isNode()           {}
func (TemplateLiteral) isNode()         {}
func (FunctionDecl) isNode()            {}
func (ReturnStatement) isNode()         {}
func (JSXAttribute) isNode()            {}
func (JSXSpreadAttribute) isNode()      {}
func (JSXExpression) isNode()           {}
func (JSXText) isNode()                 {}
func (JSXElement) isNode()              {}
func (*ImportSpecifier) isNode()        {}
func (*ImportDefaultSpecifier) isNode() {}
func (*ImportDeclaration) isNode()      {}

// ObjectKey returns the node to use for an object property key: an
// Identifier when name is valid, otherwise a StringLiteral.
func ObjectKey(name string) Node {
	if IsValidIdentifier(name) {
		return Identifier{Name: name}
	}
	return StringLiteral{Value: name}
}

// Accessor builds a chained property access expression from parts, e.g.
// Accessor(Ident("Menu"), "Item") prints as `Menu.Item`.
func Accessor(base Node, parts ...string) Node {
	expr := base
	for _, p := range parts {
		expr = PropertyAccess{Expr: expr, Name: Identifier{Name: p}}
	}
	return expr
}

// nodeKind returns a short description for error messages.
func nodeKind(n Node) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", n), "codegen.")
}
