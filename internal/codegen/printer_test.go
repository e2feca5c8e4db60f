package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrint(t *testing.T, p *Printer, n Node) string {
	t.Helper()
	code, err := p.Print(n)
	require.NoError(t, err)
	return code
}

func TestPrinter_Literals(t *testing.T) {
	p := NewPrinter()

	assert.Equal(t, `"hello"`, mustPrint(t, p, StringLiteral{Value: "hello"}))
	assert.Equal(t, `"it's \"quoted\""`, mustPrint(t, p, StringLiteral{Value: `it's "quoted"`}))
	// non-ASCII characters are not escaped
	assert.Equal(t, `"héllo"`, mustPrint(t, p, StringLiteral{Value: "héllo"}))
	assert.Equal(t, "5", mustPrint(t, p, NumericLiteral{Value: 5}))
	assert.Equal(t, "5.5", mustPrint(t, p, NumericLiteral{Value: 5.5}))
	assert.Equal(t, "true", mustPrint(t, p, BooleanLiteral{Value: true}))
	assert.Equal(t, "false", mustPrint(t, p, BooleanLiteral{Value: false}))
	assert.Equal(t, "null", mustPrint(t, p, NullLiteral{}))
	assert.Equal(t, "window.location", mustPrint(t, p, RawExpr{Code: "window.location"}))
}

func TestPrinter_ObjectsAndArrays(t *testing.T) {
	p := NewPrinter()

	obj := ObjectLiteral{Properties: []Node{
		ObjectProperty{Name: Ident("name"), Init: StringLiteral{Value: "Gandalf"}},
		ObjectProperty{Name: StringLiteral{Value: "aria-label"}, Init: StringLiteral{Value: "wizard"}},
		SpreadAssignment{Expr: Ident("rest")},
	}}
	assert.Equal(t, `{name: "Gandalf", "aria-label": "wizard", ...rest}`, mustPrint(t, p, obj))

	arr := ArrayLiteral{Elements: []Node{
		NumericLiteral{Value: 1},
		StringLiteral{Value: "two"},
		NullLiteral{},
	}}
	assert.Equal(t, `[1, "two", null]`, mustPrint(t, p, arr))

	t.Run("shorthand property", func(t *testing.T) {
		prop := ObjectProperty{Name: Ident("props"), Init: Ident("props")}
		assert.Equal(t, "props", mustPrint(t, p, prop))
	})
}

func TestPrinter_CallsAndAccess(t *testing.T) {
	p := NewPrinter()

	call := CallExpr{
		Callee: Accessor(Ident("console"), "log"),
		Args:   []Node{StringLiteral{Value: "hi"}, NumericLiteral{Value: 2}},
	}
	assert.Equal(t, `console.log("hi", 2)`, mustPrint(t, p, call))

	assert.Equal(t, "new Date(0)", mustPrint(t, p, NewExpr{
		Callee: Ident("Date"),
		Args:   []Node{NumericLiteral{Value: 0}},
	}))

	assert.Equal(t, `items["first"]`, mustPrint(t, p, ElementAccess{
		Expr:  Ident("items"),
		Index: StringLiteral{Value: "first"},
	}))

	assert.Equal(t, "`count: ${count}`", mustPrint(t, p, TemplateLiteral{Parts: []Node{
		StringLiteral{Value: "count: "},
		Ident("count"),
	}}))
}

func TestPrinter_FunctionDecl(t *testing.T) {
	p := NewPrinter()

	fn := FunctionDecl{
		Name:   Ident("run"),
		Params: []Identifier{Ident("a"), Ident("b")},
		Body: []Node{
			CallExpr{Callee: Ident("setup"), Args: []Node{Ident("a")}},
			ReturnStatement{Expr: Ident("b")},
		},
		Export: true,
	}
	assert.Equal(t, "export function run(a, b) {\n  setup(a);\nreturn b;\n}", mustPrint(t, p, fn))
}

func TestPrinter_JSXTransform(t *testing.T) {
	p := NewPrinter()

	el := JSXElement{
		TagName: StringLiteral{Value: "div"},
		Attributes: []Node{
			JSXAttribute{Name: Ident("className"), Value: StringLiteral{Value: "box"}},
		},
		Children: []Node{
			JSXText{Value: "Hello"},
			JSXElement{TagName: Ident("Button"), Children: []Node{JSXExpression{Expr: Ident("label")}}},
		},
	}
	assert.Equal(t,
		`React.createElement("div", {className: "box"}, "Hello", React.createElement(Button, {}, label))`,
		mustPrint(t, p, el))
}

func TestPrinter_JSXLiteral(t *testing.T) {
	p := &Printer{}

	el := JSXElement{
		TagName: StringLiteral{Value: "div"},
		Attributes: []Node{
			JSXAttribute{Name: Ident("className"), Value: StringLiteral{Value: "box"}},
			JSXAttribute{Name: Ident("onClick"), Value: Ident("handler")},
			JSXSpreadAttribute{Expr: Ident("rest")},
		},
		Children: []Node{JSXText{Value: "Hello"}},
	}
	assert.Equal(t, `<div className="box" onClick={handler} {...rest}>Hello</div>`, mustPrint(t, p, el))

	t.Run("self closing", func(t *testing.T) {
		assert.Equal(t, "<br />", mustPrint(t, p, JSXElement{TagName: StringLiteral{Value: "br"}}))
	})

	t.Run("text needing escaping is wrapped", func(t *testing.T) {
		el := JSXElement{
			TagName:  StringLiteral{Value: "span"},
			Children: []Node{JSXText{Value: "a < b"}},
		}
		assert.Equal(t, `<span>{"a < b"}</span>`, mustPrint(t, p, el))
	})

	t.Run("expression child keeps braces", func(t *testing.T) {
		el := JSXElement{
			TagName:  StringLiteral{Value: "span"},
			Children: []Node{JSXExpression{Expr: Ident("value")}},
		}
		assert.Equal(t, "<span>{value}</span>", mustPrint(t, p, el))
	})
}

func TestPrinter_Imports(t *testing.T) {
	p := NewPrinter()

	t.Run("named only", func(t *testing.T) {
		decl := &ImportDeclaration{Source: "./util"}
		a, _ := NewImportSpecifier("zulu")
		b, _ := NewImportSpecifier("alpha")
		require.NoError(t, decl.AddSpecifier(a))
		require.NoError(t, decl.AddSpecifier(b))
		// named specifiers are sorted by local name
		assert.Equal(t, "import { alpha, zulu } from './util';", mustPrint(t, p, decl))
	})

	t.Run("default and named", func(t *testing.T) {
		decl := &ImportDeclaration{Source: "react"}
		def, _ := NewImportDefaultSpecifier("React")
		named, _ := NewImportSpecifier("useState")
		require.NoError(t, decl.AddSpecifier(def))
		require.NoError(t, decl.AddSpecifier(named))
		assert.Equal(t, "import React, { useState } from 'react';", mustPrint(t, p, decl))
	})

	t.Run("default only", func(t *testing.T) {
		decl := &ImportDeclaration{Source: "react"}
		def, _ := NewImportDefaultSpecifier("React")
		require.NoError(t, decl.AddSpecifier(def))
		assert.Equal(t, "import React from 'react';", mustPrint(t, p, decl))
	})

	t.Run("renamed specifier", func(t *testing.T) {
		decl := &ImportDeclaration{Source: "./button"}
		spec, _ := NewImportSpecifier("Button")
		spec.Rename(Ident("Button0"))
		require.NoError(t, decl.AddSpecifier(spec))
		assert.Equal(t, "import { Button as Button0 } from './button';", mustPrint(t, p, decl))
	})

	t.Run("resolve import URL", func(t *testing.T) {
		p := NewPrinter()
		p.ResolveImportURL = func(source string) string {
			return "http://localhost:5173/" + source
		}
		decl := &ImportDeclaration{Source: "components/Button.tsx"}
		def, _ := NewImportDefaultSpecifier("Button")
		require.NoError(t, decl.AddSpecifier(def))
		assert.Equal(t, "import Button from 'http://localhost:5173/components/Button.tsx';", mustPrint(t, p, decl))
	})
}

func TestPrinter_UnknownNode(t *testing.T) {
	p := NewPrinter()
	_, err := p.Print(nil)
	assert.Error(t, err)
}

func TestNewIdentifier_Validation(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"foo", true},
		{"$foo", true},
		{"_foo", true},
		{"foo123", true},
		{"", false},
		{"1foo", false},
		{"foo-bar", false},
		{"foo bar", false},
	}
	for _, tc := range cases {
		_, err := NewIdentifier(tc.name)
		if tc.valid {
			assert.NoError(t, err, "identifier %q should be valid", tc.name)
		} else {
			assert.Error(t, err, "identifier %q should be rejected", tc.name)
		}
	}
}
