package codegen

import (
	"sort"
	"strconv"
	"strings"
)

// SourceFileWriter accumulates imports and top level nodes and renders
// them as a single source file.
//
// Imports are de-duplicated by source and specifier; local names that
// would collide are renamed with a numeric suffix. Callers must use the
// identifier returned from ResolveImport rather than the name they asked
// for.
type SourceFileWriter struct {
	printer *Printer

	imports         []*ImportDeclaration
	importsBySource map[string]*ImportDeclaration
	usedIdentifiers map[string]bool

	leadingNodes []Node
	nodes        []Node
}

// NewSourceFileWriter returns a writer that prints with printer. A nil
// printer uses NewPrinter defaults.
func NewSourceFileWriter(printer *Printer) *SourceFileWriter {
	if printer == nil {
		printer = NewPrinter()
	}
	return &SourceFileWriter{
		printer:         printer,
		importsBySource: make(map[string]*ImportDeclaration),
		usedIdentifiers: make(map[string]bool),
	}
}

// ResolveImport registers an import of spec from source and returns the
// identifier the import is bound to locally. Re-resolving an equivalent
// import returns the previously assigned identifier. Higher priority
// imports sort first in the output.
func (w *SourceFileWriter) ResolveImport(source string, spec Specifier, priority int) Identifier {
	decl, ok := w.importsBySource[source]
	if !ok {
		decl = &ImportDeclaration{Source: source, Priority: priority}
		w.importsBySource[source] = decl
		w.imports = append(w.imports, decl)
	}
	if decl.Priority < priority {
		decl.Priority = priority
	}
	if existing := decl.FindSpecifier(spec); existing != nil {
		return Ident(existing.LocalName())
	}
	spec.Rename(w.uniqueIdentifier(spec.LocalName()))
	// cannot fail, FindSpecifier returned nil above
	_ = decl.AddSpecifier(spec)
	return Ident(spec.LocalName())
}

// uniqueIdentifier returns name if unused, otherwise name with the first
// free numeric suffix appended, and marks the result as used.
func (w *SourceFileWriter) uniqueIdentifier(name string) Identifier {
	base := name
	count := 0
	for w.usedIdentifiers[name] {
		name = base + strconv.Itoa(count)
		count++
	}
	w.usedIdentifiers[name] = true
	return Ident(name)
}

// AddLeadingNode adds a node rendered before the imports, e.g. a header
// comment.
func (w *SourceFileWriter) AddLeadingNode(node Node) {
	w.leadingNodes = append(w.leadingNodes, node)
}

// AddNode adds a top level node rendered after the imports.
func (w *SourceFileWriter) AddNode(node Node) {
	w.nodes = append(w.nodes, node)
}

// Code renders the file: leading nodes, then imports sorted by descending
// priority then source, then each node separated by a blank line.
func (w *SourceFileWriter) Code() (string, error) {
	imports := make([]*ImportDeclaration, len(w.imports))
	copy(imports, w.imports)
	sort.SliceStable(imports, func(i, j int) bool {
		if imports[i].Priority != imports[j].Priority {
			return imports[i].Priority > imports[j].Priority
		}
		return imports[i].Source < imports[j].Source
	})

	var lines []string
	for _, node := range w.leadingNodes {
		code, err := w.printer.Print(node)
		if err != nil {
			return "", err
		}
		lines = append(lines, code)
	}
	for _, decl := range imports {
		code, err := w.printer.Print(decl)
		if err != nil {
			return "", err
		}
		lines = append(lines, code)
	}
	lines = append(lines, "")
	for _, node := range w.nodes {
		code, err := w.printer.Print(node)
		if err != nil {
			return "", err
		}
		lines = append(lines, code, "")
	}
	return strings.Join(lines, "\n"), nil
}
