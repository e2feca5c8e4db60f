// Package component renders React components into server rendered
// pages: it generates the script that mounts the component in the
// browser, and queues the component for server side rendering so the
// initial HTML is already populated.
package component

import (
	"fmt"
	"strings"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// Source identifies where a component comes from: a common browser
// component like div needs no import, anything else is imported from a
// file through the bundler.
type Source interface {
	// AsTag returns the component name as it would appear in JSX. Used
	// in debug output.
	AsTag() string
}

// CommonSource is a built-in browser component, e.g. "div" or "button".
// See https://react.dev/reference/react-dom/components/common for the
// origin of the terminology.
type CommonSource struct {
	Name string
}

func (s CommonSource) AsTag() string { return s.Name }

// ImportSource is a component imported from a file. PropertyName
// supports components exposed as properties of an export, e.g.
// Table.Column uses the Column property of the Table export.
type ImportSource struct {
	// Path is the resolved source file the component is imported from.
	Path string
	// ImportName is the export to import.
	ImportName string
	// IsDefaultImport imports the default export under ImportName.
	IsDefaultImport bool
	// PropertyName, when set, accesses this property of the import.
	// Only valid with named exports.
	PropertyName string
}

func (s ImportSource) AsTag() string {
	if s.PropertyName != "" {
		return s.ImportName + "." + s.PropertyName
	}
	return s.ImportName
}

// ImportDefinition returns the import the render server must resolve
// for this component.
func (s ImportSource) ImportDefinition() bundler.ImportDefinition {
	return bundler.ImportDefinition{
		Path:            s.Path,
		ImportName:      s.ImportName,
		IsDefaultImport: s.IsDefaultImport,
	}
}

func (s ImportSource) SSRTag() string { return "ComponentImport" }

// SSRRepresentation matches the ComponentImport reviver on the render
// server: the import's cache key plus the optional property name.
func (s ImportSource) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	key, err := sctx.AddImport(s.ImportDefinition())
	if err != nil {
		return nil, err
	}
	repr := ordered.NewMap()
	repr.Set("import", key)
	if s.PropertyName != "" {
		repr.Set("propertyName", s.PropertyName)
	} else {
		repr.Set("propertyName", nil)
	}
	return repr, nil
}

var headingTags = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}

// isCommonComponentName reports whether name refers to a built-in
// browser component rather than a file. Lowercase alphabetic names and
// the heading tags qualify; a lowercase file in the project root can't
// be referenced directly, but works from a subdirectory.
func isCommonComponentName(name string) bool {
	if headingTags[name] {
		return true
	}
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// ResolveSource resolves the component source for the given tag
// arguments. With just a path it is treated as a default import (or a
// common component for names like "div"); with a name the named export
// of the file is imported. A name like "Table.Column" imports Table and
// uses its Column property.
func ResolveSource(b bundler.Bundler, rc bundler.ResolveContext, path string, name string) (Source, error) {
	isDefaultImport := name == ""
	if isDefaultImport && isCommonComponentName(path) {
		return CommonSource{Name: path}, nil
	}
	if isDefaultImport {
		base := path[strings.LastIndex(path, "/")+1:]
		name = strings.SplitN(base, ".", 2)[0]
	}
	sourcePath, err := b.ResolvePath(path, rc, &bundler.ValidateOptions{
		ResolveExtensions: []string{".ts", ".tsx", ".js"},
	})
	if err != nil {
		return nil, err
	}
	propertyName := ""
	if strings.Contains(name, ".") {
		parts := strings.Split(name, ".")
		if len(parts) > 2 {
			return nil, fmt.Errorf("invalid component name %s", name)
		}
		name, propertyName = parts[0], parts[1]
	}
	return ImportSource{
		Path:            sourcePath,
		ImportName:      name,
		IsDefaultImport: isDefaultImport,
		PropertyName:    propertyName,
	}, nil
}
