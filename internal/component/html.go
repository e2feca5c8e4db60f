package component

import (
	"context"

	"github.com/alliancesoftware/apfrontend/internal/htmlparse"
)

// ChildrenFromHTML parses an HTML fragment into component children.
// Elements become nodes with a common component source, text stays as
// strings. replacements maps placeholder ids (see
// htmlparse.Placeholder) embedded in the fragment to the values to
// substitute, typically nested component nodes.
func (env *Environment) ChildrenFromHTML(ctx context.Context, fragment string, replacements map[string]any) ([]any, error) {
	parser := &htmlparse.Parser{Logger: env.logger()}
	parsed, err := parser.Convert(ctx, fragment)
	if err != nil {
		return nil, err
	}
	return env.convertParsed(parsed, replacements), nil
}

func (env *Environment) convertParsed(parsed []any, replacements map[string]any) []any {
	var children []any
	for _, item := range parsed {
		switch v := item.(type) {
		case string:
			children = append(children, htmlparse.SplitPlaceholders(v, replacements)...)
		case *htmlparse.Element:
			children = append(children, env.elementNode(v, replacements))
		default:
			children = append(children, v)
		}
	}
	return children
}

func (env *Environment) elementNode(el *htmlparse.Element, replacements map[string]any) *Node {
	props := NewProps()
	if el.Attrs != nil {
		for _, key := range el.Attrs.Keys() {
			value, _ := el.Attrs.Get(key)
			props.Set(key, resolveAttrPlaceholders(value, replacements))
		}
	}
	node := env.NewNode(CommonSource{Name: el.Tag}, props)
	node.Children = env.convertParsed(el.Children, replacements)
	return node
}

// resolveAttrPlaceholders substitutes placeholder tokens inside an
// attribute value. A value that is exactly one placeholder keeps the
// replacement's type.
func resolveAttrPlaceholders(value any, replacements map[string]any) any {
	s, ok := value.(string)
	if !ok || len(replacements) == 0 {
		return value
	}
	parts := htmlparse.SplitPlaceholders(s, replacements)
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 0 {
		return ""
	}
	return parts
}
