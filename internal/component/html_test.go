package component

import (
	"context"
	"testing"

	"github.com/alliancesoftware/apfrontend/internal/htmlparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildrenFromHTML(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("elements become common component nodes", func(t *testing.T) {
		children, err := env.ChildrenFromHTML(ctx, `<p class="intro">Hi <b>there</b></p>`, nil)
		require.NoError(t, err)
		require.Len(t, children, 1)

		p, ok := children[0].(*Node)
		require.True(t, ok)
		assert.Equal(t, CommonSource{Name: "p"}, p.Source)
		className, _ := p.Props.Get("className")
		assert.Equal(t, "intro", className)

		require.Len(t, p.Children, 2)
		assert.Equal(t, "Hi ", p.Children[0])
		b, ok := p.Children[1].(*Node)
		require.True(t, ok)
		assert.Equal(t, CommonSource{Name: "b"}, b.Source)
		assert.Equal(t, []any{"there"}, b.Children)
	})

	t.Run("text placeholders substitute values", func(t *testing.T) {
		token := htmlparse.Placeholder("0")
		nested := env.NewNode(CommonSource{Name: "strong"}, nil, "Me")
		children, err := env.ChildrenFromHTML(ctx, "Hello "+token+"!", map[string]any{"0": nested})
		require.NoError(t, err)
		require.Len(t, children, 3)
		assert.Equal(t, "Hello ", children[0])
		assert.Same(t, nested, children[1])
		assert.Equal(t, "!", children[2])
	})

	t.Run("attribute that is exactly a placeholder keeps its type", func(t *testing.T) {
		token := htmlparse.Placeholder("7")
		children, err := env.ChildrenFromHTML(ctx, `<div title="`+token+`"></div>`, map[string]any{"7": 42})
		require.NoError(t, err)
		require.Len(t, children, 1)
		div := children[0].(*Node)
		title, _ := div.Props.Get("title")
		assert.Equal(t, 42, title)
	})

	t.Run("placeholders inside elements", func(t *testing.T) {
		token := htmlparse.Placeholder("1")
		nested := env.NewNode(CommonSource{Name: "em"}, nil, "x")
		children, err := env.ChildrenFromHTML(ctx, "<p>before "+token+" after</p>", map[string]any{"1": nested})
		require.NoError(t, err)
		p := children[0].(*Node)
		require.Len(t, p.Children, 3)
		assert.Same(t, nested, p.Children[1])
	})
}
