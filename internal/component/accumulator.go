package component

import (
	"context"
	"fmt"
	"strings"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

const accumulatorKeyPrefix = "__NestedComponentPropAccumulator"

type accumulatorContextKey struct{}

// withAccumulator attaches acc so components rendered under ctx become
// nested props instead of standalone roots.
func withAccumulator(ctx context.Context, acc *Accumulator) context.Context {
	return context.WithValue(ctx, accumulatorContextKey{}, acc)
}

func accumulatorFrom(ctx context.Context) (*Accumulator, bool) {
	acc, ok := ctx.Value(accumulatorContextKey{}).(*Accumulator)
	return acc, ok
}

// Accumulator collects components rendered inside opaque content, e.g.
// a templ block passed as children. Each component writes a placeholder
// string to the output; Apply then splits the rendered output back into
// the interleaved strings and components.
type Accumulator struct {
	logger logging.Logger
	props  []accumulatedProp
}

type accumulatedProp struct {
	placeholder string
	prop        *NestedProp
}

func newAccumulator(logger logging.Logger) *Accumulator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Accumulator{logger: logger}
}

// Add registers prop and returns the placeholder to write in its place.
func (a *Accumulator) Add(prop *NestedProp) string {
	placeholder := fmt.Sprintf("%s__prop__%d", accumulatorKeyPrefix, len(a.props))
	a.props = append(a.props, accumulatedProp{placeholder: placeholder, prop: prop})
	return placeholder
}

// Apply splits value at each registered placeholder, in registration
// order, interleaving the surrounding strings with the components. A
// placeholder that never made it into the output is logged and skipped.
// The accumulator resets afterwards and can be reused.
func (a *Accumulator) Apply(value string) ([]any, error) {
	var parts []any
	for _, entry := range a.props {
		idx := strings.Index(value, entry.placeholder)
		if idx < 0 {
			a.logger.Warn(context.Background(), nil, "didn't find placeholder for nested component", "placeholder", entry.placeholder)
			continue
		}
		if before := value[:idx]; before != "" {
			parts = append(parts, before)
		}
		parts = append(parts, entry.prop)
		value = value[idx+len(entry.placeholder):]
	}
	if value != "" {
		parts = append(parts, value)
	}
	a.props = nil
	return parts, nil
}
