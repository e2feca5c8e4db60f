package component

import (
	"context"
	"sync"
)

type variablesKey struct{}

type variableScope struct {
	mu     sync.Mutex
	values map[string]*NestedProp
}

// WithVariables returns a context with a fresh variable scope. A
// component rendered with a TargetVariable stores itself here instead of
// producing markup; retrieve it with VariableFrom and pass it as a prop
// or child to a later component.
func WithVariables(ctx context.Context) context.Context {
	return context.WithValue(ctx, variablesKey{}, &variableScope{values: map[string]*NestedProp{}})
}

// VariableFrom returns the component stored under name, if any.
func VariableFrom(ctx context.Context, name string) (*NestedProp, bool) {
	scope, ok := ctx.Value(variablesKey{}).(*variableScope)
	if !ok {
		return nil, false
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	value, ok := scope.values[name]
	return value, ok
}

func storeVariable(ctx context.Context, name string, value *NestedProp) bool {
	scope, ok := ctx.Value(variablesKey{}).(*variableScope)
	if !ok {
		return false
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.values[name] = value
	return true
}
