package component

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/codegen"
	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// Prop is a value that needs special conversion for both code
// generation and server side rendering. Simple values (strings, numbers,
// maps, slices) convert automatically; anything else implements Prop.
//
// The SSR side serializes to a tagged triple ["@@CUSTOM", tag, repr]
// which the render server's reviver turns back into a real value; the
// codegen side emits the equivalent typescript expression.
type Prop interface {
	bundler.SSRCustomValue
	// GenerateCode returns the typescript expression for the prop.
	GenerateCode(g *Generator) (codegen.Node, error)
}

// PropHandler converts raw prop values to Props. Handlers are tried in
// order; the first whose ShouldApply returns true wins.
type PropHandler interface {
	ShouldApply(value any) bool
	Handle(ctx context.Context, value any, node *Node) (Prop, error)
}

// camelize converts snake_case to camelCase, e.g. "my_prop" becomes
// "myProp". Keys without underscores pass through unchanged.
func camelize(name string) string {
	if !strings.Contains(name, "_") {
		return name
	}
	title := cases.Title(language.English, cases.NoLower)
	parts := strings.Split(name, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		b.WriteString(title.String(part))
	}
	return b.String()
}

// Props stores the props for a component. Insertion order is preserved
// so generated code and SSR payloads are stable.
type Props struct {
	values *ordered.Map
}

func NewProps() *Props {
	return &Props{values: ordered.NewMap()}
}

// PropsFrom builds Props from pairs of key, value arguments.
func PropsFrom(pairs ...any) *Props {
	p := NewProps()
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Set(pairs[i].(string), pairs[i+1])
	}
	return p
}

func (p *Props) Set(name string, value any) { p.values.Set(name, value) }

func (p *Props) Get(name string) (any, bool) { return p.values.Get(name) }

func (p *Props) Has(name string) bool {
	_, ok := p.values.Get(name)
	return ok
}

func (p *Props) Pop(name string) (any, bool) {
	value, ok := p.values.Get(name)
	if ok {
		p.values.Delete(name)
	}
	return value, ok
}

func (p *Props) Keys() []string {
	if p == nil {
		return nil
	}
	return p.values.Keys()
}

// Update copies other's props over p, keeping other's values for
// duplicate keys.
func (p *Props) Update(other *Props) {
	if other == nil {
		return
	}
	for _, key := range other.values.Keys() {
		value, _ := other.values.Get(key)
		p.values.Set(key, value)
	}
}

// Serialize converts the props to a JSON encodable form for SSR. Keys
// are camelized; Prop values expand through the serializer context.
func (p *Props) Serialize(sctx *bundler.SerializerContext) (*ordered.Map, error) {
	out := ordered.NewMap()
	if p == nil {
		return out, nil
	}
	for _, key := range p.values.Keys() {
		value, _ := p.values.Get(key)
		serialized, err := serializeProp(value, sctx)
		if err != nil {
			return nil, err
		}
		out.Set(camelize(key), serialized)
	}
	return out, nil
}

func serializeProp(value any, sctx *bundler.SerializerContext) (any, error) {
	switch v := value.(type) {
	case *Props:
		return v.Serialize(sctx)
	case map[string]any:
		out := ordered.NewMap()
		for _, key := range sortedKeys(v) {
			serialized, err := serializeProp(v[key], sctx)
			if err != nil {
				return nil, err
			}
			out.Set(camelize(key), serialized)
		}
		return out, nil
	case *ordered.Map:
		out := ordered.NewMap()
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			serialized, err := serializeProp(item, sctx)
			if err != nil {
				return nil, err
			}
			out.Set(camelize(key), serialized)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			serialized, err := serializeProp(item, sctx)
			if err != nil {
				return nil, err
			}
			out = append(out, serialized)
		}
		return out, nil
	}
	return bundler.SerializeValue(value, sctx)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Date is a calendar date with no time or timezone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// TimeOfDay is a wall clock time with no date attached.
type TimeOfDay struct {
	Hour        int
	Minute      int
	Second      int
	Microsecond int
}

// Set marks a slice as representing a JS Set rather than an array.
type Set []any

// reExportsFile is where CalendarDate and friends are imported from in
// generated code.
const reExportsFile = "frontend/src/re-exports.tsx"

// DateProp converts a Date to a CalendarDate.
type DateProp struct {
	Value Date
}

func (p DateProp) args() []any {
	return []any{p.Value.Year, int(p.Value.Month), p.Value.Day}
}

func (p DateProp) SSRTag() string { return "Date" }

func (p DateProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return p.args(), nil
}

func (p DateProp) GenerateCode(g *Generator) (codegen.Node, error) {
	ident, err := g.ResolvePropImport(reExportsFile, namedImport("CalendarDate"), 0)
	if err != nil {
		return nil, err
	}
	return newExpr(ident, p.args())
}

// DateTimeProp converts a timezone naive timestamp to a
// CalendarDateTime.
type DateTimeProp struct {
	Value time.Time
}

func (p DateTimeProp) args() []any {
	v := p.Value
	return []any{v.Year(), int(v.Month()), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond() / 1000}
}

func (p DateTimeProp) SSRTag() string { return "DateTime" }

func (p DateTimeProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return p.args(), nil
}

func (p DateTimeProp) GenerateCode(g *Generator) (codegen.Node, error) {
	ident, err := g.ResolvePropImport(reExportsFile, namedImport("CalendarDateTime"), 0)
	if err != nil {
		return nil, err
	}
	return newExpr(ident, p.args())
}

// ZonedDateTimeProp converts a timestamp with a timezone.
type ZonedDateTimeProp struct {
	Value time.Time
}

func (p ZonedDateTimeProp) args() []any {
	v := p.Value
	_, offsetSeconds := v.Zone()
	return []any{
		v.Year(), int(v.Month()), v.Day(),
		v.Location().String(),
		offsetSeconds * 1000,
		v.Hour(), v.Minute(), v.Second(), v.Nanosecond() / 1000,
	}
}

func (p ZonedDateTimeProp) SSRTag() string { return "ZonedDateTime" }

func (p ZonedDateTimeProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return p.args(), nil
}

func (p ZonedDateTimeProp) GenerateCode(g *Generator) (codegen.Node, error) {
	ident, err := g.ResolvePropImport(reExportsFile, namedImport("ZonedDateTime"), 0)
	if err != nil {
		return nil, err
	}
	return newExpr(ident, p.args())
}

// TimeProp converts a TimeOfDay.
type TimeProp struct {
	Value TimeOfDay
}

func (p TimeProp) args() []any {
	return []any{p.Value.Hour, p.Value.Minute, p.Value.Second, p.Value.Microsecond}
}

func (p TimeProp) SSRTag() string { return "Time" }

func (p TimeProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return p.args(), nil
}

func (p TimeProp) GenerateCode(g *Generator) (codegen.Node, error) {
	ident, err := g.ResolvePropImport(reExportsFile, namedImport("Time"), 0)
	if err != nil {
		return nil, err
	}
	return newExpr(ident, p.args())
}

// SetProp passes a Set value to a JS Set.
type SetProp struct {
	Values []any
}

func (p SetProp) SSRTag() string { return "Set" }

func (p SetProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return append([]any(nil), p.Values...), nil
}

func (p SetProp) GenerateCode(g *Generator) (codegen.Node, error) {
	elements := make([]codegen.Node, 0, len(p.Values))
	for _, value := range p.Values {
		node, err := g.convertProp(value)
		if err != nil {
			return nil, err
		}
		elements = append(elements, node)
	}
	return codegen.NewExpr{
		Callee: codegen.Ident("Set"),
		Args:   []codegen.Node{codegen.ArrayLiteral{Elements: elements}},
	}, nil
}

// SpecialNumericProp carries NaN and the infinities, which have no JSON
// representation.
type SpecialNumericProp struct {
	Value float64
}

func (p SpecialNumericProp) name() string {
	if math.IsInf(p.Value, 1) {
		return "Infinity"
	}
	if math.IsInf(p.Value, -1) {
		return "-Infinity"
	}
	return "NaN"
}

func (p SpecialNumericProp) SSRTag() string { return "SpecialNumeric" }

func (p SpecialNumericProp) SSRRepresentation(sctx *bundler.SerializerContext) (any, error) {
	return p.name(), nil
}

func (p SpecialNumericProp) GenerateCode(g *Generator) (codegen.Node, error) {
	return codegen.RawExpr{Code: p.name()}, nil
}

func newExpr(callee codegen.Identifier, args []any) (codegen.Node, error) {
	nodes := make([]codegen.Node, 0, len(args))
	for _, arg := range args {
		node, err := codegen.Convert(arg, nil)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return codegen.NewExpr{Callee: callee, Args: nodes}, nil
}

// defaultPropHandler converts values the built-in Prop types cover.
type defaultPropHandler struct{}

func (defaultPropHandler) ShouldApply(value any) bool {
	switch v := value.(type) {
	case Date, TimeOfDay, Set, time.Time:
		return true
	case float64:
		return math.IsInf(v, 0) || math.IsNaN(v)
	}
	return false
}

func (defaultPropHandler) Handle(ctx context.Context, value any, node *Node) (Prop, error) {
	switch v := value.(type) {
	case Date:
		return DateProp{Value: v}, nil
	case TimeOfDay:
		return TimeProp{Value: v}, nil
	case time.Time:
		if v.Location() == time.Local || v.Location() == nil {
			return DateTimeProp{Value: v}, nil
		}
		return ZonedDateTimeProp{Value: v}, nil
	case Set:
		resolved := make([]any, 0, len(v))
		for _, element := range v {
			item, err := node.resolveProp(ctx, element)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, item)
		}
		return SetProp{Values: resolved}, nil
	case float64:
		return SpecialNumericProp{Value: v}, nil
	}
	return nil, fmt.Errorf("no built-in prop conversion for %T", value)
}

// DefaultPropHandlers returns the standard handler chain.
func DefaultPropHandlers() []PropHandler {
	return []PropHandler{defaultPropHandler{}}
}
