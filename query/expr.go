package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/eddielth/turbine-fleet/fleet"
)

// Lookup resolves the latest value of a property of the asset under evaluation
type Lookup func(externalID string) (fleet.Value, bool)

// Expr is a boolean predicate over the latest property values of one asset.
// A leaf whose property is missing, or holds the wrong value type, evaluates to false.
type Expr interface {
	Eval(lookup Lookup) bool
	// Properties lists the external ids the predicate reads
	Properties() []string
	String() string
}

// And holds when every operand holds; an empty And is true
type And []Expr

// Or holds when any operand holds; an empty Or is false
type Or []Expr

// Equals compares a STRING property for exact equality
type Equals struct {
	Property string
	Value    string
}

// GreaterThan compares a DOUBLE property strictly against a threshold
type GreaterThan struct {
	Property  string
	Threshold float64
}

func (a And) Eval(lookup Lookup) bool {
	for _, e := range a {
		if !e.Eval(lookup) {
			return false
		}
	}
	return true
}

func (a And) Properties() []string { return collect([]Expr(a)) }

func (a And) String() string { return join([]Expr(a), " AND ", "TRUE") }

func (o Or) Eval(lookup Lookup) bool {
	for _, e := range o {
		if e.Eval(lookup) {
			return true
		}
	}
	return false
}

func (o Or) Properties() []string { return collect([]Expr(o)) }

func (o Or) String() string { return join([]Expr(o), " OR ", "FALSE") }

func (e Equals) Eval(lookup Lookup) bool {
	v, ok := lookup(e.Property)
	return ok && v.Type == fleet.String && v.String == e.Value
}

func (e Equals) Properties() []string { return []string{e.Property} }

func (e Equals) String() string { return e.Property + " = " + strconv.Quote(e.Value) }

func (g GreaterThan) Eval(lookup Lookup) bool {
	v, ok := lookup(g.Property)
	return ok && v.Type == fleet.Double && v.Double > g.Threshold
}

func (g GreaterThan) Properties() []string { return []string{g.Property} }

func (g GreaterThan) String() string {
	return g.Property + " > " + strconv.FormatFloat(g.Threshold, 'g', -1, 64)
}

func collect(exprs []Expr) []string {
	seen := make(map[string]struct{})
	for _, e := range exprs {
		for _, p := range e.Properties() {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func join(exprs []Expr, sep, empty string) string {
	if len(exprs) == 0 {
		return empty
	}
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, e.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}
