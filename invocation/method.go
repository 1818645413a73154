package invocation

import "fmt"

// Method describes one callable or observable member of an actor's
// generated method table: its arity and, for generic actors, how many
// type-parameter substitutions the caller must supply (§3, §4.H step 3).
type Method struct {
	Name        string
	Arity       int
	IsStream    bool // true for observeX members addressed via a stream envelope
	GenericArgs int  // number of genericSubstitutions this method expects
	Handler     func(d Decoder, rh ResultHandler) ([]byte, error)
}

// Table is a generated actor's method table, keyed by targetIdentifier.
type Table struct {
	methods map[string]Method
}

// NewTable builds a Table from a set of methods. Duplicate names are a
// programmer error in generated code and panic immediately rather than
// silently keeping the first or last definition.
func NewTable(methods ...Method) *Table {
	t := &Table{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		if _, exists := t.methods[m.Name]; exists {
			panic(fmt.Sprintf("invocation: duplicate method %q in table", m.Name))
		}
		t.methods[m.Name] = m
	}
	return t
}

// Lookup returns the method registered under name.
func (t *Table) Lookup(name string) (Method, bool) {
	m, ok := t.methods[name]
	return m, ok
}

// ErrMethodNotFound is returned by an actor's Invoke when
// targetIdentifier names no member of its method table; the dispatch
// kernel surfaces it as a failure response (a distinct failure mode from
// actor-not-found, §4.H, §7).
type ErrMethodNotFound struct {
	TargetIdentifier string
}

func (e *ErrMethodNotFound) Error() string {
	return fmt.Sprintf("invocation: method %q not found", e.TargetIdentifier)
}

// CheckGenericArity validates that the caller supplied exactly the
// number of genericSubstitutions the method declares, surfacing a
// mismatch as the same decode-error family used for argument arity
// (§4.H step 3, §7).
func CheckGenericArity(m Method, substitutions []string) error {
	if len(substitutions) != m.GenericArgs {
		return &ErrDecode{
			Method: m.Name,
			Reason: fmt.Sprintf("expected %d generic substitutions, got %d", m.GenericArgs, len(substitutions)),
		}
	}
	return nil
}
