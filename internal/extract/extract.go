// Package extract evaluates ordered jq path rules against decoded JSON.
//
// The search endpoints report completion and results at several locations
// depending on API revision. A Chain lists the candidate locations in
// precedence order and resolves the first one that holds a value.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// Rule is a compiled jq expression that yields at most one value.
type Rule struct {
	expr string
	code *gojq.Code
}

// Compile parses and compiles a jq expression.
func Compile(expr string) (*Rule, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression %q: %w", expr, err)
	}
	return &Rule{expr: expr, code: code}, nil
}

// MustCompile is like Compile but panics on error. Intended for
// package-level rule tables.
func MustCompile(expr string) *Rule {
	r, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the source expression.
func (r *Rule) String() string {
	return r.expr
}

// Eval runs the rule against doc and returns its first output. Null
// outputs and evaluation errors (e.g. indexing a string) count as absent.
func (r *Rule) Eval(doc any) (any, bool) {
	iter := r.code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// Chain is an ordered list of rules.
type Chain []*Rule

// NewChain compiles exprs into a Chain, panicking on invalid input.
func NewChain(exprs ...string) Chain {
	chain := make(Chain, 0, len(exprs))
	for _, e := range exprs {
		chain = append(chain, MustCompile(e))
	}
	return chain
}

// First returns the value of the first rule whose output is truthy,
// short-circuiting on the first hit.
func (c Chain) First(doc any) (any, bool) {
	for _, r := range c {
		if v, ok := r.Eval(doc); ok && Truthy(v) {
			return v, true
		}
	}
	return nil, false
}

// Resolve returns the first truthy value in the chain, or failing that the
// first value that is present at all (false, 0, empty array or object).
func (c Chain) Resolve(doc any) (any, bool) {
	if v, ok := c.First(doc); ok {
		return v, true
	}
	for _, r := range c {
		if v, ok := r.Eval(doc); ok {
			return v, true
		}
	}
	return nil, false
}

// Truthy reports whether v is a non-empty JSON value. false, 0, "", [] and
// {} are falsy, as is null.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Normalize unwraps the backend's array framing: a JSON array is replaced
// by its first element, and an empty array by an empty object.
func Normalize(doc any) any {
	if arr, ok := doc.([]any); ok {
		if len(arr) == 0 {
			return map[string]any{}
		}
		return arr[0]
	}
	return doc
}

// Decode unmarshals raw JSON into the generic form gojq operates on and
// normalizes array framing. Numbers decode as json.Number so 64-bit
// integers survive intact.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON data: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON data: trailing content after value")
	}
	return Normalize(doc), nil
}
