// Package filter evaluates route eligibility expressions against lead
// payloads. Evaluation is pure and safe for concurrent use.
//
// A filter that references any field missing from the payload evaluates to
// false at every level of the tree, including under NOT. A route cannot
// match a lead that lacks data the route depends on.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ignite/lead-router/internal/domain"
)

// Validation errors returned by Validate.
var (
	ErrUnknownKind    = errors.New("unknown filter kind")
	ErrMissingField   = errors.New("filter predicate requires a field")
	ErrMissingNodes   = errors.New("filter composition requires child nodes")
	ErrInvalidRange   = errors.New("range filter requires min, max or both with min <= max")
	ErrInvalidPattern = errors.New("invalid match pattern")
)

var patterns sync.Map // pattern -> *regexp.Regexp

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}

// Evaluate reports whether payload satisfies f. A nil filter matches.
func Evaluate(f *domain.Filter, payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, name := range f.Fields() {
		if v, ok := payload[name]; !ok || v == nil {
			return false
		}
	}
	return eval(f, payload)
}

func eval(f *domain.Filter, payload map[string]any) bool {
	switch f.Kind {
	case domain.FilterAnd:
		for _, n := range f.Nodes {
			if n != nil && !eval(n, payload) {
				return false
			}
		}
		return true
	case domain.FilterOr:
		for _, n := range f.Nodes {
			if n == nil || eval(n, payload) {
				return true
			}
		}
		return false
	case domain.FilterNot:
		if len(f.Nodes) == 0 || f.Nodes[0] == nil {
			return false
		}
		return !eval(f.Nodes[0], payload)
	case domain.FilterEquals:
		return equal(payload[f.Field], f.Value)
	case domain.FilterNotEquals:
		return !equal(payload[f.Field], f.Value)
	case domain.FilterIn:
		v := payload[f.Field]
		for _, candidate := range f.Values {
			if equal(v, candidate) {
				return true
			}
		}
		return false
	case domain.FilterRange:
		n, ok := toFloat(payload[f.Field])
		if !ok {
			return false
		}
		if f.Min != nil && n < *f.Min {
			return false
		}
		if f.Max != nil && n > *f.Max {
			return false
		}
		return true
	case domain.FilterMatch:
		re, err := compile(f.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(toString(payload[f.Field]))
	}
	return false
}

// equal compares numerically when both sides are numbers, otherwise as
// case-insensitive trimmed strings.
func equal(a, b any) bool {
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return strings.EqualFold(strings.TrimSpace(toString(a)), strings.TrimSpace(toString(b)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Validate checks that f is well formed. It is run when routes are
// published so malformed expressions never reach the matcher.
func Validate(f *domain.Filter) error {
	if f == nil {
		return nil
	}
	switch f.Kind {
	case domain.FilterAnd, domain.FilterOr:
		if len(f.Nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingNodes, f.Kind)
		}
		for _, n := range f.Nodes {
			if n == nil {
				return fmt.Errorf("%w: %s has a nil child", ErrMissingNodes, f.Kind)
			}
			if err := Validate(n); err != nil {
				return err
			}
		}
	case domain.FilterNot:
		if len(f.Nodes) != 1 || f.Nodes[0] == nil {
			return fmt.Errorf("%w: not takes exactly one child", ErrMissingNodes)
		}
		return Validate(f.Nodes[0])
	case domain.FilterEquals, domain.FilterNotEquals, domain.FilterIn:
		if f.Field == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.Kind)
		}
	case domain.FilterRange:
		if f.Field == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.Kind)
		}
		if f.Min == nil && f.Max == nil {
			return ErrInvalidRange
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return ErrInvalidRange
		}
	case domain.FilterMatch:
		if f.Field == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.Kind)
		}
		if _, err := compile(f.Pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return nil
}
