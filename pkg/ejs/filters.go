package ejs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Filter transforms the value flowing through a filtered output tag. Args are
// the remaining arguments written after the filter name.
type Filter func(in any, args ...any) (any, error)

// FilterMap is a filter registry keyed by the name used in templates.
type FilterMap map[string]Filter

// ErrNotList is returned by filters that need an array or string input.
var ErrNotList = errors.New("value is not a list")

// DefaultFilters returns a fresh copy of the built-in filters.
func DefaultFilters() FilterMap {
	return FilterMap{
		"first":          first,
		"last":           last,
		"capitalize":     capitalize,
		"downcase":       stringFilter(strings.ToLower),
		"upcase":         stringFilter(strings.ToUpper),
		"sort":           sortFilter,
		"sort_by":        sortBy,
		"size":           size,
		"length":         size,
		"plus":           arithmetic(func(a, b float64) float64 { return a + b }),
		"minus":          arithmetic(func(a, b float64) float64 { return a - b }),
		"times":          arithmetic(func(a, b float64) float64 { return a * b }),
		"divided_by":     arithmetic(func(a, b float64) float64 { return a / b }),
		"join":           join,
		"truncate":       truncate,
		"truncate_words": truncateWords,
		"replace":        replace,
		"prepend":        prepend,
		"append":         appendFilter,
		"map":            mapFilter,
		"reverse":        reverse,
		"get":            get,
		"json":           jsonFilter,
		"markdown":       markdown,
		"sanitize":       sanitize,
		"titlecase":      titlecase,
		"date":           date,
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// toString mirrors String(v) closely enough for display purposes.
func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e21 {
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
		return strconv.FormatFloat(s, 'g', -1, 64)
	case []any:
		parts := make([]string, len(s))
		for i, e := range s {
			parts[i] = toString(e)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		n = strings.TrimSpace(n)
		if n == "" {
			return 0
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	}
	return math.NaN()
}

func isNumber(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.CanInt() || rv.CanUint() || rv.CanFloat()
}

// toList copies any slice or array into a []any. Filters never modify their
// input in place.
func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return slices.Clone(l), true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// property looks up key on maps, structs and lists. Struct fields match
// case-insensitively so templates can use the same lower-case names the
// runtime exposes.
func property(v any, key string) any {
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		e := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !e.IsValid() {
			return nil
		}
		return e.Interface()
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, key) })
		if !f.IsValid() || !f.CanInterface() {
			return nil
		}
		return f.Interface()
	case reflect.Slice, reflect.Array, reflect.String:
		if key == "length" {
			return rv.Len()
		}
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil
		}
		return rv.Index(i).Interface()
	}
	return nil
}

// compare orders numbers numerically and everything else by its string form.
func compare(a, b any) int {
	if isNumber(a) && isNumber(b) {
		x, y := toNumber(a), toNumber(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func stringFilter(fn func(string) string) Filter {
	return func(in any, _ ...any) (any, error) {
		return fn(toString(in)), nil
	}
}

func first(in any, _ ...any) (any, error) {
	if s, ok := in.(string); ok {
		r, n := utf8.DecodeRuneInString(s)
		if n == 0 {
			return nil, nil
		}
		return string(r), nil
	}
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("first: %w", ErrNotList)
	}
	if len(l) == 0 {
		return nil, nil
	}
	return l[0], nil
}

func last(in any, _ ...any) (any, error) {
	if s, ok := in.(string); ok {
		r, n := utf8.DecodeLastRuneInString(s)
		if n == 0 {
			return nil, nil
		}
		return string(r), nil
	}
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("last: %w", ErrNotList)
	}
	if len(l) == 0 {
		return nil, nil
	}
	return l[len(l)-1], nil
}

func capitalize(in any, _ ...any) (any, error) {
	s := toString(in)
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s, nil
	}
	return string(unicode.ToUpper(r)) + s[n:], nil
}

func sortFilter(in any, _ ...any) (any, error) {
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("sort: %w", ErrNotList)
	}
	slices.SortStableFunc(l, compare)
	return l, nil
}

func sortBy(in any, args ...any) (any, error) {
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("sort_by: %w", ErrNotList)
	}
	prop := toString(arg(args, 0))
	slices.SortStableFunc(l, func(a, b any) int {
		return compare(property(a, prop), property(b, prop))
	})
	return l, nil
}

func size(in any, _ ...any) (any, error) {
	if s, ok := in.(string); ok {
		return utf8.RuneCountInString(s), nil
	}
	l, ok := toList(in)
	if !ok {
		return property(in, "length"), nil
	}
	return len(l), nil
}

func arithmetic(op func(a, b float64) float64) Filter {
	return func(in any, args ...any) (any, error) {
		return op(toNumber(in), toNumber(arg(args, 0))), nil
	}
}

func join(in any, args ...any) (any, error) {
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("join: %w", ErrNotList)
	}
	sep := toString(arg(args, 0))
	if sep == "" {
		sep = ", "
	}
	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = toString(e)
	}
	return strings.Join(parts, sep), nil
}

func truncate(in any, args ...any) (any, error) {
	s := []rune(toString(in))
	n := int(toNumber(arg(args, 0)))
	if n < 0 || len(s) <= n {
		return string(s), nil
	}
	return string(s[:n]) + toString(arg(args, 1)), nil
}

func truncateWords(in any, args ...any) (any, error) {
	words := strings.FieldsFunc(toString(in), func(r rune) bool { return r == ' ' })
	n := int(toNumber(arg(args, 0)))
	if n < len(words) {
		words = words[:max(n, 0)]
	}
	return strings.Join(words, " "), nil
}

func replace(in any, args ...any) (any, error) {
	pattern := toString(arg(args, 0))
	return strings.Replace(toString(in), pattern, toString(arg(args, 1)), 1), nil
}

func prepend(in any, args ...any) (any, error) {
	if l, ok := toList(in); ok {
		return append([]any{arg(args, 0)}, l...), nil
	}
	return toString(arg(args, 0)) + toString(in), nil
}

func appendFilter(in any, args ...any) (any, error) {
	if l, ok := toList(in); ok {
		v := arg(args, 0)
		if more, ok := toList(v); ok {
			return append(l, more...), nil
		}
		return append(l, v), nil
	}
	return toString(in) + toString(arg(args, 0)), nil
}

func mapFilter(in any, args ...any) (any, error) {
	l, ok := toList(in)
	if !ok {
		return nil, fmt.Errorf("map: %w", ErrNotList)
	}
	prop := toString(arg(args, 0))
	for i, e := range l {
		l[i] = property(e, prop)
	}
	return l, nil
}

func reverse(in any, _ ...any) (any, error) {
	if l, ok := toList(in); ok {
		slices.Reverse(l)
		return l, nil
	}
	r := []rune(toString(in))
	slices.Reverse(r)
	return string(r), nil
}

func get(in any, args ...any) (any, error) {
	return property(in, toString(arg(args, 0))), nil
}

func jsonFilter(in any, _ ...any) (any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return string(b), nil
}
