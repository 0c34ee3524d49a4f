package sqlbridge

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// placeholderStyle is the tagged variant a query text resolves to. A
// text uses positional '?' markers or named ':name' markers, never
// both.
type placeholderStyle int

const (
	styleNone placeholderStyle = iota
	stylePositional
	styleNamed
)

func (s placeholderStyle) String() string {
	switch s {
	case stylePositional:
		return "positional"
	case styleNamed:
		return "named"
	}
	return "none"
}

// queryShape is the per-text binding plan: the placeholder style, the
// execution text (named markers rewritten to '?'), and the ordered
// placeholder names. Shapes are immutable once built.
type queryShape struct {
	orig  string
	text  string
	style placeholderStyle
	names []string
	count int
}

// queryShapes caches shapes keyed by the original text, so a given
// query is scanned once per process no matter how many sessions run it.
var queryShapes sync.Map // string -> *queryShape

// resolveShape returns the cached shape for query, scanning it on
// first use. Mixed-style texts fail and are not cached.
func resolveShape(query string) (*queryShape, error) {
	if v, ok := queryShapes.Load(query); ok { return v.(*queryShape), nil }
	bound, names, positional := scanQuery(query)
	if len(names) > 0 && positional > 0 {
		return nil, errorf(KindParameterMismatch, query,
			"query mixes positional and named placeholders (%d '?', %d ':name')", positional, len(names))
	}
	sh := &queryShape{orig: query, text: bound, names: names}
	switch {
	case len(names) > 0:
		sh.style = styleNamed
		sh.count = len(names)
	case positional > 0:
		sh.style = stylePositional
		sh.text = query
		sh.count = positional
	default:
		sh.text = query
	}
	v, _ := queryShapes.LoadOrStore(query, sh)
	return v.(*queryShape), nil
}

// scanQuery walks the text byte-wise, rewriting :name markers to '?'
// and counting bare '?' markers. Content inside single quotes, double
// quotes and backticks is literal; '::' is a cast, not a marker.
func scanQuery(query string) (bound string, names []string, positional int) {
	var b strings.Builder
	b.Grow(len(query))
	inSingle, inDouble, inBacktick := false, false, false
	i := 0
	for i < len(query) {
		ch := query[i]
		switch ch {
		case '\'':
			if !inDouble && !inBacktick { inSingle = !inSingle }
			b.WriteByte(ch)
			i++
			continue
		case '"':
			if !inSingle && !inBacktick { inDouble = !inDouble }
			b.WriteByte(ch)
			i++
			continue
		case '`':
			if !inSingle && !inDouble { inBacktick = !inBacktick }
			b.WriteByte(ch)
			i++
			continue
		case '?':
			if inSingle || inDouble || inBacktick {
				b.WriteByte(ch)
				i++
				continue
			}
			positional++
			b.WriteByte(ch)
			i++
			continue
		case ':':
			if inSingle || inDouble || inBacktick {
				b.WriteByte(ch)
				i++
				continue
			}
			if i+1 < len(query) && query[i+1] == ':' {
				// cast syntax, keep both colons
				b.WriteString("::")
				i += 2
				continue
			}
			// capture identifier
			j := i + 1
			for j < len(query) {
				c := query[j]
				if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
					j++
					continue
				}
				break
			}
			if j > i+1 {
				names = append(names, query[i+1:j])
				b.WriteByte('?')
				i = j
				continue
			}
			// lone ':'
		}
		b.WriteByte(ch)
		i++
	}
	return b.String(), names, positional
}

// bind resolves the parameter source against the shape and returns the
// driver argument list in placeholder order. Style and source
// mismatches never reach the server.
func (s *queryShape) bind(source any) ([]any, error) {
	switch s.style {
	case styleNone:
		if n := sourceSize(source); n > 0 {
			return nil, errorf(KindParameterMismatch, s.orig, "query has no placeholders but %d values were supplied", n)
		}
		return nil, nil
	case stylePositional:
		vals, ok := orderedValues(source)
		if !ok {
			return nil, errorf(KindParameterMismatch, s.orig, "positional query needs an ordered value list, got %T", source)
		}
		if len(vals) != s.count {
			return nil, errorf(KindParameterMismatch, s.orig, "query has %d placeholders but %d values were supplied", s.count, len(vals))
		}
		return vals, nil
	case styleNamed:
		m, err := structOrMapToMap(source)
		if err != nil {
			return nil, errorf(KindParameterMismatch, s.orig, "named query needs a map or struct source: %v", err)
		}
		args := make([]any, len(s.names))
		for i, n := range s.names {
			v, ok := m[n]
			if !ok {
				return nil, errorf(KindUnboundParameter, s.orig, "no value bound for :%s", n)
			}
			args[i] = v
		}
		return args, nil
	}
	return nil, nil
}

// orderedValues coerces a positional source to []any. Nil means no
// values; any slice or array kind is accepted so hosts can hand typed
// slices straight through.
func orderedValues(source any) ([]any, bool) {
	if source == nil { return nil, true }
	if vals, ok := source.([]any); ok { return vals, true }
	rv := reflect.ValueOf(source)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array { return nil, false }
	out := make([]any, rv.Len())
	for i := range out { out[i] = rv.Index(i).Interface() }
	return out, true
}

// sourceSize reports how many values a source would contribute, for
// the no-placeholder mismatch message.
func sourceSize(source any) int {
	if source == nil { return 0 }
	rv := reflect.ValueOf(source)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return 1
}

// structOrMapToMap flattens a struct (using `db` tags) or passes map[string]any.
func structOrMapToMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer { rv = rv.Elem() }
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct or map, got %T", v)
	}
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name := f.Tag.Get("db")
		if name == "-" { continue }
		if name == "" { name = strings.ToLower(f.Name) }
		out[name] = rv.Field(i).Interface()
	}
	return out, nil
}

// BuildIn expands a single placeholder to multiple (?, ?, ...) for a slice value.
func BuildIn(query string, slice any, others ...any) (string, []any, error) {
	v := reflect.ValueOf(slice)
	if v.Kind() != reflect.Slice { return "", nil, fmt.Errorf("BuildIn requires slice as second arg") }
	n := v.Len()
	if n == 0 { return "", nil, fmt.Errorf("empty slice for IN") }
	// replace first occurrence of "(?)" or first '?' with n placeholders
	repl := "(" + strings.TrimRight(strings.Repeat("?,", n), ",") + ")"
	bound := query
	if strings.Contains(bound, "(?)") {
		bound = strings.Replace(bound, "(?)", repl, 1)
	} else {
		bound = strings.Replace(bound, "?", strings.Trim(repl, "()"), 1)
	}
	args := make([]any, 0, n+len(others))
	for i := 0; i < n; i++ { args = append(args, v.Index(i).Interface()) }
	args = append(args, others...)
	return bound, args, nil
}
