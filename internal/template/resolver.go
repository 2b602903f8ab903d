package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Scope holds all data available for variable resolution: the trigger
// payload under trigger.* and prior node outputs under nodes.<id>.*.
type Scope struct {
	Trigger map[string]any
	Nodes   map[string]any // node id -> unmarshalled output
}

// Resolver interprets {{ ... }} expressions against a Scope. Resolution is
// pure and side-effect-free; missing paths fail the whole resolution with
// an error naming the unresolved path.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// HasTemplate checks whether a string contains template syntax.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// ResolveString interpolates every {{ ... }} expression in tmpl and returns
// the resulting string. Values are embedded via their inline JSON form.
func (r *Resolver) ResolveString(tmpl string, scope *Scope) (string, error) {
	out, err := r.resolve(tmpl, scope)
	if err != nil {
		return "", err
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return marshalInline(out), nil
}

// ResolveValue behaves like ResolveString except that a template consisting
// of exactly one expression yields the typed value at that path, so
// non-string outputs (objects, arrays, numbers) survive interpolation.
func (r *Resolver) ResolveValue(tmpl string, scope *Scope) (any, error) {
	return r.resolve(tmpl, scope)
}

// ResolveConfig walks a node configuration recursively: every string leaf
// containing template syntax is resolved; non-string leaves pass through
// unchanged. The input is never mutated.
func (r *Resolver) ResolveConfig(config map[string]any, scope *Scope) (map[string]any, error) {
	out, err := r.resolveAny(config, scope)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

func (r *Resolver) resolveAny(v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		if !HasTemplate(val) {
			return val, nil
		}
		return r.resolve(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			resolved, err := r.resolveAny(inner, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			resolved, err := r.resolveAny(inner, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolve scans for {{ ... }} tokens. A template that is exactly one
// expression returns the typed value; mixed content returns a string.
func (r *Resolver) resolve(input string, scope *Scope) (any, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Index(trimmed, "}}") == len(trimmed)-2 {
		expr := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		return r.eval(expr, scope)
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}
		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeTemplate, "unclosed {{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeTemplate, "empty expression: {{ }}")
		}

		val, err := r.eval(expr, scope)
		if err != nil {
			return nil, err
		}
		result.WriteString(marshalInline(val))

		i = end + 2
	}

	return result.String(), nil
}

// eval evaluates a single expression: either a bare path or a helper
// invocation (helperName arg1 arg2...).
func (r *Resolver) eval(expr string, scope *Scope) (any, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, schema.NewError(schema.ErrCodeTemplate, "empty expression")
	}

	if len(tokens) == 1 && !tokens[0].quoted {
		return r.lookupPath(tokens[0].text, scope)
	}

	helper := tokens[0].text
	fn, ok := helpers[helper]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"unknown helper %q in {{%s}}; available: %s", helper, expr, strings.Join(helperNames(), ", "))
	}

	args := make([]any, 0, len(tokens)-1)
	for _, tok := range tokens[1:] {
		if tok.quoted {
			args = append(args, tok.text)
			continue
		}
		val, err := r.lookupPath(tok.text, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, val)
	}

	return fn(args)
}

// lookupPath resolves a namespaced path like "trigger.amount" or
// "nodes.fetch.body.items[0].id".
func (r *Resolver) lookupPath(path string, scope *Scope) (any, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate, "empty path")
	}

	ns, ok := segments[0].(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate, "path %q must start with a namespace", path)
	}

	var root any
	var rest []any
	switch ns {
	case "trigger":
		root = mapOrEmpty(scope.Trigger)
		rest = segments[1:]
	case "nodes":
		if len(segments) < 2 {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"invalid node reference %q: expected nodes.<id>[.<field>]", path)
		}
		id, ok := segments[1].(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"invalid node reference %q: node id must be a name, not an index", path)
		}
		output, found := scope.Nodes[id]
		if !found {
			return nil, unresolvedErr(path, fmt.Sprintf("node %q has no recorded output", id), scope)
		}
		root = output
		rest = segments[2:]
	default:
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"unknown namespace %q in path %q; available: trigger, nodes", ns, path)
	}

	return traverse(root, rest, path)
}

// traverse navigates nested maps and arrays following the parsed segments.
func traverse(root any, segments []any, path string) (any, error) {
	current := root
	for _, seg := range segments {
		switch s := seg.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, unresolvedErr(path,
					fmt.Sprintf("cannot read field %q from %T", s, current), nil)
			}
			val, found := m[s]
			if !found {
				return nil, unresolvedErr(path, fmt.Sprintf("field %q not found", s), nil)
			}
			current = val
		case int:
			arr, ok := current.([]any)
			if !ok {
				return nil, unresolvedErr(path,
					fmt.Sprintf("cannot index [%d] into %T", s, current), nil)
			}
			if s < 0 || s >= len(arr) {
				return nil, unresolvedErr(path,
					fmt.Sprintf("index %d out of range (len %d)", s, len(arr)), nil)
			}
			current = arr[s]
		}
	}
	return current, nil
}

// unresolvedErr builds the standard missing-path error. Partial
// interpolation is never silently substituted with an empty string.
func unresolvedErr(path, reason string, scope *Scope) *schema.EngineError {
	e := schema.NewErrorf(schema.ErrCodeTemplate, "unresolved path %q: %s", path, reason)
	details := map[string]any{"path": path}
	if scope != nil {
		details["available_nodes"] = sortedKeys(scope.Nodes)
	}
	return e.WithDetails(details)
}

// --- parsing ---

type token struct {
	text   string
	quoted bool
}

// tokenize splits an expression on whitespace, honoring double-quoted
// literals (which may contain spaces).
func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			var lit strings.Builder
			j := i + 1
			closed := false
			for j < len(expr) {
				switch expr[j] {
				case '\\':
					if j+1 >= len(expr) {
						return nil, schema.NewErrorf(schema.ErrCodeTemplate, "unterminated string literal in %q", expr)
					}
					switch expr[j+1] {
					case '"', '\\':
						lit.WriteByte(expr[j+1])
					default:
						lit.WriteByte('\\')
						lit.WriteByte(expr[j+1])
					}
					j += 2
				case '"':
					closed = true
				default:
					lit.WriteByte(expr[j])
					j++
				}
				if closed {
					break
				}
			}
			if !closed {
				return nil, schema.NewErrorf(schema.ErrCodeTemplate, "unterminated string literal in %q", expr)
			}
			tokens = append(tokens, token{text: lit.String(), quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(expr) && expr[j] != ' ' && expr[j] != '\t' {
				j++
			}
			tokens = append(tokens, token{text: expr[i:j]})
			i = j
		}
	}
	return tokens, nil
}

// parsePath splits a dot-and-bracket path into string and int segments:
// "items[0].name" -> ["items", 0, "name"]. Bracketed strings are also
// accepted: `items["first.name"]`.
func parsePath(path string) ([]any, error) {
	var segments []any
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end == -1 {
				return nil, schema.NewErrorf(schema.ErrCodeTemplate, "unclosed bracket in path %q", path)
			}
			inner := path[i+1 : i+end]
			if len(inner) >= 2 && inner[0] == '"' && inner[len(inner)-1] == '"' {
				segments = append(segments, inner[1:len(inner)-1])
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeTemplate,
						"invalid index %q in path %q", inner, path)
				}
				segments = append(segments, n)
			}
			i += end + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			seg := path[i:j]
			if seg == "" {
				return nil, schema.NewErrorf(schema.ErrCodeTemplate, "empty segment in path %q", path)
			}
			segments = append(segments, seg)
			i = j
		}
	}
	return segments, nil
}

// marshalInline converts a resolved value into its inline string form for
// embedding within a larger string.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
