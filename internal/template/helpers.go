package template

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// helperFunc is a pure transform applied to resolved arguments.
type helperFunc func(args []any) (any, error)

var helpers = map[string]helperFunc{
	"upper":      helperUpper,
	"lower":      helperLower,
	"json":       helperJSON,
	"parseJson":  helperParseJSON,
	"formatDate": helperFormatDate,
	"lookup":     helperLookup,
}

func helperNames() []string {
	names := make([]string, 0, len(helpers))
	for name := range helpers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func helperUpper(args []any) (any, error) {
	s, err := singleString("upper", args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func helperLower(args []any) (any, error) {
	s, err := singleString("lower", args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

// helperJSON serializes any value to its JSON text.
func helperJSON(args []any) (any, error) {
	if len(args) != 1 {
		return nil, helperArityErr("json", 1, len(args))
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate, "json helper: %v", err).WithCause(err)
	}
	return string(b), nil
}

// helperParseJSON decodes a JSON string into a structured value.
func helperParseJSON(args []any) (any, error) {
	s, err := singleString("parseJson", args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate, "parseJson helper: %v", err).WithCause(err)
	}
	return out, nil
}

// helperFormatDate reformats a timestamp. The first argument is an RFC3339
// string or a unix-seconds number; the second is a Go layout string.
func helperFormatDate(args []any) (any, error) {
	if len(args) != 2 {
		return nil, helperArityErr("formatDate", 2, len(args))
	}

	var t time.Time
	switch v := args[0].(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"formatDate helper: %q is not an RFC3339 timestamp", v)
		}
		t = parsed
	case float64:
		t = time.Unix(int64(v), 0).UTC()
	case int64:
		t = time.Unix(v, 0).UTC()
	case int:
		t = time.Unix(int64(v), 0).UTC()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"formatDate helper: unsupported timestamp type %T", args[0])
	}

	layout, ok := args[1].(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"formatDate helper: layout must be a string, got %T", args[1])
	}
	return t.Format(layout), nil
}

// helperLookup navigates a dynamic path into an already-resolved value,
// for cases where the path itself comes from data.
func helperLookup(args []any) (any, error) {
	if len(args) != 2 {
		return nil, helperArityErr("lookup", 2, len(args))
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"lookup helper: path must be a string, got %T", args[1])
	}
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	return traverse(args[0], segments, path)
}

func singleString(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", helperArityErr(name, 1, len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeTemplate,
			"%s helper: expected a string argument, got %T", name, args[0])
	}
	return s, nil
}

func helperArityErr(name string, want, got int) error {
	return schema.NewErrorf(schema.ErrCodeTemplate,
		"%s helper: expected %d argument(s), got %d", name, want, got)
}
