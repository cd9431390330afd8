package memory

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/syntax"
)

// Python literal values as produced by repr() of the memory service's records.
type (
	pyNone  struct{}
	pyBool  bool
	pyNum   string
	pyList  struct {
		items []any
		tuple bool
	}
	pyDict struct {
		keys   []any
		values []any
	}
)

func (d pyDict) get(key string) (any, bool) {
	for i, k := range d.keys {
		if s, ok := k.(string); ok && s == key {
			return d.values[i], true
		}
	}
	return nil, false
}

// reHighHexEscape finds \xHH escapes above 0x7f, which repr() emits for Latin-1
// characters but Starlark string literals only accept as \u escapes. Escaped
// backslashes are matched first so "\\x80" is left alone.
var reHighHexEscape = regexp.MustCompile(`\\\\|\\x[89a-fA-F][0-9a-fA-F]`)

// parsePyLiteral decodes a repr() rendering of literal values: dicts, lists,
// tuples, strings, numbers, True, False and None. Anything else is an error.
func parsePyLiteral(src string) (any, error) {
	src = reHighHexEscape.ReplaceAllStringFunc(src, func(m string) string {
		if m == `\\` {
			return m
		}
		return `\u00` + m[2:]
	})
	expr, err := syntax.ParseExpr("memory", src, 0)
	if err != nil {
		return nil, fmt.Errorf("python literal: %w", err)
	}
	return literalValue(expr)
}

func literalValue(expr syntax.Expr) (any, error) {
	switch e := expr.(type) {
	case *syntax.Literal:
		switch e.Token {
		case syntax.STRING:
			s, ok := e.Value.(string)
			if !ok {
				return nil, fmt.Errorf("python literal: bad string %s", e.Raw)
			}
			return s, nil
		case syntax.INT, syntax.FLOAT:
			return pyNum(e.Raw), nil
		}
		return nil, fmt.Errorf("python literal: unsupported literal %s", e.Raw)
	case *syntax.Ident:
		switch e.Name {
		case "True":
			return pyBool(true), nil
		case "False":
			return pyBool(false), nil
		case "None":
			return pyNone{}, nil
		}
		return nil, fmt.Errorf("python literal: unsupported name %q", e.Name)
	case *syntax.UnaryExpr:
		lit, ok := e.X.(*syntax.Literal)
		if !ok || (lit.Token != syntax.INT && lit.Token != syntax.FLOAT) {
			return nil, fmt.Errorf("python literal: unary %s on a non-number", e.Op)
		}
		switch e.Op {
		case syntax.MINUS:
			return pyNum("-" + lit.Raw), nil
		case syntax.PLUS:
			return pyNum(lit.Raw), nil
		}
		return nil, fmt.Errorf("python literal: unsupported operator %s", e.Op)
	case *syntax.ParenExpr:
		return literalValue(e.X)
	case *syntax.ListExpr:
		items, err := literalValues(e.List)
		if err != nil {
			return nil, err
		}
		return pyList{items: items}, nil
	case *syntax.TupleExpr:
		items, err := literalValues(e.List)
		if err != nil {
			return nil, err
		}
		return pyList{items: items, tuple: true}, nil
	case *syntax.DictExpr:
		dict := pyDict{}
		for _, entry := range e.List {
			kv, ok := entry.(*syntax.DictEntry)
			if !ok {
				return nil, fmt.Errorf("python literal: malformed dict entry")
			}
			key, err := literalValue(kv.Key)
			if err != nil {
				return nil, err
			}
			value, err := literalValue(kv.Value)
			if err != nil {
				return nil, err
			}
			dict.keys = append(dict.keys, key)
			dict.values = append(dict.values, value)
		}
		return dict, nil
	}
	return nil, fmt.Errorf("python literal: unsupported expression %T", expr)
}

func literalValues(exprs []syntax.Expr) ([]any, error) {
	items := make([]any, 0, len(exprs))
	for _, expr := range exprs {
		item, err := literalValue(expr)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// pyStr renders a value the way str() does.
func pyStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return pyRepr(v)
}

func pyRepr(v any) string {
	switch val := v.(type) {
	case string:
		return pyQuote(val)
	case pyNone:
		return "None"
	case pyBool:
		if val {
			return "True"
		}
		return "False"
	case pyNum:
		return string(val)
	case pyList:
		parts := make([]string, len(val.items))
		for i, item := range val.items {
			parts[i] = pyRepr(item)
		}
		if val.tuple {
			if len(parts) == 1 {
				return "(" + parts[0] + ",)"
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case pyDict:
		parts := make([]string, len(val.keys))
		for i := range val.keys {
			parts[i] = pyRepr(val.keys[i]) + ": " + pyRepr(val.values[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func pyQuote(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
