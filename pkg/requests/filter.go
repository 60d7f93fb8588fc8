package requests

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrInvalidFilter is returned for filter queries that do not parse or that
// name unknown properties.
var ErrInvalidFilter = errors.New("invalid filter query")

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR|LIKE|IN)\b`},
	{Name: "Bool", Pattern: `(?i)\b(true|false)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Number", Pattern: `[-+]?\d+`},
	{Name: "Operator", Pattern: `!=|=`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

type filterOr struct {
	Terms []*filterAnd `parser:"@@ ( 'OR' @@ )*"`
}

type filterAnd struct {
	Terms []*filterTerm `parser:"@@ ( 'AND' @@ )*"`
}

type filterTerm struct {
	Group      *filterOr         `parser:"  '(' @@ ')'"`
	Comparison *filterComparison `parser:"| @@"`
}

type filterComparison struct {
	Property  string           `parser:"@Ident"`
	Predicate *filterPredicate `parser:"@@"`
}

type filterPredicate struct {
	In  *filterList `parser:"  'IN' '(' @@ ')'"`
	Cmp *filterCmp  `parser:"| @@"`
}

type filterList struct {
	Values []*filterValue `parser:"@@ ( ',' @@ )*"`
}

type filterCmp struct {
	Operator string       `parser:"@( Operator | 'LIKE' )"`
	Value    *filterValue `parser:"@@"`
}

type filterValue struct {
	String *string `parser:"  @String"`
	Number *string `parser:"| @Number"`
	Bool   *string `parser:"| @Bool"`
}

var filterParser = participle.MustBuild[filterOr](
	participle.Lexer(filterLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword"),
	participle.CaseInsensitive("Bool"),
)

type propertyKind int

const (
	kindText propertyKind = iota
	kindIdentity
	kindBool
	kindNumber
)

type filterProperty struct {
	column string
	kind   propertyKind
}

// filterProperties maps the queryable property names to columns.
var filterProperties = map[string]filterProperty{
	"status":          {column: "status", kind: kindText},
	"title":           {column: "title", kind: kindText},
	"requester":       {column: "requester_email", kind: kindIdentity},
	"approver":        {column: "approver_email", kind: kindIdentity},
	"requirementtype": {column: "requirement_type", kind: kindText},
	"application":     {column: "application_needed", kind: kindText},
	"center":          {column: "impacted_center", kind: kindText},
	"funded":          {column: "funded", kind: kindBool},
	"id":              {column: "id", kind: kindNumber},
}

// FilterQuery is a parsed filter expression such as
// "status IN ('SUBMITTED','APPROVED') AND title LIKE '%portal%'".
type FilterQuery struct {
	source string
	sql    string
	args   []any
}

// ParseFilterQuery parses and compiles a filter expression.
func ParseFilterQuery(query string) (*FilterQuery, error) {
	ast, err := filterParser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var c filterCompiler
	sql, err := c.or(ast)
	if err != nil {
		return nil, err
	}
	return &FilterQuery{source: query, sql: sql, args: c.args}, nil
}

// String returns the source expression.
func (q *FilterQuery) String() string {
	return q.source
}

// Where returns the compiled SQL condition and its arguments.
func (q *FilterQuery) Where() (string, []any) {
	return q.sql, q.args
}

type filterCompiler struct {
	args []any
}

func (c *filterCompiler) or(node *filterOr) (string, error) {
	parts := make([]string, 0, len(node.Terms))
	for _, t := range node.Terms {
		s, err := c.and(t)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (c *filterCompiler) and(node *filterAnd) (string, error) {
	parts := make([]string, 0, len(node.Terms))
	for _, t := range node.Terms {
		var (
			s   string
			err error
		)
		if t.Group != nil {
			s, err = c.or(t.Group)
		} else {
			s, err = c.comparison(t.Comparison)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (c *filterCompiler) comparison(node *filterComparison) (string, error) {
	prop, ok := filterProperties[strings.ToLower(node.Property)]
	if !ok {
		return "", fmt.Errorf("%w: unknown property %q", ErrInvalidFilter, node.Property)
	}
	column := prop.column
	if prop.kind == kindIdentity {
		column = "LOWER(" + column + ")"
	}

	if node.Predicate.In != nil {
		values := make([]any, 0, len(node.Predicate.In.Values))
		for _, v := range node.Predicate.In.Values {
			arg, err := prop.convert(v)
			if err != nil {
				return "", err
			}
			values = append(values, arg)
		}
		c.args = append(c.args, values)
		return column + " IN ?", nil
	}

	cmp := node.Predicate.Cmp
	arg, err := prop.convert(cmp.Value)
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(cmp.Operator) {
	case "=":
		c.args = append(c.args, arg)
		return column + " = ?", nil
	case "!=":
		c.args = append(c.args, arg)
		return column + " <> ?", nil
	case "LIKE":
		if prop.kind == kindBool || prop.kind == kindNumber {
			return "", fmt.Errorf("%w: LIKE is not supported on %q", ErrInvalidFilter, node.Property)
		}
		c.args = append(c.args, arg)
		return column + " LIKE ?", nil
	}
	return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, cmp.Operator)
}

func (p filterProperty) convert(v *filterValue) (any, error) {
	switch p.kind {
	case kindBool:
		raw := v.literal()
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidFilter, raw)
		}
		return b, nil
	case kindNumber:
		raw := v.literal()
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidFilter, raw)
		}
		return n, nil
	case kindIdentity:
		return strings.ToLower(v.literal()), nil
	}
	return v.literal(), nil
}

func (v *filterValue) literal() string {
	switch {
	case v.String != nil:
		s := *v.String
		if len(s) >= 2 {
			s = s[1 : len(s)-1]
		}
		return s
	case v.Number != nil:
		return *v.Number
	case v.Bool != nil:
		return *v.Bool
	}
	return ""
}
