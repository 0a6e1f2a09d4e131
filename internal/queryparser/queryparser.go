// Package queryparser compiles JSON-shaped selector expressions into SQL
// over a key-store table.
//
// A selector is a JSON object {"WHAT", "WHERE", "ORDER_BY", "LIMIT",
// "OFFSET"} whose expressions are JSON arrays:
//
//	[".a.b"]                property path into the document body
//	["._id"] ["._sequence"] record metadata
//	["$name"]               named parameter
//	["=", a, b]             comparisons: = != < <= > >=
//	["AND", ...] ["OR", ...] ["NOT", x]
//	["EXISTS", [".a"]]      property existence
//	["MATCH", "index", x]   full-text match against a named index
//	["AS", expr, "title"]   result-column alias (WHAT only)
//
// The output names the generated SQL, the bindable parameter set, the FTS
// tables referenced, the index of the first user-declared result column,
// the result column titles, and whether the selector touches expiration.
package queryparser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Compiled is the result of compiling a selector.
type Compiled struct {
	SQL                     string
	Parameters              []string // sorted, without the $ prefix
	FTSTables               []string // backing virtual-table names, in use order
	FirstCustomResultColumn int
	ColumnTitles            []string // titles of the user-declared columns
	UsesExpiration          bool
}

// Source describes the table a selector compiles against.
type Source struct {
	// Table is the quoted-unquoted name of the key-store table.
	Table string
	// IndexTable maps an index name to its backing table name,
	// conventionally "<table>::<index>".
	IndexTable func(indexName string) string
}

type compiler struct {
	src        Source
	params     map[string]struct{}
	ftsTables  []string
	ftsAliases map[string]string // backing table -> SQL alias
	usesExpire bool
}

// Compile parses and compiles selectorJSON against src.
func Compile(selectorJSON []byte, src Source) (*Compiled, error) {
	var sel struct {
		What    []json.RawMessage `json:"WHAT"`
		Where   json.RawMessage   `json:"WHERE"`
		OrderBy []json.RawMessage `json:"ORDER_BY"`
		Limit   json.RawMessage   `json:"LIMIT"`
		Offset  json.RawMessage   `json:"OFFSET"`
	}
	dec := json.NewDecoder(strings.NewReader(string(selectorJSON)))
	dec.UseNumber()
	if err := dec.Decode(&sel); err != nil {
		return nil, fmt.Errorf("queryparser: parse selector: %w", err)
	}

	c := &compiler{
		src:        src,
		params:     make(map[string]struct{}),
		ftsAliases: make(map[string]string),
	}

	// WHERE compiles first so MATCH clauses register their FTS joins before
	// the result columns reference them.
	var where string
	if len(sel.Where) > 0 {
		var err error
		where, err = c.expr(sel.Where)
		if err != nil {
			return nil, err
		}
	}

	var customCols, titles []string
	for i, w := range sel.What {
		col, title, err := c.whatColumn(w, i)
		if err != nil {
			return nil, err
		}
		customCols = append(customCols, col)
		titles = append(titles, title)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	prefix := 3
	if len(c.ftsTables) > 0 {
		// Implicit full-text prefix columns: the match rowid and the
		// term-offsets quadruple stream.
		alias := c.ftsAliases[c.ftsTables[0]]
		fmt.Fprintf(&b, "%s.rowid, offsets(%s), ", alias, alias)
		prefix += 2
	}
	fmt.Fprintf(&b, "%s.key, %s.sequence, %s.flags", c.table(), c.table(), c.table())
	for _, col := range customCols {
		b.WriteString(", ")
		b.WriteString(col)
	}
	fmt.Fprintf(&b, " FROM %s", c.table())
	for _, fts := range c.ftsTables {
		fmt.Fprintf(&b, " JOIN %q AS %s ON %s.docid = %s.rowid",
			fts, c.ftsAliases[fts], c.ftsAliases[fts], c.table())
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if len(sel.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range sel.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			term, err := c.orderTerm(o)
			if err != nil {
				return nil, err
			}
			b.WriteString(term)
		}
	}
	if len(sel.Limit) > 0 {
		v, err := c.expr(sel.Limit)
		if err != nil {
			return nil, err
		}
		b.WriteString(" LIMIT ")
		b.WriteString(v)
	}
	if len(sel.Offset) > 0 {
		if len(sel.Limit) == 0 {
			b.WriteString(" LIMIT -1")
		}
		v, err := c.expr(sel.Offset)
		if err != nil {
			return nil, err
		}
		b.WriteString(" OFFSET ")
		b.WriteString(v)
	}

	params := make([]string, 0, len(c.params))
	for p := range c.params {
		params = append(params, p)
	}
	sort.Strings(params)

	return &Compiled{
		SQL:                     b.String(),
		Parameters:              params,
		FTSTables:               c.ftsTables,
		FirstCustomResultColumn: prefix,
		ColumnTitles:            titles,
		UsesExpiration:          c.usesExpire,
	}, nil
}

func (c *compiler) table() string { return fmt.Sprintf("%q", c.src.Table) }

func (c *compiler) whatColumn(raw json.RawMessage, i int) (col, title string, err error) {
	arr, ok := asArray(raw)
	if ok {
		var op string
		if len(arr) > 0 {
			op, _ = arr[0].(string)
		}
		if op == "AS" {
			if len(arr) != 3 {
				return "", "", fmt.Errorf("queryparser: AS takes an expression and a title")
			}
			name, ok := arr[2].(string)
			if !ok {
				return "", "", fmt.Errorf("queryparser: AS title must be a string")
			}
			inner, err := json.Marshal(arr[1])
			if err != nil {
				return "", "", err
			}
			col, err = c.expr(inner)
			return col, name, err
		}
		if strings.HasPrefix(op, ".") {
			col, err = c.expr(raw)
			title = strings.TrimPrefix(op, ".")
			if j := strings.LastIndexByte(title, '.'); j >= 0 {
				title = title[j+1:]
			}
			if title == "" {
				title = fmt.Sprintf("$%d", i+1)
			}
			return col, title, err
		}
	}
	col, err = c.expr(raw)
	return col, fmt.Sprintf("$%d", i+1), err
}

func (c *compiler) orderTerm(raw json.RawMessage) (string, error) {
	if arr, ok := asArray(raw); ok && len(arr) == 2 {
		if dir, ok := arr[0].(string); ok && (dir == "ASC" || dir == "DESC") {
			inner, err := json.Marshal(arr[1])
			if err != nil {
				return "", err
			}
			e, err := c.expr(inner)
			if err != nil {
				return "", err
			}
			return e + " " + dir, nil
		}
	}
	return c.expr(raw)
}

// expr compiles a single expression to SQL.
func (c *compiler) expr(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("queryparser: parse expression: %w", err)
	}
	return c.compileValue(v)
}

func (c *compiler) compileValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case json.Number:
		return x.String(), nil
	case string:
		return sqlString(x), nil
	case []any:
		return c.compileArray(x)
	default:
		return "", fmt.Errorf("queryparser: unsupported expression %v", v)
	}
}

func (c *compiler) compileArray(arr []any) (string, error) {
	if len(arr) == 0 {
		return "", fmt.Errorf("queryparser: empty expression array")
	}
	op, ok := arr[0].(string)
	if !ok {
		return "", fmt.Errorf("queryparser: expression operator must be a string")
	}

	switch {
	case strings.HasPrefix(op, "$"):
		name := op[1:]
		if name == "" {
			return "", fmt.Errorf("queryparser: empty parameter name")
		}
		c.params[name] = struct{}{}
		return "$_" + name, nil

	case strings.HasPrefix(op, "."):
		return c.property(op[1:])
	}

	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		if len(arr) != 3 {
			return "", fmt.Errorf("queryparser: %s takes two operands", op)
		}
		l, err := c.compileValue(arr[1])
		if err != nil {
			return "", err
		}
		r, err := c.compileValue(arr[2])
		if err != nil {
			return "", err
		}
		sqlOp := op
		if op == "!=" {
			sqlOp = "<>"
		}
		return fmt.Sprintf("(%s %s %s)", l, sqlOp, r), nil

	case "AND", "OR":
		if len(arr) < 2 {
			return "", fmt.Errorf("queryparser: %s needs operands", op)
		}
		terms := make([]string, 0, len(arr)-1)
		for _, a := range arr[1:] {
			t, err := c.compileValue(a)
			if err != nil {
				return "", err
			}
			terms = append(terms, t)
		}
		return "(" + strings.Join(terms, " "+op+" ") + ")", nil

	case "NOT":
		if len(arr) != 2 {
			return "", fmt.Errorf("queryparser: NOT takes one operand")
		}
		t, err := c.compileValue(arr[1])
		if err != nil {
			return "", err
		}
		return "(NOT " + t + ")", nil

	case "EXISTS":
		if len(arr) != 2 {
			return "", fmt.Errorf("queryparser: EXISTS takes one operand")
		}
		path, ok := propertyPath(arr[1])
		if !ok {
			return "", fmt.Errorf("queryparser: EXISTS operand must be a property")
		}
		return fmt.Sprintf("doc_exists(%s.body, %s)", c.table(), sqlString(path)), nil

	case "MATCH":
		if len(arr) != 3 {
			return "", fmt.Errorf("queryparser: MATCH takes an index name and a pattern")
		}
		indexName, ok := arr[1].(string)
		if !ok {
			return "", fmt.Errorf("queryparser: MATCH index name must be a string")
		}
		backing := c.src.IndexTable(indexName)
		alias, seen := c.ftsAliases[backing]
		if !seen {
			alias = fmt.Sprintf("fts%d", len(c.ftsTables)+1)
			c.ftsAliases[backing] = alias
			c.ftsTables = append(c.ftsTables, backing)
		}
		pattern, err := c.compileValue(arr[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s MATCH %s)", alias, pattern), nil

	default:
		return "", fmt.Errorf("queryparser: unknown operator %q", op)
	}
}

// property compiles a body property path, or a metadata pseudo-property.
func (c *compiler) property(path string) (string, error) {
	switch path {
	case "_id":
		return c.table() + ".key", nil
	case "_sequence":
		return c.table() + ".sequence", nil
	case "_deleted":
		return fmt.Sprintf("(%s.flags & 1)", c.table()), nil
	case "_expiration":
		c.usesExpire = true
		return c.table() + ".expiration", nil
	}
	return fmt.Sprintf("doc_value(%s.body, %s)", c.table(), sqlString(path)), nil
}

func propertyPath(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 1 {
		return "", false
	}
	s, ok := arr[0].(string)
	if !ok || !strings.HasPrefix(s, ".") {
		return "", false
	}
	return s[1:], true
}

func asArray(raw json.RawMessage) ([]any, bool) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
