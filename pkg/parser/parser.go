package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/firnlabs/firn/pkg/types"
)

// ParseError names the sub-string that failed to parse.
type ParseError struct {
	Fragment string
	Msg      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing %q: %s", e.Fragment, e.Msg)
}

func errAt(toks []string, format string, args ...any) error {
	return &ParseError{
		Fragment: strings.Join(toks, " "),
		Msg:      fmt.Sprintf(format, args...),
	}
}

var quotedRe = regexp.MustCompile(`'[^']*'`)

// lowerOutsideQuotes lowercases everything outside single-quoted
// regions, preserving quoted literals verbatim.
func lowerOutsideQuotes(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range quotedRe.FindAllStringIndex(s, -1) {
		b.WriteString(strings.ToLower(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(strings.ToLower(s[last:]))
	return b.String()
}

// Preprocess canonicalises a raw statement: case-folds outside quotes,
// glues multi-word keywords into single tokens, pads punctuation, and
// collapses every run of whitespace (quoted text included) to one space,
// so the result splits cleanly on whitespace. Preprocessing is idempotent.
func Preprocess(query string) string {
	q := lowerOutsideQuotes(strings.Join(strings.Fields(query), " "))
	replacer := strings.NewReplacer(
		"group by", "group_by",
		",", " , ",
		"(", " ( ",
		")", " ) ",
		"is null", "is_null",
		"is not null", "is_not_null",
		"if not exists", "if_not_exists",
		"if exists", "if_exists",
		"rows per shard", "rows_per_shard",
	)
	return strings.Join(strings.Fields(replacer.Replace(q)), " ")
}

// Parse lowers a raw SQL-subset statement into one of the four typed
// query variants. It never consults the catalog.
func Parse(query string) (types.Query, error) {
	toks := strings.Fields(Preprocess(query))
	if len(toks) > 0 && toks[len(toks)-1] == ";" {
		toks = toks[:len(toks)-1]
	}
	if len(toks) > 0 {
		toks[len(toks)-1] = strings.TrimSuffix(toks[len(toks)-1], ";")
	}
	if len(toks) == 0 {
		return nil, &ParseError{Fragment: query, Msg: "empty statement"}
	}

	switch toks[0] {
	case "select":
		return parseSelect(toks[1:])
	case "create":
		return parseCreate(toks[1:])
	case "insert":
		return parseInsert(toks[1:])
	case "drop":
		return parseDrop(toks[1:])
	}
	return nil, errAt(toks[:1], "unknown statement %q", toks[0])
}

func parseDrop(toks []string) (*types.DropQuery, error) {
	if len(toks) < 2 || toks[0] != "table" {
		return nil, errAt(toks, "expected 'drop table <name>'")
	}
	switch len(toks) {
	case 2:
		return &types.DropQuery{Table: toks[1]}, nil
	case 3:
		if toks[2] != "if_exists" {
			return nil, errAt(toks, "unexpected token %q", toks[2])
		}
		return &types.DropQuery{Table: toks[1], IfExists: true}, nil
	}
	return nil, errAt(toks, "trailing tokens after drop")
}

func parseInsert(toks []string) (*types.InsertQuery, error) {
	if len(toks) < 4 || toks[0] != "into" || toks[2] != "from" {
		return nil, errAt(toks, "expected 'insert into <table> from <path>'")
	}
	q := &types.InsertQuery{Table: toks[1], SrcPath: toks[3]}
	switch len(toks) {
	case 4:
		return q, nil
	case 6:
		if toks[4] != "rows_per_shard" {
			return nil, errAt(toks, "unexpected token %q", toks[4])
		}
		n, err := strconv.Atoi(toks[5])
		if err != nil || n <= 0 {
			return nil, errAt(toks, "rows per shard must be a positive integer, got %q", toks[5])
		}
		q.RowsPerShard = n
		return q, nil
	}
	return nil, errAt(toks, "trailing tokens after insert")
}

func parseCreate(toks []string) (*types.CreateQuery, error) {
	if len(toks) < 5 || toks[0] != "table" {
		return nil, errAt(toks, "expected 'create table <name> ( ... )'")
	}

	ifNotExists := false
	if toks[len(toks)-1] == "if_not_exists" {
		ifNotExists = true
		toks = toks[:len(toks)-1]
	}

	if len(toks) < 5 || toks[2] != "(" || toks[len(toks)-1] != ")" {
		return nil, errAt(toks, "malformed column definition list")
	}

	table := toks[1]
	var schema []types.ColumnInfo
	for _, col := range splitOn(toks[3:len(toks)-1], ",") {
		ci, err := parseCreateCol(col)
		if err != nil {
			return nil, err
		}
		schema = append(schema, ci)
	}
	if len(schema) == 0 {
		return nil, errAt(toks, "empty column definition list")
	}

	return &types.CreateQuery{
		Table:       table,
		Schema:      schema,
		IfNotExists: ifNotExists,
	}, nil
}

func parseCreateCol(toks []string) (types.ColumnInfo, error) {
	switch len(toks) {
	case 2:
		return types.ColumnInfo{Name: toks[0], Type: toks[1], Nullable: true}, nil
	case 3:
		if toks[2] != "is_not_null" {
			return types.ColumnInfo{}, errAt(toks, "unexpected token %q in column definition", toks[2])
		}
		return types.ColumnInfo{Name: toks[0], Type: toks[1], Nullable: false}, nil
	}
	return types.ColumnInfo{}, errAt(toks, "column definition must be '<name> <type> [is not null]'")
}

func parseSelect(toks []string) (*types.SelectQuery, error) {
	fromIdx := index(toks, "from")
	if fromIdx < 0 || fromIdx == len(toks)-1 {
		return nil, errAt(toks, "select statement needs 'from <table>'")
	}

	items, err := parseSelectCols(toks[:fromIdx])
	if err != nil {
		return nil, err
	}
	table := toks[fromIdx+1]

	rest := toks[fromIdx+2:]
	whereIdx := index(rest, "where")
	groupIdx := index(rest, "group_by")

	var where []types.PredicateTerm
	if whereIdx >= 0 {
		end := len(rest)
		if groupIdx > whereIdx {
			end = groupIdx
		}
		where, err = parseWhere(rest[whereIdx+1 : end])
		if err != nil {
			return nil, err
		}
	}

	var groupBy []string
	if groupIdx >= 0 {
		groupBy, err = parseGroupBy(rest[groupIdx+1:])
		if err != nil {
			return nil, err
		}
	}

	return &types.SelectQuery{
		Table:   table,
		Select:  items,
		Where:   where,
		GroupBy: groupBy,
	}, nil
}

func parseSelectCols(toks []string) ([]types.SelectItem, error) {
	if len(toks) == 0 {
		return nil, errAt(toks, "empty select list")
	}
	var items []types.SelectItem
	for _, col := range splitOn(toks, ",") {
		item, err := parseSelectCol(col)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseSelectCol(toks []string) (types.SelectItem, error) {
	if len(toks) == 0 {
		return nil, errAt(toks, "empty select item")
	}

	if types.IsAggFunc(toks[0]) {
		if len(toks) < 4 || toks[1] != "(" || toks[3] != ")" {
			return nil, errAt(toks, "aggregate must be '<func> ( <col> )'")
		}
		agg := types.AggExpr{Func: types.AggFunc(toks[0]), Col: toks[2]}
		switch len(toks) {
		case 4:
			return agg, nil
		case 6:
			if toks[4] != "as" {
				return nil, errAt(toks, "unexpected token %q after aggregate", toks[4])
			}
			agg.Alias = toks[5]
			return agg, nil
		}
		return nil, errAt(toks, "trailing tokens after aggregate")
	}

	switch len(toks) {
	case 1:
		return types.ColumnRef{Name: toks[0]}, nil
	case 3:
		if toks[1] != "as" {
			return nil, errAt(toks, "unexpected token %q after column", toks[1])
		}
		return types.ColumnRef{Name: toks[0], Alias: toks[2]}, nil
	}
	return nil, errAt(toks, "malformed select item")
}

func parseWhere(toks []string) ([]types.PredicateTerm, error) {
	if len(toks) == 0 {
		return nil, errAt(toks, "empty where clause")
	}
	var preds []types.PredicateTerm
	for _, expr := range splitOn(toks, "and") {
		p, err := parseWhereExpr(expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func parseWhereExpr(toks []string) (types.PredicateTerm, error) {
	switch len(toks) {
	case 2:
		if !types.IsNullOp(toks[1]) {
			return types.PredicateTerm{}, errAt(toks, "expected null test, got %q", toks[1])
		}
		return types.PredicateTerm{Col: toks[0], Op: toks[1]}, nil
	case 3:
		if !types.IsCompareOp(toks[1]) {
			return types.PredicateTerm{}, errAt(toks, "unknown operator %q", toks[1])
		}
		val, err := coerceLiteral(toks[2])
		if err != nil {
			return types.PredicateTerm{}, errAt(toks, "%v", err)
		}
		return types.PredicateTerm{Col: toks[0], Op: toks[1], Value: val}, nil
	}
	return types.PredicateTerm{}, errAt(toks, "predicate must be '<col> <op> <literal>' or '<col> is [not] null'")
}

// coerceLiteral maps a literal token to its typed value: pure digits to
// an integer, digits with one decimal point to a float, single-quoted
// text to a string with the quotes stripped.
func coerceLiteral(tok string) (any, error) {
	if isDigits(tok) {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer literal out of range: %s", tok)
		}
		return n, nil
	}
	if strings.Count(tok, ".") == 1 && isDigits(strings.ReplaceAll(tok, ".", "")) {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float literal: %s", tok)
		}
		return f, nil
	}
	if len(tok) >= 2 && strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") {
		return tok[1 : len(tok)-1], nil
	}
	return nil, fmt.Errorf("cannot parse literal %s", tok)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseGroupBy(toks []string) ([]string, error) {
	if len(toks) == 0 {
		return nil, errAt(toks, "empty group by list")
	}
	var cols []string
	for i, tok := range toks {
		if i%2 == 0 {
			cols = append(cols, tok)
			continue
		}
		if tok != "," {
			return nil, errAt(toks, "expected comma between grouping columns, got %q", tok)
		}
	}
	if len(toks)%2 == 0 {
		return nil, errAt(toks, "trailing comma in group by list")
	}
	return cols, nil
}

// splitOn partitions a token list on a separator token.
func splitOn(toks []string, sep string) [][]string {
	var out [][]string
	var cur []string
	for _, tok := range toks {
		if tok == sep {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	out = append(out, cur)
	return out
}

func index(toks []string, tok string) int {
	for i, t := range toks {
		if t == tok {
			return i
		}
	}
	return -1
}
