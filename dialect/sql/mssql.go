package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/orbit"
)

// ApplyLimit implements the Adapter interface. SQL Server 2005 has no
// LIMIT clause: a zero offset becomes "SELECT TOP n", anything else wraps
// the query in a derived table numbered with ROW_NUMBER().
//
//	SELECT [a], [b] FROM (
//		SELECT ROW_NUMBER() OVER(ORDER BY t.a ASC) AS [RowNumber], t.a AS [a], t.b AS [b]
//		FROM t
//	) AS derivedb WHERE RowNumber BETWEEN 11 AND 20 ORDER BY RowNumber
//
// Aggregate columns must carry an alias.
func (a MSSQLAdapter) ApplyLimit(query string, offset, limit int) (string, error) {
	q := strings.TrimSpace(query)
	if !hasPrefixFold(q, "SELECT") {
		return "", orbit.NewConfigError("apply limit", "could not locate the select statement at the start of the query")
	}
	q = strings.TrimSpace(q[len("SELECT"):])
	var comment string
	if strings.HasPrefix(q, "/*") {
		end := strings.Index(q, "*/")
		if end < 0 {
			return "", orbit.NewConfigError("apply limit", "unterminated comment")
		}
		comment = q[:end+2] + " "
		q = strings.TrimSpace(q[end+2:])
	}
	from := indexKeyword(q, "FROM", false)
	if from < 0 {
		return "", orbit.NewConfigError("apply limit", "could not locate the from clause of the query")
	}
	selection := strings.TrimSpace(q[:from])
	rest := strings.TrimSpace(q[from+len("FROM"):])
	head := "SELECT " + comment
	if hasPrefixFold(selection, "DISTINCT ") {
		head += "DISTINCT "
		selection = strings.TrimSpace(selection[len("DISTINCT "):])
	}
	if offset == 0 {
		return head + "TOP " + strconv.Itoa(limit) + " " + selection + " FROM " + rest, nil
	}

	var orders []string
	if i := indexKeyword(rest, "ORDER BY", true); i >= 0 {
		for _, o := range splitTopLevel(rest[i+len("ORDER BY"):]) {
			orders = append(orders, strings.TrimSpace(o))
		}
		rest = strings.TrimSpace(rest[:i])
	}

	var (
		inner, outer []string
		fallback     string
	)
	for _, col := range splitTopLevel(selection) {
		col = strings.TrimSpace(col)
		expr, alias := col, ""
		if i := indexKeyword(col, "AS", true); i >= 0 {
			expr, alias = strings.TrimSpace(col[:i]), strings.TrimSpace(col[i+len("AS"):])
		}
		if expr == "*" || strings.HasSuffix(expr, ".*") {
			return "", orbit.NewConfigError("apply limit", "cannot paginate a wildcard selection with an offset")
		}
		aggregate := strings.Contains(expr, "(") || hasPrefixFold(expr, "CASE ")
		switch {
		case aggregate && alias == "":
			return "", orbit.NewConfigError("apply limit", "requires aggregate columns to have an alias: %s", expr)
		case alias == "":
			alias = strings.NewReplacer("[", "", "]", "").Replace(expr)
		}
		alias = strings.Trim(alias, "[]")
		if !aggregate && fallback == "" {
			fallback = expr
		}
		// ROW_NUMBER() OVER (...) does not see select aliases.
		for j, o := range orders {
			term, dir := splitDirection(o)
			if term == alias || term == a.QuoteIdentifier(alias) {
				orders[j] = expr + dir
			}
		}
		quoted := a.QuoteIdentifier(alias)
		inner = append(inner, expr+" AS "+quoted)
		outer = append(outer, quoted)
	}
	over := strings.Join(orders, ", ")
	if over == "" {
		if fallback == "" {
			return "", orbit.NewConfigError("apply limit", "unable to find column to use with ROW_NUMBER()")
		}
		over = fallback
	}
	filter := "RowNumber BETWEEN " + strconv.Itoa(offset+1) + " AND " + strconv.Itoa(offset+limit)
	if limit == 0 {
		filter = "RowNumber > " + strconv.Itoa(offset)
	}
	return "SELECT " + strings.Join(outer, ", ") +
		" FROM (" + head + "ROW_NUMBER() OVER(ORDER BY " + over + ") AS [RowNumber], " +
		strings.Join(inner, ", ") + " FROM " + rest + ") AS derivedb WHERE " + filter +
		" ORDER BY RowNumber", nil
}

// splitDirection splits "expr DESC" into "expr" and " DESC".
func splitDirection(order string) (string, string) {
	for _, dir := range []string{" ASC", " DESC"} {
		if len(order) > len(dir) && strings.EqualFold(order[len(order)-len(dir):], dir) {
			return strings.TrimSpace(order[:len(order)-len(dir)]), dir
		}
	}
	return order, ""
}

// topLevel reports, for each byte of s, whether it lies outside quotes,
// brackets and parentheses.
func topLevel(s string) []bool {
	mask := make([]bool, len(s))
	var (
		depth int
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			continue
		case c == '\'' || c == '"' || c == '`':
			quote = c
			continue
		case c == '[':
			quote = ']'
			continue
		case c == '(':
			depth++
			continue
		case c == ')':
			depth--
			continue
		}
		mask[i] = depth == 0
	}
	return mask
}

// indexKeyword returns the position of the first (or last) top-level
// occurrence of the keyword as a whole word, ignoring ASCII case.
func indexKeyword(s, kw string, last bool) int {
	mask := topLevel(s)
	upper := asciiUpper(s)
	found := -1
	for i := 0; i+len(kw) <= len(s); i++ {
		if !mask[i] || upper[i:i+len(kw)] != kw {
			continue
		}
		if i > 0 && isWordByte(s[i-1]) || i+len(kw) < len(s) && isWordByte(s[i+len(kw)]) {
			continue
		}
		if !last {
			return i
		}
		found = i
	}
	return found
}

// splitTopLevel splits s on commas outside quotes and parentheses.
func splitTopLevel(s string) []string {
	mask := topLevel(s)
	var (
		parts []string
		start int
	)
	for i := 0; i < len(s); i++ {
		if s[i] == ',' && mask[i] {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isWordByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
