package screener

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterExpr is one node of the restricted filter grammar. A leaf names a
// column, a predicate type and an optional value; a "join" node combines
// its children under AND or OR.
type FilterExpr struct {
	ColID    string       `json:"colId,omitempty"`
	Type     string       `json:"type"`
	Value    any          `json:"value,omitempty"`
	Operator string       `json:"operator,omitempty"`
	Children []FilterExpr `json:"children,omitempty"`
}

// SortField names a column and direction. The wire uses "sort" for the
// direction field.
type SortField struct {
	ColID     string `json:"colId"`
	Direction string `json:"sort"`
}

// Query is a complete symbol-table query specification. Limit < 0 means no
// limit.
type Query struct {
	Columns     []string
	Filters     []FilterExpr
	FilterMerge string
	Sort        []SortField
	Universe    *[]string
	Offset      int
	Limit       int
}

// BuildQuery compiles q into a single SELECT over table. Column and filter
// identifiers are double-quoted; values are escaped literals. The output is
// deterministic for a given Query.
func BuildQuery(table string, q Query) (string, error) {
	if len(q.Columns) == 0 {
		return "", fmt.Errorf("query requires at least one column")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, col := range q.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(table)

	where, err := buildWhere(q.Filters, q.FilterMerge, q.Universe)
	if err != nil {
		return "", err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(q.Sort) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, s := range q.Sort {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quoteIdent(s.ColID))
			if strings.EqualFold(s.Direction, "desc") {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	}

	if q.Limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(q.Offset))
	}

	return sb.String(), nil
}

// buildWhere combines the filter clauses under merge (AND|OR) and ANDs the
// universe restriction on top: the universe bounds what the filters see,
// regardless of how the filters merge among themselves.
func buildWhere(filters []FilterExpr, merge string, universe *[]string) (string, error) {
	var clauses []string
	for _, f := range filters {
		clause, err := filterSQL(f)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	op := " AND "
	if strings.EqualFold(merge, "or") {
		op = " OR "
	}

	var filterPart string
	switch len(clauses) {
	case 0:
	case 1:
		filterPart = clauses[0]
	default:
		filterPart = "(" + strings.Join(clauses, op) + ")"
	}

	universePart := universeSQL(universe)

	switch {
	case filterPart == "" && universePart == "":
		return "", nil
	case filterPart == "":
		return universePart, nil
	case universePart == "":
		return filterPart, nil
	default:
		return filterPart + " AND " + universePart, nil
	}
}

// universeSQL restricts the scan to an explicit ticker list. An empty (but
// present) universe matches nothing.
func universeSQL(universe *[]string) string {
	if universe == nil {
		return ""
	}
	if len(*universe) == 0 {
		return "1=2"
	}
	quoted := make([]string, len(*universe))
	for i, t := range *universe {
		quoted[i] = sqlString(t)
	}
	return quoteIdent("ticker") + " IN (" + strings.Join(quoted, ", ") + ")"
}

func filterSQL(f FilterExpr) (string, error) {
	if f.Type == "join" {
		if len(f.Children) == 0 {
			return "", fmt.Errorf("join filter requires children")
		}
		op := " AND "
		if strings.EqualFold(f.Operator, "or") {
			op = " OR "
		}
		parts := make([]string, len(f.Children))
		for i, child := range f.Children {
			part, err := filterSQL(child)
			if err != nil {
				return "", err
			}
			parts[i] = part
		}
		return "(" + strings.Join(parts, op) + ")", nil
	}

	col := quoteIdent(f.ColID)
	switch f.Type {
	case "contains":
		return col + " LIKE " + sqlString("%"+stringValue(f.Value)+"%"), nil
	case "notContains":
		return col + " NOT LIKE " + sqlString("%"+stringValue(f.Value)+"%"), nil
	case "equals":
		return col + " = " + sqlLiteral(f.Value), nil
	case "notEqual":
		return col + " <> " + sqlLiteral(f.Value), nil
	case "startsWith":
		return col + " LIKE " + sqlString(stringValue(f.Value)+"%"), nil
	case "endsWith":
		return col + " LIKE " + sqlString("%"+stringValue(f.Value)), nil
	case "blank":
		return "(" + col + " IS NULL OR " + col + " = '')", nil
	case "notBlank":
		return "(" + col + " IS NOT NULL AND " + col + " <> '')", nil
	case "greaterThan":
		return col + " > " + sqlLiteral(f.Value), nil
	case "greaterThanOrEqual":
		return col + " >= " + sqlLiteral(f.Value), nil
	case "lessThan":
		return col + " < " + sqlLiteral(f.Value), nil
	case "lessThanOrEqual":
		return col + " <= " + sqlLiteral(f.Value), nil
	case "true":
		return col + " = TRUE", nil
	case "false":
		return col + " = FALSE", nil
	default:
		return "", fmt.Errorf("unknown filter type %q", f.Type)
	}
}

// quoteIdent double-quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlString single-quotes a string value, doubling embedded single quotes.
func sqlString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// sqlLiteral renders v as a SQL literal: strings are escaped, booleans
// become TRUE/FALSE, nil becomes NULL, numbers print unquoted.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return sqlString(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return sqlString(fmt.Sprintf("%v", x))
	}
}
