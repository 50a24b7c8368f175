package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSQL(t *testing.T) {
	tests := []struct {
		name   string
		filter FilterExpr
		want   string
	}{
		{
			name:   "contains",
			filter: FilterExpr{ColID: "name", Type: "contains", Value: "oil"},
			want:   `"name" LIKE '%oil%'`,
		},
		{
			name:   "notContains",
			filter: FilterExpr{ColID: "name", Type: "notContains", Value: "bank"},
			want:   `"name" NOT LIKE '%bank%'`,
		},
		{
			name:   "equals string escapes quotes",
			filter: FilterExpr{ColID: "name", Type: "equals", Value: "D'Mart"},
			want:   `"name" = 'D''Mart'`,
		},
		{
			name:   "notEqual number",
			filter: FilterExpr{ColID: "day_close", Type: "notEqual", Value: float64(100)},
			want:   `"day_close" <> 100`,
		},
		{
			name:   "startsWith",
			filter: FilterExpr{ColID: "ticker", Type: "startsWith", Value: "NSE:"},
			want:   `"ticker" LIKE 'NSE:%'`,
		},
		{
			name:   "endsWith",
			filter: FilterExpr{ColID: "ticker", Type: "endsWith", Value: "BANK"},
			want:   `"ticker" LIKE '%BANK'`,
		},
		{
			name:   "blank",
			filter: FilterExpr{ColID: "isin", Type: "blank"},
			want:   `("isin" IS NULL OR "isin" = '')`,
		},
		{
			name:   "notBlank",
			filter: FilterExpr{ColID: "isin", Type: "notBlank"},
			want:   `("isin" IS NOT NULL AND "isin" <> '')`,
		},
		{
			name:   "greaterThan",
			filter: FilterExpr{ColID: "mcap", Type: "greaterThan", Value: float64(1e10)},
			want:   `"mcap" > 1e+10`,
		},
		{
			name:   "lessThanOrEqual",
			filter: FilterExpr{ColID: "mcap", Type: "lessThanOrEqual", Value: float64(50)},
			want:   `"mcap" <= 50`,
		},
		{
			name:   "true",
			filter: FilterExpr{ColID: "is_fno", Type: "true"},
			want:   `"is_fno" = TRUE`,
		},
		{
			name:   "false",
			filter: FilterExpr{ColID: "is_fno", Type: "false"},
			want:   `"is_fno" = FALSE`,
		},
		{
			name:   "equals null",
			filter: FilterExpr{ColID: "sector", Type: "equals", Value: nil},
			want:   `"sector" = NULL`,
		},
		{
			name: "join OR over children",
			filter: FilterExpr{Type: "join", Operator: "OR", Children: []FilterExpr{
				{ColID: "sector", Type: "equals", Value: "Energy"},
				{ColID: "sector", Type: "equals", Value: "Power"},
			}},
			want: `("sector" = 'Energy' OR "sector" = 'Power')`,
		},
		{
			name: "nested join",
			filter: FilterExpr{Type: "join", Operator: "AND", Children: []FilterExpr{
				{ColID: "mcap", Type: "greaterThan", Value: float64(1000)},
				{Type: "join", Operator: "OR", Children: []FilterExpr{
					{ColID: "is_fno", Type: "true"},
					{ColID: "type", Type: "equals", Value: "index"},
				}},
			}},
			want: `("mcap" > 1000 AND ("is_fno" = TRUE OR "type" = 'index'))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterSQL(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterSQLUnknownType(t *testing.T) {
	_, err := filterSQL(FilterExpr{ColID: "x", Type: "between"})
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	q := Query{
		Columns:     []string{"ticker", "name"},
		Filters:     []FilterExpr{{ColID: "mcap", Type: "greaterThan", Value: float64(100)}},
		FilterMerge: "AND",
		Sort:        []SortField{{ColID: "mcap", Direction: "desc"}, {ColID: "name", Direction: "ASC"}},
		Offset:      50,
		Limit:       50,
	}
	sql, err := BuildQuery("symbols", q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "ticker", "name" FROM symbols WHERE "mcap" > 100 ORDER BY "mcap" DESC, "name" ASC LIMIT 50 OFFSET 50`,
		sql,
	)
}

func TestBuildQueryMergeOr(t *testing.T) {
	q := Query{
		Columns: []string{"ticker"},
		Filters: []FilterExpr{
			{ColID: "sector", Type: "equals", Value: "Energy"},
			{ColID: "sector", Type: "equals", Value: "Power"},
		},
		FilterMerge: "OR",
		Limit:       -1,
	}
	sql, err := BuildQuery("symbols", q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "ticker" FROM symbols WHERE ("sector" = 'Energy' OR "sector" = 'Power')`,
		sql,
	)
}

func TestBuildQueryUniverse(t *testing.T) {
	universe := []string{"NSE:RELIANCE", "NSE:TCS"}
	q := Query{
		Columns:  []string{"ticker"},
		Universe: &universe,
		Limit:    -1,
	}
	sql, err := BuildQuery("symbols", q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "ticker" FROM symbols WHERE "ticker" IN ('NSE:RELIANCE', 'NSE:TCS')`,
		sql,
	)
}

func TestBuildQueryEmptyUniverseMatchesNothing(t *testing.T) {
	universe := []string{}
	q := Query{Columns: []string{"ticker"}, Universe: &universe, Limit: -1}
	sql, err := BuildQuery("symbols", q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "ticker" FROM symbols WHERE 1=2`, sql)
}

func TestBuildQueryUniverseCombinesWithFilters(t *testing.T) {
	universe := []string{"NSE:TCS"}
	q := Query{
		Columns:     []string{"ticker"},
		Filters:     []FilterExpr{{ColID: "mcap", Type: "greaterThan", Value: float64(5)}},
		FilterMerge: "OR",
		Universe:    &universe,
		Limit:       -1,
	}
	sql, err := BuildQuery("symbols", q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "ticker" FROM symbols WHERE "mcap" > 5 AND "ticker" IN ('NSE:TCS')`,
		sql,
	)
}

func TestBuildQueryRequiresColumns(t *testing.T) {
	_, err := BuildQuery("symbols", Query{Limit: -1})
	assert.Error(t, err)
}
