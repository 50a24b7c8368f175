package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/scanexpr"
)

type fakeCandleProvider struct {
	data map[string]Candles
}

func (f *fakeCandleProvider) LoadData(ctx context.Context) (map[string]Candles, error) {
	return f.data, nil
}

func (f *fakeCandleProvider) GetSymbolData(ctx context.Context, symbol string) (Candles, bool, error) {
	c, ok := f.data[symbol]
	return c, ok, nil
}

func (f *fakeCandleProvider) AvailableSymbols(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(f.data))
	for s := range f.data {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeCandleProvider) RefreshData(ctx context.Context) (map[string]Candles, error) {
	return f.data, nil
}

type fakeMetadataProvider struct {
	table map[string]map[string]any
}

func (f *fakeMetadataProvider) Load(ctx context.Context) error { return nil }

func (f *fakeMetadataProvider) GetMetadata(ctx context.Context, symbol, property string) (any, error) {
	row, ok := f.table[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	return row[property], nil
}

func (f *fakeMetadataProvider) GetAllMetadata(ctx context.Context, symbol string) (map[string]any, error) {
	return f.table[symbol], nil
}

func (f *fakeMetadataProvider) SupportedProperties() []string { return nil }

func (f *fakeMetadataProvider) MetadataTable(ctx context.Context, symbols []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(symbols))
	for _, s := range symbols {
		if row, ok := f.table[s]; ok {
			out[s] = row
		}
	}
	return out, nil
}

func (f *fakeMetadataProvider) RefreshMetadata(ctx context.Context) error { return nil }

// rampCandles builds a history whose bars ramp linearly up to last.
func rampCandles(n int, last float64) Candles {
	c := Candles{
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		v := last - float64(n-1-i)
		c.Open[i], c.High[i], c.Low[i], c.Close[i] = v, v, v, v
		c.Volume[i] = 1000
	}
	return c
}

func testEngine(t *testing.T, cacheEnabled bool) *Engine {
	t.Helper()
	candles := &fakeCandleProvider{data: map[string]Candles{
		"NSE:AAA": rampCandles(60, 200), // rising, above its sma
		"NSE:BBB": rampCandles(60, 120),
		"NSE:CCC": {Open: []float64{5, 4}, High: []float64{5, 4}, Low: []float64{5, 4}, Close: []float64{5, 4}, Volume: []float64{10, 10}}, // falling
	}}
	metadata := &fakeMetadataProvider{table: map[string]map[string]any{
		"NSE:AAA": {"mcap": 5e10, "sector": "Energy", "name": "Alpha"},
		"NSE:BBB": {"mcap": 2e10, "sector": "Tech", "name": "Beta"},
		"NSE:CCC": {"mcap": 1e9, "sector": "Tech", "name": "Gamma"},
	}}
	engine, err := New(context.Background(), candles, metadata, cacheEnabled, slog.Default())
	require.NoError(t, err)
	return engine
}

func TestScanTwoPhase(t *testing.T) {
	engine := testEngine(t, true)

	req := Request{
		Conditions: []Condition{
			{Expression: "mcap > 1e10", ConditionType: ConditionStatic},
			{Expression: "c > sma(c, 50)", ConditionType: ConditionComputed, EvaluationPeriod: scanexpr.PeriodNow},
		},
		Columns: []ColumnDef{
			{ID: "mcap", Name: "mcap", Type: ColumnStatic, PropertyName: "mcap"},
			{ID: "last", Name: "last", Type: ColumnComputed, Expression: "c"},
		},
		Logic:       "and",
		SortColumns: []SortColumn{{Column: "last", Direction: "desc"}},
	}

	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"symbol", "mcap", "last"}, result.Columns)

	// CCC fails the static filter (mcap too small); AAA and BBB are both
	// rising so both pass the computed filter; desc sort on last close.
	require.Equal(t, 2, result.Count)
	assert.Equal(t, "NSE:AAA", result.Data[0][0])
	assert.Equal(t, 200.0, result.Data[0][2])
	assert.Equal(t, "NSE:BBB", result.Data[1][0])
}

func TestScanOrLogic(t *testing.T) {
	engine := testEngine(t, true)

	req := Request{
		Conditions: []Condition{
			{Expression: "sector == 'Energy'", ConditionType: ConditionStatic},
			{Expression: "sector == 'Utilities'", ConditionType: ConditionStatic},
		},
		Columns: []ColumnDef{
			{ID: "sector", Name: "sector", Type: ColumnStatic, PropertyName: "sector"},
		},
		Logic: "or",
	}
	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "NSE:AAA", result.Data[0][0])
}

func TestScanConditionColumn(t *testing.T) {
	engine := testEngine(t, true)

	req := Request{
		Conditions: []Condition{},
		Columns: []ColumnDef{
			{ID: "rising", Name: "rising", Type: ColumnCondition, Conditions: []Condition{
				{Expression: "c > prv(c)", ConditionType: ConditionComputed},
			}},
		},
	}
	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 3, result.Count)

	bySymbol := map[string]any{}
	for _, r := range result.Data {
		bySymbol[r[0].(string)] = r[1]
	}
	assert.Equal(t, true, bySymbol["NSE:AAA"])
	assert.Equal(t, false, bySymbol["NSE:CCC"])
}

func TestScanRankCondition(t *testing.T) {
	engine := testEngine(t, true)

	// Percentile ranks on last close across 3 symbols: CCC≈33.3, BBB≈66.7,
	// AAA=100.
	req := Request{
		Conditions: []Condition{
			{Expression: "c", ConditionType: ConditionComputed, EvaluationType: EvalRank, RankMin: 80, RankMax: 100},
		},
		Columns: []ColumnDef{
			{ID: "last", Name: "last", Type: ColumnComputed, Expression: "c"},
		},
	}
	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "NSE:AAA", result.Data[0][0])
}

func TestScanPreConditionsRestrictUniverse(t *testing.T) {
	engine := testEngine(t, true)

	req := Request{
		PreConditions: []Condition{
			{Expression: "sector == 'Tech'", ConditionType: ConditionStatic},
		},
		Conditions: []Condition{
			{Expression: "c > 0", ConditionType: ConditionComputed},
		},
		Columns: []ColumnDef{
			{ID: "name", Name: "name", Type: ColumnStatic, PropertyName: "name"},
		},
	}
	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	for _, r := range result.Data {
		assert.NotEqual(t, "NSE:AAA", r[0])
	}
}

func TestScanSortDropsNullRows(t *testing.T) {
	engine := testEngine(t, true)

	// change(c, 50) is null for CCC (only 2 bars), so CCC must be dropped
	// from a sort over that column.
	req := Request{
		Conditions: []Condition{},
		Columns: []ColumnDef{
			{ID: "chg", Name: "chg", Type: ColumnComputed, Expression: "change(c, 50)"},
		},
		SortColumns: []SortColumn{{Column: "chg", Direction: "desc"}},
	}
	result, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	for _, r := range result.Data {
		assert.NotEqual(t, "NSE:CCC", r[0])
	}
}

func TestScanValidation(t *testing.T) {
	engine := testEngine(t, true)

	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "duplicate column id",
			req: Request{
				Columns: []ColumnDef{
					{ID: "x", Name: "a", Type: ColumnComputed, Expression: "c"},
					{ID: "x", Name: "b", Type: ColumnComputed, Expression: "o"},
				},
			},
		},
		{
			name: "x_bar_ago without value",
			req: Request{
				Conditions: []Condition{
					{Expression: "c > 0", ConditionType: ConditionComputed, EvaluationPeriod: scanexpr.PeriodXBarAgo},
				},
			},
		},
		{
			name: "static column without property",
			req: Request{
				Columns: []ColumnDef{{ID: "x", Name: "x", Type: ColumnStatic}},
			},
		},
		{
			name: "rank bounds inverted",
			req: Request{
				Conditions: []Condition{
					{Expression: "c", ConditionType: ConditionComputed, EvaluationType: EvalRank, RankMin: 80, RankMax: 20},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Scan(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}

// Cache agreement: the same request with cache on and cache off must
// produce identical output.
func TestScanCacheAgreement(t *testing.T) {
	req := Request{
		Conditions: []Condition{
			{Expression: "mcap > 1e9", ConditionType: ConditionStatic},
			{Expression: "c > sma(c, 20)", ConditionType: ConditionComputed},
		},
		Columns: []ColumnDef{
			{ID: "last", Name: "last", Type: ColumnComputed, Expression: "c"},
			{ID: "rising", Name: "rising", Type: ColumnCondition, Conditions: []Condition{
				{Expression: "c > prv(c)", ConditionType: ConditionComputed},
			}},
		},
		SortColumns: []SortColumn{{Column: "last", Direction: "asc"}},
	}

	cached := testEngine(t, true)
	uncached := testEngine(t, false)

	first, err := cached.Scan(context.Background(), req)
	require.NoError(t, err)
	second, err := cached.Scan(context.Background(), req)
	require.NoError(t, err)
	cold, err := uncached.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, cold)
	assert.Greater(t, cached.CacheStats().Hits, int64(0))
	assert.Equal(t, int64(0), uncached.CacheStats().Hits)
}

// Scan determinism: repeated scans over a fixed snapshot are identical.
func TestScanDeterminism(t *testing.T) {
	engine := testEngine(t, true)
	req := Request{
		Conditions: []Condition{},
		Columns: []ColumnDef{
			{ID: "last", Name: "last", Type: ColumnComputed, Expression: "c"},
		},
	}
	first, err := engine.Scan(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := engine.Scan(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}
