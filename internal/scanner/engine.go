package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/weqory/backend/internal/expcache"
	"github.com/weqory/backend/internal/scanexpr"
)

// Engine orchestrates a scan over every loaded symbol's candles and
// metadata: load once at construction, re-load on RefreshData, evaluate in
// two phases.
type Engine struct {
	candles  CandleProvider
	metadata MetadataProvider
	cache    *expcache.Cache
	logger   *slog.Logger

	mu         sync.RWMutex
	symbolData map[string]Candles
}

// New constructs an Engine and eagerly loads candle data.
func New(ctx context.Context, candles CandleProvider, metadata MetadataProvider, cacheEnabled bool, logger *slog.Logger) (*Engine, error) {
	data, err := candles.LoadData(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candle data: %w", err)
	}
	cache := expcache.New()
	if !cacheEnabled {
		cache.Disable()
	}
	e := &Engine{
		candles:    candles,
		metadata:   metadata,
		cache:      cache,
		logger:     logger,
		symbolData: data,
	}
	logger.Info("scanner engine initialized", "symbols", len(data))
	return e, nil
}

// RefreshData reloads candle and metadata sources and clears the
// expression cache, since cached results reference stale bars.
func (e *Engine) RefreshData(ctx context.Context) error {
	data, err := e.candles.RefreshData(ctx)
	if err != nil {
		return fmt.Errorf("refresh candle data: %w", err)
	}
	if err := e.metadata.RefreshMetadata(ctx); err != nil {
		return fmt.Errorf("refresh metadata: %w", err)
	}
	e.mu.Lock()
	e.symbolData = data
	e.mu.Unlock()
	e.cache.Clear()
	e.logger.Info("scanner data refreshed", "symbols", len(data))
	return nil
}

// CacheStats exposes the expression cache's counters: enabled flag, hits,
// misses, hit rate and cached expression count.
func (e *Engine) CacheStats() expcache.Stats {
	return e.cache.StatsSnapshot()
}

// AvailableSymbols returns the symbols currently loaded.
func (e *Engine) AvailableSymbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return allSymbols(e.symbolData)
}

func (e *Engine) snapshot() map[string]Candles {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.symbolData
}

func emptyResult(req Request) Result {
	columns := []string{"symbol"}
	for _, c := range req.Columns {
		columns = append(columns, c.Name)
	}
	return Result{Columns: columns, Data: [][]any{}, Count: 0, Success: false}
}

// Scan runs the two-phase evaluation: a static metadata filter over the
// whole universe, then a computed-condition filter restricted to phase 1's
// survivors, then column evaluation and sorting over whatever remains.
// Pre-conditions, when supplied, run the same two phases first and restrict
// the universe the main scan sees.
func (e *Engine) Scan(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	data := e.snapshot()
	if len(data) == 0 {
		return emptyResult(req), nil
	}

	universe := allSymbols(data)
	if len(req.PreConditions) > 0 {
		logic := req.PreConditionLogic
		if logic == "" {
			logic = "and"
		}
		restricted, err := e.selectSymbols(ctx, data, universe, req.PreConditions, logic)
		if err != nil {
			return Result{}, err
		}
		universe = restricted
	}
	if len(universe) == 0 {
		return emptyResult(req), nil
	}

	selected, err := e.selectSymbols(ctx, data, universe, req.Conditions, req.Logic)
	if err != nil {
		return Result{}, err
	}
	if len(selected) == 0 {
		return emptyResult(req), nil
	}

	rows, err := e.evaluateColumns(ctx, data, selected, req.Columns)
	if err != nil {
		return Result{}, err
	}
	rows = dropAllNullRows(rows, req.Columns)
	if len(rows) == 0 {
		return emptyResult(req), nil
	}

	return buildResult(rows, req.Columns, req.SortColumns), nil
}

// selectSymbols runs one full static-then-computed pass: phase 1 filters
// the universe by metadata, phase 2 evaluates boolean and rank computed
// conditions over phase 1's survivors.
func (e *Engine) selectSymbols(ctx context.Context, data map[string]Candles, universe []string, conds []Condition, logic string) ([]string, error) {
	if logic == "" {
		logic = "and"
	}

	var staticConds, boolConds, rankConds []Condition
	for _, c := range conds {
		switch {
		case c.ConditionType == ConditionStatic:
			staticConds = append(staticConds, c)
		case c.EvaluationType == EvalRank:
			rankConds = append(rankConds, c)
		default:
			boolConds = append(boolConds, c)
		}
	}

	phase1, err := e.evaluateStaticConditions(ctx, universe, staticConds, logic)
	if err != nil {
		return nil, err
	}
	if len(phase1) == 0 {
		return nil, nil
	}
	if len(boolConds) == 0 && len(rankConds) == 0 {
		return phase1, nil
	}

	// Rank conditions need the expression's last value for every phase-1
	// symbol before any symbol can be judged, so they are resolved to
	// per-symbol booleans up front.
	rankResults := make([]map[string]bool, len(rankConds))
	for i, cond := range rankConds {
		rankResults[i] = e.evaluateRankCondition(data, phase1, cond)
	}

	var selected []string
	for _, symbol := range phase1 {
		results := make([]bool, 0, len(boolConds)+len(rankConds))

		candles, hasCandles := data[symbol]
		for _, cond := range boolConds {
			if !hasCandles {
				results = append(results, false)
				continue
			}
			passed, err := e.evaluateComputedCondition(symbol, candles, cond)
			if err != nil {
				e.logger.Debug("computed condition failed", "symbol", symbol, "error", err)
				passed = false
			}
			results = append(results, passed)
		}
		for i := range rankConds {
			results = append(results, rankResults[i][symbol])
		}

		if combine(results, logic) {
			selected = append(selected, symbol)
		}
	}
	return selected, nil
}

func allSymbols(data map[string]Candles) []string {
	out := make([]string, 0, len(data))
	for s := range data {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// evaluateStaticConditions filters symbols purely by metadata, without
// touching candle data.
func (e *Engine) evaluateStaticConditions(ctx context.Context, symbols []string, conds []Condition, logic string) ([]string, error) {
	if len(conds) == 0 {
		return symbols, nil
	}

	table, err := e.metadata.MetadataTable(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("load metadata table: %w", err)
	}

	exprs := make([]string, len(conds))
	for i, c := range conds {
		exprs[i] = c.Expression
	}

	var selected []string
	for _, symbol := range symbols {
		key := expcache.KeyGroup(symbol, expcache.ModeStatic, logic, exprs...)
		if cached, ok := e.cache.Get(key); ok {
			if cached.(bool) {
				selected = append(selected, symbol)
			}
			continue
		}

		meta := toMetaValues(table[symbol])
		ok, err := evaluateConditionGroup(&scanexpr.Env{Metadata: meta}, conds, logic)
		if err != nil {
			e.logger.Debug("static condition failed", "symbol", symbol, "error", err)
			ok = false
		}
		e.cache.Set(key, ok)
		if ok {
			selected = append(selected, symbol)
		}
	}
	return selected, nil
}

// evaluateComputedCondition evaluates one boolean computed condition over a
// symbol's OHLCV, reducing the per-bar series by the condition's
// evaluation period. The boolean series is what the cache stores, so the
// same expression under different periods still shares one evaluation.
func (e *Engine) evaluateComputedCondition(symbol string, candles Candles, cond Condition) (bool, error) {
	series, err := e.conditionSeries(symbol, candles, cond.Expression)
	if err != nil {
		return false, err
	}
	period := cond.EvaluationPeriod
	if period == "" {
		period = scanexpr.PeriodNow
	}
	return scanexpr.ReduceCondition(series, period, cond.Value), nil
}

// conditionSeries evaluates expression to a per-bar boolean series, going
// through the expression cache.
func (e *Engine) conditionSeries(symbol string, candles Candles, expression string) ([]bool, error) {
	key := expcache.Key(symbol, expcache.ModeCondition, expression)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]bool), nil
	}

	node, err := scanexpr.Parse(expression)
	if err != nil {
		return nil, err
	}
	v, err := scanexpr.Evaluate(node, candles.env(nil))
	if err != nil {
		return nil, err
	}
	series, err := boolSeries(v)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, series)
	return series, nil
}

// valueOf evaluates expression to its last scalar value for one symbol,
// going through the expression cache. NaN and empty series come back nil.
func (e *Engine) valueOf(symbol string, candles Candles, expression string) (any, error) {
	key := expcache.Key(symbol, expcache.ModeValue, expression)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	node, err := scanexpr.Parse(expression)
	if err != nil {
		return nil, err
	}
	v, err := scanexpr.Evaluate(node, candles.env(nil))
	if err != nil {
		return nil, err
	}
	out, err := lastScalar(v)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, out)
	return out, nil
}

// evaluateRankCondition computes the expression's last value for every
// symbol, percentile-ranks the values, and passes the symbols whose rank
// lies in [RankMin, RankMax]. Symbols whose expression fails or yields no
// value never pass.
func (e *Engine) evaluateRankCondition(data map[string]Candles, symbols []string, cond Condition) map[string]bool {
	values := make(map[string]float64, len(symbols))
	ranked := make([]float64, 0, len(symbols))
	for _, symbol := range symbols {
		candles, ok := data[symbol]
		if !ok {
			continue
		}
		v, err := e.valueOf(symbol, candles, cond.Expression)
		if err != nil {
			e.logger.Debug("rank condition failed", "symbol", symbol, "error", err)
			continue
		}
		num, ok := v.(float64)
		if !ok || math.IsNaN(num) {
			continue
		}
		values[symbol] = num
		ranked = append(ranked, num)
	}

	sort.Float64s(ranked)
	n := float64(len(ranked))

	result := make(map[string]bool, len(symbols))
	for symbol, v := range values {
		// Percentile rank with average tie handling:
		// (count_below + (count_equal+1)/2) / n.
		below := sort.SearchFloat64s(ranked, v)
		upTo := sort.SearchFloat64s(ranked, math.Nextafter(v, math.Inf(1)))
		equal := upTo - below
		rank := (float64(below) + (float64(equal)+1)/2) / n * 100
		result[symbol] = rank >= cond.RankMin && rank <= cond.RankMax
	}
	return result
}

// evaluateConditionGroup evaluates each condition, reduces each to a single
// boolean by its evaluation period, and combines them with logic. Used for
// static conditions and condition columns, where per-group caching happens
// one level up.
func evaluateConditionGroup(env *scanexpr.Env, conds []Condition, logic string) (bool, error) {
	results := make([]bool, len(conds))
	for i, cond := range conds {
		node, err := scanexpr.Parse(cond.Expression)
		if err != nil {
			return false, err
		}
		v, err := scanexpr.Evaluate(node, env)
		if err != nil {
			return false, err
		}
		series, err := boolSeries(v)
		if err != nil {
			return false, err
		}
		period := cond.EvaluationPeriod
		if period == "" {
			period = scanexpr.PeriodNow
		}
		results[i] = scanexpr.ReduceCondition(series, period, cond.Value)
	}
	return combine(results, logic), nil
}

func combine(results []bool, logic string) bool {
	if logic == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return len(results) == 0
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func boolSeries(v scanexpr.Value) ([]bool, error) {
	switch v.Kind {
	case scanexpr.KindBoolSeries:
		return v.BoolSeries, nil
	case scanexpr.KindBool:
		return []bool{v.Bool}, nil
	default:
		return nil, fmt.Errorf("condition expression did not evaluate to a boolean")
	}
}

func toMetaValues(raw map[string]any) map[string]scanexpr.Value {
	out := make(map[string]scanexpr.Value, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out[k] = scanexpr.Value{Kind: scanexpr.KindString, Str: x}
		case float64:
			out[k] = scanexpr.Value{Kind: scanexpr.KindNumber, Num: x}
		case int:
			out[k] = scanexpr.Value{Kind: scanexpr.KindNumber, Num: float64(x)}
		case int64:
			out[k] = scanexpr.Value{Kind: scanexpr.KindNumber, Num: float64(x)}
		case bool:
			out[k] = scanexpr.Value{Kind: scanexpr.KindBool, Bool: x}
		}
	}
	return out
}

type row struct {
	symbol string
	values map[string]any
}

// evaluateColumns computes every output column for the selected symbols:
// static columns come from the metadata table in bulk, computed/condition
// columns are evaluated per symbol against their candle history.
func (e *Engine) evaluateColumns(ctx context.Context, data map[string]Candles, symbols []string, columns []ColumnDef) ([]row, error) {
	rows := make([]row, len(symbols))
	for i, s := range symbols {
		rows[i] = row{symbol: s, values: map[string]any{}}
	}

	var staticCols, nonStaticCols []ColumnDef
	for _, c := range columns {
		if c.Type == ColumnStatic {
			staticCols = append(staticCols, c)
		} else {
			nonStaticCols = append(nonStaticCols, c)
		}
	}

	if len(staticCols) > 0 {
		table, err := e.metadata.MetadataTable(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("load metadata table for columns: %w", err)
		}
		for i, s := range symbols {
			symbolMeta := table[s]
			for _, col := range staticCols {
				rows[i].values[col.Name] = normalizeNull(symbolMeta[col.PropertyName])
			}
		}
	}

	for i, s := range symbols {
		candles, ok := data[s]
		if !ok {
			for _, col := range nonStaticCols {
				rows[i].values[col.Name] = nil
			}
			continue
		}
		for _, col := range nonStaticCols {
			v, err := e.evaluateColumn(s, candles, col)
			if err != nil {
				e.logger.Debug("column evaluation failed", "symbol", s, "column", col.Name, "error", err)
				rows[i].values[col.Name] = nil
				continue
			}
			rows[i].values[col.Name] = v
		}
	}

	return rows, nil
}

func (e *Engine) evaluateColumn(symbol string, candles Candles, col ColumnDef) (any, error) {
	switch col.Type {
	case ColumnComputed:
		return e.valueOf(symbol, candles, col.Expression)
	case ColumnCondition:
		logic := col.Logic
		if logic == "" {
			logic = "and"
		}
		exprs := make([]string, len(col.Conditions))
		for i, c := range col.Conditions {
			exprs[i] = fmt.Sprintf("%s|%s|%d", c.Expression, c.EvaluationPeriod, c.Value)
		}
		key := expcache.KeyGroup(symbol, expcache.ModeCondCol, logic, exprs...)
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
		v, err := evaluateConditionGroup(candles.env(nil), col.Conditions, logic)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, v)
		return v, nil
	default:
		return nil, nil
	}
}

func normalizeNull(v any) any {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}

func lastScalar(v scanexpr.Value) (any, error) {
	switch v.Kind {
	case scanexpr.KindNumber:
		if math.IsNaN(v.Num) {
			return nil, nil
		}
		return v.Num, nil
	case scanexpr.KindBool:
		return v.Bool, nil
	case scanexpr.KindString:
		return v.Str, nil
	case scanexpr.KindSeries:
		if len(v.Series) == 0 {
			return nil, nil
		}
		last := v.Series[len(v.Series)-1]
		if math.IsNaN(last) {
			return nil, nil
		}
		return last, nil
	case scanexpr.KindBoolSeries:
		if len(v.BoolSeries) == 0 {
			return nil, nil
		}
		return v.BoolSeries[len(v.BoolSeries)-1], nil
	default:
		return nil, fmt.Errorf("unsupported value kind")
	}
}

// dropAllNullRows drops rows whose computed and condition columns are all
// null. Rows keep their place when there are no such columns.
func dropAllNullRows(rows []row, columns []ColumnDef) []row {
	var nonStatic []string
	for _, c := range columns {
		if c.Type == ColumnComputed || c.Type == ColumnCondition {
			nonStatic = append(nonStatic, c.Name)
		}
	}
	if len(nonStatic) == 0 {
		return rows
	}

	kept := rows[:0]
	for _, r := range rows {
		allNull := true
		for _, name := range nonStatic {
			if r.values[name] != nil {
				allNull = false
				break
			}
		}
		if !allNull {
			kept = append(kept, r)
		}
	}
	return kept
}

// buildResult assembles the final column order and data rows. Sort columns
// are mapped from column id to output name, unknown ids are dropped, rows
// carrying null in any sort column are dropped, and the remaining rows get
// a stable multi-key sort with symbol as the final tiebreaker.
func buildResult(rows []row, columns []ColumnDef, sortCols []SortColumn) Result {
	idToName := map[string]string{"symbol": "symbol"}
	for _, c := range columns {
		idToName[c.ID] = c.Name
	}

	columnNames := []string{"symbol"}
	known := map[string]bool{"symbol": true}
	for _, c := range columns {
		columnNames = append(columnNames, c.Name)
		known[c.Name] = true
	}

	var sortNames []string
	var sortAsc []bool
	for _, sc := range sortCols {
		name, ok := idToName[sc.Column]
		if !ok {
			name = sc.Column
		}
		if !known[name] {
			continue
		}
		sortNames = append(sortNames, name)
		sortAsc = append(sortAsc, sc.Direction == "asc")
	}

	if len(sortNames) > 0 {
		kept := rows[:0]
		for _, r := range rows {
			hasNull := false
			for _, name := range sortNames {
				if name == "symbol" {
					continue
				}
				if r.values[name] == nil {
					hasNull = true
					break
				}
			}
			if !hasNull {
				kept = append(kept, r)
			}
		}
		rows = kept

		sort.SliceStable(rows, func(i, j int) bool {
			for k, name := range sortNames {
				vi, vj := rows[i].values[name], rows[j].values[name]
				if name == "symbol" {
					vi, vj = rows[i].symbol, rows[j].symbol
				}
				cmp := compareValues(vi, vj)
				if cmp == 0 {
					continue
				}
				if sortAsc[k] {
					return cmp < 0
				}
				return cmp > 0
			}
			return rows[i].symbol < rows[j].symbol
		})
	}

	data := make([][]any, len(rows))
	for i, r := range rows {
		record := make([]any, len(columnNames))
		record[0] = r.symbol
		for j, name := range columnNames[1:] {
			record[j+1] = r.values[name]
		}
		data[i] = record
	}

	return Result{Columns: columnNames, Data: data, Count: len(data), Success: true}
}

// compareValues orders nil after every non-nil value; a descending sort
// reverses that, but buildResult drops rows with a nil sort value first.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0
		}
		if av == bv {
			return 0
		}
		if !av && bv {
			return -1
		}
		return 1
	default:
		return 0
	}
}
