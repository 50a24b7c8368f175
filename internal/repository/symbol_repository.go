package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/screener"
	"github.com/weqory/backend/pkg/errors"
)

// SymbolRepository queries the per-symbol feature table: the screener's
// SQL-backed scan surface and the scanner's metadata source both read from
// it. The table is rebuilt offline and refreshed by the batch collaborator;
// this repository only reads.
type SymbolRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewSymbolRepository creates a SymbolRepository over the symbols table for
// one market.
func NewSymbolRepository(pool *pgxpool.Pool, market model.Market) *SymbolRepository {
	table := "symbols"
	if market == model.MarketUS {
		table = "symbols_us"
	}
	return &SymbolRepository{pool: pool, table: table}
}

// QuerySymbols implements screener.SymbolStore: it compiles the structured
// query and runs it.
func (r *SymbolRepository) QuerySymbols(ctx context.Context, q screener.Query) (screener.Table, error) {
	sql, err := screener.BuildQuery(r.table, q)
	if err != nil {
		return screener.Table{}, errors.ErrBadRequest.WithCause(err)
	}
	return r.runQuery(ctx, sql)
}

// ExecRaw runs a caller-supplied SQL statement verbatim against the feature
// table, for the /scanner/scan passthrough endpoint.
func (r *SymbolRepository) ExecRaw(ctx context.Context, sql string) ([]map[string]any, error) {
	result, err := r.runQuery(ctx, sql)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(result.Rows))
	for i, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for j, col := range result.Columns {
			record[col] = row[j]
		}
		out[i] = record
	}
	return out, nil
}

func (r *SymbolRepository) runQuery(ctx context.Context, sql string) (screener.Table, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return screener.Table{}, errors.Wrap(err, errors.ErrDatabase)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var data [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return screener.Table{}, errors.Wrap(err, errors.ErrDatabase)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return screener.Table{}, errors.Wrap(err, errors.ErrDatabase)
	}

	return screener.Table{Columns: columns, Rows: data}, nil
}

// ListSymbols returns every ticker in the feature table.
func (r *SymbolRepository) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT ticker FROM %s ORDER BY ticker`, r.table))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase)
		}
		out = append(out, ticker)
	}
	return out, rows.Err()
}

// Load implements scanner.MetadataProvider. The repository reads live, so
// there is nothing to preload.
func (r *SymbolRepository) Load(ctx context.Context) error { return nil }

// RefreshMetadata implements scanner.MetadataProvider. The feature table is
// refreshed by the offline batch; reads always see the latest rows.
func (r *SymbolRepository) RefreshMetadata(ctx context.Context) error { return nil }

// SupportedProperties implements scanner.MetadataProvider.
func (r *SymbolRepository) SupportedProperties() []string {
	return []string{"ticker", "name", "isin", "type", "exchange", "sector", "industry", "mcap", "day_close", "logo", "is_fno"}
}

// GetMetadata implements scanner.MetadataProvider for a single property.
func (r *SymbolRepository) GetMetadata(ctx context.Context, symbol, property string) (any, error) {
	all, err := r.GetAllMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}
	v, ok := all[property]
	if !ok {
		return nil, fmt.Errorf("unknown metadata property %q", property)
	}
	return v, nil
}

// GetAllMetadata implements scanner.MetadataProvider.
func (r *SymbolRepository) GetAllMetadata(ctx context.Context, symbol string) (map[string]any, error) {
	table, err := r.MetadataTable(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	row, ok := table[symbol]
	if !ok {
		return nil, errors.ErrNotFound.WithDetails(symbol)
	}
	return row, nil
}

// MetadataTable implements scanner.MetadataProvider: one row of every
// feature-table column per requested symbol.
func (r *SymbolRepository) MetadataTable(ctx context.Context, symbols []string) (map[string]map[string]any, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE ticker = ANY($1)`, r.table), symbols)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make(map[string]map[string]any, len(symbols))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase)
		}
		record := make(map[string]any, len(fields))
		var ticker string
		for i, f := range fields {
			name := string(f.Name)
			record[name] = values[i]
			if name == "ticker" {
				ticker, _ = values[i].(string)
			}
		}
		if ticker != "" {
			out[ticker] = record
		}
	}
	return out, rows.Err()
}
