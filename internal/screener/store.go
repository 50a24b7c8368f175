package screener

import "context"

// Table is a column-named, row-major query result.
type Table struct {
	Columns []string
	Rows    [][]any
}

// SymbolStore runs compiled queries against the symbol feature table. The
// production implementation lives in internal/repository; tests supply
// in-memory fakes.
type SymbolStore interface {
	QuerySymbols(ctx context.Context, q Query) (Table, error)
}

// LiveSymbol is the lightweight projection the realtime loop needs to
// resolve a ticker against the upstream quote API.
type LiveSymbol struct {
	Ticker   string
	Name     string
	ISIN     string
	Type     string
	Exchange string
}

// liveSymbolColumns is the projection fetched for the realtime overlay.
var liveSymbolColumns = []string{"ticker", "name", "isin", "type", "exchange"}

// QuoteFetcher fetches live quotes for one batch of symbols (the caller
// bounds batch size). Row shape is whatever the upstream supplies.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, token string, symbols []LiveSymbol) ([]map[string]any, error)
}

func liveSymbolsFromTable(t Table) []LiveSymbol {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		idx[c] = i
	}
	str := func(row []any, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		s, _ := row[i].(string)
		return s
	}

	out := make([]LiveSymbol, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, LiveSymbol{
			Ticker:   str(row, "ticker"),
			Name:     str(row, "name"),
			ISIN:     str(row, "isin"),
			Type:     str(row, "type"),
			Exchange: str(row, "exchange"),
		})
	}
	return out
}
