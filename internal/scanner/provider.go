package scanner

import "context"

// CandleProvider supplies OHLCV history per symbol. Snapshot-file, live
// download and fixture implementations all reduce to this shape.
type CandleProvider interface {
	LoadData(ctx context.Context) (map[string]Candles, error)
	GetSymbolData(ctx context.Context, symbol string) (Candles, bool, error)
	AvailableSymbols(ctx context.Context) ([]string, error)
	RefreshData(ctx context.Context) (map[string]Candles, error)
}

// MetadataProvider supplies per-symbol static metadata (sector, exchange,
// market cap, and similar scalars available without loading candles).
type MetadataProvider interface {
	Load(ctx context.Context) error
	GetMetadata(ctx context.Context, symbol, property string) (any, error)
	GetAllMetadata(ctx context.Context, symbol string) (map[string]any, error)
	SupportedProperties() []string
	MetadataTable(ctx context.Context, symbols []string) (map[string]map[string]any, error)
	RefreshMetadata(ctx context.Context) error
}
