// Package alertstore implements the alert engine's persistence seam:
// fetching active alerts, marking triggers, and streaming inserts/updates/
// deletes from Postgres via LISTEN/NOTIFY.
package alertstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/pkg/database"
	pkgerrors "github.com/weqory/backend/pkg/errors"
)

// ChangeOp identifies the kind of row change a notification carries.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// OnInsert, OnUpdate and OnDelete are the three change-feed callbacks the
// engine registers. Deletions arrive as updates carrying deleted_at set or
// is_active=false; the store surfaces them as OnUpdate and the engine
// decides whether the row is effectively a delete.
type OnInsert func(alert *model.Alert)
type OnUpdate func(alert *model.Alert)
type OnDelete func(id int64)

// Store is the Postgres-backed alert store adapter.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

const selectColumns = `
	id, user_id, symbol, notes, is_active, created_at, updated_at, deleted_at,
	type, lhs_type, operator, rhs_type, rhs_constant, rhs_trend_line,
	last_triggered_at, last_triggered_price
`

// FetchActiveAlerts returns every live alert (is_active AND deleted_at IS NULL).
func (s *Store) FetchActiveAlerts(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM alerts WHERE is_active AND deleted_at IS NULL`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrDatabase)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrDatabase)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// MarkTriggered idempotently records that an alert fired.
func (s *Store) MarkTriggered(ctx context.Context, id int64, price float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET is_active = false, last_triggered_at = NOW(), last_triggered_price = $2, updated_at = NOW()
		WHERE id = $1
	`, id, price)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrDatabase)
	}
	return nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows for scanAlert.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var a model.Alert
	var rhsConstant *float64
	var rhsTrendLineJSON []byte

	if err := row.Scan(
		&a.ID, &a.UserID, &a.Symbol, &a.Notes, &a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
		&a.Type, &a.LHSType, &a.Operator, &a.RHSType, &rhsConstant, &rhsTrendLineJSON,
		&a.LastTriggeredAt, &a.LastTriggeredPrice,
	); err != nil {
		return nil, err
	}

	a.RHSConstant = rhsConstant
	if len(rhsTrendLineJSON) > 0 {
		var points [2]model.TrendLinePoint
		if err := json.Unmarshal(rhsTrendLineJSON, &points); err != nil {
			return nil, fmt.Errorf("decode rhs_trend_line: %w", err)
		}
		a.RHSTrendLine = &points
	}
	return &a, nil
}

// notifyPayload is the JSON body the alert_changes trigger publishes via
// pg_notify: {op, record}.
type notifyPayload struct {
	Op     ChangeOp        `json:"op"`
	Record json.RawMessage `json:"record"`
}

// notifyRecord mirrors the row shape encoded by the database trigger.
type notifyRecord struct {
	ID                 int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	Symbol              string     `json:"symbol"`
	Notes               string     `json:"notes"`
	IsActive            bool       `json:"is_active"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at"`
	Type                string     `json:"type"`
	LHSType             string     `json:"lhs_type"`
	Operator            string     `json:"operator"`
	RHSType             string     `json:"rhs_type"`
	RHSConstant         *float64   `json:"rhs_constant"`
	RHSTrendLine        *[2]model.TrendLinePoint `json:"rhs_trend_line"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at"`
	LastTriggeredPrice  *float64   `json:"last_triggered_price"`
}

func (r notifyRecord) toAlert() *model.Alert {
	return &model.Alert{
		ID: r.ID, UserID: r.UserID, Symbol: model.Ticker(r.Symbol), Notes: r.Notes,
		IsActive: r.IsActive, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt,
		Type: r.Type, LHSType: model.LHSType(r.LHSType), Operator: model.Operator(r.Operator),
		RHSType: model.RHSType(r.RHSType), RHSConstant: r.RHSConstant, RHSTrendLine: r.RHSTrendLine,
		LastTriggeredAt: r.LastTriggeredAt, LastTriggeredPrice: r.LastTriggeredPrice,
	}
}

// SubscribeToChanges attaches to the alert_changes LISTEN channel and
// dispatches decoded rows to the three callbacks until ctx is cancelled.
// It acquires a dedicated pool connection for the lifetime of the
// subscription, since LISTEN is connection-scoped.
func (s *Store) SubscribeToChanges(ctx context.Context, onInsert OnInsert, onUpdate OnUpdate, onDelete OnDelete) error {
	conn, err := database.AcquireListener(ctx, s.pool, "alert_changes")
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrDatabase)
	}

	go func() {
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("alert change-feed listener error", slog.String("error", err.Error()))
				continue
			}

			var payload notifyPayload
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				s.logger.Error("malformed change-feed payload", slog.String("error", err.Error()))
				continue
			}

			var record notifyRecord
			if err := json.Unmarshal(payload.Record, &record); err != nil {
				s.logger.Error("malformed change-feed record", slog.String("error", err.Error()))
				continue
			}

			switch payload.Op {
			case OpInsert:
				onInsert(record.toAlert())
			case OpUpdate:
				onUpdate(record.toAlert())
			case OpDelete:
				onDelete(record.ID)
			}
		}
	}()

	return nil
}

// GetByID fetches a single alert, primarily for tests and admin tooling.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, pkgerrors.ErrAlertNotFound
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrDatabase)
	}
	return alert, nil
}
