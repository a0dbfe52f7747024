package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"naming_events/pkg/event"
)

const sqliteUpsertEventSQL = `
	INSERT INTO tenant_events (tenant_id, phase, end_time, generation, state, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id) DO UPDATE SET
		phase = excluded.phase,
		end_time = excluded.end_time,
		generation = excluded.generation,
		state = excluded.state,
		updated_at = excluded.updated_at`

// SQLiteRepository implements Repository on a local SQLite file.
// Transactions start with BEGIN IMMEDIATE so a read-modify-write holds the
// write lock from its first read.
type SQLiteRepository struct {
	db     *sql.DB
	locks  *tenantLocks
	logger *zap.Logger
}

var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, maxConns int, logger *zap.Logger) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := NewSchemaManager(logger).InitializeSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteRepository{db: db, locks: newTenantLocks(), logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetEvent(ctx context.Context, tenantID string) (*event.TenantEvent, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM tenant_events WHERE tenant_id = ?`, tenantID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return event.NewIdle(tenantID), nil
	}
	if err != nil {
		return nil, event.NewPersistence("get event", err)
	}
	ev, err := event.Unmarshal(tenantID, []byte(raw))
	if err != nil {
		return nil, event.NewPersistence("get event", err)
	}
	return ev, nil
}

func (r *SQLiteRepository) SaveEvent(ctx context.Context, ev *event.TenantEvent) error {
	unlock := r.locks.lock(ev.TenantID)
	defer unlock()

	ev.UpdatedAt = time.Now().UTC()
	raw, err := event.Marshal(ev)
	if err != nil {
		return event.NewPersistence("save event", err)
	}
	if _, err := r.db.ExecContext(ctx, sqliteUpsertEventSQL,
		ev.TenantID, string(ev.Phase.Kind()), endTimeColumn(ev), int64(ev.Generation), string(raw), ev.UpdatedAt.UnixMilli(),
	); err != nil {
		return event.NewPersistence("save event", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateEvent(ctx context.Context, tenantID string, fn UpdateFunc) (*event.TenantEvent, error) {
	unlock := r.locks.lock(tenantID)
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, event.NewPersistence("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		stored string
		raw    []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM tenant_events WHERE tenant_id = ?`, tenantID,
	).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, event.NewPersistence("read event", err)
	default:
		raw = []byte(stored)
	}

	ev, encoded, err := runUpdate(tenantID, raw, fn)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, sqliteUpsertEventSQL,
		tenantID, string(ev.Phase.Kind()), endTimeColumn(ev), int64(ev.Generation), string(encoded), ev.UpdatedAt.UnixMilli(),
	); err != nil {
		return nil, event.NewPersistence("update event", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, event.NewPersistence("commit event", err)
	}
	return ev, nil
}

func (r *SQLiteRepository) ListActiveEvents(ctx context.Context) ([]*event.TenantEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tenant_id, state FROM tenant_events WHERE phase <> 'idle' ORDER BY end_time, tenant_id`)
	if err != nil {
		return nil, event.NewPersistence("list events", err)
	}
	defer rows.Close()

	var out []*event.TenantEvent
	for rows.Next() {
		var tenantID, raw string
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, event.NewPersistence("scan event", err)
		}
		ev, err := event.Unmarshal(tenantID, []byte(raw))
		if err != nil {
			return nil, event.NewPersistence("decode event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, event.NewPersistence("list events", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetDestination(ctx context.Context, tenantID string) (*Destination, error) {
	d := &Destination{TenantID: tenantID}
	var updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT channel_id, role_id, webhook_url, updated_at FROM tenant_destinations WHERE tenant_id = ?`,
		tenantID,
	).Scan(&d.ChannelID, &d.RoleID, &d.WebhookURL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, event.NewPersistence("get destination", err)
	}
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

func (r *SQLiteRepository) SaveDestination(ctx context.Context, dest *Destination) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_destinations (tenant_id, channel_id, role_id, webhook_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			role_id = excluded.role_id,
			webhook_url = excluded.webhook_url,
			updated_at = excluded.updated_at`,
		dest.TenantID, dest.ChannelID, dest.RoleID, dest.WebhookURL, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		r.logger.Warn("SQLite destination write failed", zap.String("tenant", dest.TenantID), zap.Error(err))
		return event.NewPersistence("save destination", err)
	}
	return nil
}
