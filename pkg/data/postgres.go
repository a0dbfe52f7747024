package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"naming_events/pkg/event"
)

const upsertEventSQL = `
	INSERT INTO tenant_events (tenant_id, phase, end_time, generation, state, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (tenant_id) DO UPDATE SET
		phase = EXCLUDED.phase,
		end_time = EXCLUDED.end_time,
		generation = EXCLUDED.generation,
		state = EXCLUDED.state,
		updated_at = EXCLUDED.updated_at`

// PostgresRepository implements Repository using PostgreSQL. Row locks
// (SELECT ... FOR UPDATE) make UpdateEvent safe across processes; the
// in-process tenant locks keep goroutines from queueing on the database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	locks  *tenantLocks
	logger *zap.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository wraps an open pool. The schema must already exist.
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		locks:  newTenantLocks(),
		logger: logger,
	}
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) GetEvent(ctx context.Context, tenantID string) (*event.TenantEvent, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state FROM tenant_events WHERE tenant_id = $1`, tenantID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return event.NewIdle(tenantID), nil
	}
	if err != nil {
		return nil, r.persistenceError("get event", tenantID, err)
	}

	ev, err := event.Unmarshal(tenantID, raw)
	if err != nil {
		return nil, event.NewPersistence("get event", err)
	}
	return ev, nil
}

func (r *PostgresRepository) SaveEvent(ctx context.Context, ev *event.TenantEvent) error {
	unlock := r.locks.lock(ev.TenantID)
	defer unlock()

	ev.UpdatedAt = time.Now().UTC()
	raw, err := event.Marshal(ev)
	if err != nil {
		return event.NewPersistence("save event", err)
	}
	if _, err := r.pool.Exec(ctx, upsertEventSQL,
		ev.TenantID, string(ev.Phase.Kind()), endTimeColumn(ev), int64(ev.Generation), raw, ev.UpdatedAt,
	); err != nil {
		return r.persistenceError("save event", ev.TenantID, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateEvent(ctx context.Context, tenantID string, fn UpdateFunc) (*event.TenantEvent, error) {
	unlock := r.locks.lock(tenantID)
	defer unlock()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, r.persistenceError("begin update", tenantID, err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT state FROM tenant_events WHERE tenant_id = $1 FOR UPDATE`, tenantID,
	).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.persistenceError("lock event", tenantID, err)
	}

	ev, encoded, err := runUpdate(tenantID, raw, fn)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, upsertEventSQL,
		tenantID, string(ev.Phase.Kind()), endTimeColumn(ev), int64(ev.Generation), encoded, ev.UpdatedAt,
	); err != nil {
		return nil, r.persistenceError("update event", tenantID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, r.persistenceError("commit event", tenantID, err)
	}
	return ev, nil
}

func (r *PostgresRepository) ListActiveEvents(ctx context.Context) ([]*event.TenantEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_id, state FROM tenant_events WHERE phase <> 'idle' ORDER BY end_time, tenant_id`)
	if err != nil {
		return nil, r.persistenceError("list events", "", err)
	}
	defer rows.Close()

	var out []*event.TenantEvent
	for rows.Next() {
		var (
			tenantID string
			raw      []byte
		)
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, event.NewPersistence("scan event", err)
		}
		ev, err := event.Unmarshal(tenantID, raw)
		if err != nil {
			return nil, event.NewPersistence("decode event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, r.persistenceError("list events", "", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetDestination(ctx context.Context, tenantID string) (*Destination, error) {
	d := &Destination{TenantID: tenantID}
	err := r.pool.QueryRow(ctx,
		`SELECT channel_id, role_id, webhook_url, updated_at FROM tenant_destinations WHERE tenant_id = $1`,
		tenantID,
	).Scan(&d.ChannelID, &d.RoleID, &d.WebhookURL, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.persistenceError("get destination", tenantID, err)
	}
	return d, nil
}

func (r *PostgresRepository) SaveDestination(ctx context.Context, dest *Destination) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_destinations (tenant_id, channel_id, role_id, webhook_url, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			role_id = EXCLUDED.role_id,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at`,
		dest.TenantID, dest.ChannelID, dest.RoleID, dest.WebhookURL,
	)
	if err != nil {
		return r.persistenceError("save destination", dest.TenantID, err)
	}
	return nil
}

// persistenceError logs server-side details of a Postgres failure and
// wraps it for the caller
func (r *PostgresRepository) persistenceError(op, tenantID string, err error) error {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if tenantID != "" {
		fields = append(fields, zap.String("tenant", tenantID))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		fields = append(fields,
			zap.String("sqlstate", pgErr.Code),
			zap.String("constraint", pgErr.ConstraintName))
	}
	r.logger.Warn("Postgres operation failed", fields...)
	return event.NewPersistence(op, fmt.Errorf("postgres: %w", err))
}
