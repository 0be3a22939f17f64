package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	config      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	seq          BIGSERIAL PRIMARY KEY,
	id           UUID NOT NULL UNIQUE,
	campaign_id  UUID NOT NULL REFERENCES campaigns(id),
	params       JSONB NOT NULL,
	objectives   JSONB NOT NULL,
	feasible     BOOLEAN,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_campaign ON observations(campaign_id, seq);
`

// PgxPool is the subset of *pgxpool.Pool the backend uses, so that tests can
// substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend stores campaigns in PostgreSQL.
type PostgresBackend struct {
	pool PgxPool
}

// NewPostgresBackend wraps an existing pool; Migrate creates the tables.
func NewPostgresBackend(pool PgxPool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// OpenPostgres connects a pool configured from cfg and runs migrations.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresBackend, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		pcfg.MaxConns = int32(cfg.MaxConnections)
	}
	pcfg.MaxConnIdleTime = cfg.MaxIdleTime
	pcfg.MaxConnLifetime = cfg.MaxLifetime
	pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	b := NewPostgresBackend(pool)
	if err := b.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (p *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresBackend) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, config, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		c.ID, c.Name, string(cfg), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

func (p *PostgresBackend) LoadCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, config, created_at, updated_at FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query campaign: %w", err)
		}
		return nil, models.ErrCampaignNotFound
	}
	return scanPostgresCampaign(rows)
}

func (p *PostgresBackend) ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error) {
	query := `SELECT id, name, config, created_at, updated_at FROM campaigns ORDER BY created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanPostgresCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func scanPostgresCampaign(rows pgx.Rows) (*models.Campaign, error) {
	var c models.Campaign
	var cfg []byte
	if err := rows.Scan(&c.ID, &c.Name, &cfg, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	if err := json.Unmarshal(cfg, &c.Config); err != nil {
		return nil, fmt.Errorf("decode campaign config: %w", err)
	}
	return &c, nil
}

func (p *PostgresBackend) AppendObservations(ctx context.Context, observations []models.Observation) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, o := range observations {
		row, err := encodeObservation(o)
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO observations (id, campaign_id, params, objectives, feasible, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, o.CampaignID, string(row.params), string(row.objectives), o.Feasible, string(row.metadata), o.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert observation %s: %w", o.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PostgresBackend) FetchObservations(ctx context.Context, campaignID uuid.UUID, filter models.ObservationFilter) ([]models.Observation, error) {
	query := `SELECT id, campaign_id, params, objectives, feasible, metadata, created_at
		FROM observations WHERE campaign_id = $1`
	args := []any{campaignID}
	if filter.Feasible != nil {
		args = append(args, *filter.Feasible)
		query += fmt.Sprintf(` AND feasible = $%d`, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var params, objectives, metadata []byte
		if err := rows.Scan(&o.ID, &o.CampaignID, &params, &objectives, &o.Feasible, &metadata, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if err := decodeObservation(&o, params, objectives, metadata); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

func (p *PostgresBackend) UpdateObservations(ctx context.Context, campaignID uuid.UUID, updates []models.ObservationUpdate) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	updated := 0
	for _, u := range updates {
		n, err := p.updateOne(ctx, tx, campaignID, u)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, err
		}
		updated += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

func (p *PostgresBackend) updateOne(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID, u models.ObservationUpdate) (int, error) {
	var stored []byte
	err := tx.QueryRow(ctx,
		`SELECT objectives FROM observations WHERE id = $1 AND campaign_id = $2`, u.ID, campaignID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load observation %s: %w", u.ID, err)
	}

	sets := []string{}
	args := []any{}
	if len(u.Objectives) > 0 {
		merged, err := mergeObjectives(stored, u.Objectives)
		if err != nil {
			return 0, fmt.Errorf("merge objectives of %s: %w", u.ID, err)
		}
		args = append(args, string(merged))
		sets = append(sets, fmt.Sprintf("objectives = $%d", len(args)))
	}
	if u.Feasible != nil {
		args = append(args, *u.Feasible)
		sets = append(sets, fmt.Sprintf("feasible = $%d", len(args)))
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, u.ID)
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE observations SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...); err != nil {
		return 0, fmt.Errorf("update observation %s: %w", u.ID, err)
	}
	return 1, nil
}

func (p *PostgresBackend) CountObservations(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM observations WHERE campaign_id = $1`, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
