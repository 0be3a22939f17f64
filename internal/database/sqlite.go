package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/temcen/optirex/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	config      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	campaign_id  TEXT NOT NULL,
	params       TEXT NOT NULL,
	objectives   TEXT NOT NULL,
	feasible     INTEGER,
	metadata     TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
);

CREATE INDEX IF NOT EXISTS idx_observations_campaign ON observations(campaign_id, seq);
`

// SQLiteBackend stores campaigns in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database file and runs migrations.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, config = excluded.config, updated_at = excluded.updated_at`,
		c.ID.String(), c.Name, string(cfg), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) LoadCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, config, created_at, updated_at FROM campaigns WHERE id = ?`, id.String())
	c, err := scanSQLiteCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCampaignNotFound
	}
	return c, err
}

func (s *SQLiteBackend) ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, config, created_at, updated_at FROM campaigns ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanSQLiteCampaign(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCampaign(row rowScanner) (*models.Campaign, error) {
	var id, name, cfg, created, updated string
	if err := row.Scan(&id, &name, &cfg, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c := &models.Campaign{Name: name}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse campaign id: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &c.Config); err != nil {
		return nil, fmt.Errorf("decode campaign config: %w", err)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (s *SQLiteBackend) AppendObservations(ctx context.Context, observations []models.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, o := range observations {
		row, err := encodeObservation(o)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO observations (id, campaign_id, params, objectives, feasible, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID.String(), o.CampaignID.String(), string(row.params), string(row.objectives),
			nullableBool(o.Feasible), string(row.metadata), formatTime(o.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert observation %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) FetchObservations(ctx context.Context, campaignID uuid.UUID, filter models.ObservationFilter) ([]models.Observation, error) {
	query := `SELECT id, campaign_id, params, objectives, feasible, metadata, created_at
		FROM observations WHERE campaign_id = ?`
	args := []any{campaignID.String()}
	if filter.Feasible != nil {
		if *filter.Feasible {
			query += ` AND feasible = 1`
		} else {
			query += ` AND feasible = 0`
		}
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var id, campaign, params, objectives, created string
		var feasible sql.NullInt64
		var metadata sql.NullString
		if err := rows.Scan(&id, &campaign, &params, &objectives, &feasible, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o := models.Observation{}
		if o.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse observation id: %w", err)
		}
		if o.CampaignID, err = uuid.Parse(campaign); err != nil {
			return nil, fmt.Errorf("parse campaign id: %w", err)
		}
		if feasible.Valid {
			b := feasible.Int64 == 1
			o.Feasible = &b
		}
		if err := decodeObservation(&o, []byte(params), []byte(objectives), []byte(metadata.String)); err != nil {
			return nil, err
		}
		o.CreatedAt = parseTime(created)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) UpdateObservations(ctx context.Context, campaignID uuid.UUID, updates []models.ObservationUpdate) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updated := 0
	for _, u := range updates {
		var objectives string
		err := tx.QueryRowContext(ctx,
			`SELECT objectives FROM observations WHERE id = ? AND campaign_id = ?`,
			u.ID.String(), campaignID.String()).Scan(&objectives)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("load observation %s: %w", u.ID, err)
		}

		sets := []string{}
		args := []any{}
		if len(u.Objectives) > 0 {
			merged, err := mergeObjectives([]byte(objectives), u.Objectives)
			if err != nil {
				return 0, fmt.Errorf("merge objectives of %s: %w", u.ID, err)
			}
			sets = append(sets, "objectives = ?")
			args = append(args, string(merged))
		}
		if u.Feasible != nil {
			sets = append(sets, "feasible = ?")
			args = append(args, nullableBool(u.Feasible))
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, u.ID.String())
		if _, err := tx.ExecContext(ctx,
			`UPDATE observations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return 0, fmt.Errorf("update observation %s: %w", u.ID, err)
		}
		updated++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

func (s *SQLiteBackend) CountObservations(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE campaign_id = ?`, campaignID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
