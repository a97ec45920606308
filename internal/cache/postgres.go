package cache

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

// migrationsFS embeds the PostgreSQL schema.
//
//go:embed migrations/postgres/*.sql
var migrationsFS embed.FS

// PostgresStore keeps entries in PostgreSQL: cells in long format in
// timeseries, parameters and table shape in timeseries_params.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection and applies the
// embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// runMigrations applies all embedded SQL files in lexical order.
// Migrations are idempotent.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

var timeseriesColumns = []string{
	"slot", "row_idx", "col_idx", "period_label", "period_date", "series_code", "series_name", "value",
}

// Write replaces the slot atomically.
func (s *PostgresStore) Write(ctx context.Context, slot Slot, e *Entry) error {
	t := e.Table
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := deleteSlot(ctx, tx, slot); err != nil {
		return err
	}

	names := make([]string, len(t.Columns))
	colCodes := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i], colCodes[i] = c.Name, c.Code
	}
	labels := make([]string, len(t.Index))
	dates := make([]pgtype.Timestamptz, len(t.Index))
	for i, p := range t.Index {
		labels[i] = p.Label
		dates[i] = timestamptz(p)
	}
	codes := e.Params.Codes
	if codes == nil {
		codes = []string{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO timeseries_params (
			slot, entry_id, codes, start_period, end_period, column_names, column_codes, row_labels, row_dates, written_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, string(slot), e.ID, codes, e.Params.Start, e.Params.End, names, colCodes, labels, dates, e.WrittenAt.UTC())
	if err != nil {
		return fmt.Errorf("insert cache params: %w", err)
	}

	rows := make([][]any, 0, t.NumRows()*t.NumCols())
	for r, p := range t.Index {
		for c, col := range t.Columns {
			rows = append(rows, []any{
				string(slot), r, c, p.Label, dates[r], col.Code, col.Name, col.Values[r].Ptr(),
			})
		}
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"timeseries"}, timeseriesColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy timeseries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Read loads a slot.
func (s *PostgresStore) Read(ctx context.Context, slot Slot) (*Entry, error) {
	var (
		e                       = &Entry{}
		names, colCodes, labels []string
		dates                   []pgtype.Timestamptz
		writtenAt               time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT entry_id, codes, start_period, end_period, column_names, column_codes, row_labels, row_dates, written_at
		FROM timeseries_params
		WHERE slot = $1
	`, string(slot)).Scan(&e.ID, &e.Params.Codes, &e.Params.Start, &e.Params.End, &names, &colCodes, &labels, &dates, &writtenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache params: %w", err)
	}
	if len(colCodes) != len(names) || len(dates) != len(labels) {
		return nil, fmt.Errorf("cache params for slot %s are inconsistent", slot)
	}
	e.WrittenAt = writtenAt.UTC()

	t := &models.Table{Index: make([]models.Period, len(labels)), Columns: make([]models.Column, len(names))}
	for i, l := range labels {
		t.Index[i] = models.Period{Label: l}
		if dates[i].Valid {
			t.Index[i].Date = dates[i].Time.UTC()
		}
	}
	for i, n := range names {
		t.Columns[i] = models.Column{Name: n, Code: colCodes[i], Values: make([]null.Float, len(labels))}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT row_idx, col_idx, value
		FROM timeseries
		WHERE slot = $1
	`, string(slot))
	if err != nil {
		return nil, fmt.Errorf("get timeseries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r, c  int
			value *float64
		)
		if err := rows.Scan(&r, &c, &value); err != nil {
			return nil, fmt.Errorf("scan timeseries: %w", err)
		}
		if r < 0 || r >= len(labels) || c < 0 || c >= len(names) {
			return nil, fmt.Errorf("timeseries cell (%d, %d) outside table %dx%d", r, c, len(labels), len(names))
		}
		t.Columns[c].Values[r] = null.FloatFromPtr(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeseries: %w", err)
	}

	e.Table = t
	return e, nil
}

// Delete removes the slot; a missing slot is not an error.
func (s *PostgresStore) Delete(ctx context.Context, slot Slot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := deleteSlot(ctx, tx, slot); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func deleteSlot(ctx context.Context, tx pgx.Tx, slot Slot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM timeseries WHERE slot = $1`, string(slot)); err != nil {
		return fmt.Errorf("delete timeseries: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM timeseries_params WHERE slot = $1`, string(slot)); err != nil {
		return fmt.Errorf("delete cache params: %w", err)
	}
	return nil
}

func timestamptz(p models.Period) pgtype.Timestamptz {
	if !p.HasDate() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: p.Date, Valid: true}
}
