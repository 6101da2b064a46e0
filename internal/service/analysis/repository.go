package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-analyzer/internal/domain"
)

const defaultRecentLimit = 20

// Repository archives analysed moves. One row per (prior position, move),
// holding the deepest result seen so far.
type Repository interface {
	SaveResult(ctx context.Context, rec *domain.AnalysisRecord) error
	Recent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error)
	Get(ctx context.Context, priorFEN, move string) (*domain.AnalysisRecord, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS analysis_results (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL,
	prior_fen      TEXT NOT NULL,
	resulting_fen  TEXT NOT NULL,
	move           TEXT NOT NULL,
	san            TEXT NOT NULL DEFAULT '',
	mover          TEXT NOT NULL DEFAULT '',
	ply            INTEGER NOT NULL,
	source         TEXT NOT NULL,
	step           INTEGER NOT NULL,
	final          BOOLEAN NOT NULL,
	best           INTEGER NOT NULL,
	runner_up      INTEGER NOT NULL,
	played         INTEGER,
	played_source  TEXT NOT NULL,
	gap            INTEGER NOT NULL,
	delta          INTEGER NOT NULL,
	mate           BOOLEAN NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	pv             JSONB NOT NULL DEFAULT '[]'::jsonb,
	opening_code   TEXT NOT NULL DEFAULT '',
	opening_title  TEXT NOT NULL DEFAULT '',
	budget_ms      BIGINT NOT NULL,
	elapsed_ms     BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (prior_fen, move)
)`

type PostgresRepository struct {
	db *sql.DB
}

// OpenPostgres opens a pool, pings it, and makes sure the table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create analysis_results: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRepository) SaveResult(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil {
		return fmt.Errorf("nil analysis record")
	}
	pv, err := json.Marshal(nonNil(rec.PV))
	if err != nil {
		return fmt.Errorf("marshal pv: %w", err)
	}
	var played sql.NullInt64
	if rec.Played != nil {
		played = sql.NullInt64{Int64: int64(*rec.Played), Valid: true}
	}
	now := time.Now().UTC()

	// 더 깊은 결과만 덮어쓴다.
	const query = `
		INSERT INTO analysis_results (
			request_id, prior_fen, resulting_fen, move, san, mover, ply, source,
			step, final, best, runner_up, played, played_source, gap, delta,
			mate, confidence, pv, opening_code, opening_title, budget_ms, elapsed_ms,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19::jsonb, $20, $21, $22, $23, $24, $24)
		ON CONFLICT (prior_fen, move) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			resulting_fen = EXCLUDED.resulting_fen,
			san = EXCLUDED.san,
			mover = EXCLUDED.mover,
			ply = EXCLUDED.ply,
			source = EXCLUDED.source,
			step = EXCLUDED.step,
			final = EXCLUDED.final,
			best = EXCLUDED.best,
			runner_up = EXCLUDED.runner_up,
			played = EXCLUDED.played,
			played_source = EXCLUDED.played_source,
			gap = EXCLUDED.gap,
			delta = EXCLUDED.delta,
			mate = EXCLUDED.mate,
			confidence = EXCLUDED.confidence,
			pv = EXCLUDED.pv,
			opening_code = EXCLUDED.opening_code,
			opening_title = EXCLUDED.opening_title,
			budget_ms = EXCLUDED.budget_ms,
			elapsed_ms = EXCLUDED.elapsed_ms,
			updated_at = EXCLUDED.updated_at
		WHERE (EXCLUDED.final AND NOT analysis_results.final)
			OR (EXCLUDED.final = analysis_results.final AND EXCLUDED.step >= analysis_results.step)`

	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.RequestID,
		rec.PriorFEN,
		rec.ResultingFEN,
		rec.Move,
		rec.SAN,
		rec.Mover,
		rec.Ply,
		rec.Source,
		rec.Step,
		rec.Final,
		rec.Best,
		rec.RunnerUp,
		played,
		rec.PlayedSource,
		rec.Gap,
		rec.Delta,
		rec.Mate,
		rec.Confidence,
		pv,
		rec.OpeningCode,
		rec.OpeningTitle,
		rec.Budget.Milliseconds(),
		rec.Elapsed.Milliseconds(),
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis result: %w", err)
	}
	return nil
}

const selectColumns = `
	id, request_id, prior_fen, resulting_fen, move, san, mover, ply, source,
	step, final, best, runner_up, played, played_source, gap, delta, mate,
	confidence, pv, opening_code, opening_title, budget_ms, elapsed_ms,
	created_at, updated_at`

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := `SELECT ` + selectColumns + `
		FROM analysis_results
		ORDER BY updated_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select analysis results: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.AnalysisRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis results: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, priorFEN, move string) (*domain.AnalysisRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM analysis_results
		WHERE prior_fen = $1 AND move = $2`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, priorFEN, strings.ToLower(move)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		rec       domain.AnalysisRecord
		played    sql.NullInt64
		pvJSON    []byte
		budgetMS  int64
		elapsedMS int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.RequestID,
		&rec.PriorFEN,
		&rec.ResultingFEN,
		&rec.Move,
		&rec.SAN,
		&rec.Mover,
		&rec.Ply,
		&rec.Source,
		&rec.Step,
		&rec.Final,
		&rec.Best,
		&rec.RunnerUp,
		&played,
		&rec.PlayedSource,
		&rec.Gap,
		&rec.Delta,
		&rec.Mate,
		&rec.Confidence,
		&pvJSON,
		&rec.OpeningCode,
		&rec.OpeningTitle,
		&budgetMS,
		&elapsedMS,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis result: %w", err)
	}
	if played.Valid {
		v := int(played.Int64)
		rec.Played = &v
	}
	if err := json.Unmarshal(pvJSON, &rec.PV); err != nil {
		return nil, fmt.Errorf("unmarshal pv: %w", err)
	}
	rec.Budget = time.Duration(budgetMS) * time.Millisecond
	rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
