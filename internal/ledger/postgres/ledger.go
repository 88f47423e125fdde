package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagekit/rewardpipe/internal/domain"
)

// Ledger is a Postgres-backed submission capability. The table keys on
// fingerprint with ON CONFLICT DO NOTHING, so replayed submissions of
// the same occurrence are absorbed server-side: this is the
// authoritative replay check, the client-side admission control is only
// advisory.
type Ledger struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Ledger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Ledger{Pool: pool}, nil
}

func (l *Ledger) Close() {
	if l.Pool != nil {
		l.Pool.Close()
	}
}

func (l *Ledger) Ready(ctx context.Context) error {
	var one int
	return l.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// RunMigration executes a single SQL file (MVP) to keep dependencies zero.
func (l *Ledger) RunMigration(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open migration: %w", err)
	}
	defer f.Close()
	sqlBytes, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	_, err = l.Pool.Exec(ctx, string(sqlBytes))
	if err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// Submit records one admitted occurrence. At-least-once delivery from
// the pipeline plus the fingerprint conflict clause yields effectively
// one ledger row per occurrence.
func (l *Ledger) Submit(ctx context.Context, sub domain.Submission) error {
	var metaJSON []byte
	if sub.Metadata != nil {
		b, err := json.Marshal(sub.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = b
	}
	_, err := l.Pool.Exec(ctx, `
		INSERT INTO reward_ledger (fingerprint, kind, user_id, origin, points, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO NOTHING`,
		sub.Fingerprint, string(sub.Kind), sub.UserID, sub.Origin, sub.Points, metaJSON)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

// PointsSummary aggregates a user's forwarded occurrences. Points are
// advisory display values, not balances.
type PointsSummary struct {
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
	Actions     int64  `json:"actions"`
}

func (l *Ledger) QueryPoints(ctx context.Context, userID string) (PointsSummary, error) {
	res := PointsSummary{UserID: userID}
	err := l.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0), COUNT(*)
		FROM reward_ledger WHERE user_id = $1`, userID).
		Scan(&res.TotalPoints, &res.Actions)
	if err != nil {
		return res, fmt.Errorf("query points: %w", err)
	}
	return res, nil
}
