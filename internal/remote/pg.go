package remote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGWriter applies change scripts straight to a PostgreSQL database.
type PGWriter struct {
	Pool *pgxpool.Pool
}

func NewPGWriter(ctx context.Context, dsn string) (*PGWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &PGWriter{Pool: pool}, nil
}

// WriteScript runs the script as one simple-protocol exec; the script carries its own
// BEGIN/COMMIT.
func (w *PGWriter) WriteScript(ctx context.Context, script string) error {
	if w == nil || w.Pool == nil {
		return fmt.Errorf("postgres writer not connected")
	}
	if _, err := w.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("apply script: %w", err)
	}
	return nil
}

func (w *PGWriter) Close() {
	if w != nil && w.Pool != nil {
		w.Pool.Close()
	}
}
