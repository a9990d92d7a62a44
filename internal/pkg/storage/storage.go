package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = payerr.ErrNotFound
	ErrConflict = payerr.ErrConflict
)

func New(ctx context.Context, databaseURL string, logger *zap.SugaredLogger) (*Store, error) {
	if databaseURL == "" {
		return nil, payerr.Configuration("database url is empty")
	}
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect: %w", err)
	}
	return &Store{conn: pool, logger: logger}, nil
}

type Store struct {
	conn   *pgxpool.Pool
	logger *zap.SugaredLogger
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("conn.Exec(schema): %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Store) Close() {
	s.conn.Close()
}
