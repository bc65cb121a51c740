package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int
	Table    string
}

// PostgresStore keeps records in one table keyed by address. A Store call
// runs in a single transaction.
type PostgresStore struct {
	id     string
	pool   *pgxpool.Pool
	table  string
	codec  codec.Codec
	logger *zap.Logger
}

// NewPostgresStore opens a pool, checks the connection and creates the
// table if it does not exist.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, c codec.Codec, logger *zap.Logger) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConns, cfg.MinConns,
	)
	return NewPostgresStoreFromDSN(ctx, connString, cfg.Table, c, logger)
}

// NewPostgresStoreFromDSN is NewPostgresStore for a ready connection string.
func NewPostgresStoreFromDSN(ctx context.Context, dsn, table string, c codec.Codec, logger *zap.Logger) (*PostgresStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, storeerrors.InvalidArgument(fmt.Sprintf("invalid table name %q", table), nil)
	}
	if c == nil {
		c = codec.JSON()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		addr    BIGINT PRIMARY KEY,
		payload BYTEA NOT NULL
	)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	cc := config.ConnConfig
	return &PostgresStore{
		id:     fmt.Sprintf("postgres:%s:%d/%s/%s", cc.Host, cc.Port, cc.Database, table),
		pool:   pool,
		table:  table,
		codec:  c,
		logger: logger,
	}, nil
}

func (s *PostgresStore) ID() string { return s.id }

func (s *PostgresStore) Store(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (addr, payload) VALUES ($1, $2)
		ON CONFLICT (addr) DO UPDATE SET payload = EXCLUDED.payload
	`, s.table)
	for _, e := range entries {
		data, err := s.codec.Marshal(e.Payload)
		if err != nil {
			return storeerrors.InternalError("failed to encode payload", err).WithDetail("address", e.Addr)
		}
		batch.Queue(upsert, int64(e.Addr), data)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write %d records: %w", len(entries), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Restore(ctx context.Context, addr model.Address) (*model.Payload, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE addr = $1`, s.table)

	var data []byte
	err := s.pool.QueryRow(ctx, query, int64(addr)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeerrors.NotFound(s.id, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read address %s: %w", addr, err)
	}
	p, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, storeerrors.Malformed(s.id, addr, err)
	}
	return p, nil
}

func (s *PostgresStore) ListAddresses(ctx context.Context) ([]model.Address, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT addr FROM %s ORDER BY addr`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	addrs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Address, error) {
		var a int64
		err := row.Scan(&a)
		return model.Address(a), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan addresses: %w", err)
	}
	return addrs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, addrs []model.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	ids := make([]int64, len(addrs))
	for i, a := range addrs {
		ids[i] = int64(a)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE addr = ANY($1)`, s.table), ids)
	if err != nil {
		return fmt.Errorf("failed to delete addresses: %w", err)
	}
	s.logger.Debug("Deleted records", zap.String("store", s.id), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
