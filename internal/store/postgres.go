package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	entity     TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store persists the ledger state as one JSONB array per entity table.
type Store struct {
	Db     *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Db: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate creates the snapshot table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Load reads every stored table. Tables never saved stay empty and rows for
// unknown entities are ignored.
func (s *Store) Load(ctx context.Context) (*snapshot.State, error) {
	rows, err := s.Db.Query(ctx, "SELECT entity, payload FROM ledger_snapshots")
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	state := &snapshot.State{}
	tables := state.Tables()
	for rows.Next() {
		var entity string
		var payload []byte
		if err := rows.Scan(&entity, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		dst, ok := tables[entity]
		if !ok {
			s.logger.Warn("ignoring unknown snapshot entity", zap.String("entity", entity))
			continue
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entity, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return state, nil
}

// Save replaces every table in a single transaction.
func (s *Store) Save(ctx context.Context, state *snapshot.State) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, name := range snapshot.TableNames() {
		payload, err := json.Marshal(state.Tables()[name])
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		batch.Queue(`INSERT INTO ledger_snapshots (entity, payload, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (entity) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			name, payload)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("snapshot upsert failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	s.logger.Info("snapshot saved", zap.Int("tables", batch.Len()))
	return nil
}

// Dir persists the state as a directory of <table>.json files.
type Dir string

func (d Dir) Load(context.Context) (*snapshot.State, error) { return snapshot.LoadDir(string(d)) }

func (d Dir) Save(_ context.Context, state *snapshot.State) error {
	return snapshot.SaveDir(string(d), state)
}
