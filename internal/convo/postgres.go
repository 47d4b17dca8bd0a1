package convo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation histories in PostgreSQL so they
// survive restarts. The turn bound is enforced on every append.
type PostgresStore struct {
	pool     *pgxpool.Pool
	maxTurns int
}

func NewPostgresStore(ctx context.Context, databaseURL string, maxTurns int) (*PostgresStore, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, maxTurns: maxTurns}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_convo_seq
			ON conversation_turns (conversation_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id string) (string, []Turn, error) {
	if id == "" {
		return uuid.NewString(), nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM conversation_turns
		 WHERE conversation_id=$1 ORDER BY seq`,
		id,
	)
	if err != nil {
		return "", nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return "", nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate turns: %w", err)
	}
	return id, turns, nil
}

func (s *PostgresStore) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO conversation_turns (conversation_id, role, content)
			 VALUES ($1, $2, $3), ($1, $4, $5)`,
			id, RoleUser, userText, RoleAssistant, assistantText,
		)
		if err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
		// Drop everything older than the most recent maxTurns entries.
		_, err = tx.Exec(ctx,
			`DELETE FROM conversation_turns
			 WHERE conversation_id=$1 AND seq NOT IN (
				SELECT seq FROM conversation_turns
				WHERE conversation_id=$1 ORDER BY seq DESC LIMIT $2
			 )`,
			id, s.maxTurns,
		)
		if err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Clear(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_turns WHERE conversation_id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("clear conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Active(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT conversation_id FROM conversation_turns`)
	if err != nil {
		return nil, fmt.Errorf("query active conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
