package melody

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"maestro/pkg/models"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// PostgresStore persists reasoning chains in PostgreSQL. Sequence numbers
// are assigned inside the insert statement so concurrent recorders on the
// same task cannot produce gaps or duplicates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a chain store over an existing connection pool.
// The schema must already be migrated (database.NewClient does this).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenTask implements Store.
func (s *PostgresStore) OpenTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chain_tasks (task_id) VALUES ($1)
		 ON CONFLICT (task_id) DO NOTHING`, taskID)
	if err != nil {
		return fmt.Errorf("failed to open chain task: %w", err)
	}
	return nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, node *models.ChainNode) error {
	createdAt := node.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// seq is computed in the statement; the pipeline records nodes for a
	// task serially, so the (task_id, seq) unique constraint is a safety
	// net rather than a contention point.
	var seq int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chain_nodes (task_id, node_id, seq, agent, stage, content, created_at)
		 SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6
		 FROM chain_nodes WHERE task_id = $1
		 RETURNING seq`,
		node.TaskID, node.NodeID, node.Agent, node.Stage, node.Content, createdAt,
	).Scan(&seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "chain_nodes_pkey":
				return fmt.Errorf("%w: %s/%s", ErrDuplicateNode, node.TaskID, node.NodeID)
			case pgErr.Code == "23503": // foreign key: chain_tasks row missing
				return fmt.Errorf("%w: %s", ErrTaskNotOpen, node.TaskID)
			}
		}
		return fmt.Errorf("failed to record chain node: %w", err)
	}

	node.Seq = seq
	node.CreatedAt = createdAt
	return nil
}

// Chain implements Store.
func (s *PostgresStore) Chain(ctx context.Context, taskID string) ([]models.ChainNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, node_id, seq, agent, stage, content, created_at
		 FROM chain_nodes WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}
	defer rows.Close()

	var nodes []models.ChainNode
	for rows.Next() {
		var n models.ChainNode
		if err := rows.Scan(&n.TaskID, &n.NodeID, &n.Seq, &n.Agent, &n.Stage, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chain node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chain rows: %w", err)
	}
	return nodes, nil
}

// Close implements Store. The connection pool is owned by the database
// client, not the store.
func (s *PostgresStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
