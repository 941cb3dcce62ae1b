// Package domainknowledge persists user-scoped domain-knowledge blocks
// (§3, §8 scenario 5), enforcing the at-most-one-enabled-per-user invariant
// at write time via a pre-check SELECT inside Enable's transaction rather
// than a database constraint, since sqlite/postgres partial unique indexes
// vary by deployment and the
// invariant's error path (ValueError on ambiguous enable) is a domain
// concern, not a storage one.
package domainknowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meridian/internal/domain"
	model "meridian/internal/domain/models/domainknowledge"
	"meridian/internal/repository/postgres"
)

// Store implements the domain-knowledge store (§3) against a Postgres
// table, following the same executor-from-context idiom as
// internal/repository/postgres/memory and continuum.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) List(ctx context.Context, userID string) ([]model.Block, error) {
	exec := postgres.GetExecutor(ctx, s.pool)
	rows, err := exec.Query(ctx, `
		SELECT id, user_id, label, description, enabled, cached_value, synced_at, agent_ref, created_at
		FROM domain_knowledge_blocks
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list domain knowledge blocks: %v", domain.ErrInfrastructure, err)
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan domain knowledge block: %v", domain.ErrInfrastructure, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate domain knowledge blocks: %v", domain.ErrInfrastructure, err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, b model.Block) (model.Block, error) {
	exec := postgres.GetExecutor(ctx, s.pool)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.SyncedAt.IsZero() {
		b.SyncedAt = b.CreatedAt
	}

	if _, err := exec.Exec(ctx, `
		INSERT INTO domain_knowledge_blocks
			(id, user_id, label, description, enabled, cached_value, synced_at, agent_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.UserID, b.Label, b.Description, b.Enabled, b.CachedValue, b.SyncedAt, b.AgentRef, b.CreatedAt); err != nil {
		if postgres.IsPgDuplicateError(err) {
			return model.Block{}, fmt.Errorf("%w: domain knowledge block %q already exists", domain.ErrConflict, b.Label)
		}
		return model.Block{}, fmt.Errorf("%w: create domain knowledge block: %v", domain.ErrInfrastructure, err)
	}
	return b, nil
}

// Enable enables the named block. If a block with a different label is
// already enabled for the user it returns domain.ErrValidation and leaves
// both blocks as they were — the seed scenario (§8 scenario 5) rejects
// enabling a second block outright rather than silently swapping. It never
// disables another block; re-enabling the already-enabled label is a no-op.
func (s *Store) Enable(ctx context.Context, userID, label string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin enable transaction: %v", domain.ErrInfrastructure, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var existingLabel string
	err = tx.QueryRow(ctx, `
		SELECT label FROM domain_knowledge_blocks WHERE user_id = $1 AND enabled = true
	`, userID).Scan(&existingLabel)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// no block enabled yet, proceed
	case err != nil:
		return fmt.Errorf("%w: check enabled domain knowledge block: %v", domain.ErrInfrastructure, err)
	case existingLabel != label:
		return fmt.Errorf("%w: domain knowledge block %q is already enabled; disable it before enabling %q", domain.ErrValidation, existingLabel, label)
	default:
		// already enabled, idempotent no-op
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE domain_knowledge_blocks SET enabled = true WHERE user_id = $1 AND label = $2
	`, userID, label)
	if err != nil {
		return fmt.Errorf("%w: enable domain knowledge block: %v", domain.ErrInfrastructure, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: domain knowledge block %q not found", domain.ErrNotFound, label)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit enable transaction: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

func (s *Store) Disable(ctx context.Context, userID, label string) error {
	exec := postgres.GetExecutor(ctx, s.pool)
	tag, err := exec.Exec(ctx, `
		UPDATE domain_knowledge_blocks SET enabled = false WHERE user_id = $1 AND label = $2
	`, userID, label)
	if err != nil {
		return fmt.Errorf("%w: disable domain knowledge block: %v", domain.ErrInfrastructure, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: domain knowledge block %q not found", domain.ErrNotFound, label)
	}
	return nil
}

func (s *Store) GetEnabled(ctx context.Context, userID string) (*model.Block, error) {
	exec := postgres.GetExecutor(ctx, s.pool)
	row := exec.QueryRow(ctx, `
		SELECT id, user_id, label, description, enabled, cached_value, synced_at, agent_ref, created_at
		FROM domain_knowledge_blocks
		WHERE user_id = $1 AND enabled = true
	`, userID)
	b, err := scanBlock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get enabled domain knowledge block: %v", domain.ErrInfrastructure, err)
	}
	return &b, nil
}

func scanBlock(row interface{ Scan(dest ...interface{}) error }) (model.Block, error) {
	var b model.Block
	err := row.Scan(&b.ID, &b.UserID, &b.Label, &b.Description, &b.Enabled, &b.CachedValue, &b.SyncedAt, &b.AgentRef, &b.CreatedAt)
	return b, err
}
