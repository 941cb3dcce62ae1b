// Package continuum persists the per-user conversation object (C10) and
// assembles the cold-start message cache (C13) described in spec §4.10 and
// §4.13. It follows the same "compute in app code, delegate storage to
// Postgres" split as internal/repository/postgres/memory.
package continuum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meridian/internal/domain"
	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
	"meridian/internal/domain/repositories"
	"meridian/internal/repository/postgres"
)

// Repository implements the continuum repository and cache loader (C10, C13).
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	// sessionSummaryCount is the number of collapsed segment summaries to
	// surface on cold start (§4.13 step 2, configurable via
	// session_summary_count).
	sessionSummaryCount int
}

func New(pool *pgxpool.Pool, logger *slog.Logger, sessionSummaryCount int) *Repository {
	if sessionSummaryCount <= 0 {
		sessionSummaryCount = 5
	}
	return &Repository{pool: pool, logger: logger, sessionSummaryCount: sessionSummaryCount}
}

// Load fetches or cold-starts a continuum for a user (§4.10, §4.13).
func (r *Repository) Load(ctx context.Context, userID string) (*cmodel.Continuum, error) {
	exec := postgres.GetExecutor(ctx, r.pool)

	var id string
	var metadataJSON []byte
	var createdAt time.Time

	err := exec.QueryRow(ctx, `
		SELECT id, metadata_json, created_at FROM continuums WHERE user_id = $1
	`, userID).Scan(&id, &metadataJSON, &createdAt)

	if err == pgx.ErrNoRows {
		return r.create(ctx, exec, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load continuum: %v", domain.ErrInfrastructure, err)
	}

	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode continuum metadata: %v", domain.ErrInfrastructure, err)
	}

	cont := &cmodel.Continuum{ID: id, UserID: userID, Metadata: metadata, CreatedAt: createdAt}

	messages, err := r.assembleColdCache(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	cont.Messages = messages
	return cont, nil
}

func (r *Repository) create(ctx context.Context, exec repositories.DBTX, userID string) (*cmodel.Continuum, error) {
	id := uuid.NewString()
	now := time.Now()

	if _, err := exec.Exec(ctx, `
		INSERT INTO continuums (id, user_id, metadata_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, []byte("{}"), now); err != nil {
		return nil, fmt.Errorf("%w: create continuum: %v", domain.ErrInfrastructure, err)
	}

	return &cmodel.Continuum{ID: id, UserID: userID, CreatedAt: now}, nil
}

func unmarshalMetadata(raw []byte) (cmodel.Metadata, error) {
	var m cmodel.Metadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	return m, nil
}

// assembleColdCache implements the five-part list of §4.13: collapse
// marker, last N collapsed segment summaries, the last 3 continuity pairs
// before the active segment, a session boundary marker, and every message
// after the active segment sentinel.
func (r *Repository) assembleColdCache(ctx context.Context, exec repositories.DBTX, continuumID string) ([]llm.Message, error) {
	rows, err := exec.Query(ctx, `
		SELECT id, role, content, created_at, metadata_json
		FROM messages
		WHERE continuum_id = $1
		ORDER BY created_at ASC
	`, continuumID)
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", domain.ErrInfrastructure, err)
	}
	defer rows.Close()

	var all []llm.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", domain.ErrInfrastructure, err)
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate messages: %v", domain.ErrInfrastructure, err)
	}

	if len(all) == 0 {
		return nil, nil
	}

	// Split collapsed summaries from the active segment. The active
	// segment begins right after the last segment_boundary sentinel (if
	// any); everything before it that is marked collapsed is a candidate
	// summary.
	lastBoundary := -1
	for i, m := range all {
		if m.Metadata.SegmentBoundary {
			lastBoundary = i
		}
	}

	var collapsedSummaries, beforeBoundary, active []llm.Message
	if lastBoundary == -1 {
		active = all
	} else {
		beforeBoundary = all[:lastBoundary]
		active = all[lastBoundary+1:]
		for _, m := range beforeBoundary {
			if m.Metadata.Status == llm.MessageStatusCollapsed {
				collapsedSummaries = append(collapsedSummaries, m)
			}
		}
	}

	if len(collapsedSummaries) > r.sessionSummaryCount {
		collapsedSummaries = collapsedSummaries[len(collapsedSummaries)-r.sessionSummaryCount:]
	}

	continuityPairs := lastTurnPairs(beforeBoundary, 3)

	out := make([]llm.Message, 0, len(collapsedSummaries)+len(continuityPairs)+len(active)+2)
	out = append(out, collapseMarker())
	out = append(out, collapsedSummaries...)
	out = append(out, continuityPairs...)
	out = append(out, sessionBoundaryMarker())
	out = append(out, active...)
	return out, nil
}

// lastTurnPairs returns the last n user→assistant message pairs found in
// messages, preserving chronological order.
func lastTurnPairs(messages []llm.Message, n int) []llm.Message {
	var pairs []llm.Message
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].Role == llm.RoleUser && messages[i+1].Role == llm.RoleAssistant {
			pairs = append(pairs, messages[i], messages[i+1])
		}
	}
	if len(pairs) > n*2 {
		pairs = pairs[len(pairs)-n*2:]
	}
	return pairs
}

func collapseMarker() llm.Message {
	return llm.Message{
		Role:      llm.RoleSystem,
		Content:   []llm.ContentBlock{llm.Text("[older searchable content above]")},
		CreatedAt: time.Now(),
		Metadata:  llm.MessageMetadata{SegmentBoundary: true, Status: llm.MessageStatusCollapsed},
	}
}

func sessionBoundaryMarker() llm.Message {
	return llm.Message{
		Role:      llm.RoleSystem,
		Content:   []llm.ContentBlock{llm.Text("[new session start]")},
		CreatedAt: time.Now(),
		Metadata:  llm.MessageMetadata{SegmentBoundary: true, Status: llm.MessageStatusActive},
	}
}

// Commit persists a unit of work in a single transaction: both messages in
// chronological order, metadata if dirty, and the retrieval log entry
// (§4.10, §3 Unit-of-Work).
func (r *Repository) Commit(ctx context.Context, cont *cmodel.Continuum, uow *cmodel.UnitOfWork) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin commit transaction: %v", domain.ErrInfrastructure, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if uow.UserMessage != nil {
		if err := insertMessage(ctx, tx, cont.ID, cont.UserID, *uow.UserMessage); err != nil {
			return err
		}
	}
	if uow.AssistantMessage != nil {
		if err := insertMessage(ctx, tx, cont.ID, cont.UserID, *uow.AssistantMessage); err != nil {
			return err
		}
	}

	if uow.MetadataUpdated {
		metadataJSON, err := json.Marshal(cont.Metadata)
		if err != nil {
			return fmt.Errorf("marshal continuum metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE continuums SET metadata_json = $2 WHERE id = $1`, cont.ID, metadataJSON); err != nil {
			return fmt.Errorf("%w: update continuum metadata: %v", domain.ErrInfrastructure, err)
		}
	}

	if uow.RetrievalLog != nil {
		surfaced, err := json.Marshal(uow.RetrievalLog.SurfacedMemoryIDs)
		if err != nil {
			return fmt.Errorf("marshal surfaced memory ids: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO retrieval_log (id, continuum_id, raw_query, fingerprint, surfaced_ids, ts)
			VALUES ($1, $2, $3, $4, $5, now())
		`, uuid.NewString(), uow.RetrievalLog.ContinuumID, uow.RetrievalLog.RawQuery, uow.RetrievalLog.Fingerprint, surfaced); err != nil {
			return fmt.Errorf("%w: insert retrieval log: %v", domain.ErrInfrastructure, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, continuumID, userID string, msg llm.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, continuum_id, user_id, role, content, created_at, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, continuumID, userID, msg.Role, content, msg.CreatedAt, metadata); err != nil {
		return fmt.Errorf("%w: insert message: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

func scanMessage(row pgx.Rows) (llm.Message, error) {
	var m llm.Message
	var content, metadata []byte
	if err := row.Scan(&m.ID, &m.Role, &content, &m.CreatedAt, &metadata); err != nil {
		return m, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return m, fmt.Errorf("decode message content: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return m, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return m, nil
}
