package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meridian/internal/domain"
	mmodel "meridian/internal/domain/models/memory"
	"meridian/internal/domain/repositories"
	memsvc "meridian/internal/domain/services/memory"
	"meridian/internal/repository/postgres"
)

// Store implements the memory store (C3) against a Postgres table holding
// the embedding as a `real[]` column. No pgvector extension is assumed
// available, so vector similarity is computed in application code over
// rows fetched with Postgres's built-in full-text search, whose ts_rank
// text score comes back with each row, following the teacher's "delegate
// structure, compute in app"
// idiom used throughout internal/repository/postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) StoreMemories(ctx context.Context, userID string, extracted []memsvc.ExtractedMemory, embeddings [][]float32) ([]string, error) {
	if len(extracted) != len(embeddings) {
		return nil, fmt.Errorf("extracted/embeddings length mismatch: %d vs %d", len(extracted), len(embeddings))
	}

	exec := postgres.GetExecutor(ctx, s.pool)
	ids := make([]string, len(extracted))

	for i, e := range extracted {
		if err := validateNormalized(embeddings[i]); err != nil {
			return nil, err
		}
		id := uuid.NewString()
		ids[i] = id

		if _, err := exec.Exec(ctx, `
			INSERT INTO memories (id, user_id, text, embedding, importance, created_at, last_accessed, access_count)
			VALUES ($1, $2, $3, $4, $5, now(), now(), 0)
		`, id, userID, e.Text, embeddings[i], e.Importance); err != nil {
			return nil, fmt.Errorf("insert memory: %w", err)
		}

		for _, link := range e.Links {
			if err := s.insertMutualLink(ctx, exec, id, link); err != nil {
				return nil, err
			}
		}
	}

	return ids, nil
}

func (s *Store) insertMutualLink(ctx context.Context, exec repositories.DBTX, sourceID string, link mmodel.Link) error {
	if _, err := exec.Exec(ctx, `
		INSERT INTO memory_links (source_id, target_id, type, confidence, reasoning)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, sourceID, link.TargetID, link.Type, link.Confidence, link.Reasoning); err != nil {
		return fmt.Errorf("insert outbound link: %w", err)
	}

	// Maintain the inverse pair so inbound/outbound stay mutually
	// consistent (§3 invariant).
	if _, err := exec.Exec(ctx, `
		INSERT INTO memory_links (source_id, target_id, type, confidence, reasoning)
		VALUES ($2, $1, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, sourceID, link.TargetID, link.Type, link.Confidence, link.Reasoning); err != nil {
		return fmt.Errorf("insert inbound link: %w", err)
	}
	return nil
}

func (s *Store) SearchSimilar(ctx context.Context, userID string, embedding []float32, limit int, simThreshold, minImportance float64) ([]mmodel.Memory, error) {
	exec := postgres.GetExecutor(ctx, s.pool)

	rows, err := exec.Query(ctx, `
		SELECT id, user_id, text, embedding, importance, created_at, last_accessed, access_count, happens_at, expires_at
		FROM memories
		WHERE user_id = $1 AND importance >= $2
	`, userID, minImportance)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	candidates, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		mem   mmodel.Memory
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		sim := cosineSimilarity(embedding, m.Embedding)
		if sim >= simThreshold {
			scoredList = append(scoredList, scored{mem: m, score: sim})
		}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	if limit > 0 && len(scoredList) > limit {
		scoredList = scoredList[:limit]
	}
	out := make([]mmodel.Memory, len(scoredList))
	for i, sc := range scoredList {
		out[i] = sc.mem
	}
	return out, nil
}

func (s *Store) HybridSearch(ctx context.Context, userID string, params memsvc.HybridSearchParams) ([]mmodel.Memory, error) {
	exec := postgres.GetExecutor(ctx, s.pool)

	rows, err := exec.Query(ctx, `
		SELECT id, user_id, text, embedding, importance, created_at, last_accessed, access_count, happens_at, expires_at,
		       ts_rank(to_tsvector('english', text), plainto_tsquery('english', $2)) AS text_score
		FROM memories
		WHERE user_id = $1
	`, userID, params.Text)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	type row struct {
		mem       mmodel.Memory
		textScore float64
	}
	var rowsOut []row
	for rows.Next() {
		var m mmodel.Memory
		var textScore float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Embedding, &m.Importance,
			&m.CreatedAt, &m.LastAccessed, &m.AccessCount, &m.HappensAt, &m.ExpiresAt, &textScore); err != nil {
			return nil, fmt.Errorf("scan hybrid row: %w", err)
		}
		rowsOut = append(rowsOut, row{mem: m, textScore: textScore})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	textWeight, vectorWeight := intentWeights(params.Intent)

	type scored struct {
		mem   mmodel.Memory
		score float64
	}
	scoredList := make([]scored, 0, len(rowsOut))
	for _, r := range rowsOut {
		if r.mem.Importance < params.MinImportance {
			continue
		}
		vecScore := cosineSimilarity(params.Embedding, r.mem.Embedding)
		combined := textWeight*r.textScore + vectorWeight*vecScore
		scoredList = append(scoredList, scored{mem: r.mem, score: combined})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	limit := params.Limit
	if limit > 0 && len(scoredList) > limit {
		scoredList = scoredList[:limit]
	}
	out := make([]mmodel.Memory, len(scoredList))
	for i, sc := range scoredList {
		out[i] = sc.mem
	}
	return out, nil
}

// intentWeights implements the intent-dependent BM25/vector blend (§4.3):
// exact favors text match, explore/recall favor vector similarity, general
// is balanced.
func intentWeights(intent string) (textWeight, vectorWeight float64) {
	switch intent {
	case "exact":
		return 0.7, 0.3
	case "explore", "recall":
		return 0.3, 0.7
	default:
		return 0.5, 0.5
	}
}

func (s *Store) GetMemory(ctx context.Context, id string) (*mmodel.Memory, error) {
	exec := postgres.GetExecutor(ctx, s.pool)

	row := exec.QueryRow(ctx, `
		SELECT id, user_id, text, embedding, importance, created_at, last_accessed, access_count, happens_at, expires_at
		FROM memories WHERE id = $1
	`, id)

	var m mmodel.Memory
	if err := row.Scan(&m.ID, &m.UserID, &m.Text, &m.Embedding, &m.Importance,
		&m.CreatedAt, &m.LastAccessed, &m.AccessCount, &m.HappensAt, &m.ExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}

	links, err := s.loadLinks(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	m.OutboundLinks = links.outbound
	m.InboundLinks = links.inbound

	return &m, nil
}

type linkSet struct {
	outbound []mmodel.Link
	inbound  []mmodel.Link
}

func (s *Store) loadLinks(ctx context.Context, exec repositories.DBTX, id string) (linkSet, error) {
	var set linkSet

	outRows, err := exec.Query(ctx, `SELECT target_id, type, confidence, reasoning FROM memory_links WHERE source_id = $1`, id)
	if err != nil {
		return set, fmt.Errorf("load outbound links: %w", err)
	}
	defer outRows.Close()
	for outRows.Next() {
		var l mmodel.Link
		if err := outRows.Scan(&l.TargetID, &l.Type, &l.Confidence, &l.Reasoning); err != nil {
			return set, err
		}
		set.outbound = append(set.outbound, l)
	}
	if err := outRows.Err(); err != nil {
		return set, err
	}

	inRows, err := exec.Query(ctx, `SELECT source_id, type, confidence, reasoning FROM memory_links WHERE target_id = $1`, id)
	if err != nil {
		return set, fmt.Errorf("load inbound links: %w", err)
	}
	defer inRows.Close()
	for inRows.Next() {
		var l mmodel.Link
		if err := inRows.Scan(&l.TargetID, &l.Type, &l.Confidence, &l.Reasoning); err != nil {
			return set, err
		}
		set.inbound = append(set.inbound, l)
	}
	return set, inRows.Err()
}

func (s *Store) UpdateMemory(ctx context.Context, id string, patch memsvc.Patch) error {
	exec := postgres.GetExecutor(ctx, s.pool)

	if patch.Importance != nil {
		if _, err := exec.Exec(ctx, `UPDATE memories SET importance = $2 WHERE id = $1`, id, *patch.Importance); err != nil {
			return fmt.Errorf("update importance: %w", err)
		}
	}
	if patch.AccessCount != nil {
		if _, err := exec.Exec(ctx, `UPDATE memories SET access_count = $2 WHERE id = $1`, id, *patch.AccessCount); err != nil {
			return fmt.Errorf("update access count: %w", err)
		}
	}
	if patch.LastAccessed {
		if _, err := exec.Exec(ctx, `UPDATE memories SET last_accessed = now(), access_count = access_count + 1 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("bump last accessed: %w", err)
		}
	}
	return nil
}

// TraverseLinks performs a breadth-first expansion of the link graph up to
// depth hops, deduplicating by memory id (§4.4 step 5).
func (s *Store) TraverseLinks(ctx context.Context, id string, depth int) ([]mmodel.TraversalEntry, error) {
	exec := postgres.GetExecutor(ctx, s.pool)

	type frontierEntry struct {
		id string
		d  int
	}
	frontier := []frontierEntry{{id: id, d: 0}}
	visited := map[string]bool{id: true}

	var out []mmodel.TraversalEntry
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current.d >= depth {
			continue
		}

		rows, err := exec.Query(ctx, `SELECT target_id, type, confidence, reasoning FROM memory_links WHERE source_id = $1`, current.id)
		if err != nil {
			return nil, fmt.Errorf("traverse links: %w", err)
		}

		var links []mmodel.Link
		for rows.Next() {
			var l mmodel.Link
			if err := rows.Scan(&l.TargetID, &l.Type, &l.Confidence, &l.Reasoning); err != nil {
				rows.Close()
				return nil, err
			}
			links = append(links, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		for _, l := range links {
			if visited[l.TargetID] {
				continue
			}
			visited[l.TargetID] = true

			target, err := s.GetMemory(ctx, l.TargetID)
			if err != nil {
				continue
			}
			meta := mmodel.LinkMetadata{LinkType: l.Type, Confidence: l.Confidence, Reasoning: l.Reasoning, Depth: current.d + 1, LinkedFromID: current.id}
			out = append(out, mmodel.TraversalEntry{Memory: *target, LinkMeta: meta, Depth: current.d + 1, LinkedFromID: current.id})
			frontier = append(frontier, frontierEntry{id: l.TargetID, d: current.d + 1})
		}
	}

	return out, nil
}

func scanMemories(rows pgx.Rows) ([]mmodel.Memory, error) {
	var out []mmodel.Memory
	for rows.Next() {
		var m mmodel.Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Embedding, &m.Importance,
			&m.CreatedAt, &m.LastAccessed, &m.AccessCount, &m.HappensAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func validateNormalized(embedding []float32) error {
	var sumSq float64
	for _, v := range embedding {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) >= 1e-6 {
		return fmt.Errorf("embedding not normalized: norm=%f", norm)
	}
	return nil
}
