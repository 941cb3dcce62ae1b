package embeddings

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"meridian/internal/domain/services/embeddings"
)

// ttl for cached single-text embeddings (§6 KV key conventions).
const cacheTTL = 15 * time.Minute

// Client hits a configurable embedding/reranker microservice over HTTP and
// caches single-text embeddings in Redis as fp16 bytes. The embedding
// model and reranker are external collaborators (spec §1); no example repo
// in the pack ships a client library for an arbitrary model-serving HTTP
// API, so stdlib net/http is used here (justified in DESIGN.md) while the
// cache itself reuses the pack's canonical Redis client.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	rerankerURL  string
	redis        *redis.Client
}

func New(baseURL, rerankerURL string, redisClient *redis.Client) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		rerankerURL: rerankerURL,
		redis:       redisClient,
	}
}

func (c *Client) HasReranker() bool { return c.rerankerURL != "" }

type encodeRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"` // "fast" | "deep"
}

type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) EncodeFast(ctx context.Context, texts []string) ([][]float32, error) {
	return c.encode(ctx, texts, "fast", "embedding_384")
}

func (c *Client) EncodeDeep(ctx context.Context, texts []string) ([][]float32, error) {
	return c.encode(ctx, texts, "deep", "embedding_1024")
}

func (c *Client) encode(ctx context.Context, texts []string, model, cachePrefix string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Single-text calls are cacheable; batch calls are not (§4.2).
	if len(texts) == 1 {
		if cached, ok := c.getCached(ctx, cachePrefix, texts[0]); ok {
			return [][]float32{cached}, nil
		}
	}

	body, err := json.Marshal(encodeRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("marshal encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encode request returned status %d", resp.StatusCode)
	}

	var out encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode encode response: %w", err)
	}

	if len(texts) == 1 && len(out.Embeddings) == 1 {
		c.setCached(ctx, cachePrefix, texts[0], out.Embeddings[0])
	}

	return out.Embeddings, nil
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Results []struct {
		Index   int     `json:"index"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) Rerank(ctx context.Context, query string, passages []string) ([]embeddings.RankedPassage, error) {
	if !c.HasReranker() {
		return nil, fmt.Errorf("reranker not configured")
	}

	body, err := json.Marshal(rerankRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rerankerURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request returned status %d", resp.StatusCode)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	ranked := make([]embeddings.RankedPassage, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			continue
		}
		ranked = append(ranked, embeddings.RankedPassage{Index: r.Index, Score: r.Score, Passage: passages[r.Index]})
	}
	return ranked, nil
}

func cacheKey(prefix, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(sum[:]))
}

func (c *Client) getCached(ctx context.Context, prefix, text string) ([]float32, bool) {
	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, cacheKey(prefix, text)).Bytes()
	if err != nil {
		return nil, false
	}
	return unpackFP16(raw), true
}

func (c *Client) setCached(ctx context.Context, prefix, text string, vec []float32) {
	if c.redis == nil {
		return
	}
	c.redis.Set(ctx, cacheKey(prefix, text), packFP16(vec), cacheTTL)
}

// packFP16/unpackFP16 store embeddings as IEEE 754 half-precision bytes,
// halving the KV footprint versus full float32 (§6 KV key conventions:
// "fp16 bytes").
func packFP16(vec []float32) []byte {
	out := make([]byte, len(vec)*2)
	for i, v := range vec {
		bits := float32ToFP16(v)
		out[i*2] = byte(bits >> 8)
		out[i*2+1] = byte(bits)
	}
	return out
}

func unpackFP16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		bits := uint16(raw[i*2])<<8 | uint16(raw[i*2+1])
		out[i] = fp16ToFloat32(bits)
	}
	return out
}

func float32ToFP16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp <= 0:
		return sign
	case exp >= 31:
		return sign | 0x7c00
	default:
		return sign | uint16(exp<<10) | uint16(mant>>13)
	}
}

func fp16ToFloat32(bits uint16) float32 {
	sign := uint32(bits&0x8000) << 16
	exp := (bits >> 10) & 0x1f
	mant := uint32(bits & 0x3ff)

	if exp == 0 {
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		return math.Float32frombits(sign) * float32(mant) / 1024 / 16384
	}
	if exp == 0x1f {
		if mant == 0 {
			return math.Float32frombits(sign | 0x7f800000)
		}
		return math.Float32frombits(sign | 0x7fc00000)
	}

	fullExp := uint32(int32(exp) - 15 + 127)
	return math.Float32frombits(sign | fullExp<<23 | mant<<13)
}
