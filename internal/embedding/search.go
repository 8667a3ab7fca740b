// Package embedding ranks stored sessions against a query, by cosine
// similarity of embeddings when an endpoint is configured and by keyword
// match otherwise.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"sort"
	"strings"

	"sessionvault/internal/storage"
)

// Search modes reported on hits.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// Store is the slice of the metadata store the search service needs.
type Store interface {
	ListSessions(ctx context.Context, opts storage.ListOptions) ([]storage.Record, error)
	SearchTitles(ctx context.Context, query string, limit int) ([]storage.Record, error)
	Get(ctx context.Context, id string) (storage.Record, error)
	EmbeddingHashes(ctx context.Context, model string) (map[string]string, error)
	SaveEmbedding(ctx context.Context, e storage.Embedding) error
	Embeddings(ctx context.Context, model string) ([]storage.Embedding, error)
}

// Hit 搜索结果 / One search result
type Hit struct {
	storage.Record
	Score float64 `json:"score"`
	Mode  string  `json:"mode"`
}

// Options 控制索引批次与文本长度 / Batch size and per-text token budget
type Options struct {
	MaxTokens int
	BatchSize int
}

// Service 会话语义搜索 / Semantic search over session metadata
type Service struct {
	store     Store
	embedder  Embedder
	tokenizer *Tokenizer
	opts      Options
	logger    *slog.Logger
}

// NewService builds a search service. A nil embedder means keyword search only.
func NewService(store Store, embedder Embedder, tokenizer *Tokenizer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if tokenizer == nil {
		tokenizer = &Tokenizer{fallback: true, encodingName: "cl100k_base"}
	}
	return &Service{
		store:     store,
		embedder:  embedder,
		tokenizer: tokenizer,
		opts:      opts,
		logger:    logger.With("component", "embedding"),
	}
}

// Semantic reports whether an embeddings endpoint is configured.
func (s *Service) Semantic() bool {
	return s.embedder != nil
}

// SessionText is the text embedded for a session.
func SessionText(rec storage.Record) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.Title, rec.WorkspaceName, rec.Source} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Index embeds every present session whose text changed since it was last
// embedded and returns how many vectors were written.
func (s *Service) Index(ctx context.Context) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}
	model := s.embedder.Model()
	records, err := s.store.ListSessions(ctx, storage.ListOptions{})
	if err != nil {
		return 0, err
	}
	hashes, err := s.store.EmbeddingHashes(ctx, model)
	if err != nil {
		return 0, err
	}

	type job struct {
		id, text, hash string
	}
	var jobs []job
	for _, rec := range records {
		text := s.tokenizer.Truncate(SessionText(rec), s.opts.MaxTokens)
		if text == "" {
			continue
		}
		h := textHash(text)
		if hashes[rec.ID] == h {
			continue
		}
		jobs = append(jobs, job{id: rec.ID, text: text, hash: h})
	}

	written := 0
	for start := 0; start < len(jobs); start += s.opts.BatchSize {
		batch := jobs[start:min(start+s.opts.BatchSize, len(jobs))]
		texts := make([]string, len(batch))
		for i, j := range batch {
			texts[i] = j.text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return written, err
		}
		for i, j := range batch {
			if err := s.store.SaveEmbedding(ctx, storage.Embedding{
				ID: j.id, Model: model, Vector: vectors[i], TextHash: j.hash,
			}); err != nil {
				return written, err
			}
			written++
		}
	}
	s.logger.Info("embedding index updated", "written", written, "sessions", len(records))
	return written, nil
}

// Search ranks sessions against query. Without an embedder, without stored
// vectors, or when the endpoint fails, it falls back to keyword search.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if s.embedder != nil {
		hits, err := s.semantic(ctx, query, limit)
		if err == nil && len(hits) > 0 {
			return hits, nil
		}
		if err != nil {
			s.logger.Warn("semantic search failed, using keyword search", "err", err)
		}
	}
	return s.keyword(ctx, query, limit)
}

func (s *Service) keyword(ctx context.Context, query string, limit int) ([]Hit, error) {
	records, err := s.store.SearchTitles(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		hits = append(hits, Hit{Record: rec, Score: 1, Mode: ModeKeyword})
	}
	return hits, nil
}

func (s *Service) semantic(ctx context.Context, query string, limit int) ([]Hit, error) {
	stored, err := s.store.Embeddings(ctx, s.embedder.Model())
	if err != nil || len(stored) == 0 {
		return nil, err
	}
	vectors, err := s.embedder.Embed(ctx, []string{s.tokenizer.Truncate(query, s.opts.MaxTokens)})
	if err != nil {
		return nil, err
	}
	q := vectors[0]

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(stored))
	for _, e := range stored {
		ranked = append(ranked, scored{id: e.ID, score: Cosine(q, e.Vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		rec, err := s.store.Get(ctx, r.id)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: r.score, Mode: ModeSemantic})
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty,
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
