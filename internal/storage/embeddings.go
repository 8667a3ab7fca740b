package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Embedding 会话向量 / Stored vector for one session
type Embedding struct {
	ID       string
	Model    string
	Vector   []float32
	TextHash string
}

// SaveEmbedding 写入或覆盖会话向量 / Insert or replace the vector of one session
func (s *SQLiteStore) SaveEmbedding(ctx context.Context, e Embedding) error {
	if e.ID == "" {
		return fmt.Errorf("embedding session id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_embeddings (id, model, dim, vector, text_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model=excluded.model, dim=excluded.dim, vector=excluded.vector,
			text_hash=excluded.text_hash, updated_at=excluded.updated_at`,
		e.ID, e.Model, len(e.Vector), encodeVector(e.Vector), e.TextHash, time.Now().UTC().Unix())
	if err != nil {
		return ioErr(fmt.Sprintf("save embedding %s", e.ID), err)
	}
	return nil
}

// EmbeddingHashes 返回 id -> 文本哈希，用于跳过未变化的会话
// EmbeddingHashes returns id -> text hash for every vector stored under model.
func (s *SQLiteStore) EmbeddingHashes(ctx context.Context, model string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text_hash FROM session_embeddings WHERE model=?", model)
	if err != nil {
		return nil, ioErr("query embedding hashes", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, ioErr("scan embedding hash", err)
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// Embeddings 返回某模型下的全部向量 / All vectors stored under model
func (s *SQLiteStore) Embeddings(ctx context.Context, model string) ([]Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.model, e.vector, e.text_hash
		FROM session_embeddings e JOIN sessions s ON s.id = e.id
		WHERE e.model=? AND s.missing=0`, model)
	if err != nil {
		return nil, ioErr("query embeddings", err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var (
			e    Embedding
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Model, &blob, &e.TextHash); err != nil {
			return nil, ioErr("scan embedding", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, formatErr("decode embedding "+e.ID, "%v", err)
		}
		e.Vector = vec
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate embeddings", err)
	}
	return out, nil
}

// 向量以 little-endian float32 存储 / Vectors are stored as little-endian float32
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
