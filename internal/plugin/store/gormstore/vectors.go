package gormstore

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Owner kinds for rows in the narrative_vectors table.
const (
	VectorKindEpisode = "episode"
	VectorKindWorld   = "world"
)

// Scored is a vector search hit.
type Scored struct {
	OwnerID uuid.UUID
	Score   float64
}

// VectorOps abstracts embedding storage per backend: pgvector ANN on
// postgres, JSON columns with in-process cosine on sqlite. All write methods
// take the transaction they must join.
type VectorOps interface {
	Upsert(tx *gorm.DB, ownerKind string, ownerID uuid.UUID, embedding []float32) error
	Delete(tx *gorm.DB, ownerKind string, ownerIDs []uuid.UUID) error
	Search(db *gorm.DB, ownerKind string, embedding []float32, limit int) ([]Scored, error)
}

// VectorRow is the JSON-embedding row used by the sqlite backend. The postgres
// backend manages its own table with a native vector column instead.
type VectorRow struct {
	OwnerKind string    `gorm:"primaryKey;column:owner_kind"`
	OwnerID   uuid.UUID `gorm:"primaryKey;type:uuid;column:owner_id"`
	Embedding []float32 `gorm:"serializer:json;column:embedding"`
}

// TableName implements gorm.Tabler.
func (VectorRow) TableName() string { return "narrative_vectors" }

// JSONVectorOps stores embeddings as JSON and scores candidates with
// in-process cosine similarity. Adequate for the bounded episode/world sets a
// single campaign produces; the postgres backend scales past it.
type JSONVectorOps struct{}

func (JSONVectorOps) Upsert(tx *gorm.DB, ownerKind string, ownerID uuid.UUID, embedding []float32) error {
	row := VectorRow{OwnerKind: ownerKind, OwnerID: ownerID, Embedding: embedding}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_kind"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding"}),
	}).Create(&row).Error
}

func (JSONVectorOps) Delete(tx *gorm.DB, ownerKind string, ownerIDs []uuid.UUID) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	return tx.Where("owner_kind = ? AND owner_id IN ?", ownerKind, ownerIDs).
		Delete(&VectorRow{}).Error
}

func (JSONVectorOps) Search(db *gorm.DB, ownerKind string, embedding []float32, limit int) ([]Scored, error) {
	var rows []VectorRow
	if err := db.Where("owner_kind = ?", ownerKind).Find(&rows).Error; err != nil {
		return nil, err
	}
	scored := make([]Scored, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, Scored{OwnerID: row.OwnerID, Score: CosineSimilarity(embedding, row.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either is empty, zero, or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
