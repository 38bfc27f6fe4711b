package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
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

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// Neighbor is a previously ingested raw article returned by a similarity query.
type Neighbor struct {
	RawID       uuid.UUID
	ArticleID   uuid.UUID
	ProcessedAt time.Time
	Embedding   []float32
	Similarity  float64
}

// NeighborQuery bounds a nearest-neighbour lookup.
type NeighborQuery struct {
	Embedding []float32
	ExcludeID uuid.UUID
	Since     time.Time
	Limit     int
}
