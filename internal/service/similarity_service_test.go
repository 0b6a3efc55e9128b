package service

import (
	"errors"
	"math"
	"testing"

	"github.com/draftflow/internal/db"
)

func TestCosineSimilaritySelf(t *testing.T) {
	v := []float64{0.3, 0.5, 0.2}
	got, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected similarity 1, got %f", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	got, err := CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected similarity 0, got %f", got)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}); !errors.Is(err, ErrVectorDimensionMismatch) {
		t.Fatalf("expected dimension mismatch error, got %v", err)
	}
}

func TestCosineSimilarityEmpty(t *testing.T) {
	if _, err := CosineSimilarity(nil, []float64{1}); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestCosineSimilarityZeroNorm(t *testing.T) {
	got, err := CosineSimilarity([]float64{0, 0}, []float64{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %f", got)
	}
}

// 余弦为 c 的单位向量对 [1,0]
func unitVectorAt(c float64) db.Vector {
	return db.Vector{c, math.Sqrt(1 - c*c)}
}

func TestFindSimilarTopicsThresholdAndOrder(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	topics := []db.Topic{
		{Title: "close", Embedding: unitVectorAt(0.95), Status: db.TopicStatusPending},
		{Title: "medium", Embedding: unitVectorAt(0.87), Status: db.TopicStatusPending},
		{Title: "far", Embedding: unitVectorAt(0.50), Status: db.TopicStatusPending},
		{Title: "no-embedding", Status: db.TopicStatusPending},
	}
	for i := range topics {
		if err := db.DB.Create(&topics[i]).Error; err != nil {
			t.Fatalf("failed to seed topic: %v", err)
		}
	}

	svc := NewSimilarityService(db.DB)
	matches, err := svc.FindSimilarTopics(TopicQuery{
		Embedding: db.Vector{1, 0},
		Threshold: 0.85,
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Title != "close" || matches[1].Title != "medium" {
		t.Fatalf("unexpected order: %q, %q", matches[0].Title, matches[1].Title)
	}
}

func TestFindSimilarArticlesOnlyPublishedAndSiteScoped(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	articles := []db.Article{
		{Title: "published-a", Status: db.ArticleStatusPublished, Site: "blog-a", Embedding: db.Vector{1, 0}},
		{Title: "published-b", Status: db.ArticleStatusPublished, Site: "blog-b", Embedding: db.Vector{1, 0}},
		{Title: "draft-a", Status: db.ArticleStatusDraft, Site: "blog-a", Embedding: db.Vector{1, 0}},
	}
	for i := range articles {
		if err := db.DB.Create(&articles[i]).Error; err != nil {
			t.Fatalf("failed to seed article: %v", err)
		}
	}

	svc := NewSimilarityService(db.DB)
	matches, err := svc.FindSimilarArticles(ArticleQuery{
		Embedding: db.Vector{1, 0},
		Threshold: 0.70,
		Limit:     10,
		Site:      "blog-a",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(matches) != 1 || matches[0].Title != "published-a" {
		t.Fatalf("expected only published-a, got %+v", matches)
	}
}

func TestCapMatchesLimit(t *testing.T) {
	matches := []SimilarMatch{
		{Title: "low", Similarity: 0.7},
		{Title: "high", Similarity: 0.9},
		{Title: "mid", Similarity: 0.8},
	}
	capped := capMatches(matches, 2)
	if len(capped) != 2 || capped[0].Title != "high" || capped[1].Title != "mid" {
		t.Fatalf("unexpected capped matches: %+v", capped)
	}
}
