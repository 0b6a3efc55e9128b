package service

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

// ErrVectorDimensionMismatch 表示两个向量维度不一致。
// 不同维度意味着来自不同的 embedding 模型，比较结果没有意义，
// 必须直接报错而不是悄悄返回 0。
var ErrVectorDimensionMismatch = errors.New("embedding dimensions do not match")

// CosineSimilarity 计算两个向量的余弦相似度 dot(a,b)/(‖a‖·‖b‖)。
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("embedding vector is empty")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrVectorDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// SimilarMatch 是一次相似检索的单条结果。
type SimilarMatch struct {
	ID         uint    `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// SimilarityService 在存量向量上做近邻检索。
// 向量以 JSON 列存放在 SQLite 里，检索是服务侧的全量扫描；
// 数据规模是单站点的话题与文章，扫描在毫秒量级。
type SimilarityService struct {
	db *gorm.DB
}

// NewSimilarityService 构造 SimilarityService。
func NewSimilarityService(gdb *gorm.DB) *SimilarityService {
	return &SimilarityService{db: gdb}
}

// TopicQuery 描述一次话题近邻检索。
type TopicQuery struct {
	Embedding  db.Vector
	Threshold  float64
	Limit      int
	ExcludeIDs []uint
}

// FindSimilarTopics 返回相似度 >= Threshold 的存量话题，
// 按相似度从高到低排序，最多 Limit 条。
func (s *SimilarityService) FindSimilarTopics(query TopicQuery) ([]SimilarMatch, error) {
	q := s.db.Model(&db.Topic{}).
		Select("id", "title", "embedding").
		Where("embedding IS NOT NULL AND embedding != ''")
	if len(query.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", query.ExcludeIDs)
	}

	var topics []db.Topic
	if err := q.Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("load topic embeddings: %w", err)
	}

	matches := make([]SimilarMatch, 0, len(topics))
	for i := range topics {
		if len(topics[i].Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(query.Embedding, topics[i].Embedding)
		if err != nil {
			return nil, err
		}
		if similarity >= query.Threshold {
			matches = append(matches, SimilarMatch{
				ID:         topics[i].ID,
				Title:      topics[i].Title,
				Similarity: similarity,
			})
		}
	}

	return capMatches(matches, query.Limit), nil
}

// ArticleQuery 描述一次文章近邻检索，Site 非空时只在该发布面内检索。
type ArticleQuery struct {
	Embedding  db.Vector
	Threshold  float64
	Limit      int
	Site       string
	ExcludeIDs []uint
}

// FindSimilarArticles 在已发布文章中检索近邻，规则同 FindSimilarTopics。
func (s *SimilarityService) FindSimilarArticles(query ArticleQuery) ([]SimilarMatch, error) {
	q := s.db.Model(&db.Article{}).
		Select("id", "title", "embedding").
		Where("status = ?", db.ArticleStatusPublished).
		Where("embedding IS NOT NULL AND embedding != ''")
	if query.Site != "" {
		q = q.Where("site = ?", query.Site)
	}
	if len(query.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", query.ExcludeIDs)
	}

	var articles []db.Article
	if err := q.Find(&articles).Error; err != nil {
		return nil, fmt.Errorf("load article embeddings: %w", err)
	}

	matches := make([]SimilarMatch, 0, len(articles))
	for i := range articles {
		if len(articles[i].Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(query.Embedding, articles[i].Embedding)
		if err != nil {
			return nil, err
		}
		if similarity >= query.Threshold {
			matches = append(matches, SimilarMatch{
				ID:         articles[i].ID,
				Title:      articles[i].Title,
				Similarity: similarity,
			})
		}
	}

	return capMatches(matches, query.Limit), nil
}

func capMatches(matches []SimilarMatch, limit int) []SimilarMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
