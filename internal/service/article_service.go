package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

// ErrArticleNotFound 表示文章不存在。
var ErrArticleNotFound = errors.New("article not found")

// ArticleService 封装文章的读取、状态流转与版本记录。
type ArticleService struct {
	db        *gorm.DB
	writerCfg config.WriterConfig
}

// NewArticleService 构造 ArticleService。
func NewArticleService(gdb *gorm.DB, writerCfg config.WriterConfig) *ArticleService {
	return &ArticleService{db: gdb, writerCfg: writerCfg}
}

// Get 按 ID 读取文章。
func (s *ArticleService) Get(id uint) (*db.Article, error) {
	var article db.Article
	if err := s.db.Preload("Outline").First(&article, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	return &article, nil
}

// List 按创建时间倒序返回文章，status/site 非空时过滤。
func (s *ArticleService) List(status, site string) ([]db.Article, error) {
	q := s.db.Model(&db.Article{}).Order("created_at desc")
	if strings.TrimSpace(status) != "" {
		q = q.Where("status = ?", strings.TrimSpace(status))
	}
	if strings.TrimSpace(site) != "" {
		q = q.Where("site = ?", strings.TrimSpace(site))
	}
	var articles []db.Article
	if err := q.Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

// UpdateStatus 更新文章状态（draft/review/published）。
func (s *ArticleService) UpdateStatus(id uint, status string) (*db.Article, error) {
	switch status {
	case db.ArticleStatusDraft, db.ArticleStatusReview, db.ArticleStatusPublished:
	default:
		return nil, fmt.Errorf("invalid article status %q", status)
	}

	article, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(article).Update("status", status).Error; err != nil {
		return nil, err
	}
	article.Status = status
	return article, nil
}

// ListVersions 返回文章的版本历史，最新在前。
func (s *ArticleService) ListVersions(articleID uint) ([]db.ArticleVersion, error) {
	var versions []db.ArticleVersion
	if err := s.db.Where("article_id = ?", articleID).
		Order("version desc, id desc").
		Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// AppendVersion 为文章追加一条版本快照，记录产出来源。
func (s *ArticleService) AppendVersion(articleID uint, content, source string, userID uint) (*db.ArticleVersion, error) {
	var latest int64
	if err := s.db.Model(&db.ArticleVersion{}).
		Where("article_id = ?", articleID).
		Count(&latest).Error; err != nil {
		return nil, err
	}

	version := db.ArticleVersion{
		ArticleID:   articleID,
		Content:     content,
		WordCount:   db.CountWords(content),
		Source:      source,
		Version:     int(latest) + 1,
		ContentHash: contentHash(content),
		UserID:      userID,
	}
	if err := s.db.Create(&version).Error; err != nil {
		return nil, fmt.Errorf("append article version: %w", err)
	}
	return &version, nil
}

// RefreshDerived 以给定正文刷新文章的派生字段并落库。
// 字数与阅读时长必须随每次正文变更重算，不允许滞留旧值。
func (s *ArticleService) RefreshDerived(article *db.Article, content string) error {
	article.Content = content
	article.RecomputeDerived(s.writerCfg.WordsPerMinute)
	article.Excerpt = BuildExcerpt(content, 0)

	rendered, err := RenderMarkdown(content)
	if err != nil {
		return fmt.Errorf("render article markdown: %w", err)
	}
	article.RenderedHTML = rendered

	return s.db.Model(&db.Article{}).Where("id = ?", article.ID).
		Updates(map[string]interface{}{
			"content":       article.Content,
			"rendered_html": article.RenderedHTML,
			"excerpt":       article.Excerpt,
			"word_count":    article.WordCount,
			"reading_time":  article.ReadingTime,
		}).Error
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
