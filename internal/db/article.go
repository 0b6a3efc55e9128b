package db

import (
	"strings"

	"gorm.io/gorm"
)

const (
	// ArticleStatusDraft 表示文章仍在创作中。
	ArticleStatusDraft = "draft"
	// ArticleStatusReview 表示文章等待人工审阅。
	ArticleStatusReview = "review"
	// ArticleStatusPublished 表示文章已发布，可作为内链目标。
	ArticleStatusPublished = "published"
)

// 版本记录的来源标识。
const (
	VersionSourceWriter      = "writer"
	VersionSourceEditor      = "editor"
	VersionSourcePreEditShot = "pre_edit_snapshot"
	VersionSourceLinkInsert  = "link_insertion"
)

const defaultWordsPerMinute = 200

// Article 定义了生成的文章模型。流式生成开始时先落占位记录，
// 正文随 token 流增量写回；字数与阅读时长始终由正文推导，
// 每次正文变更都必须重算，不允许滞留旧值。
type Article struct {
	gorm.Model
	OutlineID    uint       `gorm:"index"`
	Outline      Outline
	Title        string
	Content      string     `gorm:"type:text"`
	RenderedHTML string     `gorm:"type:text"`
	Excerpt      string     `gorm:"type:text"`
	WordCount    int
	ReadingTime  int
	Status       string     `gorm:"size:20;default:draft;index"`
	Keywords     StringList `gorm:"type:text"`
	Site         string     `gorm:"size:100;index"`
	CanonicalURL string
	Embedding    Vector     `gorm:"type:text"`
	UserID       uint
	User         User
	Versions     []ArticleVersion
}

// TableName 指定自定义表名。
func (Article) TableName() string {
	return "articles"
}

// RecomputeDerived 按正文重算字数与阅读时长。
// wordsPerMinute <= 0 时使用默认值 200。
func (a *Article) RecomputeDerived(wordsPerMinute int) {
	if wordsPerMinute <= 0 {
		wordsPerMinute = defaultWordsPerMinute
	}
	a.WordCount = CountWords(a.Content)
	a.ReadingTime = readingTimeFor(a.WordCount, wordsPerMinute)
}

// CountWords 统计正文的词数（按空白切分）。
func CountWords(content string) int {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}
	return len(strings.Fields(trimmed))
}

func readingTimeFor(wordCount, wordsPerMinute int) int {
	if wordCount == 0 {
		return 0
	}
	minutes := wordCount / wordsPerMinute
	if wordCount%wordsPerMinute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// ArticleVersion 记录文章正文的历史版本快照。
// 撰写完成、编辑前快照、编辑完成与内链写入都会各追加一条，
// 保证任何一步失败都能回到上一份完整正文。
type ArticleVersion struct {
	gorm.Model
	ArticleID   uint `gorm:"index"`
	Article     Article
	Content     string `gorm:"type:text"`
	WordCount   int
	Source      string `gorm:"size:40"`
	Version     int
	ContentHash string
	UserID      uint
	User        User
}

// TableName 指定自定义表名。
func (ArticleVersion) TableName() string {
	return "article_versions"
}
