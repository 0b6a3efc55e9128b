package db

import "gorm.io/gorm"

const (
	// LinkStatusPending 表示内链建议等待人工确认。
	LinkStatusPending = "pending"
	// LinkStatusAccepted 表示建议已被采纳并写入正文。
	LinkStatusAccepted = "accepted"
	// LinkStatusRejected 表示建议被否决。
	LinkStatusRejected = "rejected"
	// LinkStatusApplied 表示建议对应的链接已写入正文。
	LinkStatusApplied = "applied"
)

// LinkOpportunity 定义了一条内链建议：把正文里一段既有文字
// 链接到一篇已发布的相关文章。锚文本必须逐字（不区分大小写）
// 存在于正文中，找不到的建议直接作废，绝不强行插入。
type LinkOpportunity struct {
	gorm.Model
	ArticleID       uint `gorm:"index"`
	Article         Article
	TargetArticleID uint
	TargetTitle     string
	AnchorText      string
	URL             string
	Similarity      float64
	Rationale       string `gorm:"type:text"`
	Status          string `gorm:"size:20;default:pending"`
}

// TableName 指定自定义表名。
func (LinkOpportunity) TableName() string {
	return "link_opportunities"
}
