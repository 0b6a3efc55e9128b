package db

import "gorm.io/gorm"

const (
	// TopicStatusPending 表示候选话题等待人工筛选。
	TopicStatusPending = "pending"
	// TopicStatusApproved 表示话题已被采纳。
	TopicStatusApproved = "approved"
	// TopicStatusRejected 表示话题被否决。
	TopicStatusRejected = "rejected"
	// TopicStatusUsed 表示话题已经产出过草稿。
	TopicStatusUsed = "used"
)

// Topic 定义了调研阶段产出的候选话题模型。
type Topic struct {
	gorm.Model
	Title     string           `gorm:"not null"`
	Summary   string           `gorm:"type:text"`
	Angle     string
	Hook      string           `gorm:"type:text"`
	Keywords  StringList       `gorm:"type:text"`
	Sources   TopicSourceList  `gorm:"type:text"`
	Relevance float64
	Embedding Vector           `gorm:"type:text"`
	Status    string           `gorm:"size:20;default:pending;index"`
	SimilarTo SimilarTopicList `gorm:"type:text"`
	UserID    uint
	User      User
}

// TableName 指定自定义表名。
func (Topic) TableName() string {
	return "topics"
}
