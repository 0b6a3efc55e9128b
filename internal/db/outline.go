package db

import "gorm.io/gorm"

const (
	// OutlineStatusGenerating 表示大纲仍在流式生成中。
	OutlineStatusGenerating = "generating"
	// OutlineStatusReady 表示大纲内容已生成完毕。
	OutlineStatusReady = "ready"
)

// Outline 定义了文章大纲模型。生成开始前会先落一条占位记录，
// 让调用方立刻拿到稳定的 ID；生成过程中内容原地更新，
// 批准之后内容不再变化（批准是进入草稿阶段的闸门）。
type Outline struct {
	gorm.Model
	TopicID           uint               `gorm:"index"`
	Topic             Topic
	Title             string
	Hook              string             `gorm:"type:text"`
	Sections          OutlineSectionList `gorm:"type:text"`
	ConclusionSummary string             `gorm:"type:text"`
	ConclusionCTA     string
	Keywords          StringList         `gorm:"type:text"`
	// RawContent 保存流式生成期间的原始模型输出，供增量写回；
	// 生成完成后解析进上面的结构化字段。
	RawContent  string `gorm:"type:text"`
	Approved    bool   `gorm:"default:false"`
	Status      string `gorm:"size:20;default:generating"`
	Tone        string
	ArticleType string
	TargetWords int
	UserID      uint
	User        User
}

// TableName 指定自定义表名。
func (Outline) TableName() string {
	return "outlines"
}

// SectionWordSum 返回各章节目标字数之和，用于校验配额分配。
func (o *Outline) SectionWordSum() int {
	sum := 0
	for _, section := range o.Sections {
		sum += section.WordTarget
	}
	return sum
}
