package service

import "github.com/draftflow/internal/db"

// EventType 是流式生成协议里的事件类型。
type EventType string

const (
	// EventOutlineCreated 宣告大纲占位记录已存在、可被引用。
	EventOutlineCreated EventType = "outline_created"
	// EventArticleCreated 宣告文章占位记录已存在、可被引用。
	EventArticleCreated EventType = "article_created"
	// EventProgress 是粗粒度的阶段性进度。
	EventProgress EventType = "progress"
	// EventToken 携带一个生成的文本片段。
	EventToken EventType = "token"
	// EventComplete 是成功终态，每次请求恰好一条。
	EventComplete EventType = "complete"
	// EventError 是失败终态，每次请求恰好一条（与 complete 互斥）。
	EventError EventType = "error"
	// EventWarning 表示生成成功但某个副作用（如落库）部分失败，非终态。
	EventWarning EventType = "warning"
)

// 生成阶段名，贯穿 progress/token 事件与编排器状态。
const (
	StageResearch = "research"
	StageOutline  = "outline"
	StageDraft    = "draft"
	StageEdit     = "edit"
	StageLink     = "link"
)

// GenerationEvent 是流式生成协议的单个事件。
// 对每次请求：占位事件最先、终态事件最后、token 之间保持模型产出顺序。
type GenerationEvent struct {
	Type         EventType   `json:"type"`
	OutlineID    uint        `json:"outlineId,omitempty"`
	ArticleID    uint        `json:"articleId,omitempty"`
	Stage        string      `json:"stage,omitempty"`
	Message      string      `json:"message,omitempty"`
	Progress     int         `json:"progress,omitempty"`
	Content      string      `json:"content,omitempty"`
	SectionIndex *int        `json:"sectionIndex,omitempty"`
	Outline      *db.Outline `json:"outline,omitempty"`
	Article      *db.Article `json:"article,omitempty"`
	Saved        *bool       `json:"saved,omitempty"`
	Details      string      `json:"details,omitempty"`
}

// EventSink 消费生成事件。实现方（SSE 写出、进程内编排器、测试记录器）
// 必须保证按调用顺序投递。
type EventSink func(GenerationEvent)

// sinkOrDiscard 允许同步调用方传 nil sink。
func sinkOrDiscard(sink EventSink) EventSink {
	if sink == nil {
		return func(GenerationEvent) {}
	}
	return sink
}

func boolPtr(v bool) *bool {
	return &v
}

func intPtr(v int) *int {
	return &v
}
