// Package workflow 把各阶段服务编排成从调研到内链的完整流水线。
// HTTP 层按单个操作直接驱动各服务，不经过这里的状态机；
// Pipeline 由进程内的调用方（批处理任务、嵌入式客户端）持有，
// 用来按环节顺序走完一次创作流程。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/draftflow/internal/db"
	"github.com/draftflow/internal/service"
)

// Stage 是流水线的当前环节。
type Stage string

const (
	StageConfig  Stage = "config"
	StageTopics  Stage = "topics"
	StageOutline Stage = "outline"
	StageContent Stage = "content"
	StageLinking Stage = "linking"
	StageDone    Stage = "done"
)

// ErrInvalidTransition 表示请求的环节切换不被状态机允许。
var ErrInvalidTransition = errors.New("invalid workflow transition")

var stageOrder = map[Stage]int{
	StageConfig:  0,
	StageTopics:  1,
	StageOutline: 2,
	StageContent: 3,
	StageLinking: 4,
	StageDone:    5,
}

// Snapshot 是流水线某一时刻的只读状态。
type Snapshot struct {
	Stage     Stage `json:"stage"`
	TopicID   uint  `json:"topicId,omitempty"`
	OutlineID uint  `json:"outlineId,omitempty"`
	ArticleID uint  `json:"articleId,omitempty"`
}

// Pipeline 把各阶段服务编排成一条从研究到内链的流水线。
// 每个用户会话持有一条，方法并发安全。环节只能按顺序前进，
// 回跳会作废下游环节已选定的产物。
type Pipeline struct {
	mu        sync.Mutex
	stage     Stage
	topicID   uint
	outlineID uint
	articleID uint

	research *service.ResearchService
	outlines *service.OutlineService
	writer   *service.WriterService
	editor   *service.EditorService
	linker   *service.LinkingService
}

// New 构造一条空流水线，停在 config 环节。
func New(research *service.ResearchService, outlines *service.OutlineService, writer *service.WriterService, editor *service.EditorService, linker *service.LinkingService) *Pipeline {
	return &Pipeline{
		stage:    StageConfig,
		research: research,
		outlines: outlines,
		writer:   writer,
		editor:   editor,
		linker:   linker,
	}
}

// Snapshot 返回当前状态的拷贝。
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Stage: p.stage, TopicID: p.topicID, OutlineID: p.outlineID, ArticleID: p.articleID}
}

// StartResearch 执行选题研究，成功后进入 topics 环节。
func (p *Pipeline) StartResearch(ctx context.Context, userID uint, input service.ResearchInput) ([]service.TopicCandidate, error) {
	if err := p.require(StageConfig, StageTopics); err != nil {
		return nil, err
	}

	candidates, err := p.research.Discover(ctx, userID, input)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.stage = StageTopics
	p.mu.Unlock()
	return candidates, nil
}

// SelectTopic 选定一个话题并进入 outline 环节。
// 未持久化的候选（临时引用）在本地直接拒绝，不发起任何查询。
func (p *Pipeline) SelectTopic(ref service.TopicRef) (*db.Topic, error) {
	id, ok := ref.Saved()
	if !ok {
		return nil, service.ErrTopicRefUnsaved
	}
	if err := p.require(StageTopics, StageOutline); err != nil {
		return nil, err
	}

	topic, err := p.research.GetTopic(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.topicID = topic.ID
	p.stage = StageOutline
	p.mu.Unlock()
	return topic, nil
}

// GenerateOutline 在 outline 环节为选定话题生成大纲。
func (p *Pipeline) GenerateOutline(ctx context.Context, userID uint, input service.OutlineInput, sink service.EventSink) (*db.Outline, error) {
	p.mu.Lock()
	if p.stage != StageOutline {
		p.mu.Unlock()
		return nil, p.transitionError(StageOutline)
	}
	if input.TopicID == 0 {
		input.TopicID = p.topicID
	}
	p.mu.Unlock()

	outline, err := p.outlines.Generate(ctx, userID, input, sink)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.outlineID = outline.ID
	p.mu.Unlock()
	return outline, nil
}

// ApproveOutline 批准大纲并立即进入草稿撰写。
// 撰写失败时环节回到 outline，已批准的大纲保持不变。
func (p *Pipeline) ApproveOutline(ctx context.Context, userID uint, outlineID uint, site string, sink service.EventSink) (*db.Article, error) {
	if err := p.require(StageOutline, StageContent); err != nil {
		return nil, err
	}

	outline, err := p.outlines.Approve(outlineID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.outlineID = outline.ID
	p.stage = StageContent
	p.mu.Unlock()

	article, err := p.writer.Generate(ctx, userID, service.DraftInput{OutlineID: outline.ID, Site: site}, sink)
	if err != nil {
		p.mu.Lock()
		p.stage = StageOutline
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.articleID = article.ID
	p.mu.Unlock()
	return article, nil
}

// EditArticle 在 content 环节对成稿做全文润色。
func (p *Pipeline) EditArticle(ctx context.Context, userID uint, sink service.EventSink) (*db.Article, error) {
	p.mu.Lock()
	if p.stage != StageContent || p.articleID == 0 {
		p.mu.Unlock()
		return nil, p.transitionError(StageContent)
	}
	articleID := p.articleID
	p.mu.Unlock()

	return p.editor.Edit(ctx, userID, service.EditInput{ArticleID: articleID}, sink)
}

// FinishContent 结束内容环节，进入内链推荐。
func (p *Pipeline) FinishContent() error {
	return p.advance(StageContent, StageLinking)
}

// SuggestLinks 在 linking 环节生成内链建议。
func (p *Pipeline) SuggestLinks(ctx context.Context) (*service.LinkSuggestion, error) {
	p.mu.Lock()
	if p.stage != StageLinking || p.articleID == 0 {
		p.mu.Unlock()
		return nil, p.transitionError(StageLinking)
	}
	articleID := p.articleID
	p.mu.Unlock()

	return p.linker.Suggest(ctx, articleID)
}

// ApplyLinks 写入已采纳的内链并结束流水线。
func (p *Pipeline) ApplyLinks(userID uint) (*db.Article, int, error) {
	p.mu.Lock()
	if p.stage != StageLinking || p.articleID == 0 {
		p.mu.Unlock()
		return nil, 0, p.transitionError(StageLinking)
	}
	articleID := p.articleID
	p.mu.Unlock()

	article, applied, err := p.linker.Apply(userID, articleID)
	if err != nil {
		return nil, 0, err
	}

	p.mu.Lock()
	p.stage = StageDone
	p.mu.Unlock()
	return article, applied, nil
}

// GoToStage 回跳到更早的环节，下游环节已选定的产物随之作废。
// 不允许用它向前跳过任何环节。
func (p *Pipeline) GoToStage(target Stage) error {
	targetOrder, ok := stageOrder[target]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, target)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if targetOrder > stageOrder[p.stage] {
		return fmt.Errorf("%w: cannot skip forward from %s to %s", ErrInvalidTransition, p.stage, target)
	}

	// 回跳只作废目标环节之后产出的选择：回到 content 保留成稿继续编辑，
	// 回到 outline 只作废文章，已批准的大纲留着复审重试。
	if targetOrder <= stageOrder[StageOutline] {
		p.articleID = 0
	}
	if targetOrder <= stageOrder[StageTopics] {
		p.outlineID = 0
		p.topicID = 0
	}
	p.stage = target
	return nil
}

// Reset 清空全部状态，回到 config 环节。
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageConfig
	p.topicID = 0
	p.outlineID = 0
	p.articleID = 0
}

func (p *Pipeline) require(from, to Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != from {
		return fmt.Errorf("%w: %s requires stage %s, current is %s", ErrInvalidTransition, to, from, p.stage)
	}
	return nil
}

func (p *Pipeline) advance(from, to Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != from {
		return fmt.Errorf("%w: %s requires stage %s, current is %s", ErrInvalidTransition, to, from, p.stage)
	}
	p.stage = to
	return nil
}

func (p *Pipeline) transitionError(required Stage) error {
	p.mu.Lock()
	current := p.stage
	p.mu.Unlock()
	return fmt.Errorf("%w: operation requires stage %s, current is %s", ErrInvalidTransition, required, current)
}
