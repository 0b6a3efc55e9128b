package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

const (
	defaultOpenAIOutlineModel   = "gpt-4o-mini"
	defaultDeepSeekOutlineModel = "deepseek-chat"
	defaultOutlineMaxTokens     = 4096
	defaultOutlineTemperature   = 0.5
	defaultTargetWords          = 1500
	defaultSectionCount         = 5
	outlinePlaceholderTitle     = "生成中…"
)

var (
	// ErrOutlineNotFound 表示大纲不存在。
	ErrOutlineNotFound = errors.New("outline not found")
	// ErrOutlineNotApproved 表示大纲尚未批准，不能进入草稿阶段。
	ErrOutlineNotApproved = errors.New("outline has not been approved")
	// ErrOutlineApproved 表示大纲已批准，内容不可再修改。
	ErrOutlineApproved = errors.New("outline is approved and immutable")
)

// OutlineInput 描述一次大纲生成的配置。
type OutlineInput struct {
	TopicID      uint   `json:"topicId"`
	Tone         string `json:"tone"`
	ArticleType  string `json:"articleType"`
	TargetWords  int    `json:"targetWords"`
	SectionCount int    `json:"sectionCount"`
}

// OutlineService 负责大纲阶段：先落占位记录再流式生成，
// 结构化解析后按配额分配各章节目标字数。
type OutlineService struct {
	db        *gorm.DB
	client    *aiChatClient
	writerCfg config.WriterConfig
}

// NewOutlineService 构造默认的 OutlineService。
func NewOutlineService(gdb *gorm.DB, settings *SystemSettingService, writerCfg config.WriterConfig) *OutlineService {
	return &OutlineService{
		db:        gdb,
		client:    newAIChatClient(settings, defaultOpenAIOutlineModel, defaultDeepSeekOutlineModel),
		writerCfg: writerCfg,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *OutlineService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *OutlineService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *OutlineService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// AllocateSectionWordTargets 按总目标 T 分配各章节字数：
// S>=3 时首尾各 floor(0.1T)，中间章节均分 floor(0.8T/(S-2))；
// S==1 整篇给单节；S==2 平均对半。S-2<=0 的除法被显式排除。
func AllocateSectionWordTargets(total, sections int) []int {
	if sections <= 0 || total <= 0 {
		return nil
	}

	targets := make([]int, sections)
	switch sections {
	case 1:
		targets[0] = total
	case 2:
		targets[0] = total / 2
		targets[1] = total / 2
	default:
		edge := total / 10
		body := (total * 8 / 10) / (sections - 2)
		targets[0] = edge
		targets[sections-1] = edge
		for i := 1; i < sections-1; i++ {
			targets[i] = body
		}
	}
	return targets
}

// Generate 执行一次大纲生成。sink 为 nil 时退化为同步调用。
// 协议保证：占位事件最先、token 保持模型顺序、恰好一条终态事件。
func (s *OutlineService) Generate(ctx context.Context, userID uint, input OutlineInput, sink EventSink) (*db.Outline, error) {
	emit := sinkOrDiscard(sink)

	var topic db.Topic
	if err := s.db.First(&topic, input.TopicID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrTopicNotFound
		}
		emit(GenerationEvent{Type: EventError, Stage: StageOutline, Message: "话题不存在或读取失败", Details: err.Error()})
		return nil, err
	}

	targetWords := input.TargetWords
	if targetWords <= 0 {
		targetWords = defaultTargetWords
	}
	sectionCount := input.SectionCount
	if sectionCount <= 0 {
		sectionCount = defaultSectionCount
	}

	// 占位优先：生成开始前先给调用方一个可引用的持久 ID
	outline := db.Outline{
		TopicID:     topic.ID,
		Title:       outlinePlaceholderTitle,
		Status:      db.OutlineStatusGenerating,
		Tone:        strings.TrimSpace(input.Tone),
		ArticleType: strings.TrimSpace(input.ArticleType),
		TargetWords: targetWords,
		UserID:      userID,
	}
	if err := s.db.Create(&outline).Error; err != nil {
		emit(GenerationEvent{Type: EventError, Stage: StageOutline, Message: "创建大纲占位记录失败", Details: err.Error()})
		return nil, fmt.Errorf("create outline placeholder: %w", err)
	}

	emit(GenerationEvent{Type: EventOutlineCreated, OutlineID: outline.ID})
	emit(GenerationEvent{Type: EventProgress, Stage: StageOutline, Message: "正在生成大纲", Progress: 10})

	// 话题进入被采纳状态
	if err := s.db.Model(&db.Topic{}).Where("id = ?", topic.ID).
		Update("status", db.TopicStatusApproved).Error; err != nil {
		log.Printf("[OUTLINE] failed to mark topic %d approved: %v", topic.ID, err)
	}

	settings, err := s.client.settings.GetSettings()
	if err != nil {
		return nil, s.failGenerate(emit, &outline, fmt.Errorf("读取系统设置失败: %w", err))
	}

	userPrompt := buildOutlinePrompt(&topic, outline.Tone, outline.ArticleType, targetWords, sectionCount)
	logAIExchange("OUTLINE", "prompt", userPrompt)

	stream, err := s.client.stream(ctx, settings, aiChatRequest{
		SystemPrompt: outlineSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    defaultOutlineMaxTokens,
		Temperature:  defaultOutlineTemperature,
	})
	if err != nil {
		return nil, s.failGenerate(emit, &outline, err)
	}

	throttle := newWriteThrottle(time.Duration(s.writerCfg.SaveIntervalMs) * time.Millisecond)
	var accumulated strings.Builder

	raw, err := drainTokens(stream, 0, func(token string) error {
		accumulated.WriteString(token)
		emit(GenerationEvent{Type: EventToken, Stage: StageOutline, Content: token})

		now := time.Now()
		if throttle.ShouldWrite(now) {
			if err := s.db.Model(&db.Outline{}).Where("id = ?", outline.ID).
				Update("raw_content", accumulated.String()).Error; err != nil {
				log.Printf("[OUTLINE] incremental save failed for outline %d: %v", outline.ID, err)
			}
			throttle.RecordWrite(now)
		}
		return nil
	})
	if err != nil {
		return nil, s.failGenerate(emit, &outline, err)
	}
	logAIExchange("OUTLINE", "response", raw)

	emit(GenerationEvent{Type: EventProgress, Stage: StageOutline, Message: "正在解析大纲结构", Progress: 90})

	parsed, err := parseOutlineResponse(raw)
	if err != nil {
		return nil, s.failGenerate(emit, &outline, err)
	}

	sections := make(db.OutlineSectionList, 0, len(parsed.Sections))
	for _, section := range parsed.Sections {
		heading := strings.TrimSpace(section.Heading)
		if heading == "" {
			continue
		}
		sections = append(sections, db.OutlineSection{
			Heading:   heading,
			KeyPoints: section.KeyPoints,
		})
	}
	targets := AllocateSectionWordTargets(targetWords, len(sections))
	for i := range sections {
		sections[i].WordTarget = targets[i]
	}

	outline.Title = strings.TrimSpace(parsed.Title)
	if outline.Title == "" {
		outline.Title = topic.Title
	}
	outline.Hook = strings.TrimSpace(parsed.Hook)
	outline.Sections = sections
	outline.ConclusionSummary = strings.TrimSpace(parsed.Conclusion.Summary)
	outline.ConclusionCTA = strings.TrimSpace(parsed.Conclusion.CTA)
	outline.Keywords = db.StringList(parsed.Keywords)
	outline.RawContent = raw
	outline.Status = db.OutlineStatusReady

	// 收尾写入不受节流限制，且无条件执行
	saved := true
	if err := s.db.Save(&outline).Error; err != nil {
		// 生成已经成功，内容照常返回，只标记未保存
		saved = false
		emit(GenerationEvent{Type: EventWarning, Message: "大纲已生成但保存失败", Details: err.Error()})
		log.Printf("[OUTLINE] final save failed for outline %d: %v", outline.ID, err)
	}

	emit(GenerationEvent{
		Type:     EventComplete,
		Stage:    StageOutline,
		Progress: 100,
		Outline:  &outline,
		Saved:    boolPtr(saved),
	})
	return &outline, nil
}

// failGenerate 发出唯一的终态 error 事件并尽力保留占位记录的失败痕迹。
func (s *OutlineService) failGenerate(emit EventSink, outline *db.Outline, cause error) error {
	emit(GenerationEvent{Type: EventError, Stage: StageOutline, Message: "大纲生成失败", Details: cause.Error()})
	return cause
}

// Get 按 ID 读取大纲。
func (s *OutlineService) Get(id uint) (*db.Outline, error) {
	var outline db.Outline
	if err := s.db.Preload("Topic").First(&outline, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOutlineNotFound
		}
		return nil, err
	}
	return &outline, nil
}

// Approve 批准大纲。批准后内容不可再修改，这是进入草稿阶段的闸门。
func (s *OutlineService) Approve(id uint) (*db.Outline, error) {
	outline, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if outline.Status != db.OutlineStatusReady {
		return nil, fmt.Errorf("outline %d is not ready for approval", id)
	}
	if outline.Approved {
		return outline, nil
	}

	if err := s.db.Model(outline).Update("approved", true).Error; err != nil {
		return nil, err
	}
	outline.Approved = true
	return outline, nil
}

const outlineSystemPrompt = "你是一名资深内容编辑，负责为给定选题设计文章大纲。" +
	"请只输出 JSON 对象，不要附加任何说明。字段：title（文章标题）、" +
	"hook（开篇引入）、sections（章节数组，每个元素含 heading 与 keyPoints 数组）、" +
	"conclusion（含 summary 与 cta）、keywords（SEO 关键词数组）。" +
	"章节按行文顺序排列，首节引入、末节收尾。"

type outlinePayload struct {
	Title    string `json:"title"`
	Hook     string `json:"hook"`
	Sections []struct {
		Heading   string   `json:"heading"`
		KeyPoints []string `json:"keyPoints"`
	} `json:"sections"`
	Conclusion struct {
		Summary string `json:"summary"`
		CTA     string `json:"cta"`
	} `json:"conclusion"`
	Keywords []string `json:"keywords"`
}

func buildOutlinePrompt(topic *db.Topic, tone, articleType string, targetWords, sectionCount int) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "选题：%s\n", topic.Title)
	if topic.Summary != "" {
		fmt.Fprintf(&builder, "摘要：%s\n", topic.Summary)
	}
	if topic.Angle != "" {
		fmt.Fprintf(&builder, "切入角度：%s\n", topic.Angle)
	}
	if topic.Hook != "" {
		fmt.Fprintf(&builder, "候选钩子：%s\n", topic.Hook)
	}
	if len(topic.Keywords) > 0 {
		fmt.Fprintf(&builder, "关键词：%s\n", strings.Join(topic.Keywords, "、"))
	}
	if strings.TrimSpace(tone) != "" {
		fmt.Fprintf(&builder, "语气：%s\n", strings.TrimSpace(tone))
	}
	if strings.TrimSpace(articleType) != "" {
		fmt.Fprintf(&builder, "文章类型：%s\n", strings.TrimSpace(articleType))
	}
	fmt.Fprintf(&builder, "目标总字数：%d，章节数：%d。\n", targetWords, sectionCount)
	return builder.String()
}

func parseOutlineResponse(content string) (*outlinePayload, error) {
	cleaned := stripCodeFence(content)

	var payload outlinePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("解析大纲结果失败: %w", err)
	}
	if len(payload.Sections) == 0 {
		return nil, errors.New("模型未返回任何章节")
	}
	return &payload, nil
}
