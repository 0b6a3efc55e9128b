package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

const (
	defaultOpenAIWriterModel   = "gpt-4o"
	defaultDeepSeekWriterModel = "deepseek-chat"
	defaultWriterMaxTokens     = 4096
	defaultWriterTemperature   = 0.7

	// 章节字数允许在目标值上下各浮动 10%
	sectionWordBandLow  = 0.9
	sectionWordBandHigh = 1.1
)

// DraftInput 描述一次草稿撰写。
type DraftInput struct {
	OutlineID uint   `json:"outlineId"`
	Site      string `json:"site"`
}

// WriterService 负责草稿阶段：按大纲逐节流式撰写，
// 开篇、各章节、结尾分段请求，后一段带着前文上下文。
type WriterService struct {
	db         *gorm.DB
	client     *aiChatClient
	embeddings *EmbeddingService
	articles   *ArticleService
	writerCfg  config.WriterConfig
}

// NewWriterService 构造默认的 WriterService。
func NewWriterService(gdb *gorm.DB, settings *SystemSettingService, embeddings *EmbeddingService, articles *ArticleService, writerCfg config.WriterConfig) *WriterService {
	return &WriterService{
		db:         gdb,
		client:     newAIChatClient(settings, defaultOpenAIWriterModel, defaultDeepSeekWriterModel),
		embeddings: embeddings,
		articles:   articles,
		writerCfg:  writerCfg,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *WriterService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *WriterService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *WriterService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// SectionProgress 给出写完第 done 节（共 total 节）后的进度值。
// 开篇结束时进度为 60，章节阶段把 60 到 90 均匀分给各节。
func SectionProgress(done, total int) int {
	if total <= 0 {
		return 60
	}
	return 60 + int(math.Round(30*float64(done)/float64(total)))
}

// Generate 执行一次草稿撰写。sink 为 nil 时退化为同步调用。
// 占位文章最先创建，正文随各段生成增量写回，恰好一条终态事件。
func (s *WriterService) Generate(ctx context.Context, userID uint, input DraftInput, sink EventSink) (*db.Article, error) {
	emit := sinkOrDiscard(sink)

	var outline db.Outline
	if err := s.db.Preload("Topic").First(&outline, input.OutlineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrOutlineNotFound
		}
		emit(GenerationEvent{Type: EventError, Stage: StageDraft, Message: "大纲不存在或读取失败", Details: err.Error()})
		return nil, err
	}
	if !outline.Approved {
		emit(GenerationEvent{Type: EventError, Stage: StageDraft, Message: "大纲尚未批准", Details: ErrOutlineNotApproved.Error()})
		return nil, ErrOutlineNotApproved
	}

	// 占位优先：正文落地前先给调用方一个可引用的持久 ID
	article := db.Article{
		OutlineID: outline.ID,
		Title:     outline.Title,
		Status:    db.ArticleStatusDraft,
		Keywords:  outline.Keywords,
		Site:      strings.TrimSpace(input.Site),
		UserID:    userID,
	}
	if err := s.db.Create(&article).Error; err != nil {
		emit(GenerationEvent{Type: EventError, Stage: StageDraft, Message: "创建文章占位记录失败", Details: err.Error()})
		return nil, fmt.Errorf("create article placeholder: %w", err)
	}

	emit(GenerationEvent{Type: EventArticleCreated, ArticleID: article.ID})
	emit(GenerationEvent{Type: EventProgress, Stage: StageDraft, Message: "正在撰写开篇", Progress: 10})

	settings, err := s.client.settings.GetSettings()
	if err != nil {
		return nil, s.failGenerate(emit, fmt.Errorf("读取系统设置失败: %w", err))
	}

	sources := outline.Topic.Sources
	allowlist, err := s.loadLinkAllowlist(article.Site, article.ID)
	if err != nil {
		log.Printf("[WRITER] failed to load internal link allowlist: %v", err)
		allowlist = nil
	}

	throttle := newWriteThrottle(time.Duration(s.writerCfg.SaveIntervalMs) * time.Millisecond)
	var content strings.Builder
	content.WriteString("# " + outline.Title + "\n")

	if _, err := s.streamSegment(ctx, settings, buildHookPrompt(&outline, sources), article.ID, nil, &content, throttle, emit); err != nil {
		return nil, s.failGenerate(emit, err)
	}
	emit(GenerationEvent{Type: EventProgress, Stage: StageDraft, Message: "开篇完成，开始撰写正文", Progress: SectionProgress(0, len(outline.Sections))})

	var previous []string
	for i, section := range outline.Sections {
		content.WriteString("\n## " + section.Heading + "\n")

		prompt := buildSectionPrompt(&outline, i, section, previous, sources, allowlist)
		body, err := s.streamSegment(ctx, settings, prompt, article.ID, intPtr(i), &content, throttle, emit)
		if err != nil {
			return nil, s.failGenerate(emit, err)
		}

		// 下一节只带最近两节作为上下文，控制提示词长度
		previous = append(previous, body)
		if len(previous) > 2 {
			previous = previous[len(previous)-2:]
		}

		emit(GenerationEvent{
			Type:         EventProgress,
			Stage:        StageDraft,
			Message:      fmt.Sprintf("已完成第 %d/%d 节", i+1, len(outline.Sections)),
			Progress:     SectionProgress(i+1, len(outline.Sections)),
			SectionIndex: intPtr(i),
		})
	}

	content.WriteString("\n## 结语\n")
	if _, err := s.streamSegment(ctx, settings, buildConclusionPrompt(&outline), article.ID, nil, &content, throttle, emit); err != nil {
		return nil, s.failGenerate(emit, err)
	}
	emit(GenerationEvent{Type: EventProgress, Stage: StageDraft, Message: "正在整理全文", Progress: 95})

	final := content.String()

	// 收尾写入不受节流限制，且无条件执行
	saved := true
	if err := s.articles.RefreshDerived(&article, final); err != nil {
		saved = false
		emit(GenerationEvent{Type: EventWarning, Message: "草稿已生成但保存失败", Details: err.Error()})
		log.Printf("[WRITER] final save failed for article %d: %v", article.ID, err)
	}

	if saved {
		if _, err := s.articles.AppendVersion(article.ID, final, db.VersionSourceWriter, userID); err != nil {
			log.Printf("[WRITER] failed to record writer version for article %d: %v", article.ID, err)
		}
		if err := s.db.Model(&db.Topic{}).Where("id = ?", outline.TopicID).
			Update("status", db.TopicStatusUsed).Error; err != nil {
			log.Printf("[WRITER] failed to mark topic %d used: %v", outline.TopicID, err)
		}
		s.storeArticleEmbedding(ctx, &article)
	}

	emit(GenerationEvent{
		Type:     EventComplete,
		Stage:    StageDraft,
		Progress: 100,
		Article:  &article,
		Saved:    boolPtr(saved),
	})
	return &article, nil
}

// streamSegment 流式生成一段正文，token 逐个外发并节流写回持久层。
// 返回该段去掉首尾空白的文本。
func (s *WriterService) streamSegment(ctx context.Context, settings SystemSettings, prompt string, articleID uint, sectionIndex *int, content *strings.Builder, throttle *writeThrottle, emit EventSink) (string, error) {
	logAIExchange("WRITER", "prompt", prompt)

	stream, err := s.client.stream(ctx, settings, aiChatRequest{
		SystemPrompt: writerSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultWriterMaxTokens,
		Temperature:  defaultWriterTemperature,
	})
	if err != nil {
		return "", err
	}

	segment, err := drainTokens(stream, 0, func(token string) error {
		content.WriteString(token)
		emit(GenerationEvent{Type: EventToken, Stage: StageDraft, Content: token, SectionIndex: sectionIndex})

		now := time.Now()
		if throttle.ShouldWrite(now) {
			if err := s.persistDraft(articleID, content.String()); err != nil {
				log.Printf("[WRITER] incremental save failed for article %d: %v", articleID, err)
			}
			throttle.RecordWrite(now)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logAIExchange("WRITER", "response", segment)

	// 段落之间保持空行，维持 Markdown 结构
	if !strings.HasSuffix(content.String(), "\n") {
		content.WriteString("\n")
	}
	return strings.TrimSpace(segment), nil
}

// persistDraft 把当前累计正文连同派生字段一次写回。
func (s *WriterService) persistDraft(articleID uint, current string) error {
	snapshot := db.Article{Content: current}
	snapshot.RecomputeDerived(s.writerCfg.WordsPerMinute)
	return s.db.Model(&db.Article{}).Where("id = ?", articleID).
		Updates(map[string]interface{}{
			"content":      current,
			"word_count":   snapshot.WordCount,
			"reading_time": snapshot.ReadingTime,
		}).Error
}

func (s *WriterService) failGenerate(emit EventSink, cause error) error {
	emit(GenerationEvent{Type: EventError, Stage: StageDraft, Message: "草稿撰写失败", Details: cause.Error()})
	return cause
}

// loadLinkAllowlist 返回同一发布面内可作为内链目标的已发布文章。
func (s *WriterService) loadLinkAllowlist(site string, excludeID uint) ([]db.Article, error) {
	q := s.db.Model(&db.Article{}).
		Select("id", "title", "canonical_url").
		Where("status = ?", db.ArticleStatusPublished).
		Where("id <> ?", excludeID).
		Where("canonical_url <> ''")
	if site != "" {
		q = q.Where("site = ?", site)
	}
	var articles []db.Article
	if err := q.Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

// storeArticleEmbedding 为成稿生成向量并写回，失败只记日志不影响结果。
func (s *WriterService) storeArticleEmbedding(ctx context.Context, article *db.Article) {
	vector, err := s.embeddings.Embed(ctx, embeddingTextForArticle(article))
	if err != nil {
		log.Printf("[WRITER] failed to embed article %d: %v", article.ID, err)
		return
	}
	if len(vector) == 0 {
		return
	}
	if err := s.db.Model(&db.Article{}).Where("id = ?", article.ID).
		Update("embedding", vector).Error; err != nil {
		log.Printf("[WRITER] failed to store embedding for article %d: %v", article.ID, err)
		return
	}
	article.Embedding = vector
}

// embeddingTextForArticle 拼出用于向量化的文章表示：
// 标题、摘要与正文前 2000 个字符。
func embeddingTextForArticle(article *db.Article) string {
	parts := []string{article.Title}
	if article.Excerpt != "" {
		parts = append(parts, article.Excerpt)
	}
	parts = append(parts, truncateRunes(article.Content, 2000))
	return strings.Join(parts, "\n")
}

const writerSystemPrompt = "你是一名专业的内容撰稿人，按编辑给定的大纲逐段撰写文章。" +
	"只输出当前要求的这一段 Markdown 正文，不要重复标题或章节名，不要附加任何说明。" +
	"引用外部资料时只允许使用提示中给出的来源链接；" +
	"插入站内链接时只允许使用提示中给出的内链列表，列表为空则不要插入任何站内链接。"

func buildHookPrompt(outline *db.Outline, sources db.TopicSourceList) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "文章标题：%s\n", outline.Title)
	if outline.Hook != "" {
		fmt.Fprintf(&builder, "开篇思路：%s\n", outline.Hook)
	}
	writeToneAndType(&builder, outline)
	writeSources(&builder, sources)
	builder.WriteString("请撰写文章的开篇段落，引出主题并留住读者，不要写章节标题。\n")
	return builder.String()
}

func buildSectionPrompt(outline *db.Outline, index int, section db.OutlineSection, previous []string, sources db.TopicSourceList, allowlist []db.Article) string {
	low := int(float64(section.WordTarget) * sectionWordBandLow)
	high := int(float64(section.WordTarget) * sectionWordBandHigh)

	var builder strings.Builder
	fmt.Fprintf(&builder, "文章标题：%s\n", outline.Title)
	fmt.Fprintf(&builder, "当前撰写第 %d 节：%s\n", index+1, section.Heading)
	if len(section.KeyPoints) > 0 {
		fmt.Fprintf(&builder, "本节要点：%s\n", strings.Join(section.KeyPoints, "；"))
	}
	if section.WordTarget > 0 {
		fmt.Fprintf(&builder, "本节目标字数 %d，允许范围 %d 到 %d。\n", section.WordTarget, low, high)
	}
	writeToneAndType(&builder, outline)
	if len(previous) > 0 {
		builder.WriteString("前文内容（保持衔接，不要重复）：\n")
		for _, prev := range previous {
			builder.WriteString(truncateRunes(prev, 1200) + "\n---\n")
		}
	}
	writeSources(&builder, sources)
	writeLinkAllowlist(&builder, allowlist)
	builder.WriteString("请撰写本节正文，不要输出章节标题。\n")
	return builder.String()
}

func buildConclusionPrompt(outline *db.Outline) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "文章标题：%s\n", outline.Title)
	if outline.ConclusionSummary != "" {
		fmt.Fprintf(&builder, "结尾要点：%s\n", outline.ConclusionSummary)
	}
	if outline.ConclusionCTA != "" {
		fmt.Fprintf(&builder, "行动号召：%s\n", outline.ConclusionCTA)
	}
	writeToneAndType(&builder, outline)
	builder.WriteString("请撰写文章的收尾段落，总结全文并给出行动号召，不要写章节标题。\n")
	return builder.String()
}

func writeToneAndType(builder *strings.Builder, outline *db.Outline) {
	if outline.Tone != "" {
		fmt.Fprintf(builder, "语气：%s\n", outline.Tone)
	}
	if outline.ArticleType != "" {
		fmt.Fprintf(builder, "文章类型：%s\n", outline.ArticleType)
	}
}

func writeSources(builder *strings.Builder, sources db.TopicSourceList) {
	if len(sources) == 0 {
		return
	}
	builder.WriteString("可引用来源（仅限以下链接）：\n")
	for _, source := range sources {
		if source.Title != "" {
			fmt.Fprintf(builder, "- %s %s\n", source.Title, source.URL)
		} else {
			fmt.Fprintf(builder, "- %s\n", source.URL)
		}
	}
}

func writeLinkAllowlist(builder *strings.Builder, allowlist []db.Article) {
	if len(allowlist) == 0 {
		return
	}
	builder.WriteString("可用站内链接（仅限以下链接）：\n")
	for _, target := range allowlist {
		fmt.Fprintf(builder, "- %s %s\n", target.Title, target.CanonicalURL)
	}
}
