package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

const (
	defaultOpenAIEditorModel   = "gpt-4o"
	defaultDeepSeekEditorModel = "deepseek-chat"
	defaultEditorMaxTokens     = 8192
	defaultEditorTemperature   = 0.3
)

// EditInput 描述一次全文润色。
type EditInput struct {
	ArticleID uint `json:"articleId"`
}

// EditorService 负责编辑阶段：整篇重写一遍，清掉机器腔，
// 但不改动事实、链接与章节标题。开始前先留一份完整快照，
// 任何一步失败都能回退。
type EditorService struct {
	db         *gorm.DB
	client     *aiChatClient
	embeddings *EmbeddingService
	articles   *ArticleService
	writerCfg  config.WriterConfig
}

// NewEditorService 构造默认的 EditorService。
func NewEditorService(gdb *gorm.DB, settings *SystemSettingService, embeddings *EmbeddingService, articles *ArticleService, writerCfg config.WriterConfig) *EditorService {
	return &EditorService{
		db:         gdb,
		client:     newAIChatClient(settings, defaultOpenAIEditorModel, defaultDeepSeekEditorModel),
		embeddings: embeddings,
		articles:   articles,
		writerCfg:  writerCfg,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *EditorService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *EditorService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *EditorService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// Edit 对文章执行一次全文润色。sink 为 nil 时退化为同步调用。
func (s *EditorService) Edit(ctx context.Context, userID uint, input EditInput, sink EventSink) (*db.Article, error) {
	emit := sinkOrDiscard(sink)

	article, err := s.articles.Get(input.ArticleID)
	if err != nil {
		emit(GenerationEvent{Type: EventError, Stage: StageEdit, Message: "文章不存在或读取失败", Details: err.Error()})
		return nil, err
	}
	if strings.TrimSpace(article.Content) == "" {
		err := fmt.Errorf("article %d has no content to edit", article.ID)
		emit(GenerationEvent{Type: EventError, Stage: StageEdit, Message: "文章正文为空", Details: err.Error()})
		return nil, err
	}

	// 流式请求发出之前先留快照，编辑中断时原文不丢
	original := article.Content
	if _, err := s.articles.AppendVersion(article.ID, original, db.VersionSourcePreEditShot, userID); err != nil {
		emit(GenerationEvent{Type: EventError, Stage: StageEdit, Message: "编辑前快照失败", Details: err.Error()})
		return nil, err
	}

	emit(GenerationEvent{Type: EventProgress, Stage: StageEdit, Message: "正在润色全文", Progress: 10})

	settings, err := s.client.settings.GetSettings()
	if err != nil {
		return nil, s.failEdit(emit, article, original, fmt.Errorf("读取系统设置失败: %w", err))
	}

	prompt := buildEditPrompt(article)
	logAIExchange("EDITOR", "prompt", prompt)

	stream, err := s.client.stream(ctx, settings, aiChatRequest{
		SystemPrompt: editorSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultEditorMaxTokens,
		Temperature:  defaultEditorTemperature,
	})
	if err != nil {
		return nil, s.failEdit(emit, article, original, err)
	}

	throttle := newWriteThrottle(time.Duration(s.writerCfg.SaveIntervalMs) * time.Millisecond)
	var accumulated strings.Builder

	edited, err := drainTokens(stream, 0, func(token string) error {
		accumulated.WriteString(token)
		emit(GenerationEvent{Type: EventToken, Stage: StageEdit, Content: token})

		now := time.Now()
		if throttle.ShouldWrite(now) {
			if err := s.db.Model(&db.Article{}).Where("id = ?", article.ID).
				Update("content", accumulated.String()).Error; err != nil {
				log.Printf("[EDITOR] incremental save failed for article %d: %v", article.ID, err)
			}
			throttle.RecordWrite(now)
		}
		return nil
	})
	if err != nil {
		return nil, s.failEdit(emit, article, original, err)
	}
	logAIExchange("EDITOR", "response", edited)

	emit(GenerationEvent{Type: EventProgress, Stage: StageEdit, Message: "正在做机械清理", Progress: 90})

	final := CleanEditedContent(edited)
	if strings.TrimSpace(final) == "" {
		return nil, s.failEdit(emit, article, original, fmt.Errorf("model returned empty edit for article %d", article.ID))
	}

	// 收尾写入不受节流限制，且无条件执行
	saved := true
	if err := s.articles.RefreshDerived(article, final); err != nil {
		saved = false
		emit(GenerationEvent{Type: EventWarning, Message: "润色已完成但保存失败", Details: err.Error()})
		log.Printf("[EDITOR] final save failed for article %d: %v", article.ID, err)
	}

	if saved {
		if _, err := s.articles.AppendVersion(article.ID, final, db.VersionSourceEditor, userID); err != nil {
			log.Printf("[EDITOR] failed to record editor version for article %d: %v", article.ID, err)
		}
		s.refreshEmbedding(ctx, article)
	}

	emit(GenerationEvent{
		Type:     EventComplete,
		Stage:    StageEdit,
		Progress: 100,
		Article:  article,
		Saved:    boolPtr(saved),
	})
	return article, nil
}

// failEdit 终止一次失败的润色。增量写回可能已经把半成品写进正文，
// 先用编辑前的内容覆盖回去，再发出失败终态。
func (s *EditorService) failEdit(emit EventSink, article *db.Article, original string, cause error) error {
	if err := s.articles.RefreshDerived(article, original); err != nil {
		emit(GenerationEvent{Type: EventWarning, Stage: StageEdit, Message: "恢复编辑前正文失败", Details: err.Error()})
		log.Printf("[EDITOR] failed to restore article %d after aborted edit: %v", article.ID, err)
	}
	emit(GenerationEvent{Type: EventError, Stage: StageEdit, Message: "全文润色失败", Details: cause.Error()})
	return cause
}

// refreshEmbedding 在正文变更后重算文章向量，失败只记日志。
func (s *EditorService) refreshEmbedding(ctx context.Context, article *db.Article) {
	vector, err := s.embeddings.Embed(ctx, embeddingTextForArticle(article))
	if err != nil {
		log.Printf("[EDITOR] failed to embed article %d: %v", article.ID, err)
		return
	}
	if len(vector) == 0 {
		return
	}
	if err := s.db.Model(&db.Article{}).Where("id = ?", article.ID).
		Update("embedding", vector).Error; err != nil {
		log.Printf("[EDITOR] failed to store embedding for article %d: %v", article.ID, err)
		return
	}
	article.Embedding = vector
}

// CleanEditedContent 对模型改稿做机械清理：去掉破折号、
// 删除完全重复的相邻段落。模型声称改了不等于真的改了。
func CleanEditedContent(content string) string {
	cleaned := StripEmDashes(stripCodeFence(content))
	return DedupeParagraphs(cleaned)
}

// StripEmDashes 把破折号替换为中文逗号。破折号是典型的机器行文痕迹。
func StripEmDashes(content string) string {
	replacer := strings.NewReplacer(
		"——", "，",
		" — ", "，",
		"—", "，",
	)
	return replacer.Replace(content)
}

// DedupeParagraphs 删除与前文完全重复的段落，标题行不参与判重。
func DedupeParagraphs(content string) string {
	paragraphs := strings.Split(content, "\n\n")
	seen := make(map[string]bool, len(paragraphs))

	var kept []string
	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			kept = append(kept, paragraph)
			continue
		}
		if seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		kept = append(kept, paragraph)
	}
	return strings.Join(kept, "\n\n")
}

const editorSystemPrompt = "你是一名严格的文字编辑，对整篇文章做一次彻底润色。" +
	"要求：删除重复表达的句子和段落；去掉破折号和套话式的排比；让语句更自然紧凑。" +
	"绝对不能改动：事实与数据、所有链接（包括链接文字与地址）、各级章节标题。" +
	"只输出润色后的完整 Markdown 正文，不要附加任何说明。"

func buildEditPrompt(article *db.Article) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "文章标题：%s\n", article.Title)
	builder.WriteString("以下是文章全文，请润色后完整输出：\n\n")
	builder.WriteString(article.Content)
	return builder.String()
}
