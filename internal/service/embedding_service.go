package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftflow/internal/db"
)

// maxEmbeddingInputRunes 限制送入 embedding 模型的文本长度。
const maxEmbeddingInputRunes = 8000

// EmbeddingService 封装文本向量化：归一化空白、成批请求、长度截断。
type EmbeddingService struct {
	settings *SystemSettingService
	client   *aiChatClient
}

// NewEmbeddingService 构造 EmbeddingService。
func NewEmbeddingService(settings *SystemSettingService) *EmbeddingService {
	return &EmbeddingService{
		settings: settings,
		client:   newAIChatClient(settings, "", ""),
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *EmbeddingService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *EmbeddingService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// NormalizeEmbeddingText 把空白序列压成单个空格并去掉首尾空白。
// 同一段文字无论排版如何，送入模型前应当得到相同的输入。
func NormalizeEmbeddingText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Embed 为单段文本生成 embedding 向量。
func (s *EmbeddingService) Embed(ctx context.Context, text string) (db.Vector, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 为一批文本生成向量，返回值与输入一一对齐。
// 归一化后为空的文本不发起请求，对应位置返回 nil 向量。
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([]db.Vector, error) {
	results := make([]db.Vector, len(texts))

	var inputs []string
	var indices []int
	for i, text := range texts {
		normalized := NormalizeEmbeddingText(text)
		if normalized == "" {
			continue
		}
		normalized = truncateRunes(normalized, maxEmbeddingInputRunes)
		inputs = append(inputs, normalized)
		indices = append(indices, i)
	}

	if len(inputs) == 0 {
		return results, nil
	}

	settings, err := s.settings.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("读取系统设置失败: %w", err)
	}

	vectors, err := s.client.embed(ctx, settings, inputs)
	if err != nil {
		return nil, err
	}

	for pos, idx := range indices {
		results[idx] = db.Vector(vectors[pos])
	}
	return results, nil
}

func truncateRunes(input string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit])
}
