package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

const (
	defaultOpenAIResearchModel   = "gpt-4o-mini"
	defaultDeepSeekResearchModel = "deepseek-chat"
	defaultResearchMaxTokens     = 4096
	defaultResearchTemperature   = 0.7
	defaultTopicCount            = 5
	maxTopicCount                = 10
	similarAnnotationLimit       = 5
)

var (
	// ErrNicheRequired 表示调研请求缺少主题领域。
	ErrNicheRequired = errors.New("niche is required")
	// ErrTopicNotFound 表示话题不存在。
	ErrTopicNotFound = errors.New("topic not found")
)

// ResearchInput 描述一次话题调研的配置。
type ResearchInput struct {
	Niche    string   `json:"niche"`
	Audience string   `json:"audience"`
	Tone     string   `json:"tone"`
	Count    int      `json:"count"`
	SeedURLs []string `json:"seedUrls"`
}

// TopicCandidate 是调研产出的单个候选话题。
// Saved 为 false 时 TempID 携带临时键，此候选不能进入后续阶段。
type TopicCandidate struct {
	Ref       TopicRef          `json:"-"`
	ID        uint              `json:"id,omitempty"`
	TempID    string            `json:"tempId,omitempty"`
	Saved     bool              `json:"saved"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	Angle     string            `json:"angle,omitempty"`
	Hook      string            `json:"hook,omitempty"`
	Keywords  []string          `json:"keywords,omitempty"`
	Sources   []db.TopicSource  `json:"sources,omitempty"`
	Relevance float64           `json:"relevance"`
	SimilarTo []db.SimilarTopic `json:"similarTo,omitempty"`
	SaveError string            `json:"saveError,omitempty"`
}

// ResearchService 负责调研阶段：调用模型发现候选话题、
// 生成 embedding、查重过滤、落库。
type ResearchService struct {
	db         *gorm.DB
	client     *aiChatClient
	embeddings *EmbeddingService
	similarity *SimilarityService
	simCfg     config.SimilarityConfig
	sourceHTTP httpDoer
}

// NewResearchService 构造默认的 ResearchService。
func NewResearchService(gdb *gorm.DB, settings *SystemSettingService, embeddings *EmbeddingService, similarity *SimilarityService, simCfg config.SimilarityConfig) *ResearchService {
	return &ResearchService{
		db:         gdb,
		client:     newAIChatClient(settings, defaultOpenAIResearchModel, defaultDeepSeekResearchModel),
		embeddings: embeddings,
		similarity: similarity,
		simCfg:     simCfg,
		sourceHTTP: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetHTTPClient 覆盖模型调用的 HTTP 客户端，主要用于测试。
func (s *ResearchService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetSourceHTTPClient 覆盖抓取参考来源用的 HTTP 客户端。
func (s *ResearchService) SetSourceHTTPClient(client httpDoer) {
	if client == nil {
		s.sourceHTTP = &http.Client{Timeout: 15 * time.Second}
		return
	}
	s.sourceHTTP = client
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *ResearchService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *ResearchService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// Discover 执行一次完整调研。模型调用失败时整个操作失败，
// 不会留下半套候选；单个候选落库失败不影响其余候选，
// 该候选以临时引用返回。
func (s *ResearchService) Discover(ctx context.Context, userID uint, input ResearchInput) ([]TopicCandidate, error) {
	niche := strings.TrimSpace(input.Niche)
	if niche == "" {
		return nil, ErrNicheRequired
	}

	count := input.Count
	if count <= 0 {
		count = defaultTopicCount
	}
	if count > maxTopicCount {
		count = maxTopicCount
	}

	sources := s.collectSeedSources(ctx, input.SeedURLs)

	userPrompt := buildResearchPrompt(niche, input.Audience, input.Tone, count, sources)
	logAIExchange("RESEARCH", "prompt", userPrompt)

	result, err := s.client.call(ctx, aiChatRequest{
		SystemPrompt: researchSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    defaultResearchMaxTokens,
		Temperature:  defaultResearchTemperature,
	})
	if err != nil {
		return nil, err
	}
	logAIExchange("RESEARCH", "response", result.Content)

	raw, err := parseResearchResponse(result.Content)
	if err != nil {
		return nil, err
	}

	candidates := make([]TopicCandidate, 0, len(raw))
	texts := make([]string, 0, len(raw))
	for _, item := range raw {
		candidate := TopicCandidate{
			Title:     strings.TrimSpace(item.Title),
			Summary:   strings.TrimSpace(item.Summary),
			Angle:     strings.TrimSpace(item.Angle),
			Hook:      strings.TrimSpace(item.Hook),
			Keywords:  item.Keywords,
			Relevance: clampRelevance(item.Relevance),
			Sources:   matchSources(item.SourceURLs, sources),
		}
		if candidate.Title == "" {
			continue
		}
		candidates = append(candidates, candidate)
		texts = append(texts, candidate.Title+"\n"+candidate.Summary)
	}

	if len(candidates) == 0 {
		return nil, errors.New("模型未返回可用的候选话题")
	}

	vectors, err := s.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		// 向量失败不丢弃调研结果：没有 embedding 的候选跳过查重直接透传
		log.Printf("[RESEARCH] embedding generation failed, skipping dedup: %v", err)
		vectors = make([]db.Vector, len(candidates))
	}

	kept := make([]TopicCandidate, 0, len(candidates))
	for i := range candidates {
		embedding := vectors[i]
		if len(embedding) == 0 {
			// 没有向量就没有重复的证据，原样保留
			s.persistCandidate(&candidates[i], nil, userID)
			kept = append(kept, candidates[i])
			continue
		}

		matches, err := s.similarity.FindSimilarTopics(TopicQuery{
			Embedding: embedding,
			Threshold: s.simCfg.SurfaceThreshold,
			Limit:     similarAnnotationLimit,
		})
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 && isDefiniteDuplicate(matches[0].Similarity, s.simCfg.DuplicateThreshold) {
			log.Printf("[RESEARCH] dropping duplicate topic %q (%.4f to #%d %q)",
				candidates[i].Title, matches[0].Similarity, matches[0].ID, matches[0].Title)
			continue
		}

		for _, match := range matches {
			candidates[i].SimilarTo = append(candidates[i].SimilarTo, db.SimilarTopic{
				TopicID:    match.ID,
				Title:      match.Title,
				Similarity: match.Similarity,
			})
		}

		s.persistCandidate(&candidates[i], embedding, userID)
		kept = append(kept, candidates[i])
	}

	return kept, nil
}

// isDefiniteDuplicate 判定最近邻相似度是否构成重复。
// 阈值本身不算重复，只有严格大于才剔除候选。
func isDefiniteDuplicate(nearest, threshold float64) bool {
	return nearest > threshold
}

// persistCandidate 尝试落库；失败时候选降级为临时引用，内容保留。
func (s *ResearchService) persistCandidate(candidate *TopicCandidate, embedding db.Vector, userID uint) {
	topic := db.Topic{
		Title:     candidate.Title,
		Summary:   candidate.Summary,
		Angle:     candidate.Angle,
		Hook:      candidate.Hook,
		Keywords:  db.StringList(candidate.Keywords),
		Sources:   db.TopicSourceList(candidate.Sources),
		Relevance: candidate.Relevance,
		Embedding: embedding,
		Status:    db.TopicStatusPending,
		SimilarTo: db.SimilarTopicList(candidate.SimilarTo),
		UserID:    userID,
	}

	if err := s.db.Create(&topic).Error; err != nil {
		log.Printf("[RESEARCH] failed to persist topic %q: %v", candidate.Title, err)
		candidate.Ref = NewUnsavedTopicRef()
		candidate.TempID = candidate.Ref.String()
		candidate.Saved = false
		candidate.SaveError = err.Error()
		return
	}

	candidate.Ref = SavedTopicRef(topic.ID)
	candidate.ID = topic.ID
	candidate.Saved = true
}

// GetTopic 按 ID 读取话题。
func (s *ResearchService) GetTopic(id uint) (*db.Topic, error) {
	var topic db.Topic
	if err := s.db.First(&topic, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopicNotFound
		}
		return nil, err
	}
	return &topic, nil
}

// ListTopics 按创建时间倒序返回话题，status 非空时过滤状态。
func (s *ResearchService) ListTopics(status string) ([]db.Topic, error) {
	q := s.db.Model(&db.Topic{}).Order("created_at desc")
	if strings.TrimSpace(status) != "" {
		q = q.Where("status = ?", strings.TrimSpace(status))
	}
	var topics []db.Topic
	if err := q.Find(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

// UpdateTopicStatus 更新话题状态。
func (s *ResearchService) UpdateTopicStatus(id uint, status string) (*db.Topic, error) {
	switch status {
	case db.TopicStatusPending, db.TopicStatusApproved, db.TopicStatusRejected, db.TopicStatusUsed:
	default:
		return nil, fmt.Errorf("invalid topic status %q", status)
	}

	topic, err := s.GetTopic(id)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(topic).Update("status", status).Error; err != nil {
		return nil, err
	}
	topic.Status = status
	return topic, nil
}

// collectSeedSources 抓取参考来源的标题与描述，失败的来源只保留 URL。
func (s *ResearchService) collectSeedSources(ctx context.Context, urls []string) []db.TopicSource {
	var sources []db.TopicSource
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		source := db.TopicSource{URL: trimmed}
		if meta, err := s.fetchSourceMeta(ctx, trimmed); err != nil {
			log.Printf("[RESEARCH] failed to fetch source %s: %v", trimmed, err)
		} else {
			source.Title = meta
		}
		sources = append(sources, source)
	}
	return sources
}

// fetchSourceMeta 抓取页面并提取 <title>（缺失时回退 meta description）。
func (s *ResearchService) fetchSourceMeta(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "draftflow-research/1.0")

	client := s.sourceHTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[name="description"]`).Attr("content")
		title = strings.TrimSpace(title)
	}
	return title, nil
}

const researchSystemPrompt = "你是一名内容策划，负责为指定领域的博客挖掘值得写的选题。" +
	"请只输出 JSON 数组，不要附加任何说明文字。每个元素包含字段：" +
	"title（选题标题）、summary（两三句话的摘要）、angle（切入角度）、" +
	"hook（开篇钩子）、keywords（SEO 关键词数组）、relevance（0 到 1 的相关度评分）、" +
	"sourceUrls（引用的参考来源 URL 数组，只能使用提供的来源，没有则为空数组）。"

type researchTopicPayload struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Angle      string   `json:"angle"`
	Hook       string   `json:"hook"`
	Keywords   []string `json:"keywords"`
	Relevance  float64  `json:"relevance"`
	SourceURLs []string `json:"sourceUrls"`
}

func buildResearchPrompt(niche, audience, tone string, count int, sources []db.TopicSource) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "领域：%s\n", niche)
	if strings.TrimSpace(audience) != "" {
		fmt.Fprintf(&builder, "目标读者：%s\n", strings.TrimSpace(audience))
	}
	if strings.TrimSpace(tone) != "" {
		fmt.Fprintf(&builder, "语气风格：%s\n", strings.TrimSpace(tone))
	}
	fmt.Fprintf(&builder, "需要 %d 个候选选题。\n", count)

	if len(sources) > 0 {
		builder.WriteString("\n可引用的参考来源：\n")
		for i, source := range sources {
			if source.Title != "" {
				fmt.Fprintf(&builder, "%d. %s — %s\n", i+1, source.Title, source.URL)
			} else {
				fmt.Fprintf(&builder, "%d. %s\n", i+1, source.URL)
			}
		}
	}

	return builder.String()
}

func parseResearchResponse(content string) ([]researchTopicPayload, error) {
	cleaned := stripCodeFence(content)

	var topics []researchTopicPayload
	if err := json.Unmarshal([]byte(cleaned), &topics); err != nil {
		return nil, fmt.Errorf("解析调研结果失败: %w", err)
	}
	return topics, nil
}

// stripCodeFence 去掉模型偶尔包裹的 ```json 代码栅栏。
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func clampRelevance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func matchSources(urls []string, available []db.TopicSource) []db.TopicSource {
	if len(urls) == 0 {
		return nil
	}

	byURL := make(map[string]db.TopicSource, len(available))
	for _, source := range available {
		byURL[source.URL] = source
	}

	var matched []db.TopicSource
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		if source, ok := byURL[trimmed]; ok {
			matched = append(matched, source)
			continue
		}
		// 模型只能引用提供的来源，未知 URL 一律丢弃
		log.Printf("[RESEARCH] dropping uncited source url %q", trimmed)
	}
	return matched
}
