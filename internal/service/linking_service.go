package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/gorm"
)

const (
	defaultOpenAILinkerModel   = "gpt-4o-mini"
	defaultDeepSeekLinkerModel = "deepseek-chat"
	defaultLinkerMaxTokens     = 2048
	defaultLinkerTemperature   = 0.2
)

// ErrLinkOpportunityNotFound 表示内链建议不存在。
var ErrLinkOpportunityNotFound = errors.New("link opportunity not found")

// LinkSuggestion 是一次内链推荐的结果集。
type LinkSuggestion struct {
	Opportunities []db.LinkOpportunity `json:"opportunities"`
	Message       string               `json:"message,omitempty"`
}

// LinkingService 负责内链阶段：先用向量检索圈出同一发布面内的
// 相似文章，再让模型从正文里挑既有文字做锚文本。
// 锚文本必须逐字存在于正文，对不上的建议直接丢弃，绝不模糊修补。
type LinkingService struct {
	db         *gorm.DB
	client     *aiChatClient
	embeddings *EmbeddingService
	similarity *SimilarityService
	articles   *ArticleService
	linkCfg    config.LinkingConfig
}

// NewLinkingService 构造默认的 LinkingService。
func NewLinkingService(gdb *gorm.DB, settings *SystemSettingService, embeddings *EmbeddingService, similarity *SimilarityService, articles *ArticleService, linkCfg config.LinkingConfig) *LinkingService {
	return &LinkingService{
		db:         gdb,
		client:     newAIChatClient(settings, defaultOpenAILinkerModel, defaultDeepSeekLinkerModel),
		embeddings: embeddings,
		similarity: similarity,
		articles:   articles,
		linkCfg:    linkCfg,
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *LinkingService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *LinkingService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *LinkingService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// Suggest 为文章生成一批内链建议并落库为 pending 状态。
// 站内没有相似文章时返回空集和一句说明，不算失败。
func (s *LinkingService) Suggest(ctx context.Context, articleID uint) (*LinkSuggestion, error) {
	article, err := s.articles.Get(articleID)
	if err != nil {
		return nil, err
	}

	vector := article.Embedding
	if len(vector) == 0 {
		vector, err = s.embeddings.Embed(ctx, embeddingTextForArticle(article))
		if err != nil {
			return nil, fmt.Errorf("embed article for linking: %w", err)
		}
	}
	if len(vector) == 0 {
		return &LinkSuggestion{Message: "文章内容为空，无法推荐内链"}, nil
	}

	matches, err := s.similarity.FindSimilarArticles(ArticleQuery{
		Embedding:  vector,
		Threshold:  s.linkCfg.MinSimilarity,
		Limit:      s.linkCfg.WorkingSetSize,
		Site:       article.Site,
		ExcludeIDs: []uint{article.ID},
	})
	if err != nil {
		return nil, err
	}
	if len(matches) > s.linkCfg.MaxSuggestions {
		matches = matches[:s.linkCfg.MaxSuggestions]
	}
	if len(matches) == 0 {
		return &LinkSuggestion{Message: "站内暂时没有足够相似的已发布文章"}, nil
	}

	targets, err := s.loadTargets(matches)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &LinkSuggestion{Message: "候选文章缺少可用链接"}, nil
	}

	proposals, err := s.proposeAnchors(ctx, article, targets)
	if err != nil {
		return nil, err
	}

	var opportunities []db.LinkOpportunity
	for _, proposal := range proposals {
		if proposal.Candidate < 1 || proposal.Candidate > len(targets) {
			log.Printf("[LINKER] dropping proposal with out-of-range candidate %d", proposal.Candidate)
			continue
		}
		anchor := strings.TrimSpace(proposal.AnchorText)
		if anchor == "" {
			continue
		}
		// 锚文本必须逐字出现在正文里，不做任何模糊修补
		if !ValidateAnchorText(article.Content, anchor) {
			log.Printf("[LINKER] dropping anchor %q: not found verbatim in article %d", anchor, article.ID)
			continue
		}

		target := targets[proposal.Candidate-1]
		opportunity := db.LinkOpportunity{
			ArticleID:       article.ID,
			TargetArticleID: target.article.ID,
			TargetTitle:     target.article.Title,
			AnchorText:      anchor,
			URL:             target.article.CanonicalURL,
			Similarity:      target.similarity,
			Rationale:       strings.TrimSpace(proposal.Rationale),
			Status:          db.LinkStatusPending,
		}
		if err := s.db.Create(&opportunity).Error; err != nil {
			return nil, fmt.Errorf("persist link opportunity: %w", err)
		}
		opportunities = append(opportunities, opportunity)
	}

	result := &LinkSuggestion{Opportunities: opportunities}
	if len(opportunities) == 0 {
		result.Message = "模型没有给出可用的锚文本建议"
	}
	return result, nil
}

// List 返回文章的全部内链建议。
func (s *LinkingService) List(articleID uint) ([]db.LinkOpportunity, error) {
	var opportunities []db.LinkOpportunity
	if err := s.db.Where("article_id = ?", articleID).
		Order("similarity desc, id asc").
		Find(&opportunities).Error; err != nil {
		return nil, err
	}
	return opportunities, nil
}

// UpdateStatus 采纳或否决一条建议。已写入正文的建议不可再改。
func (s *LinkingService) UpdateStatus(id uint, status string) (*db.LinkOpportunity, error) {
	switch status {
	case db.LinkStatusAccepted, db.LinkStatusRejected:
	default:
		return nil, fmt.Errorf("invalid link opportunity status %q", status)
	}

	var opportunity db.LinkOpportunity
	if err := s.db.First(&opportunity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkOpportunityNotFound
		}
		return nil, err
	}
	if opportunity.Status == db.LinkStatusApplied {
		return nil, fmt.Errorf("link opportunity %d is already applied", id)
	}

	if err := s.db.Model(&opportunity).Update("status", status).Error; err != nil {
		return nil, err
	}
	opportunity.Status = status
	return &opportunity, nil
}

// Apply 把已采纳的建议写入正文。每个锚点取其最后一次有效出现，
// 全部插入按位置从后往前执行，前面的偏移不会因此失效。
func (s *LinkingService) Apply(userID uint, articleID uint) (*db.Article, int, error) {
	article, err := s.articles.Get(articleID)
	if err != nil {
		return nil, 0, err
	}

	var accepted []db.LinkOpportunity
	if err := s.db.Where("article_id = ? AND status = ?", articleID, db.LinkStatusAccepted).
		Find(&accepted).Error; err != nil {
		return nil, 0, err
	}
	if len(accepted) == 0 {
		return article, 0, nil
	}

	type placement struct {
		opportunity db.LinkOpportunity
		position    int
	}
	var placements []placement
	for _, opportunity := range accepted {
		pos := findAnchorPosition(article.Content, opportunity.AnchorText)
		if pos < 0 {
			// 润色可能已经改掉了锚文本，建议随之作废
			log.Printf("[LINKER] anchor %q no longer present in article %d, rejecting", opportunity.AnchorText, articleID)
			if err := s.db.Model(&opportunity).Update("status", db.LinkStatusRejected).Error; err != nil {
				log.Printf("[LINKER] failed to reject stale opportunity %d: %v", opportunity.ID, err)
			}
			continue
		}
		placements = append(placements, placement{opportunity: opportunity, position: pos})
	}
	if len(placements) == 0 {
		return article, 0, nil
	}

	sort.Slice(placements, func(i, j int) bool {
		return placements[i].position > placements[j].position
	})

	content := article.Content
	applied := 0
	for _, p := range placements {
		anchorLen := len(p.opportunity.AnchorText)
		matched := content[p.position : p.position+anchorLen]
		content = content[:p.position] +
			"[" + matched + "](" + p.opportunity.URL + ")" +
			content[p.position+anchorLen:]

		if err := s.db.Model(&db.LinkOpportunity{}).Where("id = ?", p.opportunity.ID).
			Update("status", db.LinkStatusApplied).Error; err != nil {
			log.Printf("[LINKER] failed to mark opportunity %d applied: %v", p.opportunity.ID, err)
		}
		applied++
	}

	if err := s.articles.RefreshDerived(article, content); err != nil {
		return nil, 0, fmt.Errorf("save linked content: %w", err)
	}
	if _, err := s.articles.AppendVersion(article.ID, content, db.VersionSourceLinkInsert, userID); err != nil {
		log.Printf("[LINKER] failed to record link version for article %d: %v", article.ID, err)
	}
	return article, applied, nil
}

// ValidateAnchorText 判断锚文本是否逐字（不区分大小写）出现在正文中。
func ValidateAnchorText(content, anchor string) bool {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(anchor))
}

// findAnchorPosition 返回锚文本最后一次不在既有链接内的出现位置，
// 找不到返回 -1。匹配不区分大小写，返回的是原文的字节偏移。
func findAnchorPosition(content, anchor string) int {
	lower := strings.ToLower(content)
	needle := strings.ToLower(anchor)
	if needle == "" || len(lower) != len(content) {
		// 大小写折叠改变了字节长度时放弃偏移匹配
		if idx := strings.Index(content, anchor); idx >= 0 && !insideMarkdownLink(content, idx) && !onHeadingLine(content, idx) {
			return idx
		}
		return -1
	}

	end := len(lower)
	for {
		pos := strings.LastIndex(lower[:end], needle)
		if pos < 0 {
			return -1
		}
		if !insideMarkdownLink(content, pos) && !onHeadingLine(content, pos) {
			return pos
		}
		end = pos
	}
}

// onHeadingLine 判断偏移所在行是否为 Markdown 标题行。
// 章节标题不做内链，润色约定标题一字不动。
func onHeadingLine(content string, pos int) bool {
	start := strings.LastIndexByte(content[:pos], '\n') + 1
	return strings.HasPrefix(strings.TrimLeft(content[start:], " \t"), "#")
}

// insideMarkdownLink 用前向窗口判断偏移是否落在 [text](url) 结构内部。
func insideMarkdownLink(content string, pos int) bool {
	before := content[:pos]

	// 位于 [ 与 ] 之间说明在链接文字里
	openBracket := strings.LastIndex(before, "[")
	closeBracket := strings.LastIndex(before, "]")
	if openBracket > closeBracket {
		return true
	}

	// 位于 ]( 与 ) 之间说明在链接地址里
	openParen := strings.LastIndex(before, "](")
	closeParen := strings.LastIndex(before, ")")
	return openParen > closeParen
}

type linkTarget struct {
	article    db.Article
	similarity float64
}

func (s *LinkingService) loadTargets(matches []SimilarMatch) ([]linkTarget, error) {
	ids := make([]uint, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.ID)
	}

	var articles []db.Article
	if err := s.db.Where("id IN ?", ids).
		Where("canonical_url <> ''").
		Find(&articles).Error; err != nil {
		return nil, err
	}

	byID := make(map[uint]db.Article, len(articles))
	for _, article := range articles {
		byID[article.ID] = article
	}

	var targets []linkTarget
	for _, match := range matches {
		article, ok := byID[match.ID]
		if !ok {
			continue
		}
		targets = append(targets, linkTarget{article: article, similarity: match.Similarity})
	}
	return targets, nil
}

type anchorProposal struct {
	Candidate  int    `json:"candidate"`
	AnchorText string `json:"anchorText"`
	Rationale  string `json:"rationale"`
}

// proposeAnchors 让模型从正文既有文字中为每个候选挑选锚文本。
func (s *LinkingService) proposeAnchors(ctx context.Context, article *db.Article, targets []linkTarget) ([]anchorProposal, error) {
	prompt := buildAnchorPrompt(article, targets, s.linkCfg)
	logAIExchange("LINKER", "prompt", prompt)

	resp, err := s.client.call(ctx, aiChatRequest{
		SystemPrompt: linkerSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultLinkerMaxTokens,
		Temperature:  defaultLinkerTemperature,
	})
	if err != nil {
		return nil, err
	}
	logAIExchange("LINKER", "response", resp.Content)

	var proposals []anchorProposal
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &proposals); err != nil {
		return nil, fmt.Errorf("解析内链建议失败: %w", err)
	}
	return proposals, nil
}

const linkerSystemPrompt = "你是一名 SEO 编辑，为文章推荐站内链接。" +
	"锚文本必须是正文中逐字存在的一段既有文字，禁止改写或造新句子；" +
	"以 3 到 6 个词的短语为宜，不得选取任何章节标题里的文字，" +
	"各条锚点应分散在全文不同位置，不要集中在同一段。" +
	"请只输出 JSON 数组，不要附加任何说明。每个元素包含：" +
	"candidate（候选编号，从 1 开始）、anchorText（正文中的原文片段）、" +
	"rationale（一句话说明为何该处适合链接到该候选）。"

func buildAnchorPrompt(article *db.Article, targets []linkTarget, cfg config.LinkingConfig) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "文章标题：%s\n\n候选文章：\n", article.Title)
	for i, target := range targets {
		fmt.Fprintf(&builder, "%d. %s（相似度 %.2f）\n", i+1, target.article.Title, target.similarity)
	}
	fmt.Fprintf(&builder, "\n请推荐 %d 到 %d 条内链，每个候选最多一条。\n\n正文：\n%s\n",
		cfg.TargetLinksMin, cfg.TargetLinksMax, article.Content)
	return builder.String()
}
