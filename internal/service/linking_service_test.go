package service

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/draftflow/internal/db"
)

func TestValidateAnchorText(t *testing.T) {
	content := "The Quick Fox jumps over the lazy dog."
	cases := []struct {
		anchor string
		want   bool
	}{
		{"quick fox", true},
		{"The Quick Fox", true},
		{"LAZY DOG", true},
		{"slow fox", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := ValidateAnchorText(content, tc.anchor); got != tc.want {
			t.Fatalf("ValidateAnchorText(%q) = %v, want %v", tc.anchor, got, tc.want)
		}
	}
}

func TestFindAnchorPositionLastOccurrence(t *testing.T) {
	content := "先谈安全，再谈效率，最后回到安全。"
	pos := findAnchorPosition(content, "安全")
	if pos != strings.LastIndex(content, "安全") {
		t.Fatalf("expected last occurrence, got %d", pos)
	}
}

func TestFindAnchorPositionSkipsExistingLinks(t *testing.T) {
	content := "前文提到[网络安全](https://a.example/post)，这里再说网络安全的细节。"
	pos := findAnchorPosition(content, "网络安全")
	if pos < 0 {
		t.Fatal("anchor should be found outside the link")
	}
	if pos == strings.Index(content, "网络安全") {
		t.Fatal("position inside the existing link must be skipped")
	}

	onlyLinked := "只在[网络安全](https://a.example/post)里出现。"
	if got := findAnchorPosition(onlyLinked, "网络安全"); got >= 0 {
		t.Fatalf("anchor only inside a link must not match, got %d", got)
	}
	if got := findAnchorPosition(onlyLinked, "a.example"); got >= 0 {
		t.Fatalf("anchor inside a link url must not match, got %d", got)
	}
}

func TestFindAnchorPositionSkipsHeadings(t *testing.T) {
	content := "# 零信任架构\n\n正文里也谈到零信任架构的落地。"
	pos := findAnchorPosition(content, "零信任架构")
	if pos < 0 {
		t.Fatal("anchor should be found in the body")
	}
	if onHeadingLine(content, pos) {
		t.Fatalf("placement landed on a heading line at %d", pos)
	}

	onlyHeading := "## 零信任架构\n\n正文完全不提这个词。"
	if got := findAnchorPosition(onlyHeading, "零信任架构"); got >= 0 {
		t.Fatalf("anchor only inside a heading must not match, got %d", got)
	}
}

func setupLinkingService(t *testing.T, handler func(*http.Request) (*http.Response, error)) *LinkingService {
	t.Helper()
	system := NewSystemSettingService(db.DB)
	seedAISettings(t, system)

	embeddings := NewEmbeddingService(system)
	embeddings.SetOpenAIBaseURL("https://openai.test/v1")
	embeddings.SetHTTPClient(fakeHTTPClient{handler: handler})

	articles := NewArticleService(db.DB, testPipelineConfig().Writer)

	svc := NewLinkingService(db.DB, system, embeddings, NewSimilarityService(db.DB), articles, testPipelineConfig().Linking)
	svc.SetOpenAIBaseURL("https://openai.test/v1")
	svc.SetHTTPClient(fakeHTTPClient{handler: handler})
	return svc
}

func TestLinkingSuggestDropsUnverifiableAnchors(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	target := db.Article{
		Title:        "零信任架构入门",
		Status:       db.ArticleStatusPublished,
		Site:         "blog-a",
		CanonicalURL: "https://blog-a.example/zero-trust",
		Embedding:    db.Vector{1, 0},
	}
	if err := db.DB.Create(&target).Error; err != nil {
		t.Fatalf("failed to seed target: %v", err)
	}

	article := db.Article{
		Title:     "远程办公的网络安全",
		Content:   "企业正在转向零信任架构，这个话题值得展开。",
		Status:    db.ArticleStatusDraft,
		Site:      "blog-a",
		Embedding: db.Vector{1, 0},
	}
	if err := db.DB.Create(&article).Error; err != nil {
		t.Fatalf("failed to seed article: %v", err)
	}

	proposals := `[{"candidate":1,"anchorText":"零信任架构","rationale":"正文点名了该主题"},` +
		`{"candidate":1,"anchorText":"正文里不存在的句子","rationale":"应当被丢弃"}]`

	svc := setupLinkingService(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		return chatResponse(proposals), nil
	})

	suggestion, err := svc.Suggest(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(suggestion.Opportunities) != 1 {
		t.Fatalf("expected exactly one surviving opportunity, got %d", len(suggestion.Opportunities))
	}
	opportunity := suggestion.Opportunities[0]
	if opportunity.AnchorText != "零信任架构" {
		t.Fatalf("unexpected anchor %q", opportunity.AnchorText)
	}
	if opportunity.URL != target.CanonicalURL || opportunity.TargetArticleID != target.ID {
		t.Fatalf("opportunity not bound to target: %+v", opportunity)
	}
	if opportunity.Status != db.LinkStatusPending {
		t.Fatalf("new opportunities must be pending, got %q", opportunity.Status)
	}
}

func TestLinkingSuggestNoSimilarContent(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	article := db.Article{
		Title:     "孤篇",
		Content:   "站内还没有别的文章。",
		Status:    db.ArticleStatusDraft,
		Embedding: db.Vector{1, 0},
	}
	if err := db.DB.Create(&article).Error; err != nil {
		t.Fatalf("failed to seed article: %v", err)
	}

	svc := setupLinkingService(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("model must not be called without candidates")
		return nil, nil
	})

	suggestion, err := svc.Suggest(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(suggestion.Opportunities) != 0 || suggestion.Message == "" {
		t.Fatalf("expected empty result with message, got %+v", suggestion)
	}
}

func TestLinkingApplyInsertsFromBackToFront(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	article := db.Article{
		Title:   "远程办公的网络安全",
		Content: "先谈零信任架构。再谈密码管理。最后回到零信任架构的落地。",
		Status:  db.ArticleStatusDraft,
	}
	if err := db.DB.Create(&article).Error; err != nil {
		t.Fatalf("failed to seed article: %v", err)
	}

	opportunities := []db.LinkOpportunity{
		{ArticleID: article.ID, AnchorText: "零信任架构", URL: "https://blog-a.example/zero-trust", Status: db.LinkStatusAccepted},
		{ArticleID: article.ID, AnchorText: "密码管理", URL: "https://blog-a.example/passwords", Status: db.LinkStatusAccepted},
		{ArticleID: article.ID, AnchorText: "被否决", URL: "https://blog-a.example/no", Status: db.LinkStatusRejected},
	}
	for i := range opportunities {
		if err := db.DB.Create(&opportunities[i]).Error; err != nil {
			t.Fatalf("failed to seed opportunity: %v", err)
		}
	}

	articles := NewArticleService(db.DB, testPipelineConfig().Writer)
	system := NewSystemSettingService(db.DB)
	svc := NewLinkingService(db.DB, system, NewEmbeddingService(system), NewSimilarityService(db.DB), articles, testPipelineConfig().Linking)

	updated, applied, err := svc.Apply(1, article.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 applied links, got %d", applied)
	}

	if !strings.Contains(updated.Content, "[零信任架构](https://blog-a.example/zero-trust)") {
		t.Fatalf("zero trust link missing: %q", updated.Content)
	}
	if !strings.Contains(updated.Content, "[密码管理](https://blog-a.example/passwords)") {
		t.Fatalf("password link missing: %q", updated.Content)
	}
	// 重复出现的锚文本只链接最后一次出现
	if !strings.HasPrefix(updated.Content, "先谈零信任架构。") {
		t.Fatalf("first occurrence must stay plain: %q", updated.Content)
	}
	if strings.Count(updated.Content, "](https://blog-a.example/zero-trust)") != 1 {
		t.Fatalf("anchor must be linked exactly once: %q", updated.Content)
	}

	versions, err := articles.ListVersions(article.ID)
	if err != nil {
		t.Fatalf("failed to list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Source != db.VersionSourceLinkInsert {
		t.Fatalf("expected one link insertion version, got %+v", versions)
	}

	var applied0 db.LinkOpportunity
	if err := db.DB.First(&applied0, opportunities[0].ID).Error; err != nil {
		t.Fatalf("failed to reload opportunity: %v", err)
	}
	if applied0.Status != db.LinkStatusApplied {
		t.Fatalf("applied opportunity should be marked applied, got %q", applied0.Status)
	}
}

func TestLinkingApplyRejectsStaleAnchors(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	article := db.Article{Title: "改过的文章", Content: "润色后的全新正文。", Status: db.ArticleStatusDraft}
	if err := db.DB.Create(&article).Error; err != nil {
		t.Fatalf("failed to seed article: %v", err)
	}

	stale := db.LinkOpportunity{ArticleID: article.ID, AnchorText: "已经不存在的句子", URL: "https://blog-a.example/x", Status: db.LinkStatusAccepted}
	if err := db.DB.Create(&stale).Error; err != nil {
		t.Fatalf("failed to seed opportunity: %v", err)
	}

	articles := NewArticleService(db.DB, testPipelineConfig().Writer)
	system := NewSystemSettingService(db.DB)
	svc := NewLinkingService(db.DB, system, NewEmbeddingService(system), NewSimilarityService(db.DB), articles, testPipelineConfig().Linking)

	updated, applied, err := svc.Apply(1, article.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 0 {
		t.Fatalf("stale anchor must not be applied, got %d", applied)
	}
	if updated.Content != "润色后的全新正文。" {
		t.Fatalf("content must stay untouched: %q", updated.Content)
	}

	var reloaded db.LinkOpportunity
	if err := db.DB.First(&reloaded, stale.ID).Error; err != nil {
		t.Fatalf("failed to reload opportunity: %v", err)
	}
	if reloaded.Status != db.LinkStatusRejected {
		t.Fatalf("stale opportunity should be rejected, got %q", reloaded.Status)
	}
}
