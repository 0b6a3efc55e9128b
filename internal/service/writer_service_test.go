package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/draftflow/internal/db"
)

func TestSectionProgress(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 5, 60},
		{1, 5, 66},
		{3, 5, 78},
		{5, 5, 90},
		{1, 3, 70},
		{3, 3, 90},
		{0, 0, 60},
	}
	for _, tc := range cases {
		if got := SectionProgress(tc.done, tc.total); got != tc.want {
			t.Fatalf("SectionProgress(%d, %d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}

func seedApprovedOutline(t *testing.T) db.Outline {
	t.Helper()
	topic := db.Topic{
		Title:   "远程办公",
		Status:  db.TopicStatusApproved,
		Sources: db.TopicSourceList{{URL: "https://example.com/report", Title: "趋势报告"}},
	}
	if err := db.DB.Create(&topic).Error; err != nil {
		t.Fatalf("failed to seed topic: %v", err)
	}

	outline := db.Outline{
		TopicID: topic.ID,
		Title:   "远程办公的网络安全",
		Hook:    "开篇钩子",
		Sections: db.OutlineSectionList{
			{Heading: "现状", KeyPoints: []string{"趋势"}, WordTarget: 300},
			{Heading: "对策", WordTarget: 300},
		},
		ConclusionSummary: "总结",
		ConclusionCTA:     "行动",
		TargetWords:       800,
		Status:            db.OutlineStatusReady,
		Approved:          true,
	}
	if err := db.DB.Create(&outline).Error; err != nil {
		t.Fatalf("failed to seed outline: %v", err)
	}
	return outline
}

func setupWriterService(t *testing.T, handler func(*http.Request) (*http.Response, error)) *WriterService {
	t.Helper()
	system := NewSystemSettingService(db.DB)
	seedAISettings(t, system)

	embeddings := NewEmbeddingService(system)
	embeddings.SetOpenAIBaseURL("https://openai.test/v1")
	embeddings.SetHTTPClient(fakeHTTPClient{handler: handler})

	articles := NewArticleService(db.DB, testPipelineConfig().Writer)

	svc := NewWriterService(db.DB, system, embeddings, articles, testPipelineConfig().Writer)
	svc.SetOpenAIBaseURL("https://openai.test/v1")
	svc.SetHTTPClient(fakeHTTPClient{handler: handler})
	return svc
}

func TestWriterGenerateSectionBySection(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	outline := seedApprovedOutline(t)

	segments := []string{"这是开篇。", "第一节正文。", "第二节正文。", "这是结语。"}
	streamCalls := 0
	handler := func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			if streamCalls >= len(segments) {
				t.Fatalf("unexpected extra completion call %d", streamCalls+1)
			}
			segment := segments[streamCalls]
			streamCalls++
			return sseChatResponse(halve(segment)...), nil
		case "/v1/embeddings":
			return embeddingsResponse([]float64{1, 0}), nil
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
			return nil, nil
		}
	}

	svc := setupWriterService(t, handler)
	recorder := &eventRecorder{}
	article, err := svc.Generate(context.Background(), 1, DraftInput{OutlineID: outline.ID, Site: "blog-a"}, recorder.sink())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if streamCalls != len(segments) {
		t.Fatalf("expected %d completion calls, got %d", len(segments), streamCalls)
	}
	if recorder.events[0].Type != EventArticleCreated {
		t.Fatalf("first event must announce the placeholder, got %s", recorder.events[0].Type)
	}
	last := recorder.events[len(recorder.events)-1]
	if last.Type != EventComplete || recorder.terminalCount() != 1 {
		t.Fatal("expected exactly one terminal complete event, last")
	}
	if last.Saved == nil || !*last.Saved {
		t.Fatal("complete event should report saved=true")
	}

	for _, want := range []string{"# 远程办公的网络安全", "## 现状", "## 对策", "## 结语", "第一节正文。", "这是结语。"} {
		if !strings.Contains(article.Content, want) {
			t.Fatalf("content missing %q:\n%s", want, article.Content)
		}
	}
	if article.WordCount == 0 || article.ReadingTime == 0 {
		t.Fatalf("derived fields not computed: words=%d reading=%d", article.WordCount, article.ReadingTime)
	}
	if article.RenderedHTML == "" || article.Excerpt == "" {
		t.Fatal("rendered html and excerpt should be populated")
	}

	var versions []db.ArticleVersion
	if err := db.DB.Where("article_id = ?", article.ID).Find(&versions).Error; err != nil {
		t.Fatalf("failed to load versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Source != db.VersionSourceWriter {
		t.Fatalf("expected one writer version, got %+v", versions)
	}

	var topic db.Topic
	if err := db.DB.First(&topic, outline.TopicID).Error; err != nil {
		t.Fatalf("failed to reload topic: %v", err)
	}
	if topic.Status != db.TopicStatusUsed {
		t.Fatalf("topic should be marked used, got %q", topic.Status)
	}

	var stored db.Article
	if err := db.DB.First(&stored, article.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if len(stored.Embedding) == 0 {
		t.Fatal("article embedding should be stored")
	}
}

func TestWriterGenerateRequiresApproval(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	outline := db.Outline{Title: "未批准", Status: db.OutlineStatusReady}
	if err := db.DB.Create(&outline).Error; err != nil {
		t.Fatalf("failed to seed outline: %v", err)
	}

	svc := setupWriterService(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("model must not be called before approval")
		return nil, nil
	})

	recorder := &eventRecorder{}
	if _, err := svc.Generate(context.Background(), 1, DraftInput{OutlineID: outline.ID}, recorder.sink()); !errors.Is(err, ErrOutlineNotApproved) {
		t.Fatalf("expected ErrOutlineNotApproved, got %v", err)
	}
	if recorder.terminalCount() != 1 || recorder.events[len(recorder.events)-1].Type != EventError {
		t.Fatal("failure must end with exactly one error event")
	}
}

func TestWriterTokenOrderPreserved(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	outline := seedApprovedOutline(t)

	handler := func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/v1/embeddings" {
			return embeddingsResponse([]float64{1, 0}), nil
		}
		return sseChatResponse("甲", "乙", "丙"), nil
	}

	svc := setupWriterService(t, handler)
	recorder := &eventRecorder{}
	if _, err := svc.Generate(context.Background(), 1, DraftInput{OutlineID: outline.ID}, recorder.sink()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tokens []string
	for _, event := range recorder.events {
		if event.Type == EventToken {
			tokens = append(tokens, event.Content)
		}
	}
	// 四段各三个 token，顺序与模型产出一致
	if len(tokens) != 12 {
		t.Fatalf("expected 12 tokens, got %d", len(tokens))
	}
	for i := 0; i < len(tokens); i += 3 {
		if tokens[i] != "甲" || tokens[i+1] != "乙" || tokens[i+2] != "丙" {
			t.Fatalf("token order broken at %d: %v", i, tokens[i:i+3])
		}
	}
}
