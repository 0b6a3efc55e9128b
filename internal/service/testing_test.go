package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeHTTPClient struct {
	handler func(*http.Request) (*http.Response, error)
}

func (f fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if f.handler == nil {
		return nil, errors.New("no handler configured")
	}
	return f.handler(req)
}

func setupServiceTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.User{},
		&db.Topic{},
		&db.Outline{},
		&db.Article{},
		&db.ArticleVersion{},
		&db.LinkOpportunity{},
		&db.SystemSetting{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func seedAISettings(t *testing.T, system *SystemSettingService) {
	t.Helper()
	if _, err := system.UpdateSettings(SystemSettingsInput{
		SiteName:     "DraftFlow",
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-test",
	}); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func chatResponse(content string) *http.Response {
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	raw, _ := json.Marshal(payload)
	return jsonResponse(http.StatusOK, string(raw))
}

// sseChatResponse 把给定文本按 token 切成一条流式补全响应。
func sseChatResponse(tokens ...string) *http.Response {
	var body strings.Builder
	for _, token := range tokens {
		chunk := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": token}},
			},
		}
		raw, _ := json.Marshal(chunk)
		fmt.Fprintf(&body, "data: %s\n\n", raw)
	}
	body.WriteString("data: [DONE]\n\n")

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body.String())),
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
	}
}

// sseChatFailure 先推若干 token，随后用错误帧终止整条流。
func sseChatFailure(message string, tokens ...string) *http.Response {
	var body strings.Builder
	for _, token := range tokens {
		chunk := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": token}},
			},
		}
		raw, _ := json.Marshal(chunk)
		fmt.Fprintf(&body, "data: %s\n\n", raw)
	}
	raw, _ := json.Marshal(map[string]interface{}{"error": map[string]string{"message": message}})
	fmt.Fprintf(&body, "data: %s\n\n", raw)

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body.String())),
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
	}
}

func embeddingsResponse(vectors ...[]float64) *http.Response {
	data := make([]map[string]interface{}, 0, len(vectors))
	for i, vector := range vectors {
		data = append(data, map[string]interface{}{"index": i, "embedding": vector})
	}
	raw, _ := json.Marshal(map[string]interface{}{"data": data})
	return jsonResponse(http.StatusOK, string(raw))
}

// halve 在 rune 边界把文本切成两个 token，避免拆坏多字节字符。
func halve(s string) []string {
	runes := []rune(s)
	mid := len(runes) / 2
	return []string{string(runes[:mid]), string(runes[mid:])}
}

func testPipelineConfig() config.PipelineConfig {
	return config.DefaultPipeline()
}

// eventRecorder 按顺序记录生成事件，供流式协议断言。
type eventRecorder struct {
	events []GenerationEvent
}

func (r *eventRecorder) sink() EventSink {
	return func(event GenerationEvent) {
		r.events = append(r.events, event)
	}
}

func (r *eventRecorder) typesOf() []EventType {
	types := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

func (r *eventRecorder) terminalCount() int {
	count := 0
	for _, event := range r.events {
		if event.Type == EventComplete || event.Type == EventError {
			count++
		}
	}
	return count
}
