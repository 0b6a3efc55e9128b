package service

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/draftflow/internal/db"
)

func TestAllocateSectionWordTargets(t *testing.T) {
	cases := []struct {
		name     string
		total    int
		sections int
		want     []int
	}{
		{"five sections", 1000, 5, []int{100, 266, 266, 266, 100}},
		{"three sections", 1000, 3, []int{100, 800, 100}},
		{"single section", 1200, 1, []int{1200}},
		{"two sections", 1000, 2, []int{500, 500}},
		{"no sections", 1000, 0, nil},
		{"no budget", 0, 3, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AllocateSectionWordTargets(tc.total, tc.sections)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

const outlineStreamPayload = `{"title":"远程办公的网络安全","hook":"开篇钩子",` +
	`"sections":[{"heading":"现状","keyPoints":["趋势"]},{"heading":"风险"},{"heading":"对策"}],` +
	`"conclusion":{"summary":"总结","cta":"行动"},"keywords":["安全","远程"]}`

func setupOutlineService(t *testing.T, handler func(*http.Request) (*http.Response, error)) *OutlineService {
	t.Helper()
	system := NewSystemSettingService(db.DB)
	seedAISettings(t, system)

	svc := NewOutlineService(db.DB, system, testPipelineConfig().Writer)
	svc.SetOpenAIBaseURL("https://openai.test/v1")
	svc.SetHTTPClient(fakeHTTPClient{handler: handler})
	return svc
}

func TestOutlineGenerateStreaming(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	topic := db.Topic{Title: "远程办公", Status: db.TopicStatusPending}
	if err := db.DB.Create(&topic).Error; err != nil {
		t.Fatalf("failed to seed topic: %v", err)
	}

	svc := setupOutlineService(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		return sseChatResponse(halve(outlineStreamPayload)...), nil
	})

	recorder := &eventRecorder{}
	outline, err := svc.Generate(context.Background(), 1, OutlineInput{TopicID: topic.ID, TargetWords: 1000}, recorder.sink())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorder.events) == 0 {
		t.Fatal("expected events")
	}
	if recorder.events[0].Type != EventOutlineCreated {
		t.Fatalf("first event must announce the placeholder, got %s", recorder.events[0].Type)
	}
	if recorder.events[0].OutlineID != outline.ID {
		t.Fatalf("placeholder event carries wrong id %d", recorder.events[0].OutlineID)
	}
	last := recorder.events[len(recorder.events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event must be complete, got %s", last.Type)
	}
	if recorder.terminalCount() != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", recorder.terminalCount())
	}
	if last.Saved == nil || !*last.Saved {
		t.Fatal("complete event should report saved=true")
	}

	if outline.Title != "远程办公的网络安全" {
		t.Fatalf("unexpected title %q", outline.Title)
	}
	if outline.Status != db.OutlineStatusReady {
		t.Fatalf("expected ready status, got %q", outline.Status)
	}
	targets := []int{outline.Sections[0].WordTarget, outline.Sections[1].WordTarget, outline.Sections[2].WordTarget}
	if !reflect.DeepEqual(targets, []int{100, 800, 100}) {
		t.Fatalf("unexpected word targets %v", targets)
	}

	var reloaded db.Topic
	if err := db.DB.First(&reloaded, topic.ID).Error; err != nil {
		t.Fatalf("failed to reload topic: %v", err)
	}
	if reloaded.Status != db.TopicStatusApproved {
		t.Fatalf("topic should be approved after outline generation, got %q", reloaded.Status)
	}
}

func TestOutlineGenerateUnknownTopic(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := setupOutlineService(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("model must not be called for an unknown topic")
		return nil, nil
	})

	recorder := &eventRecorder{}
	if _, err := svc.Generate(context.Background(), 1, OutlineInput{TopicID: 999}, recorder.sink()); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	if recorder.terminalCount() != 1 || recorder.events[len(recorder.events)-1].Type != EventError {
		t.Fatal("failure must end with exactly one error event")
	}
}

func TestOutlineGenerateBadModelOutput(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	topic := db.Topic{Title: "远程办公", Status: db.TopicStatusPending}
	if err := db.DB.Create(&topic).Error; err != nil {
		t.Fatalf("failed to seed topic: %v", err)
	}

	svc := setupOutlineService(t, func(r *http.Request) (*http.Response, error) {
		return sseChatResponse("这不是 JSON"), nil
	})

	recorder := &eventRecorder{}
	if _, err := svc.Generate(context.Background(), 1, OutlineInput{TopicID: topic.ID}, recorder.sink()); err == nil {
		t.Fatal("expected parse error")
	}
	if recorder.terminalCount() != 1 || recorder.events[len(recorder.events)-1].Type != EventError {
		t.Fatal("failure must end with exactly one error event")
	}
}

func TestOutlineApproveGate(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	system := NewSystemSettingService(db.DB)
	svc := NewOutlineService(db.DB, system, testPipelineConfig().Writer)

	generating := db.Outline{Title: "生成中", Status: db.OutlineStatusGenerating}
	if err := db.DB.Create(&generating).Error; err != nil {
		t.Fatalf("failed to seed outline: %v", err)
	}
	if _, err := svc.Approve(generating.ID); err == nil {
		t.Fatal("approving an unfinished outline must fail")
	}

	ready := db.Outline{Title: "就绪", Status: db.OutlineStatusReady}
	if err := db.DB.Create(&ready).Error; err != nil {
		t.Fatalf("failed to seed outline: %v", err)
	}
	approved, err := svc.Approve(ready.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approved.Approved {
		t.Fatal("outline should be approved")
	}

	// 重复批准是幂等的
	again, err := svc.Approve(ready.ID)
	if err != nil {
		t.Fatalf("unexpected error on repeat approval: %v", err)
	}
	if !again.Approved {
		t.Fatal("repeat approval should keep the outline approved")
	}
}
