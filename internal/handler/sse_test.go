package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/draftflow/internal/service"
	"github.com/draftflow/internal/workflow"
	"github.com/gin-gonic/gin"
)

func TestStreamEventsOrderAndFraming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/stream", nil)

	streamEvents(c, func(sink service.EventSink) error {
		sink(service.GenerationEvent{Type: service.EventOutlineCreated, OutlineID: 7})
		sink(service.GenerationEvent{Type: service.EventToken, Stage: service.StageOutline, Content: "片段"})
		sink(service.GenerationEvent{Type: service.EventComplete, Stage: service.StageOutline, Progress: 100})
		return nil
	})

	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	events, err := workflow.CollectEvents(strings.NewReader(recorder.Body.String()))
	if err != nil {
		t.Fatalf("stream is not valid SSE: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != service.EventOutlineCreated || events[0].OutlineID != 7 {
		t.Fatalf("placeholder must come first: %+v", events[0])
	}
	if events[len(events)-1].Type != service.EventComplete {
		t.Fatalf("complete must come last: %+v", events[len(events)-1])
	}

	terminals := 0
	for _, event := range events {
		if event.Type == service.EventComplete || event.Type == service.EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestStreamEventsErrorTerminal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/stream", nil)

	streamEvents(c, func(sink service.EventSink) error {
		sink(service.GenerationEvent{Type: service.EventError, Stage: service.StageDraft, Message: "失败", Details: "boom"})
		return nil
	})

	events, err := workflow.CollectEvents(strings.NewReader(recorder.Body.String()))
	if err != nil {
		t.Fatalf("stream is not valid SSE: %v", err)
	}
	if len(events) != 1 || events[0].Type != service.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}
