package handler

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// streamEvents 以 SSE 形式把生成事件推给客户端。
// run 在独立 goroutine 里执行，事件经缓冲通道转发，
// 写出顺序与服务产出顺序一致，每个事件写出后立即 flush。
// 客户端断开由请求 context 的取消传导给生成端。
func streamEvents(c *gin.Context, run func(sink service.EventSink) error) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(200)

	events := make(chan service.GenerationEvent, 16)
	go func() {
		defer close(events)
		if err := run(func(event service.GenerationEvent) {
			events <- event
		}); err != nil {
			// 失败终态已经由服务以 error 事件发出
			log.Printf("[SSE] generation ended with error: %v", err)
		}
	}()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[SSE] failed to marshal event: %v", err)
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
	}
}
