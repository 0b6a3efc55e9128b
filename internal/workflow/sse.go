package workflow

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/draftflow/internal/service"
)

// DecodeEvents 从一条 SSE 响应流中逐个解出生成事件并交给 fn。
// fn 返回错误时停止消费并原样返回该错误。流自然结束返回 nil。
func DecodeEvents(r io.Reader, fn func(service.GenerationEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event service.GenerationEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode generation event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// CollectEvents 消费整条流并按顺序返回全部事件，测试和同步调用方使用。
func CollectEvents(r io.Reader) ([]service.GenerationEvent, error) {
	var events []service.GenerationEvent
	err := DecodeEvents(r, func(event service.GenerationEvent) error {
		events = append(events, event)
		return nil
	})
	return events, err
}
