package service

import "time"

// writeThrottle 限制增量落库的频率：不论 token 到达多快，
// 全量内容至多每个 interval 写回一次，避免快模型打满存储。
// 首次写入（占位）与流结束后的收尾写入不受限制，由调用方直接落库。
type writeThrottle struct {
	interval  time.Duration
	lastWrite time.Time
}

func newWriteThrottle(interval time.Duration) *writeThrottle {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &writeThrottle{interval: interval}
}

// ShouldWrite 判断在 now 时刻是否允许一次写回。
// 从未写过时恒为 true；距上次写回不足 interval 时为 false。
func (t *writeThrottle) ShouldWrite(now time.Time) bool {
	if t.lastWrite.IsZero() {
		return true
	}
	return now.Sub(t.lastWrite) >= t.interval
}

// RecordWrite 记录一次已发生的写回。
func (t *writeThrottle) RecordWrite(now time.Time) {
	t.lastWrite = now
}
