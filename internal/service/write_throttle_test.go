package service

import (
	"testing"
	"time"
)

func TestWriteThrottleFirstWriteAllowed(t *testing.T) {
	throttle := newWriteThrottle(500 * time.Millisecond)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !throttle.ShouldWrite(now) {
		t.Fatal("first write should always be allowed")
	}
}

func TestWriteThrottleEnforcesInterval(t *testing.T) {
	throttle := newWriteThrottle(500 * time.Millisecond)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	throttle.RecordWrite(base)
	if throttle.ShouldWrite(base.Add(499 * time.Millisecond)) {
		t.Fatal("write inside the interval should be throttled")
	}
	if !throttle.ShouldWrite(base.Add(500 * time.Millisecond)) {
		t.Fatal("write at the interval boundary should pass")
	}
	if !throttle.ShouldWrite(base.Add(2 * time.Second)) {
		t.Fatal("write after the interval should pass")
	}
}

func TestWriteThrottleRecordAdvancesWindow(t *testing.T) {
	throttle := newWriteThrottle(500 * time.Millisecond)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	throttle.RecordWrite(base)
	throttle.RecordWrite(base.Add(600 * time.Millisecond))
	if throttle.ShouldWrite(base.Add(900 * time.Millisecond)) {
		t.Fatal("window should be measured from the latest write")
	}
	if !throttle.ShouldWrite(base.Add(1100 * time.Millisecond)) {
		t.Fatal("write past the advanced window should pass")
	}
}
