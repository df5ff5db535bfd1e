package utils

import (
	"time"
)

// BizDate returns the calendar date a report is attributed to, in the
// configured business timezone, formatted as YYYY-MM-DD.
func BizDate(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}

// MinuteBucket returns the minute-granularity bucket for epoch millis,
// used for per-minute counters.
func MinuteBucket(nowMs int64) int64 {
	return nowMs / 60_000
}

// NowMs returns the current epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
