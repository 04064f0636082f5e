package format

import (
	"fmt"
	"time"
)

// FmtScore renders a [0,1] value with two decimals.
func FmtScore(v float64) string { return fmt.Sprintf("%.2f", v) }

// FmtPercent renders a [0,1] ratio as a percentage.
func FmtPercent(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }

// FmtMillis formats a millisecond duration as "850ms", "2.4s" or "1m 5s".
func FmtMillis(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	s := int(d.Seconds())
	return fmt.Sprintf("%dm %ds", s/60, s%60)
}

// FmtTimestamp renders epoch millis in loc, or "-" for zero.
func FmtTimestamp(ms int64, loc *time.Location) string {
	if ms == 0 {
		return "-"
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04")
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
