package utils

import (
	"time"
)

// GetCurrentTimeMillis returns current time in milliseconds since epoch
func GetCurrentTimeMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// MillisToTime converts milliseconds since epoch to time.Time
func MillisToTime(millis int64) time.Time {
	return time.Unix(0, millis*int64(time.Millisecond))
}

// TimeToMillis converts time.Time to milliseconds since epoch
func TimeToMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// FormatTime formats time in ISO 8601 format
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTime parses ISO 8601 formatted time string
func ParseTime(timeStr string) (time.Time, error) {
	return time.Parse(time.RFC3339, timeStr)
}

// IsExpiredAt checks whether an expiry time (in millis) has passed at the given instant
func IsExpiredAt(expiryMillis int64, now time.Time) bool {
	if expiryMillis == 0 {
		return false
	}
	return TimeToMillis(now) >= expiryMillis
}

// ExpiryFromDuration calculates an expiry time in millis from now plus a duration
func ExpiryFromDuration(now time.Time, d time.Duration) int64 {
	return TimeToMillis(now.Add(d))
}
