package utils

import (
	"fmt"
	"time"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1D":  24 * time.Hour,
}

// TimeframeDuration returns the candle width for an exchange timeframe code.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	d, ok := timeframes[timeframe]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return d, nil
}

// ResetTime truncates t to the start of its candle for the given timeframe.
// Unknown timeframes return t unchanged.
func ResetTime(t time.Time, timeframe string) time.Time {
	d, err := TimeframeDuration(timeframe)
	if err != nil {
		return t
	}
	return t.UTC().Truncate(d)
}

// UnixMillis converts exchange millisecond timestamps to UTC time.
func UnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
