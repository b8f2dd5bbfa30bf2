package ratelimiter

import "time"

// clock returns the current time as epoch milliseconds. Every strategy
// reads time only through this seam so tests can inject exact offsets
// instead of sleeping real wall time, and so the engine has a single time
// source per process as required by the concurrency model.
type clock func() int64

func systemClock() int64 {
	return time.Now().UnixMilli()
}

// sinceMillis returns max(0, now-last): backward clock jumps never yield
// negative elapsed time, so they never grant refill/leak credit.
func sinceMillis(now, last int64) int64 {
	if now <= last {
		return 0
	}
	return now - last
}
