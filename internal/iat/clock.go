package iat

import (
	"sync"
	"time"
)

// SystemClock reads the wall clock
func SystemClock() time.Time {
	return time.Now()
}

// ScriptedClock replays a fixed list of offsets from a base time. After the
// list is exhausted it keeps returning the last value.
func ScriptedClock(base time.Time, offsets ...time.Duration) Clock {
	var (
		mu sync.Mutex
		i  int
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if len(offsets) == 0 {
			return base
		}
		if i >= len(offsets) {
			return base.Add(offsets[len(offsets)-1])
		}
		at := base.Add(offsets[i])
		i++
		return at
	}
}
