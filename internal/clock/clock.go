package clock

import "time"

// Clock abstracts the wall clock so day boundaries and start spacing can be
// driven from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
