package machine

import (
	"testing"
	"time"
)

func TestNextBackoffDoublesAndClamps(t *testing.T) {
	step := 30 * time.Second
	max := 600 * time.Second

	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{30 * time.Second, 60 * time.Second},
		{60 * time.Second, 120 * time.Second},
		{480 * time.Second, 600 * time.Second},
		{600 * time.Second, 600 * time.Second},
	}
	for _, tc := range tests {
		if got := nextBackoff(tc.current, step, max); got != tc.want {
			t.Errorf("nextBackoff(%s) = %s, want %s", tc.current, got, tc.want)
		}
	}
}
