package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	base := 5 * time.Second
	max := 5 * time.Minute

	cases := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"attempt below one treated as one", 0, 5 * time.Second},
		{"first attempt", 1, 5 * time.Second},
		{"second attempt doubles", 2, 10 * time.Second},
		{"third attempt doubles again", 3, 20 * time.Second},
		{"large attempt capped", 10, max},
		{"huge attempt does not overflow", 200, max},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RetryDelay(tc.attempt, base, max))
		})
	}
}

func TestRetryDelayZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(3, 0, time.Minute))
}
