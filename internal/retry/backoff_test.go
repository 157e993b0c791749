package retry_test

import (
	"testing"
	"time"

	"conductor/internal/retry"
)

func TestExponentialDelay(t *testing.T) {
	strategy := retry.NewExponential(time.Second, 4, time.Minute)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, time.Second},
		{3, 4 * time.Second},
		{4, 16 * time.Second},
		{5, time.Minute},
		{6, time.Minute},
	}
	for _, tc := range cases {
		if got := strategy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestExponentialFactorFloor(t *testing.T) {
	strategy := retry.NewExponential(time.Second, 0, 0)
	if got := strategy.Delay(3); got != 2*time.Second {
		t.Fatalf("Delay(3) = %v, want 2s with default factor", got)
	}
}

func TestConstantDelay(t *testing.T) {
	strategy := retry.NewConstant(30 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := strategy.Delay(attempt); got != 30*time.Second {
			t.Fatalf("Delay(%d) = %v, want 30s", attempt, got)
		}
	}
}
