package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{}

func (transientErr) Error() string   { return "database is locked" }
func (transientErr) Retryable() bool { return true }

var errFatal = errors.New("disk I/O error")

// failing returns an operation that fails with failErr for the first n
// calls and succeeds afterwards, plus a pointer to the call count.
func failing(n int, failErr error) (Operation, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return failErr
		}
		return nil
	}, &calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.2,
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name  string
		p     Policy
		valid bool
	}{
		{"default", DefaultPolicy(), true},
		{"zero attempts", Policy{MaxAttempts: 0, MaxDelay: time.Second}, false},
		{"negative base", Policy{MaxAttempts: 1, BaseDelay: -1, MaxDelay: time.Second}, false},
		{"max below base", Policy{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Millisecond}, false},
		{"jitter one", Policy{MaxAttempts: 1, MaxDelay: time.Second, Jitter: 1}, false},
		{"jitter negative", Policy{MaxAttempts: 1, MaxDelay: time.Second, Jitter: -0.1}, false},
		{"no jitter", Policy{MaxAttempts: 1, MaxDelay: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.WithDefaults()
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay)
	assert.NotNil(t, p.Classifier)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(500), "large attempts must not overflow")
}

func TestPolicy_JitteredBounds(t *testing.T) {
	p := testPolicy()
	r := rand.New(rand.NewPCG(1, 2))

	for attempt := 1; attempt <= 10; attempt++ {
		base := p.Delay(attempt)
		low := time.Duration(float64(base) * (1 - p.Jitter))
		high := time.Duration(float64(base) * (1 + p.Jitter))
		for range 100 {
			d := p.Jittered(attempt, r.Float64())
			assert.GreaterOrEqual(t, d, low)
			assert.LessOrEqual(t, d, high)
		}
	}

	assert.Equal(t, p.Delay(3), p.Jittered(3, 0.5), "midpoint draw is the un-jittered delay")
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(transientErr{}))
	assert.True(t, Transient(errors.Join(errors.New("ctx"), transientErr{})))
	assert.False(t, Transient(errFatal))
	assert.False(t, Transient(errors.New("database is locked")), "messages alone are not classified")
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendBuiltin, b)

	b, err = ParseBackend("Backoff")
	require.NoError(t, err)
	assert.Equal(t, BackendBackoff, b)

	_, err = ParseBackend("tenacity")
	assert.Error(t, err)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	_, err := New(BackendBuiltin, Policy{MaxAttempts: 0})
	assert.Error(t, err)

	_, err = New("other", testPolicy())
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	op, calls := failing(3, transientErr{})
	err := Disabled().Do(context.Background(), op)
	assert.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestValue(t *testing.T) {
	r := NewExponential(testPolicy(), WithSleep((&sleepRecorder{}).sleep))
	calls := 0
	v, err := Value(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, transientErr{}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}
