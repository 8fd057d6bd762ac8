package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CooldownMin:      2 * time.Minute,
		CooldownMax:      2 * time.Minute,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("example.com", testConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("example.com", testConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	b := New("example.com", testConfig())

	current := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return current }

	b.Trip()

	err := b.Allow()
	require.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2*time.Minute, b.RemainingCooldown())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := New("example.com", testConfig())

	current := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return current }

	b.Trip()
	current = current.Add(2 * time.Minute)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := New("example.com", testConfig())

	current := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return current }

	b.Trip()
	current = current.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("example.com", testConfig())

	current := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return current }

	b.Trip()
	current = current.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreakerCooldownJitterBounds(t *testing.T) {
	cfg := Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		CooldownMin:      2 * time.Minute,
		CooldownMax:      5 * time.Minute,
	}

	for i := 0; i < 50; i++ {
		b := New("example.com", cfg)
		b.Trip()
		remaining := b.RemainingCooldown()
		assert.GreaterOrEqual(t, remaining, 2*time.Minute-time.Second)
		assert.LessOrEqual(t, remaining, 5*time.Minute)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := testConfig()
	cfg.OnStateChange = func(target string, from, to State) {
		transitions = append(transitions, target+":"+from.String()+"->"+to.String())
	}

	b := New("example.com", cfg)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	require.Len(t, transitions, 1)
	assert.Equal(t, "example.com:closed->open", transitions[0])
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(testConfig())

	a := r.Get("example.com")
	b := r.Get("example.com")
	assert.Same(t, a, b)

	other := r.Get("other.example.com")
	assert.NotSame(t, a, other)

	a.Trip()
	states := r.States()
	assert.Equal(t, StateOpen, states["example.com"])
	assert.Equal(t, StateClosed, states["other.example.com"])
}
