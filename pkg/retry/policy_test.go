package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, Linear(1, base))
	assert.Equal(t, 200*time.Millisecond, Linear(2, base))
	assert.Equal(t, 300*time.Millisecond, Linear(3, base))
}

func TestExponential(t *testing.T) {
	b := Exponential(time.Second)
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, b(1, base))
	assert.Equal(t, 200*time.Millisecond, b(2, base))
	assert.Equal(t, 400*time.Millisecond, b(3, base))
	assert.Equal(t, time.Second, b(10, base), "capped at max delay")
}

func TestExponential_Uncapped(t *testing.T) {
	b := Exponential(0)

	assert.Equal(t, 800*time.Millisecond, b(4, 100*time.Millisecond))
	for _, attempt := range []int{64, 200, 2000} {
		d := b(attempt, time.Second)
		assert.Equal(t, time.Duration(math.MaxInt64), d, "attempt %d saturates instead of wrapping", attempt)
	}
	assert.Equal(t, time.Second, Exponential(time.Second)(200, time.Second), "cap still applies past overflow")
}

func TestWithJitter_Saturates(t *testing.T) {
	b := WithJitter(Exponential(0), 0.5)
	for i := 0; i < 50; i++ {
		assert.Greater(t, b(200, time.Second), time.Duration(0))
	}
}

func TestWithJitter(t *testing.T) {
	b := WithJitter(Linear, 0.2)
	for i := 0; i < 100; i++ {
		d := b(1, time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestParseBackoff(t *testing.T) {
	b, err := ParseBackoff("Linear", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, b(2, time.Second))

	b, err = ParseBackoff("exponential", 3*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, b(5, time.Second))

	b, err = ParseBackoff("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, b(1, time.Second))

	_, err = ParseBackoff("fibonacci", 0, 0)
	assert.EqualError(t, err, `unknown backoff curve "fibonacci"`)
}

func TestPolicyForEnvironment(t *testing.T) {
	prod := PolicyForEnvironment("production")
	assert.Equal(t, 3, prod.MaxAttempts)
	assert.Equal(t, time.Second, prod.BaseDelay)
	assert.Equal(t, 10*time.Second, prod.AttemptTimeout)

	dev := PolicyForEnvironment("development")
	assert.Equal(t, 1, dev.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, dev.BaseDelay)
	assert.Equal(t, 5*time.Second, dev.AttemptTimeout)

	assert.Equal(t, dev.MaxAttempts, PolicyForEnvironment("").MaxAttempts)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 3*time.Second, p.Delay(3), "nil backoff is linear")

	p.Backoff = func(int, time.Duration) time.Duration { return -time.Second }
	assert.Equal(t, time.Duration(0), p.Delay(1))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxAttempts: -1}.Validate())
	assert.Error(t, Policy{BaseDelay: -time.Second}.Validate())
	assert.Error(t, Policy{AttemptTimeout: -time.Second}.Validate())
}
