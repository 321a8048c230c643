package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.failure()
		assert.True(t, cb.allow(), "below threshold, still closed")
	}
	cb.failure()
	assert.False(t, cb.allow(), "third consecutive failure trips it")
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := newCircuitBreaker(1, 20*time.Millisecond)
	cb.failure()
	assert.False(t, cb.allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.allow(), "reset timeout passed, one probe allowed")

	cb.success()
	assert.True(t, cb.allow())
	assert.True(t, cb.allow(), "closed again after a successful probe")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newCircuitBreaker(2, time.Minute)
	cb.failure()
	cb.success()
	cb.failure()
	assert.True(t, cb.allow(), "the count restarts after a success")
}
