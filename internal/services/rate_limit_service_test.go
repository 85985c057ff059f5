package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimitTest(interval time.Duration) (*RateLimitService, *time.Time) {
	now := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	service := NewRateLimitService(interval)
	service.now = func() time.Time { return now }
	return service, &now
}

func TestAllow_FirstUpload(t *testing.T) {
	service, _ := setupRateLimitTest(5 * time.Second)

	assert.NoError(t, service.Allow("monitor-1"))
}

func TestAllow_ThrottledWithinInterval(t *testing.T) {
	service, now := setupRateLimitTest(5 * time.Second)

	require.NoError(t, service.Allow("monitor-1"))
	*now = now.Add(3 * time.Second)

	err := service.Allow("monitor-1")
	require.Error(t, err)

	rateLimitErr, ok := err.(*RateLimitError)
	require.True(t, ok, "Error should be RateLimitError")
	assert.Contains(t, rateLimitErr.Message, "Too many location updates")
	assert.True(t, rateLimitErr.RetryAfter.After(*now))
}

func TestAllow_AfterInterval(t *testing.T) {
	service, now := setupRateLimitTest(5 * time.Second)

	require.NoError(t, service.Allow("monitor-1"))
	*now = now.Add(5 * time.Second)

	assert.NoError(t, service.Allow("monitor-1"))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	service, _ := setupRateLimitTest(5 * time.Second)

	require.NoError(t, service.Allow("monitor-1"))
	assert.NoError(t, service.Allow("monitor-2"))
}

func TestAllow_ThrottledUploadDoesNotExtendWindow(t *testing.T) {
	service, now := setupRateLimitTest(5 * time.Second)

	require.NoError(t, service.Allow("monitor-1"))
	*now = now.Add(4 * time.Second)
	require.Error(t, service.Allow("monitor-1"))
	*now = now.Add(1 * time.Second)

	assert.NoError(t, service.Allow("monitor-1"))
}

func TestAllow_DisabledInterval(t *testing.T) {
	service, _ := setupRateLimitTest(0)

	require.NoError(t, service.Allow("monitor-1"))
	assert.NoError(t, service.Allow("monitor-1"))
}

func TestCleanupExpired(t *testing.T) {
	service, now := setupRateLimitTest(5 * time.Second)

	require.NoError(t, service.Allow("monitor-1"))
	*now = now.Add(3 * time.Second)
	require.NoError(t, service.Allow("monitor-2"))
	*now = now.Add(2 * time.Second)

	assert.Equal(t, 1, service.CleanupExpired())
	assert.Error(t, service.Allow("monitor-2"))
}
