package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateArtifactID(), "ARTIFACT-"))
	assert.True(t, strings.HasPrefix(GenerateExchangeID(), "EXCHANGE-"))
	assert.True(t, strings.HasPrefix(GenerateNotificationID(), "NOTIFY-"))
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateArtifactID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIsValidUUID(t *testing.T) {
	id := strings.TrimPrefix(GenerateArtifactID(), "ARTIFACT-")
	assert.True(t, IsValidUUID(id))
	assert.False(t, IsValidUUID("not-a-uuid"))
}

func TestTimeMillisRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	assert.Equal(t, now.UnixMilli(), TimeToMillis(now))
	assert.True(t, MillisToTime(TimeToMillis(now)).Equal(now))
}

func TestParseTimeRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	parsed, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestIsExpiredAt(t *testing.T) {
	now := time.Now()
	assert.True(t, IsExpiredAt(TimeToMillis(now.Add(-time.Minute)), now))
	assert.False(t, IsExpiredAt(TimeToMillis(now.Add(time.Minute)), now))
}

func TestExpiryFromDuration(t *testing.T) {
	now := time.Now()
	expiry := ExpiryFromDuration(now, time.Hour)
	assert.Equal(t, TimeToMillis(now.Add(time.Hour)), expiry)
}
