package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ArtifactStatus
		to      ArtifactStatus
		allowed bool
	}{
		{"requested to granted", ArtifactStatusRequested, ArtifactStatusGranted, true},
		{"requested to denied", ArtifactStatusRequested, ArtifactStatusDenied, true},
		{"requested to revoked", ArtifactStatusRequested, ArtifactStatusRevoked, false},
		{"requested to expired", ArtifactStatusRequested, ArtifactStatusExpired, false},
		{"granted to revoked", ArtifactStatusGranted, ArtifactStatusRevoked, true},
		{"granted to expired", ArtifactStatusGranted, ArtifactStatusExpired, true},
		{"granted back to requested", ArtifactStatusGranted, ArtifactStatusRequested, false},
		{"denied is terminal", ArtifactStatusDenied, ArtifactStatusGranted, false},
		{"revoked is terminal", ArtifactStatusRevoked, ArtifactStatusGranted, false},
		{"expired is terminal", ArtifactStatusExpired, ArtifactStatusRevoked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestArtifactStatusIsTerminal(t *testing.T) {
	assert.False(t, ArtifactStatusRequested.IsTerminal())
	assert.False(t, ArtifactStatusGranted.IsTerminal())
	assert.True(t, ArtifactStatusDenied.IsTerminal())
	assert.True(t, ArtifactStatusExpired.IsTerminal())
	assert.True(t, ArtifactStatusRevoked.IsTerminal())
}

func TestParseDecision(t *testing.T) {
	status, err := ParseDecision("GRANT")
	assert.NoError(t, err)
	assert.Equal(t, ArtifactStatusGranted, status)

	status, err = ParseDecision(" deny ")
	assert.NoError(t, err)
	assert.Equal(t, ArtifactStatusDenied, status)

	_, err = ParseDecision("MAYBE")
	assert.Error(t, err)
}

func TestStringSliceRoundTrip(t *testing.T) {
	s := StringSlice{"lab-results", "prescriptions"}

	value, err := s.Value()
	assert.NoError(t, err)

	var out StringSlice
	assert.NoError(t, out.Scan(value))
	assert.Equal(t, s, out)
	assert.True(t, out.Contains("lab-results"))
	assert.False(t, out.Contains("imaging"))
}

func TestExchangeStatusIsTerminal(t *testing.T) {
	assert.False(t, ExchangeStatusPending.IsTerminal())
	assert.True(t, ExchangeStatusDelivered.IsTerminal())
	assert.True(t, ExchangeStatusTimedOut.IsTerminal())
	assert.True(t, ExchangeStatusRejected.IsTerminal())
}
