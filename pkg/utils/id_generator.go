package utils

import (
	"github.com/google/uuid"
)

// GenerateID generates a new UUID for artifact, exchange, or notification IDs
func GenerateID() string {
	return uuid.New().String()
}

// GenerateArtifactID generates a unique consent artifact ID
func GenerateArtifactID() string {
	return "ARTIFACT-" + uuid.New().String()
}

// GenerateExchangeID generates a unique data exchange request ID
func GenerateExchangeID() string {
	return "EXCHANGE-" + uuid.New().String()
}

// GenerateNotificationID generates a unique notification delivery ID
func GenerateNotificationID() string {
	return "NOTIFY-" + uuid.New().String()
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
