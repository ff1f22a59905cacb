package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ArtifactStatus lists consent artifact lifecycle states
type ArtifactStatus string

const (
	// ArtifactStatusRequested indicates the artifact awaits a patient decision
	ArtifactStatusRequested ArtifactStatus = "REQUESTED"
	// ArtifactStatusGranted indicates the patient approved the requested scope
	ArtifactStatusGranted ArtifactStatus = "GRANTED"
	// ArtifactStatusDenied indicates the patient rejected the request (terminal)
	ArtifactStatusDenied ArtifactStatus = "DENIED"
	// ArtifactStatusExpired indicates the grant passed its expiry (terminal)
	ArtifactStatusExpired ArtifactStatus = "EXPIRED"
	// ArtifactStatusRevoked indicates the grant was withdrawn (terminal)
	ArtifactStatusRevoked ArtifactStatus = "REVOKED"
)

// IsTerminal reports whether no further transition is permitted from the status
func (s ArtifactStatus) IsTerminal() bool {
	return s == ArtifactStatusDenied || s == ArtifactStatusExpired || s == ArtifactStatusRevoked
}

// CanTransitionTo reports whether the artifact state machine permits moving
// from s to next. Transitions are monotonic: REQUESTED -> {GRANTED, DENIED},
// GRANTED -> {EXPIRED, REVOKED}.
func (s ArtifactStatus) CanTransitionTo(next ArtifactStatus) bool {
	switch s {
	case ArtifactStatusRequested:
		return next == ArtifactStatusGranted || next == ArtifactStatusDenied
	case ArtifactStatusGranted:
		return next == ArtifactStatusExpired || next == ArtifactStatusRevoked
	default:
		return false
	}
}

// StringSlice is a JSON-encoded string array column
type StringSlice []string

// Scan implements the sql.Scanner interface for StringSlice
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringSlice: %T", value)
	}

	var out []string
	if err := json.Unmarshal(bytes, &out); err != nil {
		return fmt.Errorf("invalid string array data: %w", err)
	}
	*s = out
	return nil
}

// Value implements the driver.Valuer interface for StringSlice
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Contains reports whether the slice holds the given value
func (s StringSlice) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// ConsentArtifact represents the HIE_CONSENT_ARTIFACT table. Once the status
// reaches GRANTED, the granted scope (categories, window, expiry) is
// immutable; narrowing or widening requires a new artifact.
type ConsentArtifact struct {
	ArtifactID     string         `db:"ARTIFACT_ID" json:"artifactId"`
	PatientID      string         `db:"PATIENT_ID" json:"patientId"`
	RequesterID    string         `db:"REQUESTER_ID" json:"requesterId"`
	ProviderID     string         `db:"PROVIDER_ID" json:"providerId"`
	Categories     StringSlice    `db:"CATEGORIES" json:"categories"`
	FromTime       int64          `db:"FROM_TIME" json:"fromTime"`
	ToTime         int64          `db:"TO_TIME" json:"toTime"`
	ExpiryTime     int64          `db:"EXPIRY_TIME" json:"expiryTime"`
	Status         ArtifactStatus `db:"CURRENT_STATUS" json:"status"`
	ScopeSignature *string        `db:"SCOPE_SIGNATURE" json:"scopeSignature,omitempty"`
	CreatedTime    int64          `db:"CREATED_TIME" json:"createdTime"`
	UpdatedTime    int64          `db:"UPDATED_TIME" json:"updatedTime"`
}

// ConsentRequestAPIRequest represents the consent request submission payload
type ConsentRequestAPIRequest struct {
	PatientID   string   `json:"patientId" binding:"required"`
	RequesterID string   `json:"requesterId" binding:"required"`
	ProviderID  string   `json:"providerId" binding:"required"`
	Categories  []string `json:"categories" binding:"required"`
	FromDate    string   `json:"fromDate" binding:"required"`
	ToDate      string   `json:"toDate" binding:"required"`
	// DurationSeconds overrides the configured default consent validity
	DurationSeconds *int64 `json:"durationSeconds,omitempty"`
}

// ConsentRequestAPIResponse is returned after a consent request submission
type ConsentRequestAPIResponse struct {
	ArtifactID string `json:"artifactId"`
	Status     string `json:"status"`
}

// ConsentDecisionAPIRequest represents the patient decision payload. The
// signature is a compact EdDSA JWT signed with the patient's registered key,
// binding the artifact ID and the decision.
type ConsentDecisionAPIRequest struct {
	Decision  string `json:"decision" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// ConsentRevokeAPIRequest represents the revocation payload
type ConsentRevokeAPIRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Decision values accepted on the consent decision endpoint
const (
	DecisionGrant = "GRANT"
	DecisionDeny  = "DENY"
)

// ParseDecision maps an inbound decision value to the resulting artifact status
func ParseDecision(decision string) (ArtifactStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(decision)) {
	case DecisionGrant:
		return ArtifactStatusGranted, nil
	case DecisionDeny:
		return ArtifactStatusDenied, nil
	default:
		return "", fmt.Errorf("unknown decision: %s", decision)
	}
}

// ArtifactAPIResponse represents the external artifact read format
type ArtifactAPIResponse struct {
	ArtifactID  string   `json:"artifactId"`
	PatientID   string   `json:"patientId"`
	RequesterID string   `json:"requesterId"`
	ProviderID  string   `json:"providerId"`
	Categories  []string `json:"categories"`
	FromTime    int64    `json:"fromTime"`
	ToTime      int64    `json:"toTime"`
	ExpiryTime  int64    `json:"expiryTime"`
	Status      string   `json:"status"`
	CreatedTime int64    `json:"createdTime"`
	UpdatedTime int64    `json:"updatedTime"`
}

// ToAPIResponse converts the artifact to its external representation
func (a *ConsentArtifact) ToAPIResponse() *ArtifactAPIResponse {
	return &ArtifactAPIResponse{
		ArtifactID:  a.ArtifactID,
		PatientID:   a.PatientID,
		RequesterID: a.RequesterID,
		ProviderID:  a.ProviderID,
		Categories:  a.Categories,
		FromTime:    a.FromTime,
		ToTime:      a.ToTime,
		ExpiryTime:  a.ExpiryTime,
		Status:      string(a.Status),
		CreatedTime: a.CreatedTime,
		UpdatedTime: a.UpdatedTime,
	}
}
