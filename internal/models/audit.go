package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Audit actions recorded on the ledger
const (
	AuditActionConsentRequested    = "CONSENT_REQUESTED"
	AuditActionConsentGranted      = "CONSENT_GRANTED"
	AuditActionConsentDenied       = "CONSENT_DENIED"
	AuditActionConsentRevoked      = "CONSENT_REVOKED"
	AuditActionConsentExpired      = "CONSENT_EXPIRED"
	AuditActionExchangeInitiated   = "EXCHANGE_INITIATED"
	AuditActionExchangeRetried     = "EXCHANGE_RETRIED"
	AuditActionExchangeDelivered   = "EXCHANGE_DELIVERED"
	AuditActionExchangeTimedOut    = "EXCHANGE_TIMED_OUT"
	AuditActionExchangeRejected    = "EXCHANGE_REJECTED"
	AuditActionDuplicateCallback   = "DUPLICATE_CALLBACK"
	AuditActionNotificationAttempt = "NOTIFICATION_ATTEMPT"
)

// AuditRecord represents one immutable row of the HIE_AUDIT_LEDGER table.
// For every record after the first, PrevHash equals the PayloadHash of the
// preceding sequence number.
type AuditRecord struct {
	Sequence    int64  `db:"SEQ_NO" json:"sequence"`
	ActorID     string `db:"ACTOR_ID" json:"actorId"`
	SubjectID   string `db:"SUBJECT_ID" json:"subjectId"`
	Action      string `db:"ACTION" json:"action"`
	Detail      string `db:"DETAIL" json:"detail,omitempty"`
	ActionTime  int64  `db:"ACTION_TIME" json:"actionTime"`
	PayloadHash string `db:"PAYLOAD_HASH" json:"payloadHash"`
	PrevHash    string `db:"PREV_HASH" json:"prevHash"`
}

// auditPayload is the hashed portion of a record. All fields are scalars so
// json.Marshal produces a deterministic byte sequence for hashing.
type auditPayload struct {
	Sequence   int64  `json:"seq"`
	ActorID    string `json:"actor"`
	SubjectID  string `json:"subject"`
	Action     string `json:"action"`
	Detail     string `json:"detail"`
	ActionTime int64  `json:"ts"`
	PrevHash   string `json:"prev"`
}

// ComputeHash returns the hex SHA-256 over the record's payload fields,
// including the chain link. Sequence and PrevHash must be assigned first.
func (r *AuditRecord) ComputeHash() string {
	payload := auditPayload{
		Sequence:   r.Sequence,
		ActorID:    r.ActorID,
		SubjectID:  r.SubjectID,
		Action:     r.Action,
		Detail:     r.Detail,
		ActionTime: r.ActionTime,
		PrevHash:   r.PrevHash,
	}
	// Marshal of a flat struct cannot fail
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AuditExportAPIResponse represents the read-only audit export format
type AuditExportAPIResponse struct {
	Records []AuditRecord `json:"records"`
	From    int64         `json:"fromSeq"`
	To      int64         `json:"toSeq"`
}

// ChainVerifyAPIResponse represents the chain verification result
type ChainVerifyAPIResponse struct {
	Valid       bool  `json:"valid"`
	BadSequence int64 `json:"badSequence,omitempty"`
	From        int64 `json:"fromSeq"`
	To          int64 `json:"toSeq"`
}
