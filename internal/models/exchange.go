package models

// ExchangeStatus lists data exchange request lifecycle states
type ExchangeStatus string

const (
	// ExchangeStatusPending indicates the instruction was sent and the callback is awaited
	ExchangeStatusPending ExchangeStatus = "PENDING"
	// ExchangeStatusDelivered indicates the provider returned the payload in time (terminal)
	ExchangeStatusDelivered ExchangeStatus = "DELIVERED"
	// ExchangeStatusTimedOut indicates all delivery attempts elapsed without a callback (terminal)
	ExchangeStatusTimedOut ExchangeStatus = "TIMED_OUT"
	// ExchangeStatusRejected indicates the callback or request was refused (terminal)
	ExchangeStatusRejected ExchangeStatus = "REJECTED"
)

// IsTerminal reports whether the exchange outcome is final. Terminal outcomes
// are bound 1:1 to a request and are not revisable.
func (s ExchangeStatus) IsTerminal() bool {
	return s == ExchangeStatusDelivered || s == ExchangeStatusTimedOut || s == ExchangeStatusRejected
}

// DataExchangeRequest represents the HIE_EXCHANGE_REQUEST table: one fetch
// instance under a specific granted artifact.
type DataExchangeRequest struct {
	RequestID      string         `db:"REQUEST_ID" json:"requestId"`
	ArtifactID     string         `db:"ARTIFACT_ID" json:"artifactId"`
	InitiatorID    string         `db:"INITIATOR_ID" json:"initiatorId"`
	TargetID       string         `db:"TARGET_ID" json:"targetId"`
	SubmittedTime  int64          `db:"SUBMITTED_TIME" json:"submittedTime"`
	DeadlineTime   int64          `db:"DEADLINE_TIME" json:"deadlineTime"`
	Attempts       int            `db:"ATTEMPTS" json:"attempts"`
	Status         ExchangeStatus `db:"CURRENT_STATUS" json:"status"`
	OutcomeHash    *string        `db:"OUTCOME_HASH" json:"outcomeHash,omitempty"`
	FailureReason  *string        `db:"FAILURE_REASON" json:"failureReason,omitempty"`
	UpdatedTime    int64          `db:"UPDATED_TIME" json:"updatedTime"`
}

// ExchangeInitiateAPIRequest represents the exchange initiation payload
type ExchangeInitiateAPIRequest struct {
	ArtifactID string `json:"artifactId" binding:"required"`
	// DeadlineSeconds overrides the configured default delivery deadline
	DeadlineSeconds *int64 `json:"deadlineSeconds,omitempty"`
}

// ExchangeInitiateAPIResponse is returned after exchange initiation
type ExchangeInitiateAPIResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// ExchangeCallbackAPIRequest represents the asynchronous provider callback.
// Either Payload or Error is set; Signature is a compact EdDSA JWT signed
// with the provider's registered key, binding the request ID.
type ExchangeCallbackAPIRequest struct {
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Signature string                 `json:"signature" binding:"required"`
}

// CallbackOutcome is the recorded result of processing a callback. Duplicate
// deliveries are acknowledged with the stored outcome rather than an error.
type CallbackOutcome struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// ExchangeAPIResponse represents the external exchange request read format
type ExchangeAPIResponse struct {
	RequestID     string  `json:"requestId"`
	ArtifactID    string  `json:"artifactId"`
	InitiatorID   string  `json:"initiatorId"`
	TargetID      string  `json:"targetId"`
	SubmittedTime int64   `json:"submittedTime"`
	DeadlineTime  int64   `json:"deadlineTime"`
	Attempts      int     `json:"attempts"`
	Status        string  `json:"status"`
	FailureReason *string `json:"failureReason,omitempty"`
}

// ToAPIResponse converts the exchange request to its external representation
func (r *DataExchangeRequest) ToAPIResponse() *ExchangeAPIResponse {
	return &ExchangeAPIResponse{
		RequestID:     r.RequestID,
		ArtifactID:    r.ArtifactID,
		InitiatorID:   r.InitiatorID,
		TargetID:      r.TargetID,
		SubmittedTime: r.SubmittedTime,
		DeadlineTime:  r.DeadlineTime,
		Attempts:      r.Attempts,
		Status:        string(r.Status),
		FailureReason: r.FailureReason,
	}
}
