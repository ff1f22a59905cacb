package dao

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/medgrid/exchange-engine/internal/models"
)

// InMemoryArtifactStore keeps consent artifacts in memory for tests and the
// standalone dev mode.
type InMemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*models.ConsentArtifact
}

// NewInMemoryArtifactStore creates an in-memory artifact store
func NewInMemoryArtifactStore() *InMemoryArtifactStore {
	return &InMemoryArtifactStore{artifacts: make(map[string]*models.ConsentArtifact)}
}

func (s *InMemoryArtifactStore) Create(_ context.Context, artifact *models.ConsentArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[artifact.ArtifactID]; exists {
		return fmt.Errorf("artifact already exists: %s", artifact.ArtifactID)
	}
	clone := *artifact
	s.artifacts[artifact.ArtifactID] = &clone
	return nil
}

func (s *InMemoryArtifactStore) GetByID(_ context.Context, artifactID string) (*models.ConsentArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.artifacts[artifactID]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, fmt.Errorf("artifact not found: %s", artifactID)
}

func (s *InMemoryArtifactStore) UpdateStatus(_ context.Context, artifactID string, expected, next models.ArtifactStatus, scopeSignature *string, updatedTime int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return false, fmt.Errorf("artifact not found: %s", artifactID)
	}
	if a.Status != expected {
		return false, nil
	}
	a.Status = next
	if scopeSignature != nil {
		a.ScopeSignature = scopeSignature
	}
	a.UpdatedTime = updatedTime
	return true, nil
}

func (s *InMemoryArtifactStore) ListByPatient(_ context.Context, patientID string) ([]models.ConsentArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConsentArtifact
	for _, a := range s.artifacts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime > out[j].CreatedTime })
	return out, nil
}

func (s *InMemoryArtifactStore) ListExpirable(_ context.Context, nowMillis int64) ([]models.ConsentArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConsentArtifact
	for _, a := range s.artifacts {
		if a.Status == models.ArtifactStatusGranted && a.ExpiryTime <= nowMillis {
			out = append(out, *a)
		}
	}
	return out, nil
}

// InMemoryExchangeStore keeps exchange requests in memory
type InMemoryExchangeStore struct {
	mu       sync.RWMutex
	requests map[string]*models.DataExchangeRequest
}

// NewInMemoryExchangeStore creates an in-memory exchange request store
func NewInMemoryExchangeStore() *InMemoryExchangeStore {
	return &InMemoryExchangeStore{requests: make(map[string]*models.DataExchangeRequest)}
}

func (s *InMemoryExchangeStore) Create(_ context.Context, request *models.DataExchangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.RequestID]; exists {
		return fmt.Errorf("exchange request already exists: %s", request.RequestID)
	}
	clone := *request
	s.requests[request.RequestID] = &clone
	return nil
}

func (s *InMemoryExchangeStore) GetByID(_ context.Context, requestID string) (*models.DataExchangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.requests[requestID]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, fmt.Errorf("exchange request not found: %s", requestID)
}

func (s *InMemoryExchangeStore) UpdateStatus(_ context.Context, requestID string, expected, next models.ExchangeStatus, outcomeHash, failureReason *string, updatedTime int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return false, fmt.Errorf("exchange request not found: %s", requestID)
	}
	if r.Status != expected {
		return false, nil
	}
	r.Status = next
	r.OutcomeHash = outcomeHash
	r.FailureReason = failureReason
	r.UpdatedTime = updatedTime
	return true, nil
}

func (s *InMemoryExchangeStore) IncrementAttempts(_ context.Context, requestID string, deadlineTime, updatedTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("exchange request not found: %s", requestID)
	}
	r.Attempts++
	r.DeadlineTime = deadlineTime
	r.UpdatedTime = updatedTime
	return nil
}

func (s *InMemoryExchangeStore) ListPendingByArtifact(_ context.Context, artifactID string) ([]models.DataExchangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DataExchangeRequest
	for _, r := range s.requests {
		if r.ArtifactID == artifactID && r.Status == models.ExchangeStatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedTime < out[j].SubmittedTime })
	return out, nil
}

// InMemoryAuditStore keeps ledger rows in memory. Corrupt exposes a record
// for tamper-detection tests.
type InMemoryAuditStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
	// FailNext forces the next append to fail, for ledger fault tests
	FailNext bool
}

// NewInMemoryAuditStore creates an in-memory audit store
func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{}
}

func (s *InMemoryAuditStore) Append(_ context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext {
		s.FailNext = false
		return fmt.Errorf("simulated storage fault")
	}
	if len(s.records) > 0 && s.records[len(s.records)-1].Sequence+1 != record.Sequence {
		return fmt.Errorf("out-of-order append: got seq %d", record.Sequence)
	}
	s.records = append(s.records, *record)
	return nil
}

func (s *InMemoryAuditStore) Tail(_ context.Context) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	tail := s.records[len(s.records)-1]
	return &tail, nil
}

func (s *InMemoryAuditStore) Range(_ context.Context, fromSeq, toSeq int64) ([]models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditRecord
	for _, r := range s.records {
		if r.Sequence >= fromSeq && r.Sequence <= toSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

// Corrupt overwrites the stored detail of the record at seq, breaking its
// hash. Test helper only.
func (s *InMemoryAuditStore) Corrupt(seq int64, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Sequence == seq {
			s.records[i].Detail = detail
			return
		}
	}
}
