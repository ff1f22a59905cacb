package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
	"github.com/medgrid/exchange-engine/pkg/utils"
)

// ProtocolGateway is the exchange protocol boundary the orchestrator drives:
// outbound instruction delivery plus the event queue that timeouts and
// revocation signals are posted onto.
type ProtocolGateway interface {
	SendExchangeInstruction(ctx context.Context, request *models.DataExchangeRequest) error
	PostTimeout(requestID string)
	PostRevocation(requestID string)
}

// requestRuntime holds the in-flight timers for one PENDING request
type requestRuntime struct {
	deadline    time.Duration
	timer       *time.Timer
	retryTimer  *time.Timer
	cancelWatch func()
	// done closes when the request leaves the pending set
	done chan struct{}
}

// ExchangeService orchestrates data exchange requests: initiation under a
// granted artifact, deadline tracking with bounded retries, and the terminal
// transitions applied when the gateway hands over a processed event.
type ExchangeService struct {
	exchangeStore dao.ExchangeStore
	consent       *ConsentService
	ledger        *ledger.Ledger
	registry      *registry.Registry
	gateway       ProtocolGateway
	notifier      Notifier
	cfg           *config.ExchangeConfig
	metrics       *metrics.Metrics
	logger        *logrus.Logger

	mu      sync.Mutex
	pending map[string]*requestRuntime
}

// NewExchangeService creates a new exchange service instance
func NewExchangeService(
	exchangeStore dao.ExchangeStore,
	consent *ConsentService,
	auditLedger *ledger.Ledger,
	reg *registry.Registry,
	gw ProtocolGateway,
	notifier Notifier,
	cfg *config.ExchangeConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *ExchangeService {
	return &ExchangeService{
		exchangeStore: exchangeStore,
		consent:       consent,
		ledger:        auditLedger,
		registry:      reg,
		gateway:       gw,
		notifier:      notifier,
		cfg:           cfg,
		metrics:       m,
		logger:        logger,
		pending:       make(map[string]*requestRuntime),
	}
}

// InitiateExchange creates a PENDING exchange request under a GRANTED
// artifact and dispatches the fetch instruction to the provider. The
// initiator must be the artifact's requesting HIU.
func (s *ExchangeService) InitiateExchange(ctx context.Context, initiatorID string, req *models.ExchangeInitiateAPIRequest) (*models.DataExchangeRequest, error) {
	artifact, err := s.consent.GetArtifact(ctx, req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if artifact.Status != models.ArtifactStatusGranted {
		return nil, serviceerror.Wrap(serviceerror.ErrConsentNotGranted, "artifact %s is %s", req.ArtifactID, artifact.Status)
	}
	if initiatorID != artifact.RequesterID {
		return nil, serviceerror.Wrap(serviceerror.ErrForbidden, "initiator %s is not the artifact requester", initiatorID)
	}

	deadline := s.cfg.DefaultDeadline
	if req.DeadlineSeconds != nil {
		deadline = time.Duration(*req.DeadlineSeconds) * time.Second
	}
	if deadline <= 0 {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "deadline must be positive")
	}

	now := time.Now()
	request := &models.DataExchangeRequest{
		RequestID:     utils.GenerateExchangeID(),
		ArtifactID:    req.ArtifactID,
		InitiatorID:   initiatorID,
		TargetID:      artifact.ProviderID,
		SubmittedTime: utils.TimeToMillis(now),
		DeadlineTime:  utils.TimeToMillis(now.Add(deadline)),
		Attempts:      1,
		Status:        models.ExchangeStatusPending,
		UpdatedTime:   utils.TimeToMillis(now),
	}

	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    initiatorID,
		SubjectID:  request.RequestID,
		Action:     models.AuditActionExchangeInitiated,
		Detail:     req.ArtifactID,
		ActionTime: request.SubmittedTime,
	}); err != nil {
		return nil, err
	}

	if err := s.exchangeStore.Create(ctx, request); err != nil {
		return nil, err
	}

	if err := s.gateway.SendExchangeInstruction(ctx, request); err != nil {
		return nil, err
	}

	s.armRuntime(request.RequestID, request.ArtifactID, deadline)

	s.logger.WithFields(logrus.Fields{
		"request_id":  request.RequestID,
		"artifact_id": request.ArtifactID,
		"target_id":   request.TargetID,
		"deadline":    deadline.String(),
	}).Info("Exchange initiated")

	s.notify(ctx, request, models.AuditActionExchangeInitiated)
	return request, nil
}

// armRuntime starts the deadline timer and the revocation watch for a
// freshly submitted request. Both signals feed the gateway queue, where they
// are serialized against the provider callback.
func (s *ExchangeService) armRuntime(requestID, artifactID string, deadline time.Duration) {
	watchCh, cancelWatch := s.consent.WatchRevocation(artifactID)

	rt := &requestRuntime{
		deadline:    deadline,
		cancelWatch: cancelWatch,
		done:        make(chan struct{}),
		timer: time.AfterFunc(deadline, func() {
			s.gateway.PostTimeout(requestID)
		}),
	}

	s.mu.Lock()
	s.pending[requestID] = rt
	s.mu.Unlock()

	go func() {
		select {
		case <-watchCh:
			s.gateway.PostRevocation(requestID)
		case <-rt.done:
		}
	}()
}

// releaseRuntime stops timers and the revocation watch once the request is
// terminal.
func (s *ExchangeService) releaseRuntime(requestID string) {
	s.mu.Lock()
	rt, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if rt.timer != nil {
		rt.timer.Stop()
	}
	if rt.retryTimer != nil {
		rt.retryTimer.Stop()
	}
	if rt.cancelWatch != nil {
		rt.cancelWatch()
	}
	if rt.done != nil {
		close(rt.done)
	}
}

// HandleDelivery records a successful payload delivery. Called by the
// gateway with per-request serialization already in effect.
func (s *ExchangeService) HandleDelivery(ctx context.Context, requestID string, payload map[string]interface{}) (*models.CallbackOutcome, error) {
	outcomeHash := hashPayload(payload)

	won, err := s.transition(ctx, requestID, models.AuditActionExchangeDelivered, models.ExchangeStatusDelivered, "", &outcomeHash, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.storedOutcome(ctx, requestID)
	}

	if s.metrics != nil {
		s.metrics.ExchangesDelivered.Inc()
	}
	s.logger.WithField("request_id", requestID).Info("Exchange delivered")

	request, err := s.exchangeStore.GetByID(ctx, requestID)
	if err == nil {
		s.notify(ctx, request, models.AuditActionExchangeDelivered)
	}
	return &models.CallbackOutcome{RequestID: requestID, Status: string(models.ExchangeStatusDelivered)}, nil
}

// HandleRejection records a refused exchange with the given reason
func (s *ExchangeService) HandleRejection(ctx context.Context, requestID string, reason error) (*models.CallbackOutcome, error) {
	reasonText := reason.Error()

	won, err := s.transition(ctx, requestID, models.AuditActionExchangeRejected, models.ExchangeStatusRejected, reasonText, nil, &reasonText)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.storedOutcome(ctx, requestID)
	}

	if s.metrics != nil {
		s.metrics.ExchangesRejected.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"reason":     reasonText,
	}).Info("Exchange rejected")

	request, err := s.exchangeStore.GetByID(ctx, requestID)
	if err == nil {
		s.notify(ctx, request, models.AuditActionExchangeRejected)
	}
	return &models.CallbackOutcome{RequestID: requestID, Status: string(models.ExchangeStatusRejected)}, nil
}

// HandleTimeout reacts to an elapsed delivery deadline. While attempts
// remain and consent still holds, the instruction is re-sent after an
// exponential backoff; otherwise the request becomes TIMED_OUT.
func (s *ExchangeService) HandleTimeout(ctx context.Context, requestID string) {
	request, err := s.exchangeStore.GetByID(ctx, requestID)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", requestID).Error("Timeout for unknown exchange request")
		return
	}
	// A callback won the race against the deadline; nothing to do
	if request.Status.IsTerminal() {
		return
	}

	granted, err := s.consent.IsGranted(ctx, request.ArtifactID)
	if err == nil && !granted {
		if _, err := s.HandleRejection(ctx, requestID, serviceerror.ErrConsentNoLongerValid); err != nil {
			s.logger.WithError(err).WithField("request_id", requestID).Error("Failed to reject exchange on lapsed consent")
		}
		return
	}

	if request.Attempts <= s.cfg.MaxRetries {
		s.scheduleRetry(ctx, request)
		return
	}

	reasonText := fmt.Sprintf("delivery deadline elapsed after %d attempts", request.Attempts)
	won, err := s.transition(ctx, requestID, models.AuditActionExchangeTimedOut, models.ExchangeStatusTimedOut, reasonText, nil, &reasonText)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", requestID).Error("Failed to time out exchange")
		return
	}
	if !won {
		return
	}

	if s.metrics != nil {
		s.metrics.ExchangesTimedOut.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"attempts":   request.Attempts,
	}).Warn("Exchange timed out")

	request.Status = models.ExchangeStatusTimedOut
	s.notify(ctx, request, models.AuditActionExchangeTimedOut)
}

// scheduleRetry re-sends the instruction after the backoff for the current
// attempt and re-arms the deadline timer. The deadline restarts from the
// re-send, so the provider never receives an instruction that is already
// past due.
func (s *ExchangeService) scheduleRetry(ctx context.Context, request *models.DataExchangeRequest) {
	s.mu.Lock()
	rt, ok := s.pending[request.RequestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	deadline := rt.deadline

	backoff := time.Duration(float64(s.cfg.InitialBackoff) * math.Pow(s.cfg.BackoffFactor, float64(request.Attempts-1)))
	now := utils.GetCurrentTimeMillis()
	nextDeadline := utils.TimeToMillis(time.Now().Add(backoff + deadline))

	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    "system",
		SubjectID:  request.RequestID,
		Action:     models.AuditActionExchangeRetried,
		Detail:     fmt.Sprintf("attempt %d, backoff %s", request.Attempts+1, backoff),
		ActionTime: now,
	}); err != nil {
		s.logger.WithError(err).WithField("request_id", request.RequestID).Error("Failed to audit exchange retry")
		return
	}

	if err := s.exchangeStore.IncrementAttempts(ctx, request.RequestID, nextDeadline, now); err != nil {
		s.logger.WithError(err).WithField("request_id", request.RequestID).Error("Failed to record exchange attempt")
		return
	}

	s.mu.Lock()
	rt, ok = s.pending[request.RequestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rt.retryTimer = time.AfterFunc(backoff, func() {
		resend := *request
		resend.Attempts = request.Attempts + 1
		resend.DeadlineTime = nextDeadline
		if err := s.gateway.SendExchangeInstruction(context.Background(), &resend); err != nil {
			s.logger.WithError(err).WithField("request_id", request.RequestID).Warn("Instruction re-send failed")
		}
		s.mu.Lock()
		if cur, ok := s.pending[request.RequestID]; ok {
			cur.timer = time.AfterFunc(deadline, func() {
				s.gateway.PostTimeout(request.RequestID)
			})
		}
		s.mu.Unlock()
	})
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"request_id": request.RequestID,
		"attempt":    request.Attempts + 1,
		"backoff":    backoff.String(),
	}).Info("Exchange retry scheduled")
}

// transition appends the audit record and then applies the terminal status.
// Returns false when another event already committed a terminal status.
func (s *ExchangeService) transition(ctx context.Context, requestID, action string, next models.ExchangeStatus, detail string, outcomeHash, failureReason *string) (bool, error) {
	now := utils.GetCurrentTimeMillis()

	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    "system",
		SubjectID:  requestID,
		Action:     action,
		Detail:     detail,
		ActionTime: now,
	}); err != nil {
		return false, err
	}

	won, err := s.exchangeStore.UpdateStatus(ctx, requestID, models.ExchangeStatusPending, next, outcomeHash, failureReason, now)
	if err != nil {
		return false, err
	}
	if won {
		s.releaseRuntime(requestID)
	}
	return won, nil
}

// storedOutcome reads back the terminal status a prior event committed
func (s *ExchangeService) storedOutcome(ctx context.Context, requestID string) (*models.CallbackOutcome, error) {
	request, err := s.exchangeStore.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &models.CallbackOutcome{
		RequestID: requestID,
		Status:    string(request.Status),
		Duplicate: true,
	}, nil
}

// GetRequest retrieves an exchange request by ID
func (s *ExchangeService) GetRequest(ctx context.Context, requestID string) (*models.DataExchangeRequest, error) {
	request, err := s.exchangeStore.GetByID(ctx, requestID)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "exchange request %s", requestID)
	}
	return request, nil
}

// ListPendingByArtifact retrieves the in-flight requests under an artifact
func (s *ExchangeService) ListPendingByArtifact(ctx context.Context, artifactID string) ([]models.DataExchangeRequest, error) {
	return s.exchangeStore.ListPendingByArtifact(ctx, artifactID)
}

// Stop releases all in-flight timers and watches
func (s *ExchangeService) Stop() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.releaseRuntime(id)
	}
}

func (s *ExchangeService) notify(ctx context.Context, request *models.DataExchangeRequest, eventType string) {
	if s.notifier == nil {
		return
	}
	patientID := ""
	if artifact, err := s.consent.GetArtifact(ctx, request.ArtifactID); err == nil {
		patientID = artifact.PatientID
	}
	targets := s.registry.NotifyTargets(patientID, request.InitiatorID, request.TargetID)
	s.notifier.Notify(request.RequestID, eventType, targets)
}

// hashPayload returns the hex SHA-256 over the canonical JSON encoding of
// the delivered payload. Only the digest is retained; payload content never
// touches engine storage.
func hashPayload(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
