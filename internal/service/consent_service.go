package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
	"github.com/medgrid/exchange-engine/internal/signature"
	"github.com/medgrid/exchange-engine/pkg/utils"
)

// Notifier fans out status change events to interested listeners. Delivery
// is best-effort and must never block the triggering transition.
type Notifier interface {
	Notify(subjectID, eventType string, targets []string)
}

// ConsentService owns the consent artifact lifecycle. It is the only
// component that transitions artifact state; all transitions are serialized
// per artifact ID and audited before the new state becomes observable.
type ConsentService struct {
	artifactStore dao.ArtifactStore
	ledger        *ledger.Ledger
	registry      *registry.Registry
	notifier      Notifier
	cfg           *config.ConsentConfig
	logger        *logrus.Logger

	locks keyedMutex

	watchMu  sync.Mutex
	watchers map[string][]chan struct{}
}

// NewConsentService creates a new consent service instance
func NewConsentService(
	artifactStore dao.ArtifactStore,
	auditLedger *ledger.Ledger,
	reg *registry.Registry,
	notifier Notifier,
	cfg *config.ConsentConfig,
	logger *logrus.Logger,
) *ConsentService {
	return &ConsentService{
		artifactStore: artifactStore,
		ledger:        auditLedger,
		registry:      reg,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
		watchers:      make(map[string][]chan struct{}),
	}
}

// RequestConsent creates a consent artifact in REQUESTED state on behalf of
// a requesting HIU. The scope must name at least one category and stay
// within the configured maximum duration.
func (s *ConsentService) RequestConsent(ctx context.Context, actorID string, req *models.ConsentRequestAPIRequest) (*models.ConsentArtifact, error) {
	if len(req.Categories) == 0 {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "at least one data category is required")
	}
	for _, c := range req.Categories {
		if strings.TrimSpace(c) == "" {
			return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "empty data category")
		}
	}

	duration := s.cfg.DefaultDuration
	if req.DurationSeconds != nil {
		duration = time.Duration(*req.DurationSeconds) * time.Second
	}
	if duration <= 0 || duration > s.cfg.MaxDuration {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "duration %s outside allowed range", duration)
	}

	fromTime, err := utils.ParseTime(req.FromDate)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "invalid fromDate: %v", err)
	}
	toTime, err := utils.ParseTime(req.ToDate)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "invalid toDate: %v", err)
	}
	if toTime.Before(fromTime) {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "toDate precedes fromDate")
	}

	if _, err := s.registry.Patient(req.PatientID); err != nil {
		return nil, err
	}
	requester, err := s.registry.Participant(req.RequesterID)
	if err != nil {
		return nil, err
	}
	if !requester.HasRole("HIU") {
		return nil, serviceerror.Wrap(serviceerror.ErrForbidden, "requester %s is not an HIU", req.RequesterID)
	}
	provider, err := s.registry.Participant(req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.HasRole("HIP") {
		return nil, serviceerror.Wrap(serviceerror.ErrForbidden, "provider %s is not an HIP", req.ProviderID)
	}

	now := time.Now()
	artifact := &models.ConsentArtifact{
		ArtifactID:  utils.GenerateArtifactID(),
		PatientID:   req.PatientID,
		RequesterID: req.RequesterID,
		ProviderID:  req.ProviderID,
		Categories:  req.Categories,
		FromTime:    utils.TimeToMillis(fromTime),
		ToTime:      utils.TimeToMillis(toTime),
		ExpiryTime:  utils.ExpiryFromDuration(now, duration),
		Status:      models.ArtifactStatusRequested,
		CreatedTime: utils.TimeToMillis(now),
		UpdatedTime: utils.TimeToMillis(now),
	}

	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    actorID,
		SubjectID:  artifact.ArtifactID,
		Action:     models.AuditActionConsentRequested,
		Detail:     strings.Join(req.Categories, ","),
		ActionTime: artifact.CreatedTime,
	}); err != nil {
		return nil, err
	}

	if err := s.artifactStore.Create(ctx, artifact); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"artifact_id":  artifact.ArtifactID,
		"patient_id":   artifact.PatientID,
		"requester_id": artifact.RequesterID,
		"provider_id":  artifact.ProviderID,
	}).Info("Consent requested")

	s.notify(artifact, models.AuditActionConsentRequested)
	return artifact, nil
}

// Decide transitions a REQUESTED artifact to GRANTED or DENIED based on the
// patient's signed decision. Concurrent decisions on the same artifact are
// serialized; exactly one wins, the loser receives ErrStaleDecision.
func (s *ConsentService) Decide(ctx context.Context, artifactID, decision, signatureToken string) (*models.ConsentArtifact, error) {
	next, err := models.ParseDecision(decision)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "%v", err)
	}

	unlock := s.locks.Lock(artifactID)
	defer unlock()

	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "artifact %s", artifactID)
	}

	if artifact.Status != models.ArtifactStatusRequested {
		return nil, serviceerror.Wrap(serviceerror.ErrStaleDecision, "artifact %s is %s", artifactID, artifact.Status)
	}

	patient, err := s.registry.Patient(artifact.PatientID)
	if err != nil {
		return nil, err
	}
	if err := signature.VerifyDecision(signatureToken, patient.PublicKey, artifactID, decision); err != nil {
		return nil, err
	}

	now := time.Now()
	if next == models.ArtifactStatusGranted && utils.IsExpiredAt(artifact.ExpiryTime, now) {
		return nil, serviceerror.Wrap(serviceerror.ErrInvalidScope, "expiry is no longer in the future")
	}

	action := models.AuditActionConsentGranted
	if next == models.ArtifactStatusDenied {
		action = models.AuditActionConsentDenied
	}

	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    artifact.PatientID,
		SubjectID:  artifactID,
		Action:     action,
		ActionTime: utils.TimeToMillis(now),
	}); err != nil {
		return nil, err
	}

	var scopeSignature *string
	if next == models.ArtifactStatusGranted {
		scopeSignature = &signatureToken
	}

	updated, err := s.artifactStore.UpdateStatus(ctx, artifactID, models.ArtifactStatusRequested, next, scopeSignature, utils.TimeToMillis(now))
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, serviceerror.Wrap(serviceerror.ErrStaleDecision, "artifact %s changed concurrently", artifactID)
	}

	artifact.Status = next
	artifact.ScopeSignature = scopeSignature
	artifact.UpdatedTime = utils.TimeToMillis(now)

	s.logger.WithFields(logrus.Fields{
		"artifact_id": artifactID,
		"decision":    decision,
	}).Info("Consent decision recorded")

	s.notify(artifact, action)
	return artifact, nil
}

// Revoke transitions a GRANTED artifact to REVOKED. The revocation is
// advisory-cooperative: pending exchanges under the artifact are signalled
// and observe the withdrawal at their next decision point.
func (s *ConsentService) Revoke(ctx context.Context, artifactID, actorID, reason string) (*models.ConsentArtifact, error) {
	unlock := s.locks.Lock(artifactID)
	defer unlock()

	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "artifact %s", artifactID)
	}

	if actorID != artifact.PatientID {
		if err := s.registry.Authorize(actorID, registry.CapabilityRevoke); err != nil {
			return nil, err
		}
	}

	if artifact.Status != models.ArtifactStatusGranted {
		return nil, serviceerror.Wrap(serviceerror.ErrNotRevocable, "artifact %s is %s", artifactID, artifact.Status)
	}

	now := utils.GetCurrentTimeMillis()
	if _, err := s.ledger.Append(ctx, &models.AuditRecord{
		ActorID:    actorID,
		SubjectID:  artifactID,
		Action:     models.AuditActionConsentRevoked,
		Detail:     reason,
		ActionTime: now,
	}); err != nil {
		return nil, err
	}

	updated, err := s.artifactStore.UpdateStatus(ctx, artifactID, models.ArtifactStatusGranted, models.ArtifactStatusRevoked, nil, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, serviceerror.Wrap(serviceerror.ErrNotRevocable, "artifact %s changed concurrently", artifactID)
	}

	artifact.Status = models.ArtifactStatusRevoked
	artifact.UpdatedTime = now

	s.logger.WithFields(logrus.Fields{
		"artifact_id": artifactID,
		"actor_id":    actorID,
	}).Info("Consent revoked")

	s.signalRevocation(artifactID)
	s.notify(artifact, models.AuditActionConsentRevoked)
	return artifact, nil
}

// ExpirySweep transitions GRANTED artifacts whose expiry has passed to
// EXPIRED. Re-running with the same instant is a no-op for artifacts already
// swept: the per-artifact re-check under lock skips them.
func (s *ConsentService) ExpirySweep(ctx context.Context, now time.Time) (int, error) {
	nowMillis := utils.TimeToMillis(now)
	candidates, err := s.artifactStore.ListExpirable(ctx, nowMillis)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range candidates {
		artifactID := candidates[i].ArtifactID

		err := func() error {
			unlock := s.locks.Lock(artifactID)
			defer unlock()

			artifact, err := s.artifactStore.GetByID(ctx, artifactID)
			if err != nil {
				return err
			}
			if artifact.Status != models.ArtifactStatusGranted || artifact.ExpiryTime > nowMillis {
				return nil
			}

			if _, err := s.ledger.Append(ctx, &models.AuditRecord{
				ActorID:    "system",
				SubjectID:  artifactID,
				Action:     models.AuditActionConsentExpired,
				ActionTime: nowMillis,
			}); err != nil {
				return err
			}

			updated, err := s.artifactStore.UpdateStatus(ctx, artifactID, models.ArtifactStatusGranted, models.ArtifactStatusExpired, nil, nowMillis)
			if err != nil {
				return err
			}
			if updated {
				expired++
				artifact.Status = models.ArtifactStatusExpired
				s.signalRevocation(artifactID)
				s.notify(artifact, models.AuditActionConsentExpired)
			}
			return nil
		}()
		if err != nil {
			s.logger.WithError(err).WithField("artifact_id", artifactID).Error("Expiry sweep failed for artifact")
			return expired, err
		}
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expiry sweep transitioned artifacts")
	}
	return expired, nil
}

// GetArtifact retrieves an artifact by ID
func (s *ConsentService) GetArtifact(ctx context.Context, artifactID string) (*models.ConsentArtifact, error) {
	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "artifact %s", artifactID)
	}
	return artifact, nil
}

// ListByPatient retrieves all artifacts for a patient
func (s *ConsentService) ListByPatient(ctx context.Context, patientID string) ([]models.ConsentArtifact, error) {
	return s.artifactStore.ListByPatient(ctx, patientID)
}

// IsGranted reports whether the artifact is currently in GRANTED state
func (s *ConsentService) IsGranted(ctx context.Context, artifactID string) (bool, error) {
	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return false, serviceerror.Wrap(serviceerror.ErrNotFound, "artifact %s", artifactID)
	}
	return artifact.Status == models.ArtifactStatusGranted, nil
}

// WatchRevocation registers interest in the artifact's grant being
// withdrawn (revoked or expired). The returned channel closes on the signal;
// the cancel function deregisters.
func (s *ConsentService) WatchRevocation(artifactID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	s.watchMu.Lock()
	s.watchers[artifactID] = append(s.watchers[artifactID], ch)
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		chans := s.watchers[artifactID]
		for i, c := range chans {
			if c == ch {
				s.watchers[artifactID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(s.watchers[artifactID]) == 0 {
			delete(s.watchers, artifactID)
		}
	}
	return ch, cancel
}

func (s *ConsentService) signalRevocation(artifactID string) {
	s.watchMu.Lock()
	chans := s.watchers[artifactID]
	delete(s.watchers, artifactID)
	s.watchMu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

func (s *ConsentService) notify(artifact *models.ConsentArtifact, eventType string) {
	if s.notifier == nil {
		return
	}
	targets := s.registry.NotifyTargets(artifact.PatientID, artifact.RequesterID, artifact.ProviderID)
	s.notifier.Notify(artifact.ArtifactID, eventType, targets)
}
