package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
	"github.com/medgrid/exchange-engine/internal/signature"
)

const (
	testArtifactID = "ARTIFACT-1"
	testRequestID  = "EXCHANGE-1"
	testHIPID      = "HIP-1"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubChecker struct {
	mu      sync.Mutex
	granted bool
}

func (s *stubChecker) IsGranted(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

func (s *stubChecker) set(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

// stubHandler applies terminal outcomes straight to the store, standing in
// for the orchestrator.
type stubHandler struct {
	store *dao.InMemoryExchangeStore

	mu         sync.Mutex
	deliveries int
	rejections int
	timeouts   int
}

func (h *stubHandler) HandleDelivery(ctx context.Context, requestID string, _ map[string]interface{}) (*models.CallbackOutcome, error) {
	h.mu.Lock()
	h.deliveries++
	h.mu.Unlock()
	_, err := h.store.UpdateStatus(ctx, requestID, models.ExchangeStatusPending, models.ExchangeStatusDelivered, nil, nil, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return &models.CallbackOutcome{RequestID: requestID, Status: string(models.ExchangeStatusDelivered)}, nil
}

func (h *stubHandler) HandleRejection(ctx context.Context, requestID string, reason error) (*models.CallbackOutcome, error) {
	h.mu.Lock()
	h.rejections++
	h.mu.Unlock()
	reasonText := reason.Error()
	_, err := h.store.UpdateStatus(ctx, requestID, models.ExchangeStatusPending, models.ExchangeStatusRejected, nil, &reasonText, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return &models.CallbackOutcome{RequestID: requestID, Status: string(models.ExchangeStatusRejected)}, nil
}

func (h *stubHandler) HandleTimeout(_ context.Context, _ string) {
	h.mu.Lock()
	h.timeouts++
	h.mu.Unlock()
}

func (h *stubHandler) counts() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliveries, h.rejections, h.timeouts
}

type gatewayFixture struct {
	gw      *Gateway
	store   *dao.InMemoryExchangeStore
	handler *stubHandler
	checker *stubChecker
	hipKey  ed25519.PrivateKey
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	store := dao.NewInMemoryExchangeStore()
	checker := &stubChecker{granted: true}
	handler := &stubHandler{store: store}

	reg, err := registry.New(&config.RegistryConfig{})
	require.NoError(t, err)
	hipPub, hipPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	reg.RegisterParticipant(&registry.Participant{
		ID:        testHIPID,
		Roles:     []string{"HIP"},
		PublicKey: hipPub,
	})

	gw := New(
		&config.GatewayConfig{Workers: 2, QueueSize: 16},
		&config.ExchangeConfig{InstructionTimeout: time.Second},
		checker,
		store,
		reg,
		metrics.NewForTest(),
		testLogger(),
	)
	gw.SetOutcomeHandler(handler)
	gw.Start()
	t.Cleanup(gw.Stop)

	require.NoError(t, store.Create(context.Background(), &models.DataExchangeRequest{
		RequestID:     testRequestID,
		ArtifactID:    testArtifactID,
		InitiatorID:   "HIU-1",
		TargetID:      testHIPID,
		SubmittedTime: time.Now().UnixMilli(),
		DeadlineTime:  time.Now().Add(time.Hour).UnixMilli(),
		Attempts:      1,
		Status:        models.ExchangeStatusPending,
		UpdatedTime:   time.Now().UnixMilli(),
	}))

	return &gatewayFixture{gw: gw, store: store, handler: handler, checker: checker, hipKey: hipPriv}
}

func (f *gatewayFixture) callbackToken(t *testing.T) string {
	t.Helper()
	token, err := signature.SignCallback(f.hipKey, testRequestID)
	require.NoError(t, err)
	return token
}

func TestCallbackDelivers(t *testing.T) {
	f := newGatewayFixture(t)

	outcome, err := f.gw.OnCallback(context.Background(), testRequestID, map[string]interface{}{"records": 1}, "", f.callbackToken(t))
	require.NoError(t, err)
	assert.Equal(t, string(models.ExchangeStatusDelivered), outcome.Status)
	assert.False(t, outcome.Duplicate)

	deliveries, rejections, _ := f.handler.counts()
	assert.Equal(t, 1, deliveries)
	assert.Zero(t, rejections)
}

func TestDuplicateCallbackReturnsStoredOutcome(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.callbackToken(t)
	payload := map[string]interface{}{"records": 1}

	first, err := f.gw.OnCallback(context.Background(), testRequestID, payload, "", token)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.gw.OnCallback(context.Background(), testRequestID, payload, "", token)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Status, second.Status)

	deliveries, _, _ := f.handler.counts()
	assert.Equal(t, 1, deliveries, "duplicate must not re-process")
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	f := newGatewayFixture(t)

	_, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := signature.SignCallback(otherKey, testRequestID)
	require.NoError(t, err)

	_, err = f.gw.OnCallback(context.Background(), testRequestID, nil, "", token)
	assert.ErrorIs(t, err, serviceerror.ErrSignatureInvalid)

	deliveries, rejections, _ := f.handler.counts()
	assert.Zero(t, deliveries)
	assert.Zero(t, rejections)
}

func TestCallbackAfterConsentLapseIsRejected(t *testing.T) {
	f := newGatewayFixture(t)
	f.checker.set(false)

	_, err := f.gw.OnCallback(context.Background(), testRequestID, map[string]interface{}{"records": 1}, "", f.callbackToken(t))
	assert.ErrorIs(t, err, serviceerror.ErrConsentNoLongerValid)

	deliveries, rejections, _ := f.handler.counts()
	assert.Zero(t, deliveries)
	assert.Equal(t, 1, rejections)

	stored, err := f.store.GetByID(context.Background(), testRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusRejected, stored.Status)
}

func TestCallbackWithProviderError(t *testing.T) {
	f := newGatewayFixture(t)

	outcome, err := f.gw.OnCallback(context.Background(), testRequestID, nil, "records unavailable", f.callbackToken(t))
	require.NoError(t, err)
	assert.Equal(t, string(models.ExchangeStatusRejected), outcome.Status)

	stored, err := f.store.GetByID(context.Background(), testRequestID)
	require.NoError(t, err)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "records unavailable")
}

func TestCallbackForUnknownRequest(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gw.OnCallback(context.Background(), "EXCHANGE-GHOST", nil, "", f.callbackToken(t))
	assert.ErrorIs(t, err, serviceerror.ErrNotFound)
}

func TestTimeoutEventRoutesToHandler(t *testing.T) {
	f := newGatewayFixture(t)

	f.gw.PostTimeout(testRequestID)

	assert.Eventually(t, func() bool {
		_, _, timeouts := f.handler.counts()
		return timeouts == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRevocationEventRejectsPendingRequest(t *testing.T) {
	f := newGatewayFixture(t)

	f.gw.PostRevocation(testRequestID)

	assert.Eventually(t, func() bool {
		stored, err := f.store.GetByID(context.Background(), testRequestID)
		return err == nil && stored.Status == models.ExchangeStatusRejected
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentCallbacksOneWins(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.callbackToken(t)

	const callers = 4
	outcomes := make([]*models.CallbackOutcome, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			outcomes[i], _ = f.gw.OnCallback(context.Background(), testRequestID, map[string]interface{}{"n": i}, "", token)
		}()
	}
	wg.Wait()

	winners := 0
	duplicates := 0
	for _, o := range outcomes {
		require.NotNil(t, o)
		if o.Duplicate {
			duplicates++
		} else {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, duplicates)

	deliveries, _, _ := f.handler.counts()
	assert.Equal(t, 1, deliveries)
}

func TestStopIsSafeUnderConcurrentEnqueues(t *testing.T) {
	f := newGatewayFixture(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				f.gw.PostTimeout(fmt.Sprintf("EXCHANGE-%d-%d", n, j))
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	f.gw.Stop()
	close(stop)
	wg.Wait()

	// A second Stop and post-shutdown events are no-ops
	f.gw.Stop()
	_, err := f.gw.OnCallback(context.Background(), testRequestID, nil, "", f.callbackToken(t))
	assert.Error(t, err)
}

func TestEnqueueRejectsWhenRequestQueueFull(t *testing.T) {
	store := dao.NewInMemoryExchangeStore()
	reg, err := registry.New(&config.RegistryConfig{})
	require.NoError(t, err)

	// Not started: events accumulate on the request queue until the bound
	gw := New(
		&config.GatewayConfig{Workers: 1, QueueSize: 2},
		&config.ExchangeConfig{InstructionTimeout: time.Second},
		&stubChecker{granted: true},
		store,
		reg,
		metrics.NewForTest(),
		testLogger(),
	)
	gw.SetOutcomeHandler(&stubHandler{store: store})
	t.Cleanup(gw.Stop)

	gw.PostTimeout(testRequestID)
	gw.PostTimeout(testRequestID)

	_, err = gw.OnCallback(context.Background(), testRequestID, nil, "", "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestSendInstructionPostsToProvider(t *testing.T) {
	received := make(chan instruction, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var inst instruction
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inst))
		received <- inst
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newGatewayFixture(t)
	hip, err := f.gw.registry.Participant(testHIPID)
	require.NoError(t, err)
	hip.CallbackURL = server.URL
	f.gw.registry.RegisterParticipant(hip)

	request, err := f.store.GetByID(context.Background(), testRequestID)
	require.NoError(t, err)
	require.NoError(t, f.gw.SendExchangeInstruction(context.Background(), request))

	select {
	case inst := <-received:
		assert.Equal(t, testRequestID, inst.RequestID)
		assert.Equal(t, testArtifactID, inst.ArtifactID)
	case <-time.After(2 * time.Second):
		t.Fatal("instruction was not delivered")
	}
}

func TestSendInstructionRequiresCallbackEndpoint(t *testing.T) {
	f := newGatewayFixture(t)

	request, err := f.store.GetByID(context.Background(), testRequestID)
	require.NoError(t, err)

	// The fixture's provider has no registered callback endpoint
	err = f.gw.SendExchangeInstruction(context.Background(), request)
	assert.Error(t, err)
}
