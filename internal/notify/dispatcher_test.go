package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *dao.InMemoryAuditStore) {
	t.Helper()
	audit := dao.NewInMemoryAuditStore()
	led, err := ledger.New(context.Background(), audit, testLogger(), metrics.NewForTest())
	require.NoError(t, err)

	cfg := &config.NotificationConfig{
		MaxAttempts: 3,
		Backoff:     5 * time.Millisecond,
		Timeout:     time.Second,
		Workers:     4,
		QueueSize:   16,
	}
	d := NewDispatcher(cfg, led, metrics.NewForTest(), testLogger())
	t.Cleanup(func() {
		d.Close()
		led.Close()
	})
	return d, audit
}

func auditAttempts(t *testing.T, audit *dao.InMemoryAuditStore) []models.AuditRecord {
	t.Helper()
	records, err := audit.Range(context.Background(), 1, 1<<30)
	require.NoError(t, err)
	var attempts []models.AuditRecord
	for _, r := range records {
		if r.Action == models.AuditActionNotificationAttempt {
			attempts = append(attempts, r)
		}
	}
	return attempts
}

func TestNotifyDeliversEvent(t *testing.T) {
	received := make(chan models.NotificationEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event models.NotificationEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, audit := newTestDispatcher(t)
	d.Notify("ARTIFACT-1", models.AuditActionConsentGranted, []string{server.URL})

	select {
	case event := <-received:
		assert.Equal(t, "ARTIFACT-1", event.SubjectID)
		assert.Equal(t, models.AuditActionConsentGranted, event.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}

	assert.Eventually(t, func() bool {
		return len(auditAttempts(t, audit)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyRetriesOnFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, audit := newTestDispatcher(t)
	d.Notify("EXCHANGE-1", models.AuditActionExchangeDelivered, []string{server.URL})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Both the failed and the successful attempt are audited
	assert.Eventually(t, func() bool {
		return len(auditAttempts(t, audit)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyAbandonsAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d, audit := newTestDispatcher(t)
	d.Notify("ARTIFACT-1", models.AuditActionConsentRevoked, []string{server.URL})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(auditAttempts(t, audit)) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyDoesNotBlockWhenPoolSaturated(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	audit := dao.NewInMemoryAuditStore()
	led, err := ledger.New(context.Background(), audit, testLogger(), metrics.NewForTest())
	require.NoError(t, err)

	m := metrics.NewForTest()
	d := NewDispatcher(&config.NotificationConfig{
		MaxAttempts: 1,
		Backoff:     time.Millisecond,
		Timeout:     time.Second,
		Workers:     2,
		QueueSize:   1,
	}, led, m, testLogger())
	t.Cleanup(func() {
		d.Close()
		led.Close()
	})

	// Two workers hang on the endpoint and one delivery fits the queue; the
	// rest must be dropped without stalling the caller.
	targets := make([]string, 16)
	for i := range targets {
		targets[i] = server.URL
	}

	returned := make(chan struct{})
	go func() {
		d.Notify("ARTIFACT-1", models.AuditActionConsentGranted, targets)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked while the delivery pool was saturated")
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.NotificationsAbandoned), float64(len(targets)-3))
}

func TestNotifySkipsEmptyTargets(t *testing.T) {
	d, audit := newTestDispatcher(t)
	d.Notify("ARTIFACT-1", models.AuditActionConsentRequested, []string{""})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, auditAttempts(t, audit))
}
