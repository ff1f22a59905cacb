// Package gateway carries the asynchronous exchange protocol: outbound
// fetch instructions to the HIP and inbound result callbacks. Inbound
// events, timeouts included, are enqueued onto a per-request-ID serialized
// queue drained by a small worker pool, so processing for one request is
// strictly ordered while distinct requests proceed concurrently.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
	"github.com/medgrid/exchange-engine/internal/signature"
)

// ConsentChecker reports whether an artifact currently authorizes exchanges
type ConsentChecker interface {
	IsGranted(ctx context.Context, artifactID string) (bool, error)
}

// RequestReader resolves exchange requests for validation and idempotency
type RequestReader interface {
	GetByID(ctx context.Context, requestID string) (*models.DataExchangeRequest, error)
}

// OutcomeHandler applies terminal outcomes to an exchange request. The
// orchestrator implements it; calls for one request arrive serialized.
type OutcomeHandler interface {
	// HandleDelivery records a successful payload delivery
	HandleDelivery(ctx context.Context, requestID string, payload map[string]interface{}) (*models.CallbackOutcome, error)
	// HandleRejection records a refused exchange with the given reason
	HandleRejection(ctx context.Context, requestID string, reason error) (*models.CallbackOutcome, error)
	// HandleTimeout reacts to an elapsed delivery deadline: retry or give up
	HandleTimeout(ctx context.Context, requestID string)
}

type eventKind int

const (
	eventCallback eventKind = iota
	eventTimeout
	eventRevoked
)

type event struct {
	kind      eventKind
	requestID string
	payload   map[string]interface{}
	errMsg    string
	sigToken  string
	result    chan eventResult
}

type eventResult struct {
	outcome *models.CallbackOutcome
	err     error
}

type requestQueue struct {
	requestID string
	events    []*event
	active    bool
}

// instruction is the wire format of an outbound fetch instruction
type instruction struct {
	RequestID  string `json:"requestId"`
	ArtifactID string `json:"artifactId"`
	Deadline   int64  `json:"deadline"`
}

// Gateway models the asynchronous request/response protocol boundary
type Gateway struct {
	cfg      *config.GatewayConfig
	consent  ConsentChecker
	requests RequestReader
	registry *registry.Registry
	handler  OutcomeHandler
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	httpClient *http.Client

	mu     sync.Mutex
	queues map[string]*requestQueue
	work   chan *requestQueue
	closed bool

	// enqWG tracks enqueues that passed the closed check but have not yet
	// finished their send on work; Stop waits for them before closing it.
	enqWG sync.WaitGroup
	wg    sync.WaitGroup
}

// New creates the gateway. SetOutcomeHandler must be called before Start.
func New(
	cfg *config.GatewayConfig,
	exchangeCfg *config.ExchangeConfig,
	consent ConsentChecker,
	requests RequestReader,
	reg *registry.Registry,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Gateway {
	return &Gateway{
		cfg:      cfg,
		consent:  consent,
		requests: requests,
		registry: reg,
		metrics:  m,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: exchangeCfg.InstructionTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		queues: make(map[string]*requestQueue),
		work:   make(chan *requestQueue, 1024),
	}
}

// SetOutcomeHandler wires the orchestrator in after construction; the two
// components reference each other, so one side is attached late.
func (g *Gateway) SetOutcomeHandler(h OutcomeHandler) {
	g.handler = h
}

// Start launches the worker pool
func (g *Gateway) Start() {
	for i := 0; i < g.cfg.Workers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	g.logger.WithField("workers", g.cfg.Workers).Info("Callback gateway started")
}

// Stop drains the worker pool. Pending enqueued events are processed first.
// Safe to call more than once.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()
	g.enqWG.Wait()
	close(g.work)
	g.wg.Wait()
}

// SendExchangeInstruction validates the target locally and hands off
// delivery of the fetch instruction, returning without awaiting the
// provider. The result arrives later through OnCallback.
func (g *Gateway) SendExchangeInstruction(ctx context.Context, request *models.DataExchangeRequest) error {
	target, err := g.registry.Participant(request.TargetID)
	if err != nil {
		return err
	}
	if target.CallbackURL == "" {
		return fmt.Errorf("participant %s has no callback endpoint", request.TargetID)
	}

	inst := instruction{
		RequestID:  request.RequestID,
		ArtifactID: request.ArtifactID,
		Deadline:   request.DeadlineTime,
	}

	go g.deliverInstruction(target.CallbackURL, inst)
	return nil
}

func (g *Gateway) deliverInstruction(url string, inst instruction) {
	body, err := json.Marshal(inst)
	if err != nil {
		g.logger.WithError(err).Error("Failed to marshal exchange instruction")
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		g.logger.WithError(err).Error("Failed to create instruction request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	// The request ID correlates the instruction with the eventual callback
	req.Header.Set("X-Correlation-ID", inst.RequestID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Delivery failure is not terminal; the deadline watch covers it
		g.logger.WithError(err).WithField("request_id", inst.RequestID).Warn("Instruction delivery failed")
		return
	}
	defer resp.Body.Close()

	g.logger.WithFields(logrus.Fields{
		"request_id": inst.RequestID,
		"status":     resp.StatusCode,
	}).Debug("Exchange instruction delivered")
}

// OnCallback processes an inbound provider result. Idempotent per request
// ID: a request already in a terminal status returns the stored outcome
// without re-processing. Consent is re-checked at processing time, so a
// revocation after submission rejects the callback.
func (g *Gateway) OnCallback(ctx context.Context, requestID string, payload map[string]interface{}, errMsg, sigToken string) (*models.CallbackOutcome, error) {
	ev := &event{
		kind:      eventCallback,
		requestID: requestID,
		payload:   payload,
		errMsg:    errMsg,
		sigToken:  sigToken,
		result:    make(chan eventResult, 1),
	}

	if err := g.enqueue(ev); err != nil {
		return nil, err
	}

	select {
	case res := <-ev.result:
		return res.outcome, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PostTimeout enqueues a deadline-elapsed event for the request. Sharing the
// callback queue gives the tie-break: whichever event commits a terminal
// state first wins, the other is handled as duplicate-after-terminal.
func (g *Gateway) PostTimeout(requestID string) {
	_ = g.enqueue(&event{kind: eventTimeout, requestID: requestID})
}

// PostRevocation enqueues a consent-withdrawn signal for the request
func (g *Gateway) PostRevocation(requestID string) {
	_ = g.enqueue(&event{kind: eventRevoked, requestID: requestID})
}

func (g *Gateway) enqueue(ev *event) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("gateway is shut down")
	}
	q, ok := g.queues[ev.requestID]
	if !ok {
		q = &requestQueue{requestID: ev.requestID}
		g.queues[ev.requestID] = q
	}
	if len(q.events) >= g.cfg.QueueSize {
		g.mu.Unlock()
		return fmt.Errorf("event queue for request %s is full", ev.requestID)
	}
	q.events = append(q.events, ev)
	schedule := !q.active
	if schedule {
		q.active = true
		g.enqWG.Add(1)
	}
	g.mu.Unlock()

	if schedule {
		g.work <- q
		g.enqWG.Done()
	}
	return nil
}

func (g *Gateway) worker() {
	defer g.wg.Done()
	for q := range g.work {
		g.drain(q)
	}
}

// drain processes one queue until empty. Only one worker holds a queue at a
// time, which is the per-request serialization guarantee.
func (g *Gateway) drain(q *requestQueue) {
	for {
		g.mu.Lock()
		if len(q.events) == 0 {
			q.active = false
			delete(g.queues, q.requestID)
			g.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		g.mu.Unlock()

		g.process(ev)
	}
}

func (g *Gateway) process(ev *event) {
	ctx := context.Background()

	switch ev.kind {
	case eventTimeout:
		g.handler.HandleTimeout(ctx, ev.requestID)
		return
	case eventRevoked:
		request, err := g.requests.GetByID(ctx, ev.requestID)
		if err != nil || request.Status.IsTerminal() {
			return
		}
		if _, err := g.handler.HandleRejection(ctx, ev.requestID, serviceerror.ErrConsentNoLongerValid); err != nil {
			g.logger.WithError(err).WithField("request_id", ev.requestID).Error("Failed to reject revoked exchange")
		}
		return
	}

	outcome, err := g.processCallback(ctx, ev)
	ev.result <- eventResult{outcome: outcome, err: err}
}

func (g *Gateway) processCallback(ctx context.Context, ev *event) (*models.CallbackOutcome, error) {
	request, err := g.requests.GetByID(ctx, ev.requestID)
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "exchange request %s", ev.requestID)
	}

	// Duplicate-delivery tolerance: terminal requests return the recorded
	// outcome; networks may redeliver.
	if request.Status.IsTerminal() {
		if g.metrics != nil {
			g.metrics.CallbacksDuplicate.Inc()
		}
		g.logger.WithFields(logrus.Fields{
			"request_id": ev.requestID,
			"status":     request.Status,
		}).Info("Duplicate callback acknowledged with stored outcome")
		return &models.CallbackOutcome{
			RequestID: ev.requestID,
			Status:    string(request.Status),
			Duplicate: true,
		}, nil
	}

	target, err := g.registry.Participant(request.TargetID)
	if err != nil {
		return nil, err
	}
	if err := signature.VerifyCallback(ev.sigToken, target.PublicKey, ev.requestID); err != nil {
		return nil, err
	}

	granted, err := g.consent.IsGranted(ctx, request.ArtifactID)
	if err != nil {
		return nil, err
	}
	if !granted {
		if g.metrics != nil {
			g.metrics.CallbacksRejected.Inc()
		}
		if _, err := g.handler.HandleRejection(ctx, ev.requestID, serviceerror.ErrConsentNoLongerValid); err != nil {
			return nil, err
		}
		return nil, serviceerror.Wrap(serviceerror.ErrConsentNoLongerValid, "artifact %s no longer authorizes request %s", request.ArtifactID, ev.requestID)
	}

	if ev.errMsg != "" {
		return g.handler.HandleRejection(ctx, ev.requestID, fmt.Errorf("provider error: %s", ev.errMsg))
	}

	return g.handler.HandleDelivery(ctx, ev.requestID, ev.payload)
}
