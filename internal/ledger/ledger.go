// Package ledger implements the append-only, hash-chained audit ledger. All
// appends route through a single writer goroutine that owns the chain tail,
// which gives the ledger its total order without shared mutable state.
package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
)

type appendRequest struct {
	ctx    context.Context
	record *models.AuditRecord
	result chan appendResult
}

type appendResult struct {
	seq int64
	err error
}

// Ledger is the single logical writer of AuditRecord rows
type Ledger struct {
	store   dao.AuditStore
	logger  *logrus.Logger
	metrics *metrics.Metrics

	appends chan appendRequest
	done    chan struct{}
}

// New opens the ledger, recovering the chain tail from storage, and starts
// the writer goroutine.
func New(ctx context.Context, store dao.AuditStore, logger *logrus.Logger, m *metrics.Metrics) (*Ledger, error) {
	tail, err := store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover ledger tail: %w", err)
	}

	l := &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		appends: make(chan appendRequest),
		done:    make(chan struct{}),
	}

	var tailSeq int64
	tailHash := ""
	if tail != nil {
		tailSeq = tail.Sequence
		tailHash = tail.PayloadHash
	}

	go l.run(tailSeq, tailHash)

	logger.WithField("tail_seq", tailSeq).Info("Audit ledger opened")
	return l, nil
}

// run owns the tail. A failed append leaves the in-memory tail untouched, so
// the ledger stays in its prior valid state.
func (l *Ledger) run(tailSeq int64, tailHash string) {
	defer close(l.done)
	for req := range l.appends {
		record := req.record
		record.Sequence = tailSeq + 1
		record.PrevHash = tailHash
		record.PayloadHash = record.ComputeHash()

		if err := l.store.Append(req.ctx, record); err != nil {
			if l.metrics != nil {
				l.metrics.LedgerAppendFailures.Inc()
			}
			l.logger.WithError(err).WithFields(logrus.Fields{
				"seq":     record.Sequence,
				"subject": record.SubjectID,
				"action":  record.Action,
			}).Error("Audit ledger append failed")
			req.result <- appendResult{err: serviceerror.Wrap(serviceerror.ErrLedgerAppend, "append seq %d", record.Sequence)}
			continue
		}

		tailSeq = record.Sequence
		tailHash = record.PayloadHash
		req.result <- appendResult{seq: record.Sequence}
	}
}

// Append assigns the next sequence number, links the record to the current
// tail, and persists it. Returns the assigned sequence number, or
// serviceerror.ErrLedgerAppend on a storage fault.
func (l *Ledger) Append(ctx context.Context, record *models.AuditRecord) (int64, error) {
	req := appendRequest{ctx: ctx, record: record, result: make(chan appendResult, 1)}

	select {
	case l.appends <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.seq, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops accepting appends and waits for the writer to drain
func (l *Ledger) Close() {
	close(l.appends)
	<-l.done
}

// VerifyChain recomputes hashes over the stored range and returns the first
// mismatching sequence number, or 0 when the range verifies. It needs no
// cooperation from any other component.
func (l *Ledger) VerifyChain(ctx context.Context, fromSeq, toSeq int64) (int64, error) {
	records, err := l.store.Range(ctx, fromSeq, toSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger range: %w", err)
	}

	// Seed the chain link from the record preceding the range, when one exists
	prevHash := ""
	haveLink := fromSeq <= 1
	if fromSeq > 1 {
		prev, err := l.store.Range(ctx, fromSeq-1, fromSeq-1)
		if err != nil {
			return 0, fmt.Errorf("failed to read ledger range: %w", err)
		}
		if len(prev) == 1 {
			prevHash = prev[0].PayloadHash
			haveLink = true
		}
	}

	for _, record := range records {
		if record.ComputeHash() != record.PayloadHash {
			return record.Sequence, nil
		}
		if haveLink && record.PrevHash != prevHash {
			return record.Sequence, nil
		}
		prevHash = record.PayloadHash
		haveLink = true
	}

	return 0, nil
}

// Export returns the ordered, read-only record range for compliance review
func (l *Ledger) Export(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditRecord, error) {
	return l.store.Range(ctx, fromSeq, toSeq)
}
