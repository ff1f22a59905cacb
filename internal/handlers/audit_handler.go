package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
)

// AuditHandler handles audit ledger export and verification endpoints
type AuditHandler struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
}

// NewAuditHandler creates a new audit handler instance
func NewAuditHandler(l *ledger.Ledger, reg *registry.Registry) *AuditHandler {
	return &AuditHandler{ledger: l, registry: reg}
}

// seqRange parses the fromSeq/toSeq query parameters, defaulting to the
// full ledger.
func seqRange(c *gin.Context) (int64, int64, error) {
	from := int64(1)
	to := int64(math.MaxInt64)

	if v := c.Query("fromSeq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			return 0, 0, errInvalidSeq(v)
		}
		from = parsed
	}
	if v := c.Query("toSeq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			return 0, 0, errInvalidSeq(v)
		}
		to = parsed
	}
	return from, to, nil
}

type seqError struct{ value string }

func (e seqError) Error() string { return "invalid sequence number: " + e.value }

func errInvalidSeq(v string) error { return seqError{value: v} }

// Export handles GET /api/v1/audit
func (h *AuditHandler) Export(c *gin.Context) {
	if err := h.registry.Authorize(actorID(c), registry.CapabilityAudit); err != nil {
		respondError(c, err)
		return
	}

	from, to, err := seqRange(c)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	records, err := h.ledger.Export(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	if records == nil {
		records = []models.AuditRecord{}
	}
	c.JSON(http.StatusOK, models.AuditExportAPIResponse{
		Records: records,
		From:    from,
		To:      to,
	})
}

// Verify handles GET /api/v1/audit/verify
func (h *AuditHandler) Verify(c *gin.Context) {
	if err := h.registry.Authorize(actorID(c), registry.CapabilityAudit); err != nil {
		respondError(c, err)
		return
	}

	from, to, err := seqRange(c)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	badSeq, err := h.ledger.VerifyChain(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ChainVerifyAPIResponse{
		Valid:       badSeq == 0,
		BadSequence: badSeq,
		From:        from,
		To:          to,
	})
}
