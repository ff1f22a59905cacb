package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medgrid/exchange-engine/internal/gateway"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/service"
)

// ExchangeHandler handles exchange request and callback endpoints
type ExchangeHandler struct {
	exchange *service.ExchangeService
	gateway  *gateway.Gateway
	registry *registry.Registry
}

// NewExchangeHandler creates a new exchange handler instance
func NewExchangeHandler(exchange *service.ExchangeService, gw *gateway.Gateway, reg *registry.Registry) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange, gateway: gw, registry: reg}
}

// Initiate handles POST /api/v1/exchanges
func (h *ExchangeHandler) Initiate(c *gin.Context) {
	var req models.ExchangeInitiateAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	request, err := h.exchange.InitiateExchange(c.Request.Context(), actorID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, models.ExchangeInitiateAPIResponse{
		RequestID: request.RequestID,
		Status:    string(request.Status),
	})
}

// Callback handles POST /api/v1/exchanges/:requestId/callback
func (h *ExchangeHandler) Callback(c *gin.Context) {
	var req models.ExchangeCallbackAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	outcome, err := h.gateway.OnCallback(c.Request.Context(), c.Param("requestId"), req.Payload, req.Error, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ListPendingByArtifact handles GET /api/v1/consents/:artifactId/exchanges
func (h *ExchangeHandler) ListPendingByArtifact(c *gin.Context) {
	if err := h.registry.Authorize(actorID(c), registry.CapabilityView); err != nil {
		respondError(c, err)
		return
	}

	requests, err := h.exchange.ListPendingByArtifact(c.Request.Context(), c.Param("artifactId"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]*models.ExchangeAPIResponse, 0, len(requests))
	for i := range requests {
		out = append(out, requests[i].ToAPIResponse())
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out})
}

// GetRequest handles GET /api/v1/exchanges/:requestId
func (h *ExchangeHandler) GetRequest(c *gin.Context) {
	request, err := h.exchange.GetRequest(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Only the exchange parties may read it without the view capability
	caller := actorID(c)
	if caller != request.InitiatorID && caller != request.TargetID {
		if err := h.registry.Authorize(caller, registry.CapabilityView); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, request.ToAPIResponse())
}
