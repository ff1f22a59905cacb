package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/service"
)

// ConsentHandler handles consent artifact endpoints
type ConsentHandler struct {
	consent  *service.ConsentService
	registry *registry.Registry
}

// NewConsentHandler creates a new consent handler instance
func NewConsentHandler(consent *service.ConsentService, reg *registry.Registry) *ConsentHandler {
	return &ConsentHandler{consent: consent, registry: reg}
}

// RequestConsent handles POST /api/v1/consents
func (h *ConsentHandler) RequestConsent(c *gin.Context) {
	var req models.ConsentRequestAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	artifact, err := h.consent.RequestConsent(c.Request.Context(), actorID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.ConsentRequestAPIResponse{
		ArtifactID: artifact.ArtifactID,
		Status:     string(artifact.Status),
	})
}

// Decide handles POST /api/v1/consents/:artifactId/decision
func (h *ConsentHandler) Decide(c *gin.Context) {
	var req models.ConsentDecisionAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	artifact, err := h.consent.Decide(c.Request.Context(), c.Param("artifactId"), req.Decision, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, artifact.ToAPIResponse())
}

// Revoke handles POST /api/v1/consents/:artifactId/revoke
func (h *ConsentHandler) Revoke(c *gin.Context) {
	var req models.ConsentRevokeAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	artifact, err := h.consent.Revoke(c.Request.Context(), c.Param("artifactId"), actorID(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, artifact.ToAPIResponse())
}

// GetArtifact handles GET /api/v1/consents/:artifactId
func (h *ConsentHandler) GetArtifact(c *gin.Context) {
	artifact, err := h.consent.GetArtifact(c.Request.Context(), c.Param("artifactId"))
	if err != nil {
		respondError(c, err)
		return
	}

	// The patient sees their own artifact; anyone else needs the view capability
	caller := actorID(c)
	if caller != artifact.PatientID {
		if err := h.registry.Authorize(caller, registry.CapabilityView); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, artifact.ToAPIResponse())
}

// ListByPatient handles GET /api/v1/patients/:patientId/consents
func (h *ConsentHandler) ListByPatient(c *gin.Context) {
	patientID := c.Param("patientId")

	caller := actorID(c)
	if caller != patientID {
		if err := h.registry.Authorize(caller, registry.CapabilityView); err != nil {
			respondError(c, err)
			return
		}
	}

	artifacts, err := h.consent.ListByPatient(c.Request.Context(), patientID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]*models.ArtifactAPIResponse, 0, len(artifacts))
	for i := range artifacts {
		out = append(out, artifacts[i].ToAPIResponse())
	}
	c.JSON(http.StatusOK, gin.H{"consents": out})
}
