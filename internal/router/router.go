// Package router assembles the gin engine: middleware, health and metrics
// endpoints, and the versioned API routes.
package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/handlers"
)

// CorrelationIDHeader carries the request correlation ID end to end
const CorrelationIDHeader = "X-Correlation-ID"

// ParticipantIDHeader carries the caller identity asserted by the edge proxy
const ParticipantIDHeader = "X-Participant-ID"

// HealthChecker reports storage reachability for the health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// New builds the HTTP router
func New(
	consentHandler *handlers.ConsentHandler,
	exchangeHandler *handlers.ExchangeHandler,
	auditHandler *handlers.AuditHandler,
	health HealthChecker,
	logger *logrus.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(correlationMiddleware())
	engine.Use(identityMiddleware())
	engine.Use(requestLogger(logger))

	engine.GET("/health", func(c *gin.Context) {
		if health != nil {
			if err := health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		consents := v1.Group("/consents")
		{
			consents.POST("", consentHandler.RequestConsent)
			consents.GET("/:artifactId", consentHandler.GetArtifact)
			consents.POST("/:artifactId/decision", consentHandler.Decide)
			consents.POST("/:artifactId/revoke", consentHandler.Revoke)
			consents.GET("/:artifactId/exchanges", exchangeHandler.ListPendingByArtifact)
		}

		v1.GET("/patients/:patientId/consents", consentHandler.ListByPatient)

		exchanges := v1.Group("/exchanges")
		{
			exchanges.POST("", exchangeHandler.Initiate)
			exchanges.GET("/:requestId", exchangeHandler.GetRequest)
			exchanges.POST("/:requestId/callback", exchangeHandler.Callback)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("", auditHandler.Export)
			audit.GET("/verify", auditHandler.Verify)
		}
	}

	return engine
}

// correlationMiddleware propagates or assigns the request correlation ID
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlationId", correlationID)
		c.Header(CorrelationIDHeader, correlationID)
		c.Next()
	}
}

// identityMiddleware extracts the caller identity header for the handlers
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(handlers.ActorIDKey, c.GetHeader(ParticipantIDHeader))
		c.Next()
	}
}

// requestLogger emits one structured line per request
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"correlation_id": c.GetString("correlationId"),
			"actor_id":       c.GetString(handlers.ActorIDKey),
		}).Info("Request handled")
	}
}
