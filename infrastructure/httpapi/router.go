// Package httpapi exposes the validation service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ahrav/smartvalidator/internal/application"
	"github.com/ahrav/smartvalidator/internal/domain"
)

// MaxBodyBytes caps the size of a /validate request body.
const MaxBodyBytes = 10 << 20

// AliveMessage is returned by GET /.
const AliveMessage = "AI Smart Validator is alive and active"

// Validator is the service behind POST /validate.
type Validator interface {
	ValidateData(ctx context.Context, records []domain.Record, opts application.ValidateOptions) (domain.BatchResult, error)
}

// Options configures the router.
type Options struct {
	// AllowedOrigins is the CORS allow-list. "*" allows every origin.
	AllowedOrigins []string
	// Logger receives access and error logs. Nil discards them.
	Logger *zap.Logger
	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// validateRequest is the body of POST /validate.
type validateRequest struct {
	Records json.RawMessage `json:"records" binding:"required"`
	UseRAG  bool            `json:"use_rag"`
	Source  string          `json:"source"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error     string `json:"error"`
	KeySource string `json:"key_source,omitempty"`
}

type handler struct {
	validator Validator
	logger    *zap.Logger
}

// NewRouter builds the gin engine serving the validation API.
func NewRouter(v Validator, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	h := &handler{validator: v, logger: opts.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(opts.Logger), cors.New(corsConfig(opts.AllowedOrigins)))

	r.GET("/", h.alive)
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	r.POST("/validate", h.validate)

	return r
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
		return config
	}
	config.AllowOrigins = origins
	return config
}

func (h *handler) alive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": AliveMessage})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// validate runs one batch. A malformed body is a 400; a missing API key is
// a 503 carrying key_source "Not found".
func (h *handler) validate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	records, err := domain.ParseRecords(req.Records)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.validator.ValidateData(c.Request.Context(), records, application.ValidateOptions{
		UseRAG: req.UseRAG,
		Source: req.Source,
	})
	if err != nil {
		if application.IsCredentialError(err) {
			c.JSON(http.StatusServiceUnavailable, errorResponse{
				Error:     err.Error(),
				KeySource: domain.OriginNotFound,
			})
			return
		}
		h.logger.Error("validation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// accessLog logs one line per request.
func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
