// Package sandbox serves an in-memory implementation of the Trainee REST API.
//
// It backs local development (`trainee sandbox`) and end-to-end tests of the
// client. Access tokens are HS256 JWTs carrying the Trainee claims; refresh
// tokens are opaque, stored hashed and rotated on every use.
package sandbox

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/trainee/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// APIBasePath prefixes every API route.
const APIBasePath = "/api"

// Server is the sandbox API.
type Server struct {
	configuration Config
	logger        *zap.Logger
	data          *dataset
	refreshTokens *refreshStore
	requests      *prometheus.CounterVec
	events        metrics.Recorder
	engine        *gin.Engine
}

// New seeds the sandbox and builds its router. Metrics are registered on
// registry and served at /metrics; a nil registry gets a private one.
func New(configuration Config, logger *zap.Logger, registry *prometheus.Registry) (*Server, error) {
	resolved, err := configuration.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("sandbox.new: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trainee_sandbox_requests_total",
		Help: "Sandbox API requests by route and status.",
	}, []string{"method", "route", "status"})
	if err := registry.Register(requests); err != nil {
		return nil, fmt.Errorf("sandbox.new: register metrics: %w", err)
	}
	authEvents, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("sandbox.new: register metrics: %w", err)
	}

	server := &Server{
		configuration: resolved,
		logger:        logger,
		data:          newDataset(),
		refreshTokens: newRefreshStore(),
		requests:      requests,
		events:        metrics.Fanout{authEvents, resolved.Metrics},
	}
	if err := server.seed(); err != nil {
		return nil, fmt.Errorf("sandbox.new: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(zapLoggerMiddleware(logger))
	engine.Use(server.countRequests())
	if resolved.EnableCORS {
		corsMiddleware, corsErr := ConfigureCORS(logger, resolved.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, fmt.Errorf("sandbox.new: %w", corsErr)
		}
		engine.Use(corsMiddleware)
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	server.mountRoutes(engine.Group(APIBasePath))
	server.engine = engine
	return server, nil
}

// Handler returns the HTTP handler serving the sandbox.
func (server *Server) Handler() http.Handler {
	return server.engine
}

func (server *Server) now() time.Time {
	return server.configuration.Now().UTC()
}

func (server *Server) seed() error {
	now := server.now()
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	for _, seed := range server.configuration.Sections {
		sectionID := server.data.allocateID("section")
		server.data.sections[sectionID] = &section{ID: sectionID, Name: seed.Name, Description: seed.Description}
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(server.configuration.AdminPassword), server.configuration.PasswordCost)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	adminID := server.data.allocateID("account")
	server.data.accounts[adminID] = &account{
		ID:           adminID,
		Username:     server.configuration.AdminUsername,
		Email:        server.configuration.AdminEmail,
		PasswordHash: passwordHash,
		IsActive:     true,
		IsStaff:      true,
		DateJoined:   now,
	}
	server.logger.Info("sandbox seeded",
		zap.String("code", "sandbox.seed"),
		zap.Int("sections", len(server.configuration.Sections)),
		zap.String("admin", server.configuration.AdminUsername))
	return nil
}

func (server *Server) countRequests() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.Next()
		route := contextGin.FullPath()
		if route == "" {
			route = "unmatched"
		}
		server.requests.WithLabelValues(contextGin.Request.Method, route, strconv.Itoa(contextGin.Writer.Status())).Inc()
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
