package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/config"
	"github.com/energizer-project/rcon/internal/events"
	"github.com/energizer-project/rcon/internal/health"
	"github.com/energizer-project/rcon/internal/history"
	intnet "github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/util"
)

// Server is the HTTP remote-command gateway.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	history  *history.Store
	health   *health.Manager
	version  string

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new gateway. store may be nil when the audit log is
// disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, store *history.Store, version string) *Server {
	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if eventBus == nil {
		eventBus = events.NewEventBus()
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		history:  store,
		version:  version,
	}
	s.router = s.buildRouter()

	return s
}

// SetDependencies injects components started after the server is built.
func (s *Server) SetDependencies(healthMgr *health.Manager) {
	s.health = healthMgr
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.API.Listen
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.cfg.API.TLSEnabled {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	ln, err := intnet.ListenTCP(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", s.cfg.API.TLSEnabled).
		Msg("rcon gateway starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.httpServer.TLSConfig != nil {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// tlsConfig loads the gateway certificate, generating a self-signed one on
// first start.
func (s *Server) tlsConfig() (*tls.Config, error) {
	certFile, keyFile := s.cfg.API.TLSCertFile, s.cfg.API.TLSKeyFile

	hosts := []string{"localhost", "127.0.0.1"}
	if host, _, err := net.SplitHostPort(s.cfg.API.Listen); err == nil && host != "" {
		hosts = append(hosts, host)
	}

	generated, err := util.EnsureTLSCertificate(certFile, keyFile, hosts)
	if err != nil {
		return nil, err
	}
	if generated {
		log.Warn().Str("cert", certFile).Msg("generated self-signed gateway certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	v1.Use(RequireToken(s.cfg.API.Token))
	{
		v1.POST("/rcon", s.handleRCON)
		v1.GET("/peers", s.handleListPeers)
		v1.POST("/peers/:id/rcon", s.handlePeerRCON)
		v1.GET("/history", s.handleHistory)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the gateway.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
