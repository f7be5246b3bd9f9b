package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/db"
	"github.com/ottdwire/ottdwire/internal/events"
	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// Version is reported by the ping endpoint.
var Version = "dev"

// Server is the HTTP decode service.
type Server struct {
	cfg      config.APIConfig
	bus      *events.EventBus
	parser   *protocol.Parser
	querier  *intnet.Querier
	registry *db.Registry
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. bus and querier may be nil; without a
// querier the query endpoints answer 503.
func NewServer(cfg *config.Config, bus *events.EventBus, parser *protocol.Parser, querier *intnet.Querier) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg.GetAPI(),
		bus:     bus,
		parser:  parser,
		querier: querier,
		logger:  util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// SetRegistry enables the servers endpoint, backed by r.
func (s *Server) SetRegistry(r *db.Registry) {
	s.registry = r
}

// Handler returns the router, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.cfg.TLS {
		if err := util.EnsureSelfSignedCert(s.cfg.CertFile, s.cfg.KeyFile, []string{s.cfg.ListenAddress, "localhost"}); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.cfg.TLS).Msg("decode API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.TLS {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/packet_types", s.handlePacketTypes)
	}

	decode := router.Group("/api/decode")
	decode.Use(BodyLimit(s.cfg.MaxBodyBytes))
	{
		decode.POST("/udp", s.handleDecode(events.FamilyUDP))
		decode.POST("/coordinator", s.handleDecode(events.FamilyCoordinator))
	}

	encode := router.Group("/api/encode")
	{
		encode.GET("/:packet", s.handleEncode)
	}

	query := router.Group("/api/query")
	{
		query.GET("/server", s.handleQueryServer)
		query.GET("/details", s.handleQueryDetails)
		query.GET("/master", s.handleQueryMaster)
	}

	router.GET("/api/servers", s.handleServers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ottdwire decode API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) emit(c *gin.Context, ev *events.Event) {
	if s.bus != nil {
		s.bus.Emit(context.WithoutCancel(c.Request.Context()), *ev)
	}
}
