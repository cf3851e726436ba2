package localhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/client/sync"
	"github.com/openmined/drivesync/internal/localhttp/controllers"
	apierrors "github.com/openmined/drivesync/internal/localhttp/errors"
	"github.com/openmined/drivesync/internal/localhttp/middleware"
	"github.com/openmined/drivesync/internal/localhttp/services"
	"github.com/openmined/drivesync/internal/utils"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Addr string
	// Token guards /v1. A random one is generated when empty.
	Token string
	// RateLimit in limiter notation, e.g. "20-S". Empty disables it.
	RateLimit string
}

// Server is the local status server of a running agent.
type Server struct {
	config   Config
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	log      *slog.Logger
}

func New(config Config, status *sync.SyncStatus, paths *pathmap.PathMap, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if config.Token == "" {
		config.Token = utils.TokenHex(16)
	}

	engine := gin.New()

	// NOTE middleware order is important
	engine.Use(
		middleware.ErrorHandler(),
		gin.Recovery(),
		middleware.Logger(log),
		middleware.SecureHeaders(),
		middleware.CORS(),
		middleware.Compression(middleware.DefaultCompressionConfig()),
	)

	if config.RateLimit != "" {
		limit, err := middleware.RateLimit(config.RateLimit)
		if err != nil {
			return nil, err
		}
		engine.Use(limit)
	}

	statusService := services.NewStatusService(status, paths)

	controllers.NewHealthController(services.NewHealthService()).RegisterRoutes(engine)

	v1 := engine.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: config.Token}))
	controllers.NewStatusController(statusService).RegisterRoutes(v1)
	controllers.NewEventsController(statusService).RegisterRoutes(v1)

	engine.NoRoute(func(c *gin.Context) {
		_ = c.Error(apierrors.NotFound("", nil))
	})

	return &Server{
		config: config,
		engine: engine,
		server: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		log: log,
	}, nil
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Token() string {
	return s.config.Token
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.log.Info("status server start", "addr", fmt.Sprintf("http://%s", s.Addr()), "token", utils.MaskSecret(s.config.Token))

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			s.log.Warn("status server stop", "error", err)
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop status server: %w", err)
	}
	return nil
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
