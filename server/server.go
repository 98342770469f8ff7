package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/linkshield/cloaker/api"
	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/cron"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/services"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, cloakerDB *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(cloakerDB)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	// Scheduled jobs run on the elected leader only
	cronManager := cron.NewCronManager(cfg, appLogger, k8sClient(appLogger), svcs.DomainService, svcs.ArchiveService, repos)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

// k8sClient returns an in-cluster client, or nil outside a cluster where
// the cron manager falls back to local mode.
func k8sClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Infof("Not running in a cluster, cron leader election disabled: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warnf("Could not build kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.config, s.services, s.repositories)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		// Create a new span for the panic
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		// Mark span as failed
		ext.Error.Set(span, true)

		// Log panic details
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start scheduled jobs with panic recovery
	log.Println("Starting cron manager...")
	s.wrapGoroutine("cron_manager", func() {
		if err := s.cronManager.Start(os.Getenv("POD_NAME"), os.Getenv("POD_NAMESPACE")); err != nil {
			log.Printf("❌ Cron manager error: %v", err)
		}
	})
	log.Println("✅ Cron manager started successfully")

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("Cloaker is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server
	log.Println("Shutting down HTTP server...")
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop cron and drain async pipelines with timeout and panic recovery
	log.Println("Stopping background services...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("background_shutdown", func() {
		defer close(stopDone)
		s.cronManager.Stop()
		s.services.Close()
	})

	select {
	case <-stopDone:
		log.Println("Background services stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Background services stop timed out, forcing exit")
	}

	return nil
}
