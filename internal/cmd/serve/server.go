package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/plugin/embed/cached"
	"github.com/fableforge/chronicle/internal/plugin/route/canon"
	"github.com/fableforge/chronicle/internal/plugin/route/memories"
	routesettings "github.com/fableforge/chronicle/internal/plugin/route/settings"
	"github.com/fableforge/chronicle/internal/plugin/route/snapshots"
	routesystem "github.com/fableforge/chronicle/internal/plugin/route/system"
	storemetrics "github.com/fableforge/chronicle/internal/plugin/store/metrics"
	registryembed "github.com/fableforge/chronicle/internal/registry/embed"
	registrymigrate "github.com/fableforge/chronicle/internal/registry/migrate"
	registrynarrator "github.com/fableforge/chronicle/internal/registry/narrator"
	registryroute "github.com/fableforge/chronicle/internal/registry/route"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/fableforge/chronicle/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.MemoryStore
	Engine          *memory.Engine
	Router          *gin.Engine
	Addr            net.Addr
	Port            int
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.closeMain(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chronicle",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"embedding", cfg.EmbedType,
		"narrator", cfg.NarratorType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize embedder
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if cfg.EmbedCacheEntries > 0 {
		embedder, err = cached.Wrap(embedder, int(cfg.EmbedCacheEntries))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
		}
	}

	// Initialize narrator
	narratorLoader, err := registrynarrator.Select(cfg.NarratorType)
	if err != nil {
		return nil, err
	}
	narrator, err := narratorLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize narrator: %w", err)
	}

	engine := memory.NewEngine(store, embedder, narrator, cfg)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount API routes
	memories.MountRoutes(router, engine, cfg)
	canon.MountRoutes(router, engine)
	snapshots.MountRoutes(router, engine)
	routesettings.MountRoutes(router, store)

	// Start background services
	promoter := service.NewPromoter(engine, cfg.PromoteQueueSize)
	engine.SetPromoter(promoter)
	go promoter.Start(ctx)

	expiry := service.NewExpiryService(store, cfg.CleanupInterval)
	go expiry.Start(ctx)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router so single-port
	// behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		mgmtAddr, mgmtClose, err := startHTTPServer(cfg.ManagementListener, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmtAddr)
		closeManagement = mgmtClose
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	addr, closeMain, err := startHTTPServer(cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	port := 0
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Engine:          engine,
		Router:          router,
		Addr:            addr,
		Port:            port,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}

// startHTTPServer binds a listener and serves the handler on it. Returns the
// bound address and a shutdown function.
func startHTTPServer(cfg config.ListenerConfig, handler http.Handler) (net.Addr, func(context.Context) error, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := srv.Shutdown(ctx); err != nil && err != context.Canceled {
				shutdownErr = err
			}
			_ = lis.Close()
		})
		return shutdownErr
	}
	return lis.Addr(), closeFn, nil
}
