package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/unav/navclient/domain/diagnostic"
	"github.com/unav/navclient/domain/monitor"
	"github.com/unav/navclient/domain/navigation"
	"github.com/unav/navclient/pkg/api"
	"github.com/unav/navclient/pkg/backend"
	"github.com/unav/navclient/pkg/config"
	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/multiplexer"
	"github.com/unav/navclient/pkg/processing"
	"github.com/unav/navclient/pkg/render"
	"github.com/unav/navclient/pkg/store"
	"github.com/unav/navclient/pkg/tui"
	"github.com/unav/navclient/services"
)

// locationListener forwards accepted location changes to the navigator.
type locationListener struct {
	runner *navigation.Runner
	logger customlog.Logger
}

func (l locationListener) LocationChanged(cfg config.LocationConfig) {
	if err := l.runner.Send(navigation.LocationChanged{Location: cfg}); err != nil {
		l.logger.Errorf("Failed to apply location change: %v", err)
	}
}

// app holds the components shared by both modes.
type app struct {
	cfg       *config.BootstrapConfig
	logger    customlog.Logger
	sessionID string

	backend   *backend.Client
	location  services.LocationService
	director  *processing.EventDirector
	navigator *navigation.Navigator
	runner    *navigation.Runner
	feed      *feed.Client
}

func main() {
	configDir := flag.String("config", "config", "directory containing "+config.BootstrapFilename)
	mode := flag.String("mode", "server", "run mode: server or console")
	flag.Parse()

	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load bootstrap config: %v", err)
	}

	var appLogger customlog.Logger
	switch *mode {
	case "console":
		appLogger, err = customlog.NewLogrusFileLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	case "server":
		appLogger, err = customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	default:
		log.Fatalf("Unknown mode %q: must be server or console", *mode)
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := os.MkdirAll(bootstrapCfg.Data.Directory, 0755); err != nil {
		appLogger.Fatalf("Failed to create data directory %s: %v", bootstrapCfg.Data.Directory, err)
	}

	a, err := build(bootstrapCfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to initialize navclient: %v", err)
	}

	if *mode == "console" {
		runConsole(a)
	} else {
		runServer(a)
	}
}

func build(cfg *config.BootstrapConfig, logger customlog.Logger) (*app, error) {
	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger.Infof("Navigation session %s", sessionID)

	style, err := cfg.Render.Style()
	if err != nil {
		return nil, err
	}

	locationService, err := services.NewLocationService(cfg.Data.LocationConfigPath(), logger.WithField("component", "location"))
	if err != nil {
		return nil, fmt.Errorf("location service: %w", err)
	}

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout(), logger.WithField("component", "backend"))

	loop := processing.NewEventLoop("navclient", cfg.Processing.EventQueueSize, logger)
	director := processing.NewEventDirector(loop, processing.NewKindRegistry(logger), logger,
		&processing.DirectorOptions{SubmitTimeout: cfg.Processing.SubmitTimeout()})

	opts := navigation.Options{SessionID: sessionID}
	if loc := locationService.GetCurrentConfig(); loc != nil {
		opts.Location = loc.Location()
		opts.MetersPerPixel = loc.MetersPerPixel
	}
	presenter := navigation.FilePresenter{
		Path:   filepath.Join(cfg.Data.Directory, "frame.png"),
		Logger: logger,
	}
	navLogger := logger.WithField("component", "navigator")
	navigator := navigation.NewNavigator(backendClient, render.NewRenderer(style, navLogger), presenter, navLogger, opts)
	runner := navigation.NewRunner(navigator, loop, navLogger, cfg.Processing.SubmitTimeout())
	runner.RegisterFeedHandlers(director)
	locationService.SetListener(locationListener{runner: runner, logger: logger})

	var transport feed.Transport
	switch cfg.Feed.Transport {
	case config.TransportZeroMQ:
		transport = feed.NewZeroMQTransport(cfg.Feed.ZeroMQAddress)
	default:
		transport = feed.NewWebSocketTransport(cfg.Feed.WebSocketURL, nil)
	}
	feedClient := feed.NewClient(transport, director.Handler(), logger.WithField("component", "feed"),
		feed.Options{ReconnectDelay: cfg.Feed.ReconnectInterval()})

	return &app{
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		backend:   backendClient,
		location:  locationService,
		director:  director,
		navigator: navigator,
		runner:    runner,
		feed:      feedClient,
	}, nil
}

// start begins event processing, loads the initial floorplan and connects
// the feed in the background.
func (a *app) start(ctx context.Context, monitor bool) {
	a.director.Start()

	var first navigation.Msg = navigation.LoadFloorplan{}
	if loc := a.location.GetCurrentConfig(); loc != nil {
		first = navigation.LocationChanged{Location: *loc}
	}
	if err := a.runner.Send(first); err != nil {
		a.logger.Warnf("Initial floorplan request failed: %v", err)
	}

	go a.connectFeed(ctx, monitor)
}

// connectFeed retries until the feed is up or ctx ends.
func (a *app) connectFeed(ctx context.Context, monitor bool) {
	for {
		err := a.feed.Connect(ctx)
		if err == nil {
			break
		}
		a.logger.Warnf("Feed connect failed: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Feed.ReconnectInterval()):
		}
	}

	if err := a.feed.JoinRoom(a.sessionID); err != nil {
		a.logger.Errorf("join_room %s failed: %v", a.sessionID, err)
	}
	if monitor {
		if err := a.feed.StartMonitoring(); err != nil {
			a.logger.Errorf("start_monitoring failed: %v", err)
		}
	}
}

func (a *app) stop() {
	if err := a.feed.Disconnect(); err != nil {
		a.logger.Debugf("Feed disconnect: %v", err)
	}
	a.runner.Stop()
	a.director.Stop()
}

func runConsole(a *app) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx, a.cfg.Session.Monitor)
	defer a.stop()

	program := tea.NewProgram(tui.New(a.runner, a.navigator, tui.Options{}), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		a.logger.Errorf("Console exited with error: %v", err)
	}
}

func runServer(a *app) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var history monitor.HistorySource
	sessionLog, err := store.Open(a.cfg.Data.SessionDBPath(), a.logger.WithField("component", "store"))
	if err != nil {
		a.logger.Warnf("Session history disabled: %v", err)
	} else {
		history = sessionLog
		defer sessionLog.Close()
	}

	gallery := monitor.NewGallery()
	mux := multiplexer.New(gallery, func(sessionID, detailURL string) {
		a.logger.Infof("Session %s activated: %s", sessionID, detailURL)
	}, a.logger.WithField("component", "multiplexer"))
	hub := api.NewMonitorHub(a.logger.WithField("component", "monitor_ws"), mux.Sessions, api.DefaultClientBuffer)
	mux.AddObserver(hub)
	if sessionLog != nil {
		mux.AddObserver(sessionLog)
	}

	monitorService := monitor.NewMonitorService(mux, gallery, history, a.logger)
	monitorService.RegisterFeedHandlers(a.director)

	diagnosticService := diagnostic.NewDiagnosticService(diagnostic.Sources{
		Feed:     a.feed,
		Director: a.director,
		Sessions: mux,
		Monitor:  hub,
	}, a.logger)
	diagnosticService.Start(time.Minute)
	defer diagnosticService.Stop()

	a.start(ctx, true)

	fiberApp := fiber.New(fiber.Config{
		AppName:               "navclient",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	fiberApp.Use(logger.New())
	fiberApp.Use(recover.New())

	fiberApp.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "online",
			"service":    "navclient",
			"session_id": a.sessionID,
		})
	})
	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	fiberApp.Get(multiplexer.DetailPath, func(c *fiber.Ctx) error {
		if id := c.Query("session_id"); id != "" && id != a.sessionID {
			return fiber.NewError(fiber.StatusNotFound, "session "+id+" is not followed by this client")
		}
		frame := a.navigator.LastFrame()
		if frame == nil {
			return fiber.NewError(fiber.StatusNotFound, "no frame rendered yet")
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(frame)
	})

	navigation.NewNavigationService(a.runner, a.backend, a.logger).RegisterRoutes(fiberApp)
	monitorService.RegisterRoutes(fiberApp)
	api.RegisterConfigRoutes(fiberApp, a.location, a.logger)
	fiberApp.Get("/api/diagnostics", diagnosticService.GetMetricsHandler)

	fiberApp.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	fiberApp.Get("/ws/monitor", websocket.New(hub.MonitorWebSocketHandler))

	port := a.cfg.Server.HTTPPort
	go func() {
		a.logger.Infof("Server starting on port %d", port)
		if err := fiberApp.Listen(fmt.Sprintf(":%d", port)); err != nil {
			a.logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	a.logger.Infof("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Errorf("Server forced to shutdown: %v", err)
	}
	a.stop()

	a.logger.Infof("Server exited properly")
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
