// Command sensor-game-hub starts the sensor game hub.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing the WebSocket relay, the
//     read-only REST API, /metrics, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from defaults, an optional YAML file, SENSORHUB_* environment
// variables and finally the command-line flags. An ngrok tunnel can be
// opened so phones outside the local network can reach a development hub.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/sensor-game-hub/api"
	"github.com/wricardo/sensor-game-hub/config"
	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/codes"
	"github.com/wricardo/sensor-game-hub/game/janitor"
	"github.com/wricardo/sensor-game-hub/game/room"
	"github.com/wricardo/sensor-game-hub/game/service"
	"github.com/wricardo/sensor-game-hub/game/session"
	"github.com/wricardo/sensor-game-hub/metrics"
	"github.com/wricardo/sensor-game-hub/transport/mcp"
	"github.com/wricardo/sensor-game-hub/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Sensor Game Hub"
)

// Command-line flags override the loaded configuration when set.
var (
	configName   = flag.String("config", "sensorhub", "Config file name without extension, looked up in the working directory")
	port         = flag.Int("port", 0, "HTTP server port (default from config, 8080)")
	host         = flag.String("host", "", "HTTP server host (default from config, 0.0.0.0)")
	gamesDir     = flag.String("games-dir", "", "Directory containing game manifests (default from config, games)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with WebSocket relay, API, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Run HTTP server on default port 8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -port 9090         # Run HTTP server on port 9090\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -ngrok             # Expose the hub to phones through ngrok\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp          # Run MCP stdio server\n", os.Args[0])
	}
}

// main parses flags, initializes services, and starts the selected mode.
func main() {
	// Load .env file if it exists (ignore error if not found)
	envErr := godotenv.Load()

	flag.Parse()

	// Show version if requested
	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	logger := newLogger(os.Stderr, *debug)
	slog.SetDefault(logger)

	if envErr == nil {
		logger.Info("Loaded environment variables from .env file")
	} else if !os.IsNotExist(envErr) {
		logger.Warn("Error loading .env file", "error", envErr)
	}

	cfg, err := config.Load(logger, *configName)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	// Determine mode from command
	args := flag.Args()
	mode := "server" // default
	if len(args) > 0 {
		mode = args[0]
	}

	logger.Info("Starting", "app", AppName, "version", Version, "mode", mode)

	// Initialize services
	svc, err := initializeServices(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		// Run MCP stdio server with internal HTTP server
		runStdioMCPWithInternalServer(svc)

	case "server", "http":
		// Run HTTP server with relay, API, and MCP endpoint
		runHTTPServer(svc)

	default:
		logger.Error("Unknown mode. Use 'server' (default) or 'stdio-mcp'", "mode", mode)
		os.Exit(1)
	}
}

// newLogger builds the root logger. Logs go to w so stdout stays free for
// the MCP stdio transport.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// applyFlags copies explicitly provided flags over the loaded configuration.
func applyFlags(cfg *config.Config) {
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *gamesDir != "" {
		cfg.Games.Dir = *gamesDir
	}
	if *ngrokEnabled {
		cfg.Ngrok.Enabled = true
	}
	if *ngrokAuth != "" {
		cfg.Ngrok.AuthToken = *ngrokAuth
	}
	if *ngrokDomain != "" {
		cfg.Ngrok.Domain = *ngrokDomain
	}
}

// services holds the wired components of a running hub.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	games    *catalog.Manager
	sessions *session.Manager
	rooms    *room.Manager
	registry *websocket.Registry
	router   *websocket.Router
	janitor  *janitor.Janitor
	hub      service.HubService
	api      *api.Server
}

// initializeServices loads the game catalog and wires the relay core, the
// query service and the HTTP surface.
func initializeServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	games, err := catalog.NewManager(cfg.Games.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create game catalog: %w", err)
	}
	for _, id := range cfg.Games.Hidden {
		if err := games.SetActive(id, false); err != nil {
			logger.Warn("Cannot hide game", "id", id, "error", err)
		}
	}

	alloc := codes.NewAllocator(
		codes.WithRecentLimit(cfg.Codes.RecentLimit),
		codes.WithMaxAttempts(cfg.Codes.MaxAttempts),
	)
	sessions := session.NewManager(alloc, session.WithTTL(cfg.Codes.SessionTTL))
	rooms := room.NewManager(alloc, games, room.WithDefaultMaxPlayers(cfg.Rooms.DefaultMaxPlayers))

	collector := metrics.New()
	registry := websocket.NewRegistry(websocket.Options{
		WriteWait:          cfg.Transport.WriteWait,
		PongWait:           cfg.Transport.PongWait,
		MaxMessageSize:     cfg.Transport.MaxMessageSize,
		SendBuffer:         cfg.Transport.SendBuffer,
		RateBurst:          cfg.Transport.RateLimit.Burst,
		RateRefillInterval: cfg.Transport.RateLimit.RefillInterval,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
	}, logger, collector)

	router := websocket.NewRouter(registry, sessions, rooms, games,
		websocket.WithMetrics(collector),
		websocket.WithLogger(logger),
		websocket.WithVersion(Version),
	)

	sweeper := janitor.New(sessions, rooms,
		janitor.WithInterval(cfg.Janitor.Interval),
		janitor.WithRoomMaxAge(cfg.Rooms.MaxAge),
		janitor.WithOnSweep(router.HandleSweep),
		janitor.WithLogger(logger),
	)

	hub := service.NewHubService(games, sessions, rooms, registry, service.Options{
		Version:   Version,
		PublicURL: cfg.Server.PublicURL,
		Codes:     alloc,
	})

	apiServer := api.NewServer(hub, registry, collector, api.Options{
		PublicURL:          cfg.Server.PublicURL,
		Logger:             logger,
		CodeLookupBurst:    cfg.Server.CodeLookupLimit.Burst,
		CodeLookupInterval: cfg.Server.CodeLookupLimit.RefillInterval,
	})

	return &services{
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		games:    games,
		sessions: sessions,
		rooms:    rooms,
		registry: registry,
		router:   router,
		janitor:  sweeper,
		hub:      hub,
		api:      apiServer,
	}, nil
}

// localBaseURL is the loopback URL the MCP proxy uses to reach the API.
func localBaseURL(cfg *config.Config) string {
	h := cfg.Server.Host
	if h == "" || h == "0.0.0.0" || h == "::" {
		h = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(h, fmt.Sprint(cfg.Server.Port))
}

// mcpHandler serves MCP JSON-RPC messages over plain HTTP POST.
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// newMainRouter mounts the API at the root and the MCP endpoint at /mcp.
func newMainRouter(svc *services, mcpClient *mcp.Client) *http.ServeMux {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", svc.api)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))
	return mainRouter
}

// runHTTPServer starts the HTTP server with the relay, REST API and an /mcp proxy endpoint.
// If ngrok is enabled, it also provisions a public tunnel.
func runHTTPServer(svc *services) {
	logger := svc.logger
	addr := svc.cfg.Addr()

	mcpClient := mcp.NewClient(localBaseURL(svc.cfg), Version)
	mainRouter := newMainRouter(svc, mcpClient)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.janitor.Run(ctx)
	}()

	// Start regular HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening", "addr", addr, "games", svc.games.Count())
		logger.Info("Endpoints",
			"websocket", fmt.Sprintf("ws://%s/ws", addr),
			"api", fmt.Sprintf("http://%s/api", addr),
			"metrics", fmt.Sprintf("http://%s/metrics", addr),
			"mcp", fmt.Sprintf("http://%s/mcp", addr),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	if svc.cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, svc, mainRouter)
		}()
	}

	// Wait for shutdown signal
	sig := <-stop
	logger.Info("Shutting down", "signal", sig.String())
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := svc.registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("WebSocket shutdown error", "error", err)
	}

	// Wait for all goroutines to finish
	wg.Wait()
	logger.Info("Server stopped")
}

// runNgrokTunnel serves handler through an ngrok endpoint until ctx ends.
func runNgrokTunnel(ctx context.Context, svc *services, handler http.Handler) {
	logger := svc.logger.With("component", "ngrok")

	authToken := svc.cfg.Ngrok.AuthToken
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
		if authToken == "" {
			authToken = os.Getenv("NGROK_AUTH_TOKEN") // Also support underscore version
		}
	}

	if authToken == "" {
		logger.Warn("Ngrok enabled but no auth token provided (use -ngrok-auth, NGROK_AUTHTOKEN, or SENSORHUB_NGROK_AUTHTOKEN)")
		return
	}

	// Configure ngrok endpoint
	var tunnel ngrokConfig.Tunnel
	if domain := svc.cfg.Ngrok.Domain; domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info("Using custom ngrok domain", "domain", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info("Starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx,
		tunnel,
		ngrok.WithAuthtoken(authToken),
	)
	if err != nil {
		logger.Error("Failed to start ngrok tunnel", "error", err)
		return
	}
	defer func() {
		if err := tun.Close(); err != nil {
			logger.Warn("Failed to close ngrok tunnel", "error", err)
		}
	}()

	publicURL := tun.URL()
	logger.Info("Ngrok tunnel established",
		"url", publicURL,
		"websocket", publicURL+"/ws",
		"sensorJoin", service.JoinURL(publicURL, "<code>"),
	)

	tunnelServer := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		tunnelServer.Close()
	}()

	// Serve HTTP through ngrok tunnel
	if err := tunnelServer.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("Ngrok server error", "error", err)
	}
	logger.Info("Ngrok tunnel closed")
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It tries to reuse an external API at the configured address; if unavailable, it
// starts a minimal internal HTTP API bound to a random loopback port and targets that.
func runStdioMCPWithInternalServer(svc *services) {
	logger := svc.logger
	externalURL := localBaseURL(svc.cfg)
	baseURL := externalURL

	// First, try to connect to an external hub
	logger.Info("Checking for external API server", "url", externalURL)

	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/health")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		logger.Info("External API server found, using it for MCP", "url", externalURL)
	} else {
		// No external server found, start internal one
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			logger.Error("Failed to get available port", "error", err)
			os.Exit(1)
		}

		baseURL = "http://" + listener.Addr().String()
		logger.Info("No external API server found, starting internal HTTP server", "url", baseURL)

		httpServer := &http.Server{Handler: svc.api}
		go svc.janitor.Run(context.Background())
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Internal HTTP server error", "error", err)
			}
		}()
	}

	// Create MCP client pointing to the selected server
	mcpClient := mcp.NewClient(baseURL, Version)
	logger.Info("MCP stdio server ready", "api", baseURL)

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		logger.Error("MCP stdio server error", "error", err)
		os.Exit(1)
	}
}
