package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/service"
	"github.com/wricardo/sensor-game-hub/game/session"
	"github.com/wricardo/sensor-game-hub/metrics"
	"github.com/wricardo/sensor-game-hub/ratelimit"
	"github.com/wricardo/sensor-game-hub/transport/websocket"
)

// QR code image bounds in pixels.
const (
	DefaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// Session code lookups allowed per client address.
const (
	DefaultCodeLookupBurst    = 30
	DefaultCodeLookupInterval = time.Minute
)

// Server represents the REST API server
type Server struct {
	service   service.HubService
	registry  *websocket.Registry
	metrics   *metrics.Collector
	publicURL string
	router    *mux.Router
	logger    *slog.Logger
	lookups   *ratelimit.Keyed
	// lookupRetry is the time one lookup token takes to refill.
	lookupRetry time.Duration
}

// Options configure the API server
type Options struct {
	// PublicURL is the base of QR join links. When empty it is derived
	// from the request.
	PublicURL string
	Logger    *slog.Logger
	// CodeLookupBurst session code lookups are allowed per client address
	// every CodeLookupInterval.
	CodeLookupBurst    int
	CodeLookupInterval time.Duration
}

// NewServer creates a new API server. registry and collector may be nil,
// in which case /ws and /metrics are not served.
func NewServer(hubService service.HubService, registry *websocket.Registry, collector *metrics.Collector, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CodeLookupBurst <= 0 {
		opts.CodeLookupBurst = DefaultCodeLookupBurst
	}
	if opts.CodeLookupInterval <= 0 {
		opts.CodeLookupInterval = DefaultCodeLookupInterval
	}

	s := &Server{
		service:     hubService,
		registry:    registry,
		metrics:     collector,
		publicURL:   opts.PublicURL,
		router:      mux.NewRouter(),
		logger:      logger.With("component", "api"),
		lookups:     ratelimit.NewKeyed(opts.CodeLookupBurst, opts.CodeLookupInterval, 0),
		lookupRetry: opts.CodeLookupInterval / time.Duration(opts.CodeLookupBurst),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Catalog
	api.HandleFunc("/games", s.handleListGames).Methods("GET")
	api.HandleFunc("/games/{id}", s.handleGetGame).Methods("GET")

	// Rooms and session codes
	api.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	codes := api.PathPrefix("/session-codes").Subrouter()
	codes.Use(s.limitCodeLookups)
	codes.HandleFunc("/{code}", s.handleGetSessionCode).Methods("GET")
	codes.HandleFunc("/{code}/qr", s.handleSessionCodeQR).Methods("GET")

	// Server status
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// WebSocket
	if s.registry != nil {
		s.router.HandleFunc("/ws", s.registry.ServeWS)
	}
}

// limitCodeLookups caps how fast one client address can try session codes.
func (s *Server) limitCodeLookups(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		if !s.lookups.Allow(addr) {
			s.logger.Warn("Session code lookup limit reached", "remoteAddr", addr)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(s.lookupRetry.Seconds())))))
			respondError(w, http.StatusTooManyRequests, "too many session code lookups")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr is the request's remote host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps query errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrGameNotFound), errors.Is(err, session.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCodeNotWaiting):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.service.Health(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, health)
}

// Catalog Handlers

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.service.ListGames(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"games": games,
		"count": len(games),
	})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]

	game, err := s.service.GetGame(r.Context(), gameID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, game)
}

// Room and Code Handlers

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.ListWaitingRooms(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (s *Server) handleGetSessionCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	info, err := s.service.CodeInfo(r.Context(), code)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// handleSessionCodeQR renders a PNG QR code of the sensor join link for a
// waiting session code. ?size= sets the edge in pixels.
func (s *Server) handleSessionCodeQR(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	info, err := s.service.CodeInfo(r.Context(), code)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if info.Status != session.StatusWaiting {
		respondError(w, statusFor(service.ErrCodeNotWaiting), service.ErrCodeNotWaiting.Error())
		return
	}

	size := DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize))
			return
		}
		size = n
	}

	link := info.JoinURL
	if link == "" {
		link = service.JoinURL(s.baseURL(r), info.Code)
	}

	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		s.logger.Error("Failed to encode QR code", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// baseURL is the configured public URL or the one the request came in on.
func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}
