// Package api exposes the trust layer over HTTP: event capture,
// policy management, quarantine control, provenance, aggregation
// reads, and a websocket stream for the dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"warden/config"
	"warden/core"
	"warden/monitor"
	"warden/provenance"
	"warden/quarantine"
	"warden/stream"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// API is the HTTP server for the warden service.
type API struct {
	router     *mux.Router
	server     *http.Server
	monitor    *monitor.Service
	quarantine *quarantine.Manager
	provenance *provenance.Service
	bus        *stream.Bus
	config     *config.Config
	logger     *zap.SugaredLogger
	limiter    *rate.Limiter
}

func NewAPI(
	monitorService *monitor.Service,
	quarantineManager *quarantine.Manager,
	provenanceService *provenance.Service,
	bus *stream.Bus,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *API {
	rps := cfg.API.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 100
	}
	burst := cfg.API.RateLimit.Burst
	if burst <= 0 {
		burst = rps
	}

	api := &API{
		router:     mux.NewRouter(),
		monitor:    monitorService,
		quarantine: quarantineManager,
		provenance: provenanceService,
		bus:        bus,
		config:     cfg,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.rateLimitMiddleware)
	if a.config.Auth.Enabled {
		a.router.Use(a.authMiddleware)
	}

	a.router.HandleFunc("/api/v1/auth/login", a.login).Methods("POST")

	a.router.HandleFunc("/api/v1/events", a.captureEvent).Methods("POST")
	a.router.HandleFunc("/api/v1/events", a.getEvents).Methods("GET")

	a.router.HandleFunc("/api/v1/policies", a.getPolicies).Methods("GET")
	a.router.HandleFunc("/api/v1/policies", a.applyPolicy).Methods("POST")
	a.router.HandleFunc("/api/v1/policies/{id}", a.getPolicy).Methods("GET")
	a.router.HandleFunc("/api/v1/policies/{id}", a.removePolicy).Methods("DELETE")

	a.router.HandleFunc("/api/v1/quarantines", a.getQuarantines).Methods("GET")
	a.router.HandleFunc("/api/v1/quarantines/{id}/release", a.releaseQuarantine).Methods("POST")
	a.router.HandleFunc("/api/v1/sandboxes/{id}/quarantined", a.isQuarantined).Methods("GET")
	a.router.HandleFunc("/api/v1/sandboxes/{id}/quarantines", a.sandboxQuarantines).Methods("GET")

	a.router.HandleFunc("/api/v1/provenance", a.createProvenance).Methods("POST")
	a.router.HandleFunc("/api/v1/provenance/{sandboxId}", a.getProvenance).Methods("GET")
	a.router.HandleFunc("/api/v1/provenance/{sandboxId}/verify", a.verifyProvenance).Methods("GET")
	a.router.HandleFunc("/api/v1/provenance/{sandboxId}/anchor", a.anchorProvenance).Methods("POST")

	a.router.HandleFunc("/api/v1/aggregate", a.aggregateEvents).Methods("GET")
	a.router.HandleFunc("/api/v1/correlations", a.getCorrelations).Methods("GET")
	a.router.HandleFunc("/api/v1/stats", a.getStats).Methods("GET")

	a.router.HandleFunc("/api/v1/stream", a.streamNotifications).Methods("GET")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Start runs the server until Stop or a listener error.
func (a *API) Start() error {
	addr := fmt.Sprintf("%s:%d", a.config.API.Host, a.config.API.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	a.logger.Infow("API listening", "addr", addr)
	return a.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debugw("Handled request",
			"method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "elapsed", time.Since(start))
	})
}

func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authExempt lists paths reachable without a token.
func authExempt(path string) bool {
	return path == "/health" || path == "/metrics" || path == "/api/v1/auth/login"
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(a.config.Auth.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.config.Auth.Enabled {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != a.config.Auth.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(a.config.Auth.HashedPassword), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := a.config.Auth.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(a.config.Auth.JWTSecret))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *core.ValidationError
	var signatureErr *core.SignatureError
	var anchorErr *core.ChainAnchorError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &signatureErr):
		writeError(w, http.StatusBadRequest, signatureErr.Error())
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrPolicyNotFound),
		errors.Is(err, core.ErrQuarantineNotFound),
		errors.Is(err, core.ErrProvenanceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyReleased),
		errors.Is(err, core.ErrAlreadyAnchored):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &anchorErr):
		writeError(w, http.StatusBadGateway, anchorErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
