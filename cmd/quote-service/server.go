package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shardswap/pkg/quote"
	"shardswap/pkg/refresh"
	"shardswap/pkg/routing"
	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

type server struct {
	orchestrator *routing.Orchestrator
	scheduler    *refresh.Scheduler
	cache        *state.Cache
	registry     *shard.Registry
	log          *zap.Logger
	startTime    time.Time
}

type healthResponse struct {
	Status              string           `json:"status"`
	Uptime              string           `json:"uptime"`
	Shards              int              `json:"shards"`
	CachedStates        int              `json:"cachedStates"`
	RegistryStale       bool             `json:"registryStale"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	BackoffDelayMs      int64            `json:"backoffDelayMs"`
	Routing             routing.Snapshot `json:"routing"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleQuote serves GET /quote?input=SOL&output=USDC&amount=1.5[&trader=...].
func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	input := r.URL.Query().Get("input")
	output := r.URL.Query().Get("output")
	amountParam := r.URL.Query().Get("amount")
	trader := r.URL.Query().Get("trader")

	if input == "" || output == "" || amountParam == "" {
		writeError(w, "missing required parameters: input, output, amount", http.StatusBadRequest)
		return
	}
	amount, err := strconv.ParseFloat(amountParam, 64)
	if err != nil || amount <= 0 {
		writeError(w, "amount must be a positive number", http.StatusBadRequest)
		return
	}

	q, err := s.orchestrator.GetQuote(r.Context(), input, output, amount, trader)
	if err != nil {
		status := http.StatusInternalServerError
		var notConfigured *routing.TokenNotConfiguredError
		var noRoute *quote.NoRouteError
		switch {
		case errors.As(err, &notConfigured):
			status = http.StatusBadRequest
		case errors.As(err, &noRoute):
			status = http.StatusNotFound
		}
		writeError(w, err.Error(), status)
		return
	}

	writeJSON(w, q)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.scheduler.State()
	status := "healthy"
	if s.scheduler.Stale() {
		status = "stale"
	}
	writeJSON(w, healthResponse{
		Status:              status,
		Uptime:              time.Since(s.startTime).Round(time.Second).String(),
		Shards:              s.registry.Size(),
		CachedStates:        s.cache.Size(),
		RegistryStale:       s.scheduler.Stale(),
		ConsecutiveFailures: st.ConsecutiveFailures,
		BackoffDelayMs:      st.BackoffDelay.Milliseconds(),
		Routing:             s.orchestrator.Metrics().Snapshot(),
	})
}

// handleRefresh serves POST /refresh, the manual refresh hook. It always
// attempts, even inside a backoff window.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.scheduler.ManualRefresh(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "refreshed"})
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]interface{}{
		"service": "shardswap quote service",
		"status":  "running",
		"pairs":   s.registry.Pairs(),
		"endpoints": map[string]string{
			"quote":   "/quote?input=<symbol>&output=<symbol>&amount=<human>",
			"health":  "/health",
			"refresh": "/refresh (POST)",
			"metrics": "/metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
