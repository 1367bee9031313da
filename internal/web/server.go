package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/vectis-finance/yvm/internal/engine"
	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// EventSource provides recent audit events for the API.
type EventSource func(limit int) ([]types.Event, error)

// WebServer handles HTTP requests against the vault engine
type WebServer struct {
	router     *mux.Router
	port       string
	engine     *engine.VaultEngine
	emergency  *engine.EmergencyController
	events     EventSource
	adminToken string
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, eng *engine.VaultEngine, emergency *engine.EmergencyController, events EventSource, adminToken string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		engine:     eng,
		emergency:  emergency,
		events:     events,
		adminToken: adminToken,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Depositor API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/balance/{holder}", ws.handleGetBalance).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/adapters", ws.handleGetAdapters).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	// Admin API endpoints, token-gated
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(ws.adminAuthMiddleware)
	admin.HandleFunc("/adapters/{id}/activation", ws.handleSetActivation).Methods("POST")
	admin.HandleFunc("/adapters/{id}/limits", ws.handleSetLimits).Methods("POST")
	admin.HandleFunc("/adapters/{id}/reset-health", ws.handleResetHealth).Methods("POST")
	admin.HandleFunc("/min-deposit", ws.handleSetMinDeposit).Methods("POST")
	admin.HandleFunc("/pause", ws.handlePause).Methods("POST")
	admin.HandleFunc("/unpause", ws.handleUnpause).Methods("POST")
	admin.HandleFunc("/emergency-withdraw", ws.handleEmergencyWithdraw).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// Handler exposes the configured router, primarily for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// handleHealth returns server and vault health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	totalAssets := "unknown"
	if assets, err := ws.engine.TotalAssets(); err != nil {
		hasErrors = true
	} else {
		totalAssets = assets.String()
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "yvm-yield-vault-manager",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"paused":       ws.engine.Paused(),
			"total_shares": ws.engine.TotalShares().String(),
			"total_assets": totalAssets,
			"idle_balance": ws.engine.IdleBalance().String(),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

type depositRequest struct {
	Holder  string `json:"holder"`
	Amount  string `json:"amount"`
	Adapter string `json:"adapter,omitempty"`
}

// handleDeposit mints shares for a holder's deposit
func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	shares, err := ws.engine.Deposit(req.Holder, amount, req.Adapter)
	if err != nil {
		webLogger.Warn().Err(err).Str("holder", req.Holder).Msg("Deposit rejected")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"holder":        req.Holder,
		"amount":        amount.String(),
		"shares_minted": shares.String(),
	})
}

type withdrawRequest struct {
	Holder string `json:"holder"`
	Shares string `json:"shares"`
}

// handleWithdraw burns shares and pays out the holder's proportion
func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	shares, ok := parseAmount(req.Shares)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid shares")
		return
	}

	paid, err := ws.engine.Withdraw(req.Holder, shares)
	if err != nil {
		webLogger.Warn().Err(err).Str("holder", req.Holder).Msg("Withdrawal rejected")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"holder":        req.Holder,
		"shares_burned": shares.String(),
		"amount_paid":   paid.String(),
	})
}

// handleGetBalance returns a holder's share balance and redeemable value
func (ws *WebServer) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holder := vars["holder"]

	shares, redeemable, err := ws.engine.BalanceOf(holder)
	if err != nil {
		webLogger.Error().Err(err).Str("holder", holder).Msg("Failed to value balance")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to value balance")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"holder":     holder,
		"shares":     shares.String(),
		"redeemable": redeemable.String(),
	})
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	totalAssets, err := ws.engine.TotalAssets()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}
	sharePrice, err := ws.engine.SharePrice()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to price shares")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"total_assets": totalAssets.String(),
		"total_shares": ws.engine.TotalShares().String(),
		"share_price":  sharePrice.String(),
		"idle_balance": ws.engine.IdleBalance().String(),
		"min_deposit":  ws.engine.MinDeposit().String(),
		"paused":       ws.engine.Paused(),
		"timestamp":    time.Now().UTC(),
	})
}

// handleGetAdapters returns the registered adapters with live status
func (ws *WebServer) handleGetAdapters(w http.ResponseWriter, r *http.Request) {
	statuses, err := ws.engine.AdapterStatuses()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get adapter statuses")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve adapters")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"adapters": statuses,
		"count":    len(statuses),
	})
}

// handleGetEvents returns recent audit events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}

	events, err := ws.events(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  limit,
	})
}

type activationRequest struct {
	State string `json:"state"`
}

// handleSetActivation transitions an adapter's activation state
func (ws *WebServer) handleSetActivation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req activationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state := types.ActivationState(strings.ToUpper(req.State))
	switch state {
	case types.ActivationInactive, types.ActivationActive, types.ActivationDeprecated:
	default:
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid activation state")
		return
	}

	if err := ws.engine.SetAdapterActivation(adminAuth(r), id, state); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"adapter": id,
		"state":   state,
	})
}

type limitsRequest struct {
	DailyLimit    string `json:"daily_limit"`
	SingleOpLimit string `json:"single_op_limit"`
}

// handleSetLimits updates an adapter's deployment limits
func (ws *WebServer) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req limitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	daily, ok := parseLimit(req.DailyLimit)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid daily limit")
		return
	}
	singleOp, ok := parseLimit(req.SingleOpLimit)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid single op limit")
		return
	}

	limits := types.AdapterLimits{DailyLimit: daily, SingleOpLimit: singleOp}
	if err := ws.engine.SetAdapterLimits(adminAuth(r), id, limits); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"adapter":         id,
		"daily_limit":     daily.String(),
		"single_op_limit": singleOp.String(),
	})
}

// handleResetHealth clears an adapter's tripped circuit
func (ws *WebServer) handleResetHealth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := ws.engine.ResetAdapterHealth(adminAuth(r), id); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"adapter": id,
		"reset":   true,
	})
}

type minDepositRequest struct {
	Amount string `json:"amount"`
}

// handleSetMinDeposit updates the vault-wide minimum deposit
func (ws *WebServer) handleSetMinDeposit(w http.ResponseWriter, r *http.Request) {
	var req minDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	if err := ws.engine.SetMinDeposit(adminAuth(r), amount); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"min_deposit": amount.String(),
	})
}

// handlePause halts deposits and rebalances; withdrawals stay open
func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := ws.emergency.Pause(adminAuth(r)); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": true})
}

// handleUnpause resumes normal operation
func (ws *WebServer) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := ws.emergency.Unpause(adminAuth(r)); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": false})
}

type emergencyWithdrawRequest struct {
	AdapterID string `json:"adapter_id"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// handleEmergencyWithdraw pulls funds directly from an adapter to a recipient
func (ws *WebServer) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req emergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	recovered, err := ws.emergency.EmergencyWithdraw(adminAuth(r), req.AdapterID, amount, req.Recipient)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"adapter":   req.AdapterID,
		"recovered": recovered.String(),
		"recipient": req.Recipient,
	})
}

// parseAmount parses a positive integer amount from its string form.
func parseAmount(raw string) (sdkmath.Int, bool) {
	amount, ok := sdkmath.NewIntFromString(strings.TrimSpace(raw))
	if !ok || !amount.IsPositive() {
		return sdkmath.Int{}, false
	}
	return amount, true
}

// parseLimit accepts zero (unlimited) as well as positive values.
func parseLimit(raw string) (sdkmath.Int, bool) {
	limit, ok := sdkmath.NewIntFromString(strings.TrimSpace(raw))
	if !ok || limit.IsNegative() {
		return sdkmath.Int{}, false
	}
	return limit, true
}

// adminAuth builds the auth context for a request that passed the admin gate.
func adminAuth(r *http.Request) types.AuthContext {
	subject := r.Header.Get("X-Admin-Subject")
	if subject == "" {
		subject = "api-admin"
	}
	return types.AuthContext{Subject: subject, Role: types.RoleAdmin}
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// adminAuthMiddleware rejects admin requests without the configured token
func (ws *WebServer) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
				token = strings.TrimPrefix(bearer, "Bearer ")
			}
		}

		if ws.adminToken == "" || token != ws.adminToken {
			webLogger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rejected unauthenticated admin request")
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Admin token required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Admin-Subject")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
