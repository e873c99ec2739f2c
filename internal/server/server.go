package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bookrails/internal/booking"
	"bookrails/internal/chain"
	"bookrails/internal/config"
	"bookrails/internal/escrowstore"
	"bookrails/internal/wallet"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Deps are the collaborators injected into every booking flow.
type Deps struct {
	Session wallet.Session
	Token   chain.TokenClient
	Escrow  chain.EscrowClient
	Records escrowstore.Store
}

// Server exposes booking flows over HTTP. Each flow is one orchestrator
// instance; flows are independent and uncoordinated.
type Server struct {
	cfg         *config.AppConfig
	deps        Deps
	log         *zap.Logger
	metrics     *metricsRegistry
	httpServer  *http.Server
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error

	mu    sync.Mutex
	flows map[string]*flowEntry
}

type flowEntry struct {
	orch  *booking.Orchestrator
	slots map[string]booking.Slot
}

func NewServer(cfg *config.AppConfig, deps Deps, log *zap.Logger) *Server {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		metrics:    newMetricsRegistry(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		flows:      make(map[string]*flowEntry),
	}

	if checker, ok := deps.Records.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Token.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/flows", s.handleOpenFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}", s.handleGetFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/slot", s.handleSelectSlot).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/date", s.handleSelectDate).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/time", s.handleSelectTime).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/back", s.handleBack).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/pay", s.handlePay).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/close", s.handleCloseFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/continue", s.handleContinue).Methods(http.MethodPost)
	api.HandleFunc("/escrows", s.handleListEscrows).Methods(http.MethodGet)
	api.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(r),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.baseCancel()
	return s.httpServer.Shutdown(ctx)
}

type openFlowRequest struct {
	Recipient booking.Recipient `json:"recipient"`
	Slots     []booking.Slot    `json:"slots"`
}

type openFlowResponse struct {
	FlowID string `json:"flowId"`
	State  string `json:"state"`
}

type flowView struct {
	FlowID         string            `json:"flowId"`
	State          string            `json:"state"`
	Selection      booking.Selection `json:"selection"`
	ApprovalStatus string            `json:"approvalStatus,omitempty"`
	DepositStatus  string            `json:"depositStatus,omitempty"`
	Error          string            `json:"error,omitempty"`
	Receipt        *booking.Receipt  `json:"receipt,omitempty"`
}

func (s *Server) handleOpenFlow(w http.ResponseWriter, r *http.Request) {
	var payload openFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.Recipient.ID == "" {
		http.Error(w, "recipient.id is required", http.StatusBadRequest)
		return
	}
	if len(payload.Slots) == 0 {
		http.Error(w, "at least one slot is required", http.StatusBadRequest)
		return
	}

	entry := &flowEntry{slots: make(map[string]booking.Slot, len(payload.Slots))}
	for _, slot := range payload.Slots {
		entry.slots[slot.ID] = slot
	}

	entry.orch = booking.NewOrchestrator(booking.Config{
		Recipient:     payload.Recipient,
		Session:       s.deps.Session,
		Token:         s.deps.Token,
		Escrow:        s.deps.Escrow,
		Records:       s.deps.Records,
		ChainID:       s.cfg.Deployment.ChainID,
		TokenDecimals: s.cfg.Deployment.Token.Decimals,
		Logger:        s.log,
		OnBook: func(slot booking.Slot, date, timeOfDay string, receipt booking.Receipt) {
			if receipt.EscrowID != nil {
				s.metrics.incBooking("paid")
			} else {
				s.metrics.incBooking("free")
			}
			s.log.Info("booking completed",
				zap.String("receipt_id", receipt.ID),
				zap.String("slot", slot.Name),
				zap.String("date", date),
				zap.String("time", timeOfDay),
			)
		},
	})

	id := uuid.NewString()
	s.mu.Lock()
	s.flows[id] = entry
	s.metrics.setOpenFlows(len(s.flows))
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, openFlowResponse{FlowID: id, State: string(booking.StateSlots)})
}

func (s *Server) flow(w http.ResponseWriter, r *http.Request) (string, *flowEntry, bool) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	entry, ok := s.flows[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "flow not found", http.StatusNotFound)
		return "", nil, false
	}
	return id, entry, true
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(id, entry))
}

func (s *Server) viewOf(id string, entry *flowEntry) flowView {
	view := flowView{
		FlowID:    id,
		State:     string(entry.orch.State()),
		Selection: entry.orch.Selection(),
	}
	if approval, deposit := entry.orch.Attempts(); approval != nil || deposit != nil {
		if approval != nil {
			view.ApprovalStatus = string(approval.Status())
		}
		if deposit != nil {
			view.DepositStatus = string(deposit.Status())
		}
	}
	if err := entry.orch.Err(); err != nil {
		view.Error = err.Error()
	}
	if receipt, ok := entry.orch.Receipt(); ok {
		view.Receipt = &receipt
	}
	return view
}

type selectSlotRequest struct {
	SlotID string `json:"slotId"`
}

func (s *Server) handleSelectSlot(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}

	var payload selectSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	slot, ok := entry.slots[payload.SlotID]
	if !ok {
		http.Error(w, "unknown slot", http.StatusBadRequest)
		return
	}
	if err := entry.orch.SelectSlot(slot); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(id, entry))
}

type selectDateRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleSelectDate(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}

	var payload selectDateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := entry.orch.SelectDate(payload.Date); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(id, entry))
}

type selectTimeRequest struct {
	Time string `json:"time"`
}

func (s *Server) handleSelectTime(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}

	var payload selectTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := entry.orch.SelectTime(payload.Time); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(id, entry))
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}
	if err := entry.orch.Back(); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(id, entry))
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}

	// Confirmation outlives the request; the pay context is tied to the
	// server lifetime, not the HTTP request.
	err := entry.orch.Pay(s.baseCtx)
	switch {
	case err == nil:
		s.metrics.incPay("accepted")
		writeJSON(w, http.StatusAccepted, s.viewOf(id, entry))
	case errors.Is(err, booking.ErrBusy), errors.Is(err, booking.ErrBadTransition):
		s.metrics.incPay("busy")
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrNotAuthenticated):
		s.metrics.incPay("unauthenticated")
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		s.metrics.incPay("rejected")
		var balErr *booking.InsufficientBalanceError
		var verr *booking.ValidationError
		if errors.As(err, &balErr) || errors.As(err, &verr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to start payment: "+err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleCloseFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	entry, ok := s.flows[id]
	if ok {
		delete(s.flows, id)
	}
	s.metrics.setOpenFlows(len(s.flows))
	s.mu.Unlock()
	if !ok {
		http.Error(w, "flow not found", http.StatusNotFound)
		return
	}

	entry.orch.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := s.flow(w, r)
	if !ok {
		return
	}

	receipt, has := entry.orch.Receipt()
	if err := entry.orch.Continue(); err != nil {
		writeFlowError(w, err)
		return
	}
	if !has {
		http.Error(w, "flow has no receipt", http.StatusConflict)
		return
	}

	s.mu.Lock()
	delete(s.flows, id)
	s.metrics.setOpenFlows(len(s.flows))
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	depositor := r.URL.Query().Get("depositor")
	if depositor == "" {
		http.Error(w, "depositor query parameter is required", http.StatusBadRequest)
		return
	}

	records, err := s.deps.Records.ListByDepositor(r.Context(), depositor, 50)
	if err != nil {
		http.Error(w, "failed to list escrows: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []escrowstore.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	s.mu.Lock()
	openFlows := len(s.flows)
	s.mu.Unlock()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status    string      `json:"status"`
		RPC       interface{} `json:"rpc"`
		Database  interface{} `json:"database"`
		OpenFlows int         `json:"open_flows"`
	}{
		Status:    status,
		RPC:       rpcInfo,
		Database:  dbInfo,
		OpenFlows: openFlows,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrBadTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrDateUnavailable), errors.Is(err, booking.ErrTimeUnavailable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
