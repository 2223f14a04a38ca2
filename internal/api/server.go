// Package api exposes the Request Orchestrator over HTTP and WebSocket: a
// thin POST /v1/decide wrapper plus a diagnostics WebSocket fed by the
// internal/events bus, replacing the teacher's backtest-serving REST/WS
// surface (data/backtest endpoints) with the engine's single decision
// endpoint (§4.10, §6).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/events"
	"github.com/quantedge/decision-engine/internal/metrics"
	"github.com/quantedge/decision-engine/internal/orchestrator"
	"github.com/quantedge/decision-engine/internal/workers"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket surface in front of one orchestrator Engine.
type Server struct {
	logger     *zap.Logger
	cfg        config.APIConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	engine  *orchestrator.Engine
	bus     *events.EventBus
	metrics *metrics.Registry
	gate    *workers.Pool // bounds concurrent decide() calls
	hub     *Hub
}

// NewServer builds the API server. bus and reg may be nil: diagnostics
// broadcast and metrics collection are both optional wiring.
func NewServer(logger *zap.Logger, cfg config.APIConfig, engine *orchestrator.Engine, bus *events.EventBus, reg *metrics.Registry) *Server {
	logger = logger.Named("api")

	gateCfg := workers.DefaultPoolConfig("decide")
	gateCfg.NumWorkers = cfg.MaxConnections
	if gateCfg.NumWorkers <= 0 {
		gateCfg.NumWorkers = 64
	}

	s := &Server{
		logger:  logger,
		cfg:     cfg,
		router:  mux.NewRouter(),
		engine:  engine,
		bus:     bus,
		metrics: reg,
		gate:    workers.NewPool(logger.Named("decide-gate"), gateCfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.hub = NewHub(logger)
	s.setupRoutes()
	if bus != nil {
		s.subscribeHub(bus)
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/v1/decide", s.handleDecide).Methods("POST")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registerer(), promhttp.HandlerOpts{})).Methods("GET")
	}
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Start runs the worker gate and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.gate.Start()
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server and the decide gate.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.gate.Stop(); err != nil {
		s.logger.Warn("decide gate shutdown", zap.Error(err))
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Unix(),
	})
}

// handleDecide is the engine's one business endpoint: decode a Snapshot,
// run it through the orchestrator's gated decide() call, return the Reply.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var snap types.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "invalid snapshot: "+err.Error(), http.StatusBadRequest)
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = uuid.New().String()
	}

	start := time.Now()
	var reply types.Reply
	task := workers.TaskFunc(func() error {
		reply = s.engine.Decide(r.Context(), &snap)
		return nil
	})
	if err := s.gate.SubmitWait(task); err != nil {
		s.logger.Warn("decide gate rejected request", zap.Error(err))
		reply = types.NewHoldReply("overloaded")
	}
	elapsed := time.Since(start)
	reply.TraceID = traceID

	if s.metrics != nil {
		s.metrics.ObserveRequest(reply.Action.String(), elapsed)
		s.metrics.ObserveAction(snap.Symbol, reply.Action.String(), reply.Reason)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// subscribeHub wires the WebSocket hub to rebroadcast every event the
// orchestrator publishes on bus.
func (s *Server) subscribeHub(bus *events.EventBus) {
	bus.SubscribeAll(func(ev events.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		s.hub.Broadcast(string(ev.GetType()), data)
		return nil
	})
}
