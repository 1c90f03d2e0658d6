package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/roastlive/roastlive/internal/auth"
	"github.com/roastlive/roastlive/internal/battle"
	"github.com/roastlive/roastlive/internal/config"
	"github.com/roastlive/roastlive/internal/session"
)

const maxIngestBody = 16 * 1024

type Server struct {
	cfg      *config.Config
	db       *pgxpool.Pool
	rdb      *redis.Client
	sessions *session.Manager
	hub      *Hub
	logger   *slog.Logger
	mux      *http.ServeMux
	metrics  *Metrics
	insecure bool // development mode skips signature checks
}

func New(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, sessions *session.Manager, hub *Hub, metrics *Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		sessions: sessions,
		hub:      hub,
		logger:   logger,
		mux:      http.NewServeMux(),
		metrics:  metrics,
		insecure: cfg.Env == "development",
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.metrics.ServeHTTP)
	s.mux.HandleFunc("GET /ws", s.handleOverlayWS)

	// Session lifecycle
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleEndSession)

	// Gift ingest and battle control
	s.mux.HandleFunc("POST /api/sessions/{id}/gifts", s.handleIngestGift)
	s.mux.HandleFunc("POST /api/sessions/{id}/battle", s.handleSetBattle)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/battle", s.handleClearBattle)
	s.mux.HandleFunc("POST /api/sessions/{id}/fallback", s.handleFallback)
}

// Handler wraps the mux with the middleware chain.
func (s *Server) Handler() http.Handler {
	limiter := NewRateLimiter(50, 100)
	return ChainMiddleware(s.mux,
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(limiter, s.logger),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			status["db"] = "down"
			status["status"] = "degraded"
		} else {
			status["db"] = "ok"
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			status["status"] = "degraded"
		} else {
			status["redis"] = "ok"
		}
	}

	status["sessions"] = strconv.Itoa(s.sessions.Count())

	w.Header().Set("Content-Type", "application/json")
	if status["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("write json", "err", err)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.metrics.IncrSessions()

	// Fan the session's overlay events into the websocket hub until teardown.
	ch, _ := sess.Bus.Subscribe(128)
	go s.hub.Forward(sess.ID, ch)

	writeJSON(w, map[string]string{"id": sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	type info struct {
		ID        string `json:"id"`
		Active    int    `json:"active_effects"`
		Battle    bool   `json:"battle"`
		CreatedAt int64  `json:"created_at"`
	}
	var list []info
	for _, sess := range s.sessions.List() {
		list = append(list, info{
			ID:        sess.ID,
			Active:    sess.Scheduler.ActiveCount(),
			Battle:    sess.Router.Context() != nil,
			CreatedAt: sess.CreatedAt().Unix(),
		})
	}
	writeJSON(w, list)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.End(r.Context(), id) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.metrics.DecrSessions()
	writeJSON(w, map[string]string{"status": "ended"})
}

func (s *Server) handleIngestGift(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !s.insecure {
		ts, _ := strconv.ParseInt(r.Header.Get("X-Gift-Timestamp"), 10, 64)
		sig := r.Header.Get("X-Gift-Signature")
		if err := auth.ValidateBody(body, ts, sig, s.cfg.IngestSecret); err != nil {
			s.logger.Warn("ingest rejected", "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req struct {
		GiftID       string `json:"gift_id"`
		SenderID     string `json:"sender_id"`
		ReceiverTeam string `json:"receiver_team"`
		AmountSEK    int64  `json:"amount_sek"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.GiftID == "" || req.SenderID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := sess.SubmitGift(r.Context(), req.GiftID, req.SenderID, req.ReceiverTeam, req.AmountSEK)
	if err != nil {
		// Unrecognized team is a caller bug, not a runtime condition.
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.metrics.IncrGift()
	if res.Admitted {
		s.metrics.IncrEffectPlayed()
	} else if !res.RateLimited {
		s.metrics.IncrEffectRejected()
	}
	if res.Behavior != "" {
		s.metrics.IncrBattleBehavior()
	}

	writeJSON(w, map[string]any{
		"admitted":     res.Admitted,
		"behavior":     string(res.Behavior),
		"rate_limited": res.RateLimited,
	})
}

func (s *Server) handleSetBattle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var req struct {
		MatchID      string `json:"match_id"`
		SelfTeam     string `json:"self_team"`
		OpponentTeam string `json:"opponent_team"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.MatchID == "" || req.SelfTeam == "" || req.OpponentTeam == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess.SetBattleContext(&battle.Context{
		MatchID:      req.MatchID,
		SelfTeam:     req.SelfTeam,
		OpponentTeam: req.OpponentTeam,
	})
	writeJSON(w, map[string]string{"status": "battle set"})
}

func (s *Server) handleClearBattle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	sess.SetBattleContext(nil)
	writeJSON(w, map[string]string{"status": "battle cleared"})
}

func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Enabled {
		sess.Scheduler.EnablePerformanceFallback()
	} else {
		sess.Scheduler.DisablePerformanceFallback()
	}
	writeJSON(w, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleOverlayWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if _, ok := s.sessions.Get(sessionID); !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !s.insecure {
		ts, _ := strconv.ParseInt(r.URL.Query().Get("ts"), 10, 64)
		token := r.URL.Query().Get("token")
		if err := auth.ValidateSession(sessionID, ts, token, s.cfg.IngestSecret); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.hub.Serve(w, r, sessionID)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
