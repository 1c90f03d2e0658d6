package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics collects basic application metrics (no Prometheus dep needed for MVP).
type Metrics struct {
	wsConnections   atomic.Int64
	activeSessions  atomic.Int64
	giftsIngested   atomic.Int64
	effectsPlayed   atomic.Int64
	effectsRejected atomic.Int64
	battleBehaviors atomic.Int64
	startTime       time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncrWSConn()         { m.wsConnections.Add(1) }
func (m *Metrics) DecrWSConn()         { m.wsConnections.Add(-1) }
func (m *Metrics) IncrSessions()       { m.activeSessions.Add(1) }
func (m *Metrics) DecrSessions()       { m.activeSessions.Add(-1) }
func (m *Metrics) IncrGift()           { m.giftsIngested.Add(1) }
func (m *Metrics) IncrEffectPlayed()   { m.effectsPlayed.Add(1) }
func (m *Metrics) IncrEffectRejected() { m.effectsRejected.Add(1) }
func (m *Metrics) IncrBattleBehavior() { m.battleBehaviors.Add(1) }

// ServeHTTP exposes metrics as JSON at /metrics.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	data := map[string]any{
		"uptime_seconds":   int(time.Since(m.startTime).Seconds()),
		"ws_connections":   m.wsConnections.Load(),
		"active_sessions":  m.activeSessions.Load(),
		"gifts_ingested":   m.giftsIngested.Load(),
		"effects_played":   m.effectsPlayed.Load(),
		"effects_rejected": m.effectsRejected.Load(),
		"battle_behaviors": m.battleBehaviors.Load(),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_mb":    mem.HeapAlloc / 1024 / 1024,
		"sys_mb":           mem.Sys / 1024 / 1024,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
}
