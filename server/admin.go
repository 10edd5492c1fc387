package server

import (
	"encoding/json"
	"net/http"
)

// AdminServer exposes the read-only HTTP observability surface described in
// SPEC_FULL.md §2.3. It never accepts writes; gameplay state is mutated only
// by the dispatcher and tick loop.
type AdminServer struct {
	registry   *Registry
	dispatcher *Dispatcher
}

func NewAdminServer(registry *Registry, dispatcher *Dispatcher) *AdminServer {
	return &AdminServer{registry: registry, dispatcher: dispatcher}
}

// HandleMatches serves GET /admin/matches: every active match and its
// connected players.
func (a *AdminServer) HandleMatches(w http.ResponseWriter, r *http.Request) {
	snap := BuildRegistrySnapshot(a.registry, a.dispatcher)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap.Matches)
}

// HandleMetrics serves GET /metrics: the same snapshot plus dispatcher-wide
// counters.
func (a *AdminServer) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := BuildRegistrySnapshot(a.registry, a.dispatcher)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
