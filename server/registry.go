package server

import "sync"

// Registry holds the two top-level maps described in spec.md §4.D: matches
// keyed by match ID, and players keyed by "addr:port". A single process
// typically runs one Registry, constructed once at startup (mirroring the
// singleton pattern of the teacher's RoomManager).
type Registry struct {
	Matches *Map[string, *MatchState]
	Players *Map[PlayerKey, *PlayerInfo]
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// GetRegistry returns the process-wide singleton registry.
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry constructs an empty registry; exported for tests that want
// isolation from the process-wide singleton.
func NewRegistry() *Registry {
	return &Registry{
		Matches: NewMap[string, *MatchState](),
		Players: NewMap[PlayerKey, *PlayerInfo](),
	}
}

// LookupPlayer resolves an inbound datagram's remote address to its player
// and match, if any are registered (spec.md §4.D).
func (r *Registry) LookupPlayer(key PlayerKey) (*PlayerInfo, *MatchState, bool) {
	player, ok := r.Players.Find(key)
	if !ok {
		return nil, nil, false
	}
	match, ok := r.Matches.Find(player.MatchID)
	if !ok {
		return player, nil, false
	}
	return player, match, true
}

// RegisterPlayer adds a newly handshaken player to both the match and the
// global registry (spec.md invariant 1: a player key maps to at most one
// PlayerInfo at any time).
func (r *Registry) RegisterPlayer(match *MatchState, player *PlayerInfo) {
	match.Players.InsertOrAssign(player.Key, player)
	r.Players.InsertOrAssign(player.Key, player)
}

// RemoveMatch tears down a match's registry entries and those of every
// player still attached to it (spec.md lifecycle: destroyed when all
// players have disconnected or the duration expires).
func (r *Registry) RemoveMatch(match *MatchState) {
	match.Players.ForEachRead(func(key PlayerKey, _ *PlayerInfo) {
		r.Players.Erase(key)
	})
	match.Players.Clear()
	for _, inputs := range match.Inputs {
		inputs.Clear()
	}
	r.Matches.Erase(match.MatchID)
}
