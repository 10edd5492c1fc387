package server

import (
	"sync/atomic"
	"time"
)

// MatchStatsSnapshot is a read-only copy of MatchStats for JSON output.
type MatchStatsSnapshot struct {
	TicksRun       int64 `json:"ticksRun"`
	BytesSent      int64 `json:"bytesSent"`
	BytesReceived  int64 `json:"bytesReceived"`
	PacketsDropped int64 `json:"packetsDropped"`
	Disconnects    int64 `json:"disconnects"`
}

// Snapshot returns a consistent point-in-time copy of the atomic counters.
func (s *MatchStats) Snapshot() MatchStatsSnapshot {
	return MatchStatsSnapshot{
		TicksRun:       atomic.LoadInt64(&s.TicksRun),
		BytesSent:      atomic.LoadInt64(&s.BytesSent),
		BytesReceived:  atomic.LoadInt64(&s.BytesReceived),
		PacketsDropped: atomic.LoadInt64(&s.PacketsDropped),
		Disconnects:    atomic.LoadInt64(&s.Disconnects),
	}
}

// DispatcherStatsSnapshot is a read-only copy of DispatcherStats.
type DispatcherStatsSnapshot struct {
	PacketsReceived int64 `json:"packetsReceived"`
	UnknownPlayer   int64 `json:"unknownPlayer"`
	DecodeErrors    int64 `json:"decodeErrors"`
}

func (s *DispatcherStats) Snapshot() DispatcherStatsSnapshot {
	return DispatcherStatsSnapshot{
		PacketsReceived: atomic.LoadInt64(&s.PacketsReceived),
		UnknownPlayer:   atomic.LoadInt64(&s.UnknownPlayer),
		DecodeErrors:    atomic.LoadInt64(&s.DecodeErrors),
	}
}

// PlayerSummary is the admin-facing view of one connected player.
type PlayerSummary struct {
	PlayerIndex  uint8   `json:"playerIndex"`
	Ready        bool    `json:"ready"`
	Disconnected bool    `json:"disconnected"`
	SmoothedPing float64 `json:"smoothedPingMs"`
	Rift         float64 `json:"riftFrames"`
}

// MatchSummary is the admin-facing view of one active match.
type MatchSummary struct {
	MatchID        string             `json:"matchId"`
	MaxPlayers     int                `json:"maxPlayers"`
	NumPlayers     int                `json:"numPlayers"`
	CurrentFrame   uint32             `json:"currentFrame"`
	DurationFrames uint32             `json:"durationInFrames"`
	TickRunning    bool               `json:"tickRunning"`
	Stats          MatchStatsSnapshot `json:"stats"`
	Players        []PlayerSummary    `json:"players"`
}

// RegistrySnapshot is the top-level payload served by the admin/metrics
// endpoints and pushed over the admin stream (SPEC_FULL.md §2.3).
type RegistrySnapshot struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Matches     []MatchSummary          `json:"matches"`
	Dispatcher  DispatcherStatsSnapshot `json:"dispatcher"`
}

// BuildRegistrySnapshot walks every active match and player for the
// observability surface. It only reads through the concurrent-map
// primitive's read-locked iteration; it never mutates gameplay state.
func BuildRegistrySnapshot(registry *Registry, dispatcher *Dispatcher) RegistrySnapshot {
	var matches []MatchSummary
	registry.Matches.ForEachRead(func(_ string, m *MatchState) {
		summary := MatchSummary{
			MatchID:        m.MatchID,
			MaxPlayers:     m.MaxPlayers,
			NumPlayers:     m.Players.Size(),
			CurrentFrame:   m.CurrentFrame(),
			DurationFrames: m.DurationInFrames,
			TickRunning:    m.IsTickRunning(),
			Stats:          m.Stats.Snapshot(),
		}
		m.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
			snap := p.Snapshot()
			summary.Players = append(summary.Players, PlayerSummary{
				PlayerIndex:  snap.PlayerIndex,
				Ready:        snap.Ready,
				Disconnected: snap.Disconnected,
				SmoothedPing: snap.SmoothedPing,
				Rift:         snap.Rift,
			})
		})
		matches = append(matches, summary)
	})

	return RegistrySnapshot{
		GeneratedAt: time.Now(),
		Matches:     matches,
		Dispatcher:  dispatcher.Stats.Snapshot(),
	}
}
