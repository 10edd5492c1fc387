package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// MatchConfig is the subset of provisioning data needed to create a match,
// mirroring the fetch_match_config contract in spec.md §6.
type MatchConfig struct {
	MaxPlayers    uint8
	MatchDuration uint32
}

// MatchStats are counters consumed by the observability surface (SPEC_FULL
// §2.3); they are never read on the hot tick path under lock contention —
// all increments are atomic.
type MatchStats struct {
	TicksRun       int64
	BytesSent      int64
	BytesReceived  int64
	PacketsDropped int64
	Disconnects    int64
}

func (s *MatchStats) addTick()            { atomic.AddInt64(&s.TicksRun, 1) }
func (s *MatchStats) addBytesSent(n int)  { atomic.AddInt64(&s.BytesSent, int64(n)) }
func (s *MatchStats) addBytesRecv(n int)  { atomic.AddInt64(&s.BytesReceived, int64(n)) }
func (s *MatchStats) addDropped()         { atomic.AddInt64(&s.PacketsDropped, 1) }
func (s *MatchStats) addDisconnect()      { atomic.AddInt64(&s.Disconnects, 1) }

// MatchState is one active match's authoritative state (spec.md §3).
// All mutation of shared fields is serialised through the tick task plus
// the single dispatch path, using the Map primitive (§4.C) to synchronise
// the two; sequenceCounter and currentFrame are additionally atomic so a
// stray read never tears.
type MatchState struct {
	MatchID string
	Key     string

	MaxPlayers        int
	DurationInFrames  uint32
	TickIntervalMs    float64

	Players *Map[PlayerKey, *PlayerInfo]

	// Inputs[p] is the per-player frame -> input word map.
	Inputs []*Map[uint32, uint32]

	// Checksums[p] is the per-player frame -> checksum map, used to advance
	// checksumFrontier (spec.md §4.F: "highest consecutive checksum
	// received from all players is the checksum-ack frontier").
	Checksums        []*Map[uint32, uint32]
	checksumFrontier uint32

	currentFrame    uint32
	sequenceCounter uint32

	PingPhaseCount uint32
	PingPhaseTotal uint32

	tickRunning atomic.Bool
	startedAt   time.Time

	Stats MatchStats

	mu sync.Mutex // guards startedAt
}

// NewMatchState creates a match with frame/sequence counters at zero.
func NewMatchState(matchID, key string, cfg MatchConfig, tickIntervalMs float64) *MatchState {
	m := &MatchState{
		MatchID:          matchID,
		Key:              key,
		MaxPlayers:       int(cfg.MaxPlayers),
		DurationInFrames: cfg.MatchDuration,
		TickIntervalMs:   tickIntervalMs,
		Players:          NewMap[PlayerKey, *PlayerInfo](),
		Inputs:           make([]*Map[uint32, uint32], cfg.MaxPlayers),
		Checksums:        make([]*Map[uint32, uint32], cfg.MaxPlayers),
		PingPhaseTotal:   65,
	}
	for i := range m.Inputs {
		m.Inputs[i] = NewMap[uint32, uint32]()
		m.Checksums[i] = NewMap[uint32, uint32]()
	}
	return m
}

// CurrentFrame returns the authoritative frame counter.
func (m *MatchState) CurrentFrame() uint32 { return atomic.LoadUint32(&m.currentFrame) }

// advanceFrame moves the frame counter forward by one; only the tick loop
// for this match calls this (spec.md invariant 4).
func (m *MatchState) advanceFrame() uint32 {
	return atomic.AddUint32(&m.currentFrame, 1)
}

// NextSequence returns the next unique outbound sequence number for this
// match (spec.md invariant 5).
func (m *MatchState) NextSequence() uint32 {
	return atomic.AddUint32(&m.sequenceCounter, 1)
}

// StartTickRunning flips tickRunning from false to true, reporting whether
// this call won the race (only the winner should spawn the tick goroutine).
func (m *MatchState) StartTickRunning() bool {
	return m.tickRunning.CompareAndSwap(false, true)
}

// StopTickRunning halts the tick loop's lifecycle flag.
func (m *MatchState) StopTickRunning() { m.tickRunning.Store(false) }

// IsTickRunning reports the tick loop's lifecycle flag.
func (m *MatchState) IsTickRunning() bool { return m.tickRunning.Load() }

// AllPlayersReady reports whether every connected player has signalled
// ReadyToStartMatch.
func (m *MatchState) AllPlayersReady() bool {
	allReady := true
	m.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		if !p.IsReady() {
			allReady = false
		}
	})
	return allReady
}

// AllPlayersDisconnected reports whether every player in the match has
// disconnected — the tick loop uses this to decide when to tear the match
// down.
func (m *MatchState) AllPlayersDisconnected() bool {
	if m.Players.Size() == 0 {
		return false
	}
	allGone := true
	m.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		if !p.IsDisconnected() {
			allGone = false
		}
	})
	return allGone
}

// ChecksumFrontier returns the current checksum-ack frontier.
func (m *MatchState) ChecksumFrontier() uint32 { return atomic.LoadUint32(&m.checksumFrontier) }

// advanceChecksumFrontier extends the frontier past every consecutive frame
// for which all players have reported a checksum.
func (m *MatchState) advanceChecksumFrontier() {
	frontier := atomic.LoadUint32(&m.checksumFrontier)
	for {
		next := frontier + 1
		allPresent := true
		for _, cs := range m.Checksums {
			if _, ok := cs.Find(next); !ok {
				allPresent = false
				break
			}
		}
		if !allPresent {
			break
		}
		frontier = next
	}
	atomic.StoreUint32(&m.checksumFrontier, frontier)
}

// HighestFrame returns the highest frame number stored for player index p,
// or -1 if nothing has been stored yet. -1 (not 0) so callers can tell "no
// input at all" apart from "frame 0 is the only input stored".
func (m *MatchState) HighestFrame(playerIndex int) int64 {
	if playerIndex < 0 || playerIndex >= len(m.Inputs) {
		return -1
	}
	max := int64(-1)
	m.Inputs[playerIndex].ForEachRead(func(frame uint32, _ uint32) {
		if int64(frame) > max {
			max = int64(frame)
		}
	})
	return max
}
