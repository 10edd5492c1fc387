package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// PlayerKey canonically identifies a connection by its remote address and
// port — the only way a player is looked up from an inbound datagram.
type PlayerKey string

func playerKey(addr *net.UDPAddr) PlayerKey {
	return PlayerKey(addr.String())
}

// PlayerInfo is the per-connected-client state within one match
// (spec.md §3). Float and counter fields mutated by both the dispatcher and
// the tick loop are guarded by mu; readers in the tick loop take a snapshot.
type PlayerInfo struct {
	mu sync.RWMutex

	Key         PlayerKey
	Addr        *net.UDPAddr
	PlayerIndex uint8
	MatchID     string

	// LastSeqRecv filters stale/duplicate/out-of-order datagrams: the
	// dispatcher drops anything whose sequence is <= this value.
	LastSeqRecv uint32

	// AckedFrames[p] is the highest frame this client has confirmed
	// receiving from peer p; monotonically non-decreasing. -1 means
	// "nothing acked yet", so the first window sent for that peer starts
	// at frame 0 instead of skipping it.
	AckedFrames []int64

	LastInputTime   time.Time
	LastClientFrame uint32

	SmoothedPing float64
	SmoothRift   float64
	Rift         float64
	RawPing      float64
	HasNewPing   bool
	HasNewFrame  bool
	RiftInit     bool
	PingInit     bool

	PendingPings *Map[uint32, time.Time]

	// MissedInputs[peerIndex] counts consecutive ticks in which that peer's
	// next expected frame wasn't available yet for this recipient, reset to
	// 0 the moment it catches up (original_source/src/rollback_server.cpp's
	// missedInputs bookkeeping).
	MissedInputs *Map[uint32, int]

	// pingProbesSent/pingProbesLost feed the rough packet-loss estimate
	// published in PlayerInput (spec.md §4.H step 3b); a probe is "lost"
	// when its pending_pings entry ages out unacknowledged (§5).
	pingProbesSent int64
	pingProbesLost int64

	Ready        bool
	Disconnected bool
}

// NewPlayerInfo constructs a PlayerInfo entering the handshake as not ready.
func NewPlayerInfo(addr *net.UDPAddr, matchID string, playerIndex uint8, maxPlayers int) *PlayerInfo {
	acked := make([]int64, maxPlayers)
	for i := range acked {
		acked[i] = -1
	}
	return &PlayerInfo{
		Key:           playerKey(addr),
		Addr:          addr,
		PlayerIndex:   playerIndex,
		MatchID:       matchID,
		AckedFrames:   acked,
		PendingPings:  NewMap[uint32, time.Time](),
		MissedInputs:  NewMap[uint32, int](),
		LastInputTime: time.Now(),
	}
}

// PlayerSnapshot is an immutable copy of the fields the tick loop reads to
// build an outbound PlayerInput message without holding the player's lock.
type PlayerSnapshot struct {
	PlayerIndex     uint8
	AckedFrames     []int64
	LastClientFrame uint32
	SmoothedPing    float64
	Rift            float64
	Ready           bool
	Disconnected    bool
}

// Snapshot takes a consistent read-locked copy of the fields needed by the
// tick engine and observability surface.
func (p *PlayerInfo) Snapshot() PlayerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acked := make([]int64, len(p.AckedFrames))
	copy(acked, p.AckedFrames)
	return PlayerSnapshot{
		PlayerIndex:     p.PlayerIndex,
		AckedFrames:     acked,
		LastClientFrame: p.LastClientFrame,
		SmoothedPing:    p.SmoothedPing,
		Rift:            p.Rift,
		Ready:           p.Ready,
		Disconnected:    p.Disconnected,
	}
}

// SetReady marks the player ready/not-ready for match start.
func (p *PlayerInfo) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Ready = ready
}

// IsReady reports the ready flag.
func (p *PlayerInfo) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Ready
}

// MarkDisconnected flips the lifecycle flag to disconnected.
func (p *PlayerInfo) MarkDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Disconnected = true
}

// IsDisconnected reports whether the player has left the match.
func (p *PlayerInfo) IsDisconnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Disconnected
}

// touchInput records a freshly received Input message: advances
// LastClientFrame monotonically, stamps LastInputTime, and clears the
// disconnected flag (a late input from a flaky link resurrects the player).
func (p *PlayerInfo) touchInput(clientFrame uint32, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if clientFrame > p.LastClientFrame {
		p.LastClientFrame = clientFrame
	}
	p.HasNewFrame = true
	p.LastInputTime = now
	p.Disconnected = false
}

// ackPeerFrame raises AckedFrames[peerIndex] monotonically. frame 0 is a
// legitimate ack (it means "I have peer 0's first frame"), so unlike a
// uint32 counter this only compares against the -1 sentinel, never skips it.
func (p *PlayerInfo) ackPeerFrame(peerIndex int, frame uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peerIndex < 0 || peerIndex >= len(p.AckedFrames) {
		return
	}
	if int64(frame) > p.AckedFrames[peerIndex] {
		p.AckedFrames[peerIndex] = int64(frame)
	}
}

func (p *PlayerInfo) ackedFrame(peerIndex int) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if peerIndex < 0 || peerIndex >= len(p.AckedFrames) {
		return -1
	}
	return p.AckedFrames[peerIndex]
}

// acceptSequence reports whether seq is newer than the last sequence
// accepted from this player, filtering stale/duplicate/out-of-order
// datagrams (original_source/src/rollback_server.cpp's lastSeqRecv check).
func (p *PlayerInfo) acceptSequence(seq uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.LastSeqRecv {
		return false
	}
	p.LastSeqRecv = seq
	return true
}

func (p *PlayerInfo) lastInputTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.LastInputTime
}

func (p *PlayerInfo) recordPingProbeSent() { atomic.AddInt64(&p.pingProbesSent, 1) }
func (p *PlayerInfo) recordPingProbeLost() { atomic.AddInt64(&p.pingProbesLost, 1) }

// packetLossPercent gives a rough loss estimate over the probes sent so far.
// The counters are cumulative for the player's lifetime; they are never
// reset and there is no sliding window.
func (p *PlayerInfo) packetLossPercent() int16 {
	sent := atomic.LoadInt64(&p.pingProbesSent)
	if sent == 0 {
		return 0
	}
	lost := atomic.LoadInt64(&p.pingProbesLost)
	return int16((lost * 100) / sent)
}
