package server

import (
	"net"
	"sync/atomic"
	"time"
)

// Tuning constants for the connection/handshake phase (spec.md §4.E, §5).
const (
	tickIntervalMs             = 1000.0 / 60.0
	pingPhaseInterval          = 100 * time.Millisecond
	validationServerDebugMode  = 0
	disconnectTimeout          = 10 * time.Second
)

// HandshakeManager owns the lifecycle from a client's first NewConnection
// through ping calibration to StartGame, grounded in
// original_source/src/rollback_server.cpp's handleNewConnection /
// startPingPhase / handleReady.
type HandshakeManager struct {
	registry    *Registry
	provisioner Provisioner
	sender      Sender
}

func NewHandshakeManager(registry *Registry, provisioner Provisioner, sender Sender) *HandshakeManager {
	return &HandshakeManager{registry: registry, provisioner: provisioner, sender: sender}
}

// HandleNewConnection implements spec.md §4.E steps 1-4: provision, create
// the match lazily, register the player, and reply.
func (h *HandshakeManager) HandleNewConnection(addr *net.UDPAddr, payload NewConnectionPayload) {
	cfg, err := h.provisioner.FetchMatchConfig(payload.MatchID, payload.Key)
	if err != nil {
		Log.Warnw("match provisioning failed", "matchId", payload.MatchID, "err", err)
		h.sender.SendTo(addr, MsgNewConnectionReply, 0, NewConnectionReplyPayload{Success: 0}, 1)
		return
	}

	match, _ := h.registry.Matches.LoadOrStore(payload.MatchID, NewMatchState(payload.MatchID, payload.Key, cfg, tickIntervalMs))

	if match.Players.Size() >= match.MaxPlayers {
		Log.Warnw("rejecting NewConnection, match full", "matchId", match.MatchID)
		h.sender.SendTo(addr, MsgNewConnectionReply, match.NextSequence(), NewConnectionReplyPayload{Success: 0}, match.MaxPlayers)
		return
	}

	playerIndex := uint8(payload.PlayerIndex)
	player := NewPlayerInfo(addr, match.MatchID, playerIndex, match.MaxPlayers)
	h.registry.RegisterPlayer(match, player)

	Log.Infow("player joined", "matchId", match.MatchID, "playerIndex", playerIndex,
		"numPlayers", match.Players.Size(), "maxPlayers", match.MaxPlayers)

	h.sender.SendTo(addr, MsgNewConnectionReply, match.NextSequence(), NewConnectionReplyPayload{
		Success:                     1,
		MatchNumPlayers:             uint8(match.MaxPlayers),
		PlayerIndex:                 playerIndex,
		MatchDurationInFrames:       match.DurationInFrames,
		IsValidationServerDebugMode: validationServerDebugMode,
	}, match.MaxPlayers)

	if match.Players.Size() == match.MaxPlayers {
		go h.runPingPhase(match)
	}
}

// runPingPhase broadcasts RequestQualityData at a fixed cadence until
// ping_phase_total iterations have run, recording each probe's send time so
// the matching QualityData reply can be turned into an RTT sample
// (spec.md §4.E step 5, §4.G).
func (h *HandshakeManager) runPingPhase(match *MatchState) {
	ticker := time.NewTicker(pingPhaseInterval)
	defer ticker.Stop()
	for range ticker.C {
		count := atomic.AddUint32(&match.PingPhaseCount, 1)
		match.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
			seq := match.NextSequence()
			p.PendingPings.InsertOrAssign(seq, time.Now())
			p.recordPingProbeSent()
			h.sender.SendTo(p.Addr, MsgRequestQualityData, seq, RequestQualityDataPayload{
				Ping: int16(p.Snapshot().SmoothedPing),
			}, match.MaxPlayers)
		})
		if count >= match.PingPhaseTotal {
			h.maybeStartMatch(match)
			return
		}
	}
}

// HandleQualityData resolves a ping-phase probe reply into an RTT sample.
func (h *HandshakeManager) HandleQualityData(player *PlayerInfo, payload QualityDataPayload) {
	resolvePendingPing(player, payload.ServerMessageSequenceNumber)
}

// HandleReady marks a player ready and, once every player is ready and the
// ping phase has completed, starts the match (spec.md §4.E step 6).
func (h *HandshakeManager) HandleReady(match *MatchState, player *PlayerInfo, payload ReadyToStartMatchPayload) {
	if payload.Ready == 0 {
		player.SetReady(false)
		return
	}
	player.SetReady(true)
	h.maybeStartMatch(match)
}

// maybeStartMatch starts the match the first time both conditions hold:
// every player is ready, and the ping phase has finished. Either event can
// be the one that arrives last — a client may send ReadyToStartMatch well
// before the ping phase completes (spec.md §8 scenario 1) — so both
// runPingPhase and HandleReady call this, and StartTickRunning's
// compare-and-swap guarantees only the event that actually completes both
// conditions gets to start the tick loop.
func (h *HandshakeManager) maybeStartMatch(match *MatchState) {
	pingPhaseDone := atomic.LoadUint32(&match.PingPhaseCount) >= match.PingPhaseTotal
	if !pingPhaseDone || !match.AllPlayersReady() {
		return
	}
	if !match.StartTickRunning() {
		return
	}

	h.broadcastConfigurationAndStart(match)
	go RunTickLoop(match, h.sender, h.registry, h.provisioner)
}

func (h *HandshakeManager) broadcastConfigurationAndStart(match *MatchState) {
	match.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		h.sender.SendTo(p.Addr, MsgPlayersConfigurationData, match.NextSequence(),
			PlayersConfigurationDataPayload{NumPlayers: uint8(match.MaxPlayers)}, match.MaxPlayers)
	})
	match.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		h.sender.SendTo(p.Addr, MsgStartGame, match.NextSequence(), nil, match.MaxPlayers)
	})
	Log.Infow("match started", "matchId", match.MatchID, "maxPlayers", match.MaxPlayers)
}

// HandleDisconnecting marks a player disconnected on an explicit client
// request (spec.md §3 lifecycle).
func (h *HandshakeManager) HandleDisconnecting(player *PlayerInfo, _ DisconnectingPayload) {
	player.MarkDisconnected()
}
