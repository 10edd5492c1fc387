package server

import "time"

// HandleInput stores a client's per-frame inputs, first-write-wins per
// frame, and returns the ack frame to reply with (spec.md §4.F).
//
// Grounded on original_source/src/rollback_server.cpp's handleClientInput:
// advance LastClientFrame monotonically, mark the player freshly alive, and
// insert each reported frame into the player's input history only if it
// isn't already present.
func HandleInput(match *MatchState, player *PlayerInfo, payload InputPayload) (ackFrame uint32, ok bool) {
	now := time.Now()
	player.touchInput(payload.ClientFrame, now)

	idx := int(player.PlayerIndex)
	if idx < 0 || idx >= len(match.Inputs) {
		return 0, false
	}
	hist := match.Inputs[idx]

	n := int(payload.NumFrames)
	if n > len(payload.InputPerFrame) {
		n = len(payload.InputPerFrame)
	}
	for i := 0; i < n; i++ {
		frame := payload.StartFrame + uint32(i)
		if _, exists := hist.Find(frame); exists {
			continue
		}
		hist.InsertOrAssign(frame, payload.InputPerFrame[i])
	}

	checksums := match.Checksums[idx]
	nc := int(payload.NumChecksums)
	if nc > len(payload.ChecksumPerFrame) {
		nc = len(payload.ChecksumPerFrame)
	}
	for i := 0; i < nc; i++ {
		frame := payload.StartFrame + uint32(i)
		if _, exists := checksums.Find(frame); exists {
			continue
		}
		checksums.InsertOrAssign(frame, payload.ChecksumPerFrame[i])
	}
	if nc > 0 {
		match.advanceChecksumFrontier()
	}

	if n == 0 {
		return 0, false
	}
	return payload.StartFrame + uint32(n) - 1, true
}

// HandlePlayerInputAck advances the acker's view of each peer's acked
// frame and, if the sequence matches an outstanding ping, feeds the RTT
// sample into the rift estimator (spec.md §4.F).
func HandlePlayerInputAck(player *PlayerInfo, payload PlayerInputAckPayload) {
	for i, frame := range payload.AckFrame {
		player.ackPeerFrame(i, frame)
	}
	resolvePendingPing(player, payload.ServerMessageSequenceNumber)
}
