package server

import (
	"net"
	"testing"
)

func newTestMatch(maxPlayers uint8) *MatchState {
	return NewMatchState("m1", "k1", MatchConfig{MaxPlayers: maxPlayers, MatchDuration: 3600}, 16.0)
}

func newTestPlayerAt(match *MatchState, index uint8) *PlayerInfo {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000 + int(index)}
	p := NewPlayerInfo(addr, match.MatchID, index, match.MaxPlayers)
	match.Players.InsertOrAssign(p.Key, p)
	return p
}

func TestHandleInputFirstWriteWins(t *testing.T) {
	match := newTestMatch(2)
	p := newTestPlayerAt(match, 0)

	ack, ok := HandleInput(match, p, InputPayload{
		StartFrame:    10,
		ClientFrame:   11,
		NumFrames:     2,
		InputPerFrame: []uint32{1, 2},
	})
	if !ok || ack != 11 {
		t.Fatalf("HandleInput ack = (%d, %v), want (11, true)", ack, ok)
	}

	// A later message claiming to supply frame 10 again must not overwrite it.
	HandleInput(match, p, InputPayload{
		StartFrame:    10,
		ClientFrame:   11,
		NumFrames:     1,
		InputPerFrame: []uint32{99},
	})
	v, _ := match.Inputs[0].Find(10)
	if v != 1 {
		t.Fatalf("first-write-wins violated: frame 10 = %d, want 1", v)
	}
}

func TestHandleInputAdvancesLastClientFrameMonotonically(t *testing.T) {
	match := newTestMatch(2)
	p := newTestPlayerAt(match, 0)

	HandleInput(match, p, InputPayload{StartFrame: 5, ClientFrame: 5, NumFrames: 1, InputPerFrame: []uint32{1}})
	HandleInput(match, p, InputPayload{StartFrame: 3, ClientFrame: 3, NumFrames: 1, InputPerFrame: []uint32{1}})

	if p.LastClientFrame != 5 {
		t.Fatalf("LastClientFrame = %d, want 5 (must not regress)", p.LastClientFrame)
	}
}

func TestHandleInputZeroFramesReturnsNoAck(t *testing.T) {
	match := newTestMatch(2)
	p := newTestPlayerAt(match, 0)

	_, ok := HandleInput(match, p, InputPayload{StartFrame: 1, ClientFrame: 1, NumFrames: 0})
	if ok {
		t.Fatalf("an Input with zero frames should not produce an ack")
	}
}

func TestHandleInputStoresChecksumsAndAdvancesFrontier(t *testing.T) {
	match := newTestMatch(2)
	p0 := newTestPlayerAt(match, 0)
	p1 := newTestPlayerAt(match, 1)

	HandleInput(match, p0, InputPayload{
		StartFrame: 1, ClientFrame: 1, NumFrames: 2, NumChecksums: 2,
		InputPerFrame: []uint32{1, 1}, ChecksumPerFrame: []uint32{111, 222},
	})
	if match.ChecksumFrontier() != 0 {
		t.Fatalf("frontier should not advance until every player has reported, got %d", match.ChecksumFrontier())
	}

	HandleInput(match, p1, InputPayload{
		StartFrame: 1, ClientFrame: 1, NumFrames: 2, NumChecksums: 2,
		InputPerFrame: []uint32{1, 1}, ChecksumPerFrame: []uint32{111, 222},
	})
	if match.ChecksumFrontier() != 2 {
		t.Fatalf("frontier = %d, want 2 once both players report frames 1-2", match.ChecksumFrontier())
	}
}

func TestHandlePlayerInputAckAdvancesMonotonically(t *testing.T) {
	match := newTestMatch(2)
	p := newTestPlayerAt(match, 0)

	HandlePlayerInputAck(p, PlayerInputAckPayload{AckFrame: []uint32{10, 20}})
	HandlePlayerInputAck(p, PlayerInputAckPayload{AckFrame: []uint32{5, 25}})

	if p.ackedFrame(0) != 10 {
		t.Fatalf("ackedFrame(0) = %d, want 10 (must not regress)", p.ackedFrame(0))
	}
	if p.ackedFrame(1) != 25 {
		t.Fatalf("ackedFrame(1) = %d, want 25", p.ackedFrame(1))
	}
}

func TestHandlePlayerInputAckResolvesPing(t *testing.T) {
	match := newTestMatch(2)
	p := newTestPlayerAt(match, 0)
	p.PendingPings.InsertOrAssign(42, p.LastInputTime)

	HandlePlayerInputAck(p, PlayerInputAckPayload{
		AckFrame:                    []uint32{0, 0},
		ServerMessageSequenceNumber: 42,
	})

	if !p.PingInit {
		t.Fatalf("a PlayerInputAck matching a pending ping should record a sample")
	}
}
