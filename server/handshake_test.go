package server

import (
	"net"
	"sync"
	"testing"
)

// recordingSender is a Sender fake that records every outbound message
// instead of touching a real socket.
type recordingSender struct {
	mu       sync.Mutex
	messages []recordedMessage
}

type recordedMessage struct {
	addr    *net.UDPAddr
	msgType uint8
	payload any
}

func (s *recordingSender) SendTo(addr *net.UDPAddr, msgType uint8, _ uint32, payload any, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, recordedMessage{addr: addr, msgType: msgType, payload: payload})
	return 0, nil
}

func (s *recordingSender) countType(msgType uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}

type stubProvisionerOK struct{ cfg MatchConfig }

func (s stubProvisionerOK) FetchMatchConfig(string, string) (MatchConfig, error) { return s.cfg, nil }
func (s stubProvisionerOK) ReportMatchEnd(string, string)                       {}

func TestHandleNewConnectionRegistersPlayerAndReplies(t *testing.T) {
	registry := NewRegistry()
	sender := &recordingSender{}
	provisioner := stubProvisionerOK{cfg: MatchConfig{MaxPlayers: 2, MatchDuration: 3600}}
	h := NewHandshakeManager(registry, provisioner, sender)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50000}
	h.HandleNewConnection(addr, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 0})

	match, ok := registry.Matches.Find("m1")
	if !ok {
		t.Fatalf("match m1 should have been created")
	}
	if match.Players.Size() != 1 {
		t.Fatalf("Players.Size() = %d, want 1", match.Players.Size())
	}
	if sender.countType(MsgNewConnectionReply) != 1 {
		t.Fatalf("expected exactly one NewConnectionReply")
	}
}

func TestHandleNewConnectionRejectsFullMatch(t *testing.T) {
	registry := NewRegistry()
	sender := &recordingSender{}
	provisioner := stubProvisionerOK{cfg: MatchConfig{MaxPlayers: 1, MatchDuration: 3600}}
	h := NewHandshakeManager(registry, provisioner, sender)

	h.HandleNewConnection(&net.UDPAddr{Port: 1}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 0})
	h.HandleNewConnection(&net.UDPAddr{Port: 2}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 1})

	match, _ := registry.Matches.Find("m1")
	if match.Players.Size() != 1 {
		t.Fatalf("a second player must not join a match already at max_players")
	}
}

type failingProvisioner struct{}

func (failingProvisioner) FetchMatchConfig(string, string) (MatchConfig, error) {
	return MatchConfig{}, ErrMatchProvisioningFailed
}
func (failingProvisioner) ReportMatchEnd(string, string) {}

func TestHandleNewConnectionProvisioningFailureRepliesFailure(t *testing.T) {
	registry := NewRegistry()
	sender := &recordingSender{}
	h := NewHandshakeManager(registry, failingProvisioner{}, sender)

	h.HandleNewConnection(&net.UDPAddr{Port: 1}, NewConnectionPayload{MatchID: "m1", Key: "k"})

	if _, ok := registry.Matches.Find("m1"); ok {
		t.Fatalf("a match must not be created when provisioning fails")
	}
	if len(sender.messages) != 1 || sender.messages[0].payload.(NewConnectionReplyPayload).Success != 0 {
		t.Fatalf("expected a single NewConnectionReply{success:0}")
	}
}

func TestHandleReadyStartsMatchOnlyOnceAllReady(t *testing.T) {
	registry := NewRegistry()
	sender := &recordingSender{}
	provisioner := stubProvisionerOK{cfg: MatchConfig{MaxPlayers: 2, MatchDuration: 2}}
	h := NewHandshakeManager(registry, provisioner, sender)

	h.HandleNewConnection(&net.UDPAddr{Port: 1}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 0})
	h.HandleNewConnection(&net.UDPAddr{Port: 2}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 1})
	match, _ := registry.Matches.Find("m1")

	// Ping phase has not completed: StartGame must not fire even if both ready.
	var p0, p1 *PlayerInfo
	match.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		if p.PlayerIndex == 0 {
			p0 = p
		} else {
			p1 = p
		}
	})
	h.HandleReady(match, p0, ReadyToStartMatchPayload{Ready: 1})
	h.HandleReady(match, p1, ReadyToStartMatchPayload{Ready: 1})
	if sender.countType(MsgStartGame) != 0 {
		t.Fatalf("StartGame must wait for the ping phase to finish")
	}

	match.PingPhaseCount = match.PingPhaseTotal
	h.HandleReady(match, p0, ReadyToStartMatchPayload{Ready: 1})
	if sender.countType(MsgStartGame) != 2 {
		t.Fatalf("StartGame should go to each of the 2 players once all are ready and the ping phase is done")
	}
	if sender.countType(MsgPlayersConfigurationData) != 2 {
		t.Fatalf("PlayersConfigurationData should go to each of the 2 players at match start")
	}
	if !match.IsTickRunning() {
		t.Fatalf("tick loop should be marked running once the match starts")
	}
}

// TestMaybeStartMatchStartsOnLatePingPhaseCompletion codifies spec.md §8
// scenario 1: both clients can send ReadyToStartMatch immediately after the
// NewConnectionReply, well before the ~6.5s ping phase finishes. The match
// must still start once the ping phase later completes, not never.
func TestMaybeStartMatchStartsOnLatePingPhaseCompletion(t *testing.T) {
	registry := NewRegistry()
	sender := &recordingSender{}
	provisioner := stubProvisionerOK{cfg: MatchConfig{MaxPlayers: 2, MatchDuration: 2}}
	h := NewHandshakeManager(registry, provisioner, sender)

	h.HandleNewConnection(&net.UDPAddr{Port: 1}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 0})
	h.HandleNewConnection(&net.UDPAddr{Port: 2}, NewConnectionPayload{MatchID: "m1", Key: "k", PlayerIndex: 1})
	match, _ := registry.Matches.Find("m1")

	var p0, p1 *PlayerInfo
	match.Players.ForEachRead(func(_ PlayerKey, p *PlayerInfo) {
		if p.PlayerIndex == 0 {
			p0 = p
		} else {
			p1 = p
		}
	})

	// Both clients ready up before the ping phase has run at all.
	h.HandleReady(match, p0, ReadyToStartMatchPayload{Ready: 1})
	h.HandleReady(match, p1, ReadyToStartMatchPayload{Ready: 1})
	if sender.countType(MsgStartGame) != 0 {
		t.Fatalf("StartGame must not fire before the ping phase completes")
	}

	// Ping phase finishes later; this is the check runPingPhase performs on
	// its last iteration.
	match.PingPhaseCount = match.PingPhaseTotal
	h.maybeStartMatch(match)

	if sender.countType(MsgStartGame) != 2 {
		t.Fatalf("StartGame should go to each of the 2 players once the ping phase completes after both were already ready")
	}
	if !match.IsTickRunning() {
		t.Fatalf("tick loop should be marked running once the match starts")
	}
}
