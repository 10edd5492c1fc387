package server

import (
	"math"
	"net"
	"testing"
	"time"
)

func newTestPlayer(t *testing.T) *PlayerInfo {
	t.Helper()
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41234}
	return NewPlayerInfo(addr, "m1", 0, 2)
}

func TestRecordPingSampleInitialisesThenSmooths(t *testing.T) {
	p := newTestPlayer(t)
	RecordPingSample(p, 100)
	if p.SmoothedPing != 100 {
		t.Fatalf("first sample should initialise smoothedPing, got %v", p.SmoothedPing)
	}
	RecordPingSample(p, 50)
	want := (1-pingEWMAAlpha)*100 + pingEWMAAlpha*50
	if math.Abs(p.SmoothedPing-want) > 1e-9 {
		t.Fatalf("smoothedPing = %v, want %v", p.SmoothedPing, want)
	}
}

func TestEvaluateRiftRequiresFreshSamples(t *testing.T) {
	p := newTestPlayer(t)
	EvaluateRift(p, 100, 16.0)
	if p.RiftInit {
		t.Fatalf("rift should not initialise without a fresh ping and frame")
	}
}

func TestEvaluateRiftClampsToMax(t *testing.T) {
	p := newTestPlayer(t)
	p.HasNewPing = true
	p.HasNewFrame = true
	p.LastClientFrame = 100000
	p.SmoothedPing = 20

	EvaluateRift(p, 0, 16.0)
	if p.Rift != maxRiftFrames {
		t.Fatalf("rift = %v, want clamp at %v", p.Rift, maxRiftFrames)
	}
}

func TestEvaluateRiftClearsFreshFlags(t *testing.T) {
	p := newTestPlayer(t)
	p.HasNewPing = true
	p.HasNewFrame = true
	p.LastClientFrame = 10
	p.SmoothedPing = 16

	EvaluateRift(p, 10, 16.0)
	if p.HasNewPing || p.HasNewFrame {
		t.Fatalf("EvaluateRift must clear hasNewPing/hasNewFrame after publishing")
	}
}

func TestResolvePendingPingFeedsSample(t *testing.T) {
	p := newTestPlayer(t)
	p.PendingPings.InsertOrAssign(5, time.Now().Add(-20*time.Millisecond))

	resolvePendingPing(p, 5)

	if !p.PingInit {
		t.Fatalf("resolving a pending ping should record a sample")
	}
	if p.SmoothedPing <= 0 {
		t.Fatalf("smoothedPing = %v, want > 0", p.SmoothedPing)
	}
	if _, ok := p.PendingPings.Find(5); ok {
		t.Fatalf("resolved pending ping should be removed")
	}
}

func TestResolvePendingPingIgnoresUnknownSequence(t *testing.T) {
	p := newTestPlayer(t)
	resolvePendingPing(p, 999)
	if p.PingInit {
		t.Fatalf("unknown sequence should not record a sample")
	}
}

func TestEvictStalePendingPings(t *testing.T) {
	p := newTestPlayer(t)
	p.PendingPings.InsertOrAssign(1, time.Now().Add(-5*time.Second))
	p.PendingPings.InsertOrAssign(2, time.Now())
	p.recordPingProbeSent()
	p.recordPingProbeSent()

	evictStalePendingPings(p, 2*time.Second)

	if _, ok := p.PendingPings.Find(1); ok {
		t.Fatalf("stale probe should have been evicted")
	}
	if _, ok := p.PendingPings.Find(2); !ok {
		t.Fatalf("fresh probe should remain")
	}
	if p.packetLossPercent() == 0 {
		t.Fatalf("eviction should count toward the packet-loss estimate")
	}
}
