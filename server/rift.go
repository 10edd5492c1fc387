package server

import "time"

// Rift estimator tuning constants. The spec fixes the shape of the filter,
// not these exact values (spec.md §9, Open Question); these match the
// magnitudes given in spec.md §4.G and its worked example in §8 scenario 4.
const (
	pingEWMAAlpha = 0.125
	riftEWMABeta  = 0.1
	maxRiftFrames = 15.0
)

// RecordPingSample folds a new round-trip sample (in ms) into the player's
// smoothed ping via EWMA, initialising on the first sample (spec.md §4.G).
func RecordPingSample(player *PlayerInfo, sampleMs float64) {
	player.mu.Lock()
	defer player.mu.Unlock()
	if !player.PingInit {
		player.SmoothedPing = sampleMs
		player.PingInit = true
	} else {
		player.SmoothedPing = (1-pingEWMAAlpha)*player.SmoothedPing + pingEWMAAlpha*sampleMs
	}
	player.RawPing = sampleMs
	player.HasNewPing = true
}

// EvaluateRift recomputes a player's published rift when both a fresh ping
// sample and a fresh client-frame report are available (spec.md §4.G).
// tickIntervalMs is the match's nominal frame period.
func EvaluateRift(player *PlayerInfo, currentFrame uint32, tickIntervalMs float64) {
	player.mu.Lock()
	defer player.mu.Unlock()

	if !player.HasNewPing || !player.HasNewFrame {
		return
	}

	expected := float64(currentFrame) + (player.SmoothedPing/2.0)/tickIntervalMs
	raw := float64(player.LastClientFrame) - expected
	raw = clampFloat(raw, maxRiftFrames)

	if !player.RiftInit {
		player.SmoothRift = raw
		player.RiftInit = true
	} else {
		player.SmoothRift = (1-riftEWMABeta)*player.SmoothRift + riftEWMABeta*raw
	}

	player.Rift = clampFloat(player.SmoothRift, maxRiftFrames)

	player.HasNewPing = false
	player.HasNewFrame = false
}

// resolvePendingPing feeds a round-trip sample to the ping filter if seq
// matches an outstanding probe, used by both PlayerInputAck (§4.F) and
// QualityData (§4.E) replies.
func resolvePendingPing(player *PlayerInfo, seq uint32) {
	sentAt, found := player.PendingPings.Find(seq)
	if !found {
		return
	}
	player.PendingPings.Erase(seq)
	sampleMs := float64(time.Since(sentAt).Microseconds()) / 1000.0
	RecordPingSample(player, sampleMs)
}

// evictStalePendingPings drops probes older than maxAge, counting each as a
// lost sample toward the packet-loss estimate (spec.md §5).
func evictStalePendingPings(player *PlayerInfo, maxAge time.Duration) {
	now := time.Now()
	var stale []uint32
	player.PendingPings.ForEachRead(func(seq uint32, sentAt time.Time) {
		if now.Sub(sentAt) > maxAge {
			stale = append(stale, seq)
		}
	})
	for _, seq := range stale {
		if player.PendingPings.Erase(seq) {
			player.recordPingProbeLost()
		}
	}
}

func clampFloat(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
