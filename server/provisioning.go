package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provisioner is the external match-provisioning collaborator referenced in
// spec.md §1/§6: fetch_match_config and the end-of-match report. Its
// implementation is genuinely out of scope of the core — this interface is
// the opaque call boundary the handshake manager and tick engine use.
type Provisioner interface {
	FetchMatchConfig(matchID, key string) (MatchConfig, error)
	ReportMatchEnd(matchID, key string)
}

// HTTPProvisioner is the production Provisioner, matching the JSON-over-HTTP
// shape of original_source/src/rollback_server.cpp's fetchMatchConfigFromServer
// and sendEndMatch (POST bodies built with nlohmann::json there; here with
// the stdlib encoding/json, as the teacher's own WS layer already does for
// its wire format).
type HTTPProvisioner struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvisioner builds a provisioner against baseURL with a bounded
// request timeout.
func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type matchConfigRequest struct {
	MatchID string `json:"matchId"`
	Key     string `json:"key"`
}

type matchConfigPlayer struct {
	PlayerIndex uint16 `json:"player_index"`
	IP          string `json:"ip"`
	IsHost      bool   `json:"is_host"`
}

type matchConfigResponse struct {
	MaxPlayers    uint8               `json:"max_players"`
	MatchDuration uint32              `json:"match_duration"`
	Players       []matchConfigPlayer `json:"players"`
}

// FetchMatchConfig POSTs {matchId, key} to <BaseURL>/mvsi_register and
// decodes the authorised player list and match parameters.
func (h *HTTPProvisioner) FetchMatchConfig(matchID, key string) (MatchConfig, error) {
	body, err := json.Marshal(matchConfigRequest{MatchID: matchID, Key: key})
	if err != nil {
		return MatchConfig{}, fmt.Errorf("%w: %v", ErrMatchProvisioningFailed, err)
	}

	resp, err := h.Client.Post(h.BaseURL+"/mvsi_register", "application/json", bytes.NewReader(body))
	if err != nil {
		return MatchConfig{}, fmt.Errorf("%w: %v", ErrMatchProvisioningFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MatchConfig{}, fmt.Errorf("%w: status %d", ErrMatchProvisioningFailed, resp.StatusCode)
	}

	var out matchConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return MatchConfig{}, fmt.Errorf("%w: %v", ErrMatchProvisioningFailed, err)
	}

	return MatchConfig{MaxPlayers: out.MaxPlayers, MatchDuration: out.MatchDuration}, nil
}

// StubProvisioner answers FetchMatchConfig locally without an HTTP round
// trip, for running a match server without a provisioning service attached
// (mirrors the teacher's habit of pre-creating a default room for a quick
// try-run in main.go).
type StubProvisioner struct {
	MaxPlayers    uint8
	MatchDuration uint32
}

func (s StubProvisioner) FetchMatchConfig(_, _ string) (MatchConfig, error) {
	return MatchConfig{MaxPlayers: s.MaxPlayers, MatchDuration: s.MatchDuration}, nil
}

func (s StubProvisioner) ReportMatchEnd(_, _ string) {}

type matchEndRequest struct {
	MatchID string `json:"matchId"`
	Key     string `json:"key"`
}

// ReportMatchEnd POSTs {matchId, key} to <BaseURL>/mvsi_end_match on natural
// match termination. Failures are swallowed by the caller's logging, not
// propagated — reporting is best-effort per spec.md §1.
func (h *HTTPProvisioner) ReportMatchEnd(matchID, key string) {
	body, err := json.Marshal(matchEndRequest{MatchID: matchID, Key: key})
	if err != nil {
		return
	}
	resp, err := h.Client.Post(h.BaseURL+"/mvsi_end_match", "application/json", bytes.NewReader(body))
	if err != nil {
		return
	}
	resp.Body.Close()
}
