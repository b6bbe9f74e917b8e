package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
)

// HealthClient probes the signaling server's /health endpoint.
type HealthClient struct {
	url    string
	client *http.Client
}

var _ ports.HealthProber = (*HealthClient)(nil)

// NewHealthClient takes the server base URL, e.g. http://host:8081. The
// per-request deadline comes from the probe context.
func NewHealthClient(baseURL string, client *http.Client) *HealthClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HealthClient{
		url:    strings.TrimRight(baseURL, "/") + "/health",
		client: client,
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	ActiveSessions int    `json:"active_sessions"`
	Connections    int    `json:"connections"`
}

func (h *HealthClient) Probe(ctx context.Context) (ports.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return ports.ProbeResult{}, fmt.Errorf("failed to build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return ports.ProbeResult{}, apperrors.NewTransientNetworkError(err, "health probe failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ports.ProbeResult{}, apperrors.NewTransientNetworkError(
			fmt.Errorf("unexpected status %d", resp.StatusCode), "health probe failed")
	}

	var body healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return ports.ProbeResult{}, apperrors.NewProtocolError(fmt.Sprintf("invalid health response: %v", err))
	}
	return ports.ProbeResult{ActiveSessions: body.ActiveSessions, Connections: body.Connections}, nil
}
