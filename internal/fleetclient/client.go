package fleetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
)

// Client is the narrow, "trait-shaped" capability interface spec.md
// §9 calls for: the rest of the system consumes this, never the
// concrete HTTP transport, so tests can drive it through a fake.
type Client interface {
	// ReportEffectiveConfig uploads the agent's current rendered
	// configuration. It is called by each agent's periodic EffectiveConfig
	// reporter probe (internal/control/status.go); a successful
	// remote-config apply does not trigger a report by itself.
	ReportEffectiveConfig(ctx context.Context, agentID agenttype.AgentID, payload []byte) error

	// ReportHealth uploads a health observation.
	ReportHealth(ctx context.Context, agentID agenttype.AgentID, healthy bool, message string) error

	// ReportVersion uploads a detected version string.
	ReportVersion(ctx context.Context, agentID agenttype.AgentID, version string) error

	// PollRemoteConfig fetches any pending remote config pushed for
	// agentID since the last poll. The zero Envelope with ok=false
	// means nothing new is pending.
	PollRemoteConfig(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Envelope, bool, error)

	// Close releases the client's resources.
	Close() error
}

// HTTPClient implements Client against the fleet-control service's
// HTTP API, matching the prior config-store package's plain-http.Client-plus-
// fmt.Errorf-wrapped-calls idiom.
type HTTPClient struct {
	endpoint string
	auth     string
	http     *http.Client
}

// NewHTTPClient returns an HTTPClient talking to endpoint, routing
// every request through transport (shared with the key server per
// SPEC_FULL.md's proxy-config wiring).
func NewHTTPClient(endpoint, auth string, transport *http.Transport) *HTTPClient {
	var rt http.RoundTripper = http.DefaultTransport
	if transport != nil {
		rt = transport
	}
	return &HTTPClient{
		endpoint: endpoint,
		auth:     auth,
		http:     &http.Client{Transport: rt, Timeout: 30 * time.Second},
	}
}

type effectiveConfigRequest struct {
	AgentID string `json:"agent_id"`
	Payload []byte `json:"payload"`
}

func (c *HTTPClient) ReportEffectiveConfig(ctx context.Context, agentID agenttype.AgentID, payload []byte) error {
	return c.post(ctx, "/v1/effective-config", effectiveConfigRequest{AgentID: string(agentID), Payload: payload})
}

type healthRequest struct {
	AgentID string `json:"agent_id"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

func (c *HTTPClient) ReportHealth(ctx context.Context, agentID agenttype.AgentID, healthy bool, message string) error {
	return c.post(ctx, "/v1/health", healthRequest{AgentID: string(agentID), Healthy: healthy, Message: message})
}

type versionRequest struct {
	AgentID string `json:"agent_id"`
	Version string `json:"version"`
}

func (c *HTTPClient) ReportVersion(ctx context.Context, agentID agenttype.AgentID, version string) error {
	return c.post(ctx, "/v1/version", versionRequest{AgentID: string(agentID), Version: version})
}

func (c *HTTPClient) PollRemoteConfig(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Envelope, bool, error) {
	url := fmt.Sprintf("%s/v1/remote-config?agent_id=%s", c.endpoint, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return remoteconfig.Envelope{}, false, fmt.Errorf("building remote config request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return remoteconfig.Envelope{}, false, fmt.Errorf("polling remote config for %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return remoteconfig.Envelope{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return remoteconfig.Envelope{}, false, fmt.Errorf("polling remote config for %s: unexpected status %d", agentID, resp.StatusCode)
	}

	var env remoteconfig.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return remoteconfig.Envelope{}, false, fmt.Errorf("decoding remote config for %s: %w", agentID, err)
	}
	return env, true, nil
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("calling %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}
}
