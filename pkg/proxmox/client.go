package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/hangar/pkg/controlplane"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

const (
	// DefaultRequestTimeout bounds every call to a node
	DefaultRequestTimeout = 15 * time.Second

	// AuthCookie is the cookie carrying the session ticket
	AuthCookie = "PVEAuthCookie"

	// CSRFHeader carries the anti-forgery token on mutating requests
	CSRFHeader = "CSRFPreventionToken"

	// maxErrorBody caps how much of an error response is kept
	maxErrorBody = 4096
)

// Config holds client configuration
type Config struct {
	// RequestTimeout bounds each HTTP round-trip (default: 15s)
	RequestTimeout time.Duration
}

// Client talks to Proxmox VE nodes. It implements controlplane.ControlPlane.
// Sessions are never cached; every operation authenticates on its own.
type Client struct {
	credentials controlplane.CredentialSource
	timeout     time.Duration
	verified    *http.Client
	insecure    *http.Client
	logger      zerolog.Logger
}

var _ controlplane.ControlPlane = (*Client)(nil)

// NewClient creates a client that resolves node passwords through credentials
func NewClient(cfg Config, credentials controlplane.CredentialSource) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	insecureTransport := cleanhttp.DefaultPooledTransport()
	// Proxmox nodes ship self-signed certificates; opt-in per node
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

	return &Client{
		credentials: credentials,
		timeout:     timeout,
		verified:    &http.Client{Transport: cleanhttp.DefaultPooledTransport()},
		insecure:    &http.Client{Transport: insecureTransport},
		logger:      log.WithComponent("proxmox"),
	}
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	CSRFToken string `json:"CSRFPreventionToken"`
	Username  string `json:"username"`
}

// Authenticate requests a ticket from node using its stored password
func (c *Client) Authenticate(ctx context.Context, node *types.NodeConfig) (*controlplane.Session, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ControlPlaneRequestDuration, "authenticate")

	baseURL, err := node.BaseURL()
	if err != nil {
		return nil, &faults.ConfigurationError{Reason: err.Error()}
	}
	if node.CredentialRef == "" {
		return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("node %s has no credential configured", node.Name)}
	}

	password, err := c.credentials.Get(ctx, node.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential for node %s: %w", node.Name, err)
	}

	form := url.Values{}
	form.Set("username", node.Username)
	form.Set("password", password)
	form.Set("realm", node.LoginRealm())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient(node).Do(req)
	if err != nil {
		return nil, &faults.RemoteAPIError{Node: node.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, &faults.AuthenticationError{Node: node.Name, Status: resp.StatusCode}
	}

	var ticket ticketResponse
	if err := decodeData(resp.Body, &ticket); err != nil {
		return nil, &faults.AuthenticationError{Node: node.Name, Reason: "malformed ticket response"}
	}
	if ticket.Ticket == "" || ticket.CSRFToken == "" {
		return nil, &faults.AuthenticationError{Node: node.Name, Reason: "no ticket in response"}
	}

	c.logger.Debug().Str("node", node.Name).Msg("Authenticated")
	return controlplane.NewSession(node, ticket.Ticket, ticket.CSRFToken)
}

// Call issues one request against the node the session is bound to and decodes
// the "data" member of the response into out (when out is not nil).
// The session is checked against node before any network I/O.
func (c *Client) Call(ctx context.Context, node *types.NodeConfig, session *controlplane.Session, method, path string, form url.Values, out any) error {
	baseURL, err := session.BoundTo(node)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", AuthCookie+"="+session.Ticket())
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(CSRFHeader, session.CSRFToken())
	}

	resp, err := c.httpClient(node).Do(req)
	if err != nil {
		return &faults.RemoteAPIError{Node: node.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &faults.RemoteAPIError{
			Node:   node.Name,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := decodeData(resp.Body, out); err != nil {
		return &faults.RemoteAPIError{Node: node.Name, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// ListResources returns the cluster resource listing as seen from node
func (c *Client) ListResources(ctx context.Context, node *types.NodeConfig, session *controlplane.Session) ([]controlplane.RemoteResource, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ControlPlaneRequestDuration, "list_resources")

	var resources []controlplane.RemoteResource
	if err := c.Call(ctx, node, session, http.MethodGet, "/cluster/resources", nil, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// PerformAction posts a status transition and returns the task UPID
func (c *Client) PerformAction(ctx context.Context, node *types.NodeConfig, session *controlplane.Session, vmid int, rtype types.ResourceType, action types.Action) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ControlPlaneRequestDuration, "perform_action")

	segment := rtype.PathSegment()
	if segment == "" {
		return "", faults.InvalidArgument("type", "unknown resource type %q", rtype)
	}
	if !action.Valid() {
		return "", faults.InvalidArgument("action", "unknown action %q", action)
	}

	path := fmt.Sprintf("/nodes/%s/%s/%d/status/%s", url.PathEscape(node.Name), segment, vmid, action)

	var upid string
	if err := c.Call(ctx, node, session, http.MethodPost, path, url.Values{}, &upid); err != nil {
		return "", err
	}
	if upid == "" {
		return "", &faults.RemoteAPIError{Node: node.Name, Status: http.StatusOK, Body: "response carried no task id"}
	}
	return upid, nil
}

func (c *Client) httpClient(node *types.NodeConfig) *http.Client {
	if node.InsecureTLS {
		return c.insecure
	}
	return c.verified
}

// decodeData unwraps the {"data": ...} envelope of every Proxmox response
func decodeData(r io.Reader, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(envelope.Data, out)
}
