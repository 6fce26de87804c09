package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/api"
	"github.com/cuemby/hangar/pkg/controller"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds every request except Sync, which waits for all nodes
// and is bounded only by the caller's context
const DefaultTimeout = 2 * time.Minute

// Client wraps the Hangar HTTP API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", addr)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    cleanhttp.DefaultPooledClient(),
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// APIError is a failed request. It unwraps to the errdefs class of Kind so
// callers can use errdefs.IsNotFound and friends.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "invalid_argument":
		return errdefs.ErrInvalidArgument
	case "not_found":
		return errdefs.ErrNotFound
	case "already_exists":
		return errdefs.ErrAlreadyExists
	case "permission_denied":
		return errdefs.ErrPermissionDenied
	case "node_authentication":
		return errdefs.ErrUnauthenticated
	case "node_unavailable", "timeout":
		return errdefs.ErrUnavailable
	case "configuration":
		return errdefs.ErrFailedPrecondition
	case "decryption":
		return errdefs.ErrDataLoss
	}
	return errdefs.ErrUnknown
}

// Sync runs one reconciliation pass on the server
func (c *Client) Sync(ctx context.Context) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := c.doTimeout(ctx, 0, http.MethodPost, "/v1/inventory/sync", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListInventory returns stored inventory rows; an empty node lists all nodes
func (c *Client) ListInventory(ctx context.Context, node string) ([]*types.ResourceRecord, error) {
	path := "/v1/inventory"
	if node != "" {
		path += "?node=" + url.QueryEscape(node)
	}
	var records []*types.ResourceRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Control issues a state transition and returns the task handle
func (c *Client) Control(ctx context.Context, node string, rtype types.ResourceType, vmid int, action types.Action) (*controller.TaskHandle, error) {
	path := fmt.Sprintf("/v1/nodes/%s/%s/%s/status/%s",
		url.PathEscape(node), url.PathEscape(string(rtype)), strconv.Itoa(vmid), url.PathEscape(string(action)))

	var handle controller.TaskHandle
	if err := c.do(ctx, http.MethodPost, path, nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// AddNode registers a node; password may be empty when node.CredentialRef is set
func (c *Client) AddNode(ctx context.Context, node *types.NodeConfig, password string) (*types.NodeConfig, error) {
	req := api.AddNodeRequest{NodeConfig: *node, Password: password}
	var created types.NodeConfig
	if err := c.do(ctx, http.MethodPost, "/v1/nodes", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetNode returns a node by name
func (c *Client) GetNode(ctx context.Context, name string) (*types.NodeConfig, error) {
	var node types.NodeConfig
	if err := c.do(ctx, http.MethodGet, "/v1/nodes/"+url.PathEscape(name), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// ListNodes lists all nodes
func (c *Client) ListNodes(ctx context.Context) ([]*types.NodeConfig, error) {
	var nodes []*types.NodeConfig
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// RemoveNode deletes a node and its inventory
func (c *Client) RemoveNode(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/nodes/"+url.PathEscape(name), nil, nil)
}

// PutSecret stores a secret and returns its metadata
func (c *Client) PutSecret(ctx context.Context, key, value, description string) (*types.SecretMetadata, error) {
	req := api.PutSecretRequest{Value: value, Description: description}
	var meta types.SecretMetadata
	if err := c.do(ctx, http.MethodPut, "/v1/secrets/"+escapeKey(key), req, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetSecret returns a secret's metadata
func (c *Client) GetSecret(ctx context.Context, key string) (*types.SecretMetadata, error) {
	var meta types.SecretMetadata
	if err := c.do(ctx, http.MethodGet, "/v1/secrets/"+escapeKey(key), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListSecrets lists the metadata of all secrets
func (c *Client) ListSecrets(ctx context.Context) ([]*types.SecretMetadata, error) {
	var secrets []*types.SecretMetadata
	if err := c.do(ctx, http.MethodGet, "/v1/secrets", nil, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}

// DeleteSecret removes a secret
func (c *Client) DeleteSecret(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/v1/secrets/"+escapeKey(key), nil, nil)
}

// escapeKey escapes each segment of a secret key, keeping the slashes
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doTimeout(ctx, DefaultTimeout, method, path, in, out)
}

// doTimeout performs one request; a zero timeout leaves ctx as the only bound
func (c *Client) doTimeout(ctx context.Context, timeout time.Duration, method, path string, in, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach hangar server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("server returned HTTP %d", resp.StatusCode)}
		}
		return &APIError{Status: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
