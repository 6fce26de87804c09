// Package controlplane defines the capability set Hangar needs from a
// hypervisor control plane and the session type bound to a single node.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/hangar/pkg/types"
)

// ErrSessionMismatch is returned when a session is used against a node it was not issued for
var ErrSessionMismatch = errors.New("session is bound to another node")

// ControlPlane is implemented once per provider. The reconciler and the
// controller depend only on this interface.
type ControlPlane interface {
	// Authenticate negotiates a fresh session against node
	Authenticate(ctx context.Context, node *types.NodeConfig) (*Session, error)

	// ListResources returns the raw resource listing visible through the session
	ListResources(ctx context.Context, node *types.NodeConfig, session *Session) ([]RemoteResource, error)

	// PerformAction issues one state transition and returns the remote task handle
	PerformAction(ctx context.Context, node *types.NodeConfig, session *Session, vmid int, rtype types.ResourceType, action types.Action) (string, error)
}

// CredentialSource resolves a stored secret to plaintext
type CredentialSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// Session is a short-lived authenticated session against one node.
// The ticket and anti-forgery token always come from the same login.
type Session struct {
	nodeName  string
	baseURL   string
	ticket    string
	csrfToken string
	issuedAt  time.Time
}

// NewSession binds a ticket and its anti-forgery token to node
func NewSession(node *types.NodeConfig, ticket, csrfToken string) (*Session, error) {
	baseURL, err := node.BaseURL()
	if err != nil {
		return nil, err
	}
	return &Session{
		nodeName:  node.Name,
		baseURL:   baseURL,
		ticket:    ticket,
		csrfToken: csrfToken,
		issuedAt:  time.Now(),
	}, nil
}

// NodeName returns the node the session was issued for
func (s *Session) NodeName() string { return s.nodeName }

// BaseURL returns the API root the session was issued by
func (s *Session) BaseURL() string { return s.baseURL }

// Ticket returns the session ticket
func (s *Session) Ticket() string { return s.ticket }

// CSRFToken returns the anti-forgery token
func (s *Session) CSRFToken() string { return s.csrfToken }

// IssuedAt returns when the session was obtained
func (s *Session) IssuedAt() time.Time { return s.issuedAt }

// String never includes the ticket or token
func (s *Session) String() string {
	return fmt.Sprintf("session(node=%s, issued=%s)", s.nodeName, s.issuedAt.Format(time.RFC3339))
}

// BoundTo checks that the session may be used against node and returns the
// node's base URL. It performs no I/O.
func (s *Session) BoundTo(node *types.NodeConfig) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: no session", ErrSessionMismatch)
	}
	if node == nil || node.Name != s.nodeName {
		target := "<nil>"
		if node != nil {
			target = node.Name
		}
		return "", fmt.Errorf("%w: issued for %s, used for %s", ErrSessionMismatch, s.nodeName, target)
	}
	baseURL, err := node.BaseURL()
	if err != nil {
		return "", err
	}
	if baseURL != s.baseURL {
		return "", fmt.Errorf("%w: node %s host changed", ErrSessionMismatch, node.Name)
	}
	return baseURL, nil
}

// RemoteResource is one entry of a cluster resource listing.
// Numeric fields are pointers because the API omits them for stopped guests.
type RemoteResource struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Node    string   `json:"node"`
	VMID    int      `json:"vmid"`
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	CPU     *float64 `json:"cpu,omitempty"`
	Mem     *int64   `json:"mem,omitempty"`
	MaxMem  *int64   `json:"maxmem,omitempty"`
	Disk    *int64   `json:"disk,omitempty"`
	MaxDisk *int64   `json:"maxdisk,omitempty"`
	Uptime  *int64   `json:"uptime,omitempty"`
}
