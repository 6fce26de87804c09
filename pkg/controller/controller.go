// Package controller issues single state transitions (start, stop, shutdown,
// reboot) against remote VMs and containers.
//
// Every command authenticates afresh and returns the task id the node assigned
// to it. Completion of the task is not awaited.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/hangar/pkg/controlplane"
	"github.com/cuemby/hangar/pkg/events"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/rs/zerolog"
)

// NodeStore looks up node configuration
type NodeStore interface {
	GetNode(name string) (*types.NodeConfig, error)
}

// TaskHandle identifies the asynchronous task started on the node
type TaskHandle struct {
	UPID     string             `json:"upid"`
	Node     string             `json:"node"`
	VMID     int                `json:"vmid"`
	Type     types.ResourceType `json:"type"`
	Action   types.Action       `json:"action"`
	IssuedAt time.Time          `json:"issued_at"`
}

// Controller sends control commands through a control plane
type Controller struct {
	nodes  NodeStore
	plane  controlplane.ControlPlane
	events events.Publisher
	logger zerolog.Logger
}

// New creates a controller
func New(nodes NodeStore, plane controlplane.ControlPlane, publisher events.Publisher) *Controller {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Controller{
		nodes:  nodes,
		plane:  plane,
		events: publisher,
		logger: log.WithComponent("controller"),
	}
}

// Control performs action on the resource vmid of node.
// Arguments are validated before anything touches the network.
func (c *Controller) Control(ctx context.Context, nodeName string, vmid int, rtype types.ResourceType, action types.Action) (*TaskHandle, error) {
	if !action.Valid() {
		return nil, faults.InvalidArgument("action", "unknown action %q (want start, stop, shutdown or reboot)", action)
	}
	if rtype.PathSegment() == "" {
		return nil, faults.InvalidArgument("type", "unknown resource type %q (want vm or container)", rtype)
	}
	if vmid <= 0 {
		return nil, faults.InvalidArgument("vmid", "vmid must be positive, got %d", vmid)
	}

	logger := log.WithResource(c.logger, nodeName, vmid)

	upid, err := c.control(ctx, nodeName, vmid, rtype, action)
	if err != nil {
		metrics.ControlActionsTotal.WithLabelValues(string(action), "failure").Inc()
		logger.Warn().Err(err).
			Str("action", string(action)).
			Msg("Control action failed")
		return nil, err
	}
	metrics.ControlActionsTotal.WithLabelValues(string(action), "success").Inc()

	handle := &TaskHandle{
		UPID:     upid,
		Node:     nodeName,
		VMID:     vmid,
		Type:     rtype,
		Action:   action,
		IssuedAt: time.Now(),
	}

	logger.Info().
		Str("action", string(action)).
		Str("upid", upid).
		Msg("Control action issued")

	c.events.Publish(&events.Event{
		Type:    events.EventResourceAction,
		Message: fmt.Sprintf("%s %s %d on %s", action, rtype, vmid, nodeName),
		Metadata: map[string]string{
			"node":   nodeName,
			"vmid":   strconv.Itoa(vmid),
			"type":   string(rtype),
			"action": string(action),
			"upid":   upid,
		},
	})

	return handle, nil
}

func (c *Controller) control(ctx context.Context, nodeName string, vmid int, rtype types.ResourceType, action types.Action) (string, error) {
	node, err := c.nodes.GetNode(nodeName)
	if err != nil {
		return "", err
	}

	session, err := c.plane.Authenticate(ctx, node)
	if err != nil {
		return "", err
	}

	return c.plane.PerformAction(ctx, node, session, vmid, rtype, action)
}
