// Package events provides an in-process broker for Hangar events such as node
// syncs, resource actions and secret changes. Publishing never blocks; slow
// subscribers miss events rather than stalling a reconciliation pass.
package events
