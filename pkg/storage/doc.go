/*
Package storage provides BoltDB-backed persistence for Hangar's local state.

BoltStore implements the Store interface on a single bbolt file,
<dataDir>/hangar.db. Every value is JSON encoded and kept in one of three
buckets:

	┌─────────────────── hangar.db ───────────────────┐
	│                                                  │
	│  secrets     key         → SecretRecord          │
	│  nodes       name        → NodeConfig            │
	│  resources   node/vmid   → ResourceRecord        │
	│                                                  │
	└──────────────────────────────────────────────────┘

# Resources

Resource rows are keyed by "<node>/<vmid>", so the rows of one node form a
contiguous key range. ListResourcesByNode and DeleteNode walk that range with
a cursor seek on "<node>/"; the trailing slash keeps pve1 from matching pve10.

UpsertResource overwrites the whole row inside one write transaction. If the
incoming LastSyncedAt is not after the stored one it is bumped by a
nanosecond, so the timestamp of a row only ever moves forward even when two
passes race or the wall clock steps back.

# Concurrency

bbolt allows one writer and many readers. All methods run in their own
transaction and are safe to call from multiple goroutines.

# Errors

Lookups of missing keys return *faults.NotFoundError. CreateNode on an
existing name returns an error wrapping errdefs.ErrAlreadyExists. Deletes of
missing keys succeed.
*/
package storage
