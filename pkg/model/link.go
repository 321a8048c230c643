package model

import "time"

// ConnectionState describes the link to the paired peer.
type ConnectionState string

const (
	// Disconnected means the peer has never been discovered this run.
	Disconnected ConnectionState = "DISCONNECTED"
	// Paired means the peer is known and trusted but no live channel is
	// open. A Connected link that fails demotes here, not to
	// Disconnected.
	Paired ConnectionState = "PAIRED"
	// Connected means a live channel exists and exchanges are possible.
	Connected ConnectionState = "CONNECTED"
)

// LinkStatus is the snapshot published by the connectivity manager.
// LastError carries the most recent exchange failure; callers read it
// rather than catching errors across the manager boundary.
type LinkStatus struct {
	State        ConnectionState `json:"state"`
	LastSyncTime time.Time       `json:"last_sync_time"`
	LastError    error           `json:"-"`
}
