// Package pnode defines the pNode record shared by the scoring, collection and API
// layers, along with the coercion applied to raw pRPC payloads at the boundary.
package pnode

import "time"

type Status string

const (
	StatusActive  Status = "active"
	StatusSyncing Status = "syncing"
	StatusOffline Status = "offline"
)

// Gossip freshness thresholds used to derive Status.
const (
	ActiveWithin  = 60 * time.Second
	SyncingWithin = 300 * time.Second
)

// MinPubkeyLen is the shortest pubkey accepted by lookups.
const MinPubkeyLen = 32

// NodeRecord is one pod as reported by the gossip network.
type NodeRecord struct {
	ID                  string  `json:"id"`
	Pubkey              string  `json:"pubkey"`
	Version             string  `json:"version"`
	Status              Status  `json:"status"`
	UptimeSeconds       float64 `json:"uptime"`
	LastSeenMs          int64   `json:"lastSeen"`
	RPCPort             int     `json:"rpcPort"`
	IPAddress           string  `json:"ipAddress"`
	IsPublic            bool    `json:"isPublic"`
	StorageCommitted    float64 `json:"storageCommitted"`
	StorageUsed         float64 `json:"storageUsed"`
	StorageUsagePercent float64 `json:"storageUsagePercent"`

	// Private is set by detail lookups when the node does not expose its RPC port.
	Private bool   `json:"private,omitempty"`
	Details *Stats `json:"details,omitempty"`
}

// Stats is the subset of a public node's get-stats result the service reads.
type Stats struct {
	CPUPercent *float64 `json:"cpu_percent,omitempty"`
	RAMTotal   *float64 `json:"ram_total,omitempty"`
	RAMUsed    *float64 `json:"ram_used,omitempty"`
	Uptime     *float64 `json:"uptime,omitempty"`
	FileSize   *float64 `json:"file_size,omitempty"`
}

// RAMPercent returns used/total*100, or false when either side is missing or total is 0.
func (s *Stats) RAMPercent() (float64, bool) {
	if s == nil || s.RAMTotal == nil || s.RAMUsed == nil || *s.RAMTotal <= 0 {
		return 0, false
	}
	return *s.RAMUsed / *s.RAMTotal * 100, true
}

// DeriveStatus maps a last-seen timestamp to a gossip status. A zero timestamp is offline.
func DeriveStatus(lastSeenMs int64, now time.Time) Status {
	if lastSeenMs <= 0 {
		return StatusOffline
	}
	age := now.Sub(time.UnixMilli(lastSeenMs))
	switch {
	case age < ActiveWithin:
		return StatusActive
	case age < SyncingWithin:
		return StatusSyncing
	default:
		return StatusOffline
	}
}

// CreditEntry is one pod's credit balance from the credit source.
type CreditEntry struct {
	PodID   string  `json:"pod_id"`
	Credits float64 `json:"credits"`
}
