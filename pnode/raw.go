package pnode

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Number decodes any JSON scalar leniently: numbers and numeric strings parse,
// everything else (null, bools, garbage) becomes 0.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*n = 0
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

// RawPod is a pod as it appears in the get-pods-with-stats result.
type RawPod struct {
	Pubkey              string `json:"pubkey"`
	Version             string `json:"version"`
	Uptime              Number `json:"uptime"`
	LastSeenTimestamp   Number `json:"last_seen_timestamp"`
	RPCPort             Number `json:"rpc_port"`
	Address             string `json:"address"`
	IsPublic            bool   `json:"is_public"`
	StorageCommitted    Number `json:"storage_committed"`
	StorageUsed         Number `json:"storage_used"`
	StorageUsagePercent Number `json:"storage_usage_percent"`
}

// FromRaw coerces a raw pod into a NodeRecord. It returns false when the pod has no pubkey.
func FromRaw(raw RawPod, now time.Time) (NodeRecord, bool) {
	pubkey := strings.TrimSpace(raw.Pubkey)
	if pubkey == "" {
		return NodeRecord{}, false
	}
	version := raw.Version
	if version == "" {
		version = "unknown"
	}
	ip := raw.Address
	if i := strings.Index(ip, ":"); i >= 0 {
		ip = ip[:i]
	}

	lastSeenSec := nonNegative(float64(raw.LastSeenTimestamp))
	lastSeenMs := now.UnixMilli()
	status := StatusOffline
	if lastSeenSec > 0 {
		lastSeenMs = int64(lastSeenSec * 1000)
		status = DeriveStatus(lastSeenMs, now)
	}

	id := pubkey
	if len(id) > 8 {
		id = id[:8]
	}

	return NodeRecord{
		ID:                  "pnode-" + id,
		Pubkey:              pubkey,
		Version:             version,
		Status:              status,
		UptimeSeconds:       nonNegative(float64(raw.Uptime)),
		LastSeenMs:          lastSeenMs,
		RPCPort:             int(nonNegative(float64(raw.RPCPort))),
		IPAddress:           ip,
		IsPublic:            raw.IsPublic,
		StorageCommitted:    nonNegative(float64(raw.StorageCommitted)),
		StorageUsed:         nonNegative(float64(raw.StorageUsed)),
		StorageUsagePercent: math.Min(100, nonNegative(float64(raw.StorageUsagePercent))),
	}, true
}

// FromRawList coerces a pod list, dropping pods without a pubkey.
func FromRawList(raws []RawPod, now time.Time) []NodeRecord {
	out := make([]NodeRecord, 0, len(raws))
	for _, r := range raws {
		if n, ok := FromRaw(r, now); ok {
			out = append(out, n)
		}
	}
	return out
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
