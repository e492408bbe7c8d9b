package messaging

// CollectionCompleted is published after every collection run.
type CollectionCompleted struct {
	RunID          string `json:"run_id"`
	Source         string `json:"source"`
	NodesSeen      int    `json:"nodes_seen"`
	NodesProcessed int    `json:"nodes_processed"`
	NodesFailed    int    `json:"nodes_failed"`
	PodsProcessed  int    `json:"pods_processed"`
	DurationMs     int64  `json:"duration_ms"`
	TimestampMs    int64  `json:"timestamp_ms"`
	Error          string `json:"error,omitempty"`
}

// PolicyReloaded is published when the scoring policy changes at runtime.
type PolicyReloaded struct {
	LatestVersion string  `json:"latest_version"`
	Versions      int     `json:"versions"`
	UptimeCap     float64 `json:"uptime_cap"`
}
