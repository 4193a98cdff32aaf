package model

import "time"

// Lifecycle is the registry-visible state of a process.
type Lifecycle string

const (
	Active Lifecycle = "active"
	Gone   Lifecycle = "gone"
)

// ProcessView is the registry entry for one identity. Entries are replaced
// wholesale on every tick, never edited in place.
type ProcessView struct {
	Identity     ProcessIdentity `json:"identity"`
	Name         string          `json:"name"`
	Cmdline      string          `json:"cmdline,omitempty"`
	User         string          `json:"user,omitempty"`
	State        Lifecycle       `json:"state"`
	CPUPercent   float64         `json:"cpu_percent"`
	RSSBytes     uint64          `json:"rss_bytes"`
	DiskReadBps  float64         `json:"disk_read_bps"`
	DiskWriteBps float64         `json:"disk_write_bps"`
	NetRxBps     float64         `json:"net_rx_bps"`
	NetTxBps     float64         `json:"net_tx_bps"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`
	MissingTicks int             `json:"missing_ticks,omitempty"`
	GoneAt       time.Time       `json:"gone_at,omitzero"`
}

// SystemView carries machine-wide rates derived from two SystemSamples.
type SystemView struct {
	At            time.Time `json:"at"`
	Valid         bool      `json:"valid"`
	NumCPU        int       `json:"num_cpu"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemTotalBytes uint64    `json:"mem_total_bytes"`
	SwapPercent   float64   `json:"swap_percent"`
	DiskReadBps   float64   `json:"disk_read_bps"`
	DiskWriteBps  float64   `json:"disk_write_bps"`
	NetRxBps      float64   `json:"net_rx_bps"`
	NetTxBps      float64   `json:"net_tx_bps"`
	Load1         float64   `json:"load1"`
	Load5         float64   `json:"load5"`
	Load15        float64   `json:"load15"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
}
