package model

import "time"

// ResourceSample is one process's raw counters at one instant.
type ResourceSample struct {
	Identity       ProcessIdentity `json:"identity"`
	Name           string          `json:"name"`
	Cmdline        string          `json:"cmdline,omitempty"`
	User           string          `json:"user,omitempty"`
	At             time.Time       `json:"at"`
	CPUTicks       uint64          `json:"cpu_ticks"`
	RSSBytes       uint64          `json:"rss_bytes"`
	DiskReadBytes  uint64          `json:"disk_read_bytes"`
	DiskWriteBytes uint64          `json:"disk_write_bytes"`
	NetRxBytes     uint64          `json:"net_rx_bytes"`
	NetTxBytes     uint64          `json:"net_tx_bytes"`
}

// SystemSample holds machine-wide raw counters at one instant.
type SystemSample struct {
	At              time.Time `json:"at"`
	Valid           bool      `json:"valid"`
	NumCPU          int       `json:"num_cpu"`
	CPUBusySeconds  float64   `json:"cpu_busy_seconds"`
	CPUTotalSeconds float64   `json:"cpu_total_seconds"`
	MemTotalBytes   uint64    `json:"mem_total_bytes"`
	MemUsedBytes    uint64    `json:"mem_used_bytes"`
	SwapTotalBytes  uint64    `json:"swap_total_bytes"`
	SwapUsedBytes   uint64    `json:"swap_used_bytes"`
	DiskReadBytes   uint64    `json:"disk_read_bytes"`
	DiskWriteBytes  uint64    `json:"disk_write_bytes"`
	NetRxBytes      uint64    `json:"net_rx_bytes"`
	NetTxBytes      uint64    `json:"net_tx_bytes"`
	Load1           float64   `json:"load1"`
	Load5           float64   `json:"load5"`
	Load15          float64   `json:"load15"`
	UptimeSeconds   uint64    `json:"uptime_seconds"`
}
