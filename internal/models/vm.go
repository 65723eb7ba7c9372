package models

import (
	"encoding/json"
	"time"
)

// DiscoveredVM is the normalized snapshot of one virtual machine on a source
// host. A discovery run replaces the full snapshot for its host, so records
// for VMs that disappeared from the source are dropped with it.
type DiscoveredVM struct {
	ID              string           `json:"id" db:"id"`
	TenantID        string           `json:"tenant_id" db:"tenant_id"`
	SourceHostID    string           `json:"source_host_id" db:"source_host_id"`
	Name            string           `json:"name" db:"name"`
	PowerState      string           `json:"power_state" db:"power_state"`
	GuestOS         string           `json:"guest_os" db:"guest_os"`
	CPUCores        int              `json:"cpu_cores" db:"cpu_cores"`
	MemoryMB        int              `json:"memory_mb" db:"memory_mb"`
	DiskCount       int              `json:"disk_count" db:"disk_count"`
	TotalDiskGB     float64          `json:"total_disk_gb" db:"total_disk_gb"`
	Disks           []DiskInfo       `json:"disks"`
	NetworkAdapters []NetworkAdapter `json:"network_adapters"`
	RawMetadata     json.RawMessage  `json:"raw_metadata,omitempty" db:"raw_metadata"`
	DiscoveredAt    time.Time        `json:"discovered_at" db:"discovered_at"`
}

type DiskInfo struct {
	Name       string  `json:"name"`
	SizeGB     float64 `json:"size_gb"`
	SourcePath string  `json:"source_path"`
	Type       string  `json:"type"`
}

type NetworkAdapter struct {
	Name       string `json:"name"`
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address,omitempty"`
	Network    string `json:"network"`
}
