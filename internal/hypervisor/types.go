// Package hypervisor holds the thin clients for the source (ESXi-style) and
// target (Proxmox-style) control planes. Both are consumed through interfaces;
// pipeline and discovery code never depends on the concrete clients.
package hypervisor

import "encoding/json"

// SourceVM is one entry of the source host's bulk inventory. Raw retains the
// full wire object for audit, beyond the fields modeled here.
type SourceVM struct {
	Name       string   `json:"name"`
	PowerState string   `json:"power_state"`
	GuestOS    string   `json:"guest_os"`
	Hardware   Hardware `json:"hardware"`

	Raw json.RawMessage `json:"-"`
}

type Hardware struct {
	CPUCores int      `json:"cpu_cores"`
	MemoryMB int      `json:"memory_mb"`
	Devices  []Device `json:"devices"`
}

// Device is one hardware descriptor entry. The type tag distinguishes virtual
// disks and NICs from the controllers and peripherals we ignore.
type Device struct {
	Type       string `json:"type"` // virtual_disk, virtual_nic, ...
	Label      string `json:"label"`
	CapacityKB int64  `json:"capacity_kb,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	DiskType   string `json:"disk_type,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
	Network    string `json:"network,omitempty"`
}

const (
	DeviceTypeDisk = "virtual_disk"
	DeviceTypeNIC  = "virtual_nic"
)

// GuestNIC is guest-tooling-reported network state, keyed by MAC.
type GuestNIC struct {
	MACAddress  string   `json:"mac_address"`
	IPAddresses []string `json:"ip_addresses"`
}

// CreateVMRequest creates a virtual machine on the target cluster. Disks and
// Nets are raw device strings in the target's own config syntax, so the same
// call serves both locally-uploaded volumes and import-from references.
type CreateVMRequest struct {
	Node     string
	VMID     int
	Name     string
	Cores    int
	MemoryMB int
	Disks    []string // scsi0..scsiN values
	Nets     []string // net0..netN values
}

// StorageRequest registers a storage endpoint on the target cluster. For the
// native fast path this is a transient endpoint of the source's type pointing
// back at the source host.
type StorageRequest struct {
	ID       string
	Type     string // e.g. "esxi"
	Server   string
	Username string
	Password string
	SkipCert bool
}

// VolumeInfo is one import-eligible volume listed from a storage endpoint.
type VolumeInfo struct {
	VolID  string `json:"volid"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// ImportMetadata is the target's parse of a remote volume: enough guest intent
// (CPU, memory, disks, NICs) to issue a create call without downloading disks.
type ImportMetadata struct {
	Name     string       `json:"name"`
	Cores    int          `json:"cores"`
	MemoryMB int          `json:"memory_mb"`
	Disks    []ImportDisk `json:"disks"`
	Nets     []ImportNIC  `json:"nets"`
}

type ImportDisk struct {
	Key    string  `json:"key"` // e.g. scsi0
	VolID  string  `json:"volid"`
	SizeGB float64 `json:"size_gb"`
}

type ImportNIC struct {
	Key        string `json:"key"` // e.g. net0
	Model      string `json:"model"`
	MACAddress string `json:"mac_address"`
}
