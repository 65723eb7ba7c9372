package models

import "time"

type HostKind string

const (
	HostKindESXi HostKind = "esxi" // migration source
	HostKindPVE  HostKind = "pve"  // migration target cluster
)

// HypervisorHost is a registered source or target control plane. The
// credential is encrypted at rest; Password is only populated on the way in.
type HypervisorHost struct {
	ID                 string    `json:"id" db:"id"`
	TenantID           string    `json:"tenant_id" db:"tenant_id"`
	Name               string    `json:"name" db:"name"`
	Kind               HostKind  `json:"kind" db:"kind"`
	Endpoint           string    `json:"endpoint" db:"endpoint"`
	Username           string    `json:"username" db:"username"`
	Password           string    `json:"password,omitempty" db:"-"`
	InsecureSkipVerify bool      `json:"insecure_skip_verify" db:"insecure_skip_verify"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
