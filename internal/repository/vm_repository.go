package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/virtshift/virtshift-api/internal/models"
)

type VMRepository interface {
	// ReplaceSnapshot swaps the stored inventory for a source host. The
	// delete commits before the inserts start, so a failed insert leaves an
	// empty snapshot for the host rather than a mix of old and new rows.
	ReplaceSnapshot(ctx context.Context, tenantID, sourceHostID string, vms []models.DiscoveredVM) ([]models.DiscoveredVM, error)
	ListBySourceHost(ctx context.Context, tenantID, sourceHostID string) ([]models.DiscoveredVM, error)
	GetByName(ctx context.Context, tenantID, sourceHostID, name string) (models.DiscoveredVM, error)
}

type vmRepository struct {
	db *sql.DB
}

func NewVMRepository(db *sql.DB) VMRepository {
	return &vmRepository{db: db}
}

const vmColumns = `id, tenant_id, source_host_id, name, power_state, guest_os, cpu_cores, memory_mb,
	disk_count, total_disk_gb, disks, network_adapters, raw_metadata, discovered_at`

func (r *vmRepository) ReplaceSnapshot(ctx context.Context, tenantID, sourceHostID string, vms []models.DiscoveredVM) ([]models.DiscoveredVM, error) {
	deleteQuery := `DELETE FROM panel.discovered_vms WHERE tenant_id = $1 AND source_host_id = $2`
	if _, err := r.db.ExecContext(ctx, deleteQuery, tenantID, sourceHostID); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO panel.discovered_vms
			(id, tenant_id, source_host_id, name, power_state, guest_os, cpu_cores, memory_mb,
			 disk_count, total_disk_gb, disks, network_adapters, raw_metadata, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		RETURNING discovered_at
	`
	inserted := make([]models.DiscoveredVM, 0, len(vms))
	for _, vm := range vms {
		vm.ID = uuid.NewString()
		vm.TenantID = tenantID
		vm.SourceHostID = sourceHostID

		disks, err := json.Marshal(vm.Disks)
		if err != nil {
			return nil, err
		}
		adapters, err := json.Marshal(vm.NetworkAdapters)
		if err != nil {
			return nil, err
		}
		raw := vm.RawMetadata
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}

		err = tx.QueryRowContext(ctx, insertQuery,
			vm.ID, vm.TenantID, vm.SourceHostID, vm.Name, vm.PowerState, vm.GuestOS,
			vm.CPUCores, vm.MemoryMB, vm.DiskCount, vm.TotalDiskGB,
			disks, adapters, []byte(raw),
		).Scan(&vm.DiscoveredAt)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, vm)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *vmRepository) ListBySourceHost(ctx context.Context, tenantID, sourceHostID string) ([]models.DiscoveredVM, error) {
	query := `
		SELECT ` + vmColumns + `
		FROM panel.discovered_vms
		WHERE tenant_id = $1 AND source_host_id = $2
		ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceHostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vms []models.DiscoveredVM
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}
	return vms, rows.Err()
}

func (r *vmRepository) GetByName(ctx context.Context, tenantID, sourceHostID, name string) (models.DiscoveredVM, error) {
	query := `
		SELECT ` + vmColumns + `
		FROM panel.discovered_vms
		WHERE tenant_id = $1 AND source_host_id = $2 AND name = $3
	`
	vm, err := scanVM(r.db.QueryRowContext(ctx, query, tenantID, sourceHostID, name))
	if err == sql.ErrNoRows {
		return vm, ErrNotFound
	}
	return vm, err
}

func scanVM(row interface{ Scan(...interface{}) error }) (models.DiscoveredVM, error) {
	var (
		vm       models.DiscoveredVM
		disks    []byte
		adapters []byte
		raw      []byte
	)
	err := row.Scan(
		&vm.ID,
		&vm.TenantID,
		&vm.SourceHostID,
		&vm.Name,
		&vm.PowerState,
		&vm.GuestOS,
		&vm.CPUCores,
		&vm.MemoryMB,
		&vm.DiskCount,
		&vm.TotalDiskGB,
		&disks,
		&adapters,
		&raw,
		&vm.DiscoveredAt,
	)
	if err != nil {
		return vm, err
	}
	if err := json.Unmarshal(disks, &vm.Disks); err != nil {
		return vm, err
	}
	if err := json.Unmarshal(adapters, &vm.NetworkAdapters); err != nil {
		return vm, err
	}
	vm.RawMetadata = json.RawMessage(raw)
	return vm, nil
}
