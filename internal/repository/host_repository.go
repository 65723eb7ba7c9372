package repository

import (
	"context"
	"database/sql"

	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/utils"
)

type HostRepository interface {
	Create(ctx context.Context, host models.HypervisorHost) (models.HypervisorHost, error)
	Get(ctx context.Context, tenantID, hostID string) (models.HypervisorHost, error)
	List(ctx context.Context, tenantID string) ([]models.HypervisorHost, error)
	Delete(ctx context.Context, tenantID, hostID string) error
	// GetWithCredential returns the host with its password decrypted. Only
	// pipeline code building a hypervisor client should call this.
	GetWithCredential(ctx context.Context, tenantID, hostID string) (models.HypervisorHost, error)
	// UpdateCredential re-encrypts and stores a rotated password.
	UpdateCredential(ctx context.Context, tenantID, hostID, password string) error
}

type hostRepository struct {
	db *sql.DB
}

func NewHostRepository(db *sql.DB) HostRepository {
	return &hostRepository{db: db}
}

const hostColumns = `id, tenant_id, name, kind, endpoint, username, insecure_skip_verify, created_at, updated_at`

func scanHost(row interface{ Scan(...interface{}) error }) (models.HypervisorHost, error) {
	var host models.HypervisorHost
	err := row.Scan(
		&host.ID,
		&host.TenantID,
		&host.Name,
		&host.Kind,
		&host.Endpoint,
		&host.Username,
		&host.InsecureSkipVerify,
		&host.CreatedAt,
		&host.UpdatedAt,
	)
	return host, err
}

func (r *hostRepository) Create(ctx context.Context, host models.HypervisorHost) (models.HypervisorHost, error) {
	sealed, err := utils.EncryptSecret(host.Password)
	if err != nil {
		return host, err
	}
	query := `
		INSERT INTO panel.hypervisor_hosts (tenant_id, name, kind, endpoint, username, password_enc, insecure_skip_verify)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		host.TenantID, host.Name, host.Kind, host.Endpoint, host.Username, sealed, host.InsecureSkipVerify,
	).Scan(&host.ID, &host.CreatedAt, &host.UpdatedAt)
	host.Password = ""
	return host, err
}

func (r *hostRepository) Get(ctx context.Context, tenantID, hostID string) (models.HypervisorHost, error) {
	query := `SELECT ` + hostColumns + ` FROM panel.hypervisor_hosts WHERE id = $1 AND tenant_id = $2`
	host, err := scanHost(r.db.QueryRowContext(ctx, query, hostID, tenantID))
	if err == sql.ErrNoRows {
		return host, ErrNotFound
	}
	return host, err
}

func (r *hostRepository) List(ctx context.Context, tenantID string) ([]models.HypervisorHost, error) {
	query := `SELECT ` + hostColumns + ` FROM panel.hypervisor_hosts WHERE tenant_id = $1 ORDER BY name ASC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []models.HypervisorHost
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}

func (r *hostRepository) Delete(ctx context.Context, tenantID, hostID string) error {
	query := `DELETE FROM panel.hypervisor_hosts WHERE id = $1 AND tenant_id = $2`
	res, err := r.db.ExecContext(ctx, query, hostID, tenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *hostRepository) GetWithCredential(ctx context.Context, tenantID, hostID string) (models.HypervisorHost, error) {
	query := `
		SELECT id, tenant_id, name, kind, endpoint, username, password_enc, insecure_skip_verify, created_at, updated_at
		FROM panel.hypervisor_hosts
		WHERE id = $1 AND tenant_id = $2
	`
	var (
		host   models.HypervisorHost
		sealed []byte
	)
	err := r.db.QueryRowContext(ctx, query, hostID, tenantID).Scan(
		&host.ID,
		&host.TenantID,
		&host.Name,
		&host.Kind,
		&host.Endpoint,
		&host.Username,
		&sealed,
		&host.InsecureSkipVerify,
		&host.CreatedAt,
		&host.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return host, ErrNotFound
	}
	if err != nil {
		return host, err
	}
	password, err := utils.DecryptSecret(sealed)
	if err != nil {
		return host, err
	}
	host.Password = password
	return host, nil
}

func (r *hostRepository) UpdateCredential(ctx context.Context, tenantID, hostID, password string) error {
	sealed, err := utils.EncryptSecret(password)
	if err != nil {
		return err
	}
	query := `
		UPDATE panel.hypervisor_hosts
		SET password_enc = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, hostID, tenantID, sealed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
