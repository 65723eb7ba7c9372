package hypervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/virtshift/virtshift-api/internal/models"
)

// TargetClient is the control plane of a target hypervisor cluster.
type TargetClient interface {
	Login(ctx context.Context) error
	// NextID is the cluster's suggested next free VMID. The suggestion is
	// only a starting point; allocation still probes for collisions.
	NextID(ctx context.Context) (int, error)
	// ListVMIDs enumerates VMIDs known to the cluster resource registry.
	ListVMIDs(ctx context.Context) (map[int]bool, error)
	CreateVM(ctx context.Context, req CreateVMRequest) error
	StartVM(ctx context.Context, node string, vmid int) error
	// UploadVolume pushes a local image file into a node's storage.
	UploadVolume(ctx context.Context, node, storage, localPath string) error

	// Native fast path: transient storage endpoints backed by the source.
	SupportsImport(ctx context.Context, node, sourceType string) (bool, error)
	CreateStorage(ctx context.Context, req StorageRequest) error
	DeleteStorage(ctx context.Context, storageID string) error
	ListStorageContent(ctx context.Context, node, storageID string) ([]VolumeInfo, error)
	ImportMetadata(ctx context.Context, node, volID string) (ImportMetadata, error)

	ChangePassword(ctx context.Context, newPassword string) error
}

type TargetFactory func(host models.HypervisorHost) TargetClient

type pveClient struct {
	http     *resty.Client
	username string
	password string
}

// NewPVEClient talks to a Proxmox-style cluster API.
func NewPVEClient(host models.HypervisorHost) TargetClient {
	client := resty.New().
		SetBaseURL(host.Endpoint + "/api2/json").
		SetTimeout(10 * time.Minute).
		SetHeader("Accept", "application/json")
	if host.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &pveClient{http: client, username: host.Username, password: host.Password}
}

// envelope is the cluster API's standard {"data": ...} wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *pveClient) call(ctx context.Context, out interface{}, method, path string, body map[string]string) error {
	req := c.http.R().SetContext(ctx)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetFormData(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status(), resp.String())
	}
	return nil
}

func (c *pveClient) Login(ctx context.Context) error {
	var ticket envelope[struct {
		Ticket    string `json:"ticket"`
		CSRFToken string `json:"CSRFPreventionToken"`
	}]
	err := c.call(ctx, &ticket, resty.MethodPost, "/access/ticket", map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}
	c.http.SetCookie(&http.Cookie{Name: "PVEAuthCookie", Value: ticket.Data.Ticket})
	c.http.SetHeader("CSRFPreventionToken", ticket.Data.CSRFToken)
	return nil
}

func (c *pveClient) NextID(ctx context.Context) (int, error) {
	var next envelope[string]
	if err := c.call(ctx, &next, resty.MethodGet, "/cluster/nextid", nil); err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(next.Data)
	if err != nil {
		return 0, fmt.Errorf("parse suggested vmid %q: %w", next.Data, err)
	}
	return id, nil
}

func (c *pveClient) ListVMIDs(ctx context.Context) (map[int]bool, error) {
	var resources envelope[[]struct {
		VMID int `json:"vmid"`
	}]
	err := c.call(ctx, &resources, resty.MethodGet, "/cluster/resources?type=vm", nil)
	if err != nil {
		return nil, err
	}
	ids := make(map[int]bool, len(resources.Data))
	for _, r := range resources.Data {
		ids[r.VMID] = true
	}
	return ids, nil
}

func (c *pveClient) CreateVM(ctx context.Context, req CreateVMRequest) error {
	form := map[string]string{
		"vmid":   strconv.Itoa(req.VMID),
		"name":   req.Name,
		"cores":  strconv.Itoa(req.Cores),
		"memory": strconv.Itoa(req.MemoryMB),
	}
	for i, disk := range req.Disks {
		form[fmt.Sprintf("scsi%d", i)] = disk
	}
	for i, net := range req.Nets {
		form[fmt.Sprintf("net%d", i)] = net
	}
	return c.call(ctx, nil, resty.MethodPost, "/nodes/"+req.Node+"/qemu", form)
}

func (c *pveClient) StartVM(ctx context.Context, node string, vmid int) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/start", node, vmid)
	return c.call(ctx, nil, resty.MethodPost, path, map[string]string{})
}

func (c *pveClient) UploadVolume(ctx context.Context, node, storage, localPath string) error {
	path := fmt.Sprintf("/nodes/%s/storage/%s/upload", node, storage)
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("filename", localPath).
		SetFormData(map[string]string{"content": "images"}).
		Post(path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload %s: %s: %s", localPath, resp.Status(), resp.String())
	}
	return nil
}

func (c *pveClient) SupportsImport(ctx context.Context, node, sourceType string) (bool, error) {
	var caps envelope[struct {
		ImportSources []string `json:"import_sources"`
	}]
	err := c.call(ctx, &caps, resty.MethodGet, "/nodes/"+node+"/capabilities/storage", nil)
	if err != nil {
		return false, err
	}
	for _, st := range caps.Data.ImportSources {
		if st == sourceType {
			return true, nil
		}
	}
	return false, nil
}

func (c *pveClient) CreateStorage(ctx context.Context, req StorageRequest) error {
	form := map[string]string{
		"storage":  req.ID,
		"type":     req.Type,
		"server":   req.Server,
		"username": req.Username,
		"password": req.Password,
	}
	if req.SkipCert {
		form["skip-cert-verification"] = "1"
	}
	return c.call(ctx, nil, resty.MethodPost, "/storage", form)
}

func (c *pveClient) DeleteStorage(ctx context.Context, storageID string) error {
	return c.call(ctx, nil, resty.MethodDelete, "/storage/"+storageID, nil)
}

func (c *pveClient) ListStorageContent(ctx context.Context, node, storageID string) ([]VolumeInfo, error) {
	var content envelope[[]VolumeInfo]
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", node, storageID)
	if err := c.call(ctx, &content, resty.MethodGet, path, nil); err != nil {
		return nil, err
	}
	return content.Data, nil
}

func (c *pveClient) ImportMetadata(ctx context.Context, node, volID string) (ImportMetadata, error) {
	var meta envelope[ImportMetadata]
	path := fmt.Sprintf("/nodes/%s/import-metadata?volume=%s", node, volID)
	if err := c.call(ctx, &meta, resty.MethodGet, path, nil); err != nil {
		return ImportMetadata{}, err
	}
	return meta.Data, nil
}

func (c *pveClient) ChangePassword(ctx context.Context, newPassword string) error {
	err := c.call(ctx, nil, resty.MethodPut, "/access/password", map[string]string{
		"userid":   c.username,
		"password": newPassword,
	})
	if err != nil {
		return err
	}
	c.password = newPassword
	return nil
}
