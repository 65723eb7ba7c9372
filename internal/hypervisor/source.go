package hypervisor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/virtshift/virtshift-api/internal/models"
)

// SourceClient is the control plane of a migration source host. Every method
// is a blocking remote call; none are retried here.
type SourceClient interface {
	Login(ctx context.Context) error
	ListVMs(ctx context.Context) ([]SourceVM, error)
	// GuestNetworks returns guest-tooling-reported NICs for IP enrichment.
	// Hosts without guest tooling return an empty list, not an error.
	GuestNetworks(ctx context.Context, vmName string) ([]GuestNIC, error)
	// DownloadDisk streams a datastore file to a local path.
	DownloadDisk(ctx context.Context, datastorePath, localPath string) error
	ChangePassword(ctx context.Context, newPassword string) error
}

// SourceFactory builds a client for a registered host; injected so tests and
// pipelines can swap in fakes.
type SourceFactory func(host models.HypervisorHost) SourceClient

type esxiClient struct {
	http     *resty.Client
	username string
	password string
}

// NewESXiClient talks to the automation gateway of an ESXi source host.
func NewESXiClient(host models.HypervisorHost) SourceClient {
	client := resty.New().
		SetBaseURL(host.Endpoint).
		SetTimeout(10 * time.Minute).
		SetHeader("Accept", "application/json")
	if host.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &esxiClient{http: client, username: host.Username, password: host.Password}
}

func (c *esxiClient) Login(ctx context.Context) error {
	var session struct {
		Token string `json:"token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": c.username, "password": c.password}).
		SetResult(&session).
		Post("/api/session")
	if err != nil {
		return fmt.Errorf("source login: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("source login: %s: %s", resp.Status(), resp.String())
	}
	c.http.SetHeader("Authorization", "Bearer "+session.Token)
	return nil
}

func (c *esxiClient) ListVMs(ctx context.Context) ([]SourceVM, error) {
	var raw []json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/api/vms")
	if err != nil {
		return nil, fmt.Errorf("list source inventory: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list source inventory: %s: %s", resp.Status(), resp.String())
	}

	vms := make([]SourceVM, 0, len(raw))
	for _, entry := range raw {
		var vm SourceVM
		if err := json.Unmarshal(entry, &vm); err != nil {
			return nil, fmt.Errorf("decode inventory entry: %w", err)
		}
		vm.Raw = entry
		vms = append(vms, vm)
	}
	return vms, nil
}

func (c *esxiClient) GuestNetworks(ctx context.Context, vmName string) ([]GuestNIC, error) {
	var nics []GuestNIC
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&nics).
		SetPathParam("vm", vmName).
		Get("/api/vms/{vm}/guest/networks")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("guest networks for %s: %s", vmName, resp.Status())
	}
	return nics, nil
}

func (c *esxiClient) DownloadDisk(ctx context.Context, datastorePath, localPath string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("path", datastorePath).
		SetOutput(localPath).
		Get("/api/datastore/download")
	if err != nil {
		return fmt.Errorf("download %s: %w", datastorePath, err)
	}
	if resp.IsError() {
		return fmt.Errorf("download %s: %s", datastorePath, resp.Status())
	}
	return nil
}

func (c *esxiClient) ChangePassword(ctx context.Context, newPassword string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": c.username, "password": newPassword}).
		Put("/api/session/password")
	if err != nil {
		return fmt.Errorf("change source password: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("change source password: %s: %s", resp.Status(), resp.String())
	}
	c.password = newPassword
	return nil
}
