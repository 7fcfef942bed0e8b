package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// CredentialByID fetches the ciphertext credential row scoped to customerID.
func (s *JobStore) CredentialByID(ctx context.Context, customerID, credentialID string) (*models.Credential, error) {
	var (
		c         models.Credential
		createdAt int64
	)
	row := s.db.Raw().QueryRowContext(ctx,
		"SELECT id, customer_id, name, username, encrypted_password, encrypted_enable_password, created_at FROM credentials WHERE id = ? AND customer_id = ?",
		credentialID, customerID)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.Name, &c.Username, &c.EncryptedPassword, &c.EncryptedEnablePasswd, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrCredentialNotFound
		}
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &c, nil
}

// DeviceByHostname looks up a device by its (customer, hostname) unique
// key, used by topology discovery to decide whether a neighbor is already
// a known Device or should become a DiscoveredDevice.
func (s *JobStore) DeviceByHostname(ctx context.Context, customerID, hostname string) (*models.Device, error) {
	devices, err := s.Devices(ctx, store.DeviceFilters{
		CustomerID: customerID,
		Filters:    models.TargetFilters{Hostname: hostname},
	})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return devices[0], nil
}

// SaveConfigSnapshot inserts a ConfigSnapshot row, assigning an ID if unset.
func (s *JobStore) SaveConfigSnapshot(ctx context.Context, snap *models.ConfigSnapshot) (*models.ConfigSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	err := retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx,
			"INSERT INTO config_snapshots (id, job_id, device_id, customer_id, text, hash, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			snap.ID, snap.JobID, snap.DeviceID, snap.CustomerID, snap.Text, snap.Hash, snap.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save config snapshot: %w", err)
	}
	return snap, nil
}

// ConfigSnapshotsByJob returns every snapshot a config_backup job produced,
// consumed by the Event Publisher's gitexport adapter on job.success.
func (s *JobStore) ConfigSnapshotsByJob(ctx context.Context, jobID string) ([]*models.ConfigSnapshot, error) {
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT id, job_id, device_id, customer_id, text, hash, created_at FROM config_snapshots WHERE job_id = ? ORDER BY created_at ASC",
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConfigSnapshot
	for rows.Next() {
		var snap models.ConfigSnapshot
		var createdAt int64
		if err := rows.Scan(&snap.ID, &snap.JobID, &snap.DeviceID, &snap.CustomerID, &snap.Text, &snap.Hash, &createdAt); err != nil {
			return nil, err
		}
		snap.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// LatestConfigSnapshot returns the device's most recent snapshot, or nil
// when the device has never been backed up.
func (s *JobStore) LatestConfigSnapshot(ctx context.Context, customerID, deviceID string) (*models.ConfigSnapshot, error) {
	row := s.db.Raw().QueryRowContext(ctx,
		"SELECT id, job_id, device_id, customer_id, text, hash, created_at FROM config_snapshots WHERE customer_id = ? AND device_id = ? ORDER BY created_at DESC LIMIT 1",
		customerID, deviceID)
	var snap models.ConfigSnapshot
	var createdAt int64
	if err := row.Scan(&snap.ID, &snap.JobID, &snap.DeviceID, &snap.CustomerID, &snap.Text, &snap.Hash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	snap.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &snap, nil
}

// SaveComplianceResult inserts a ComplianceResult row, assigning an ID if unset.
func (s *JobStore) SaveComplianceResult(ctx context.Context, res *models.ComplianceResult) (*models.ComplianceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	violationsJSON, err := json.Marshal(res.Violations)
	if err != nil {
		return nil, fmt.Errorf("marshal violations: %w", err)
	}
	compliant := 0
	if res.Compliant {
		compliant = 1
	}
	err = retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx,
			"INSERT INTO compliance_results (id, job_id, device_id, policy_id, compliant, violations, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			res.ID, res.JobID, res.DeviceID, res.PolicyID, compliant, string(violationsJSON), res.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save compliance result: %w", err)
	}
	return res, nil
}

// UpsertTopologyLink inserts a TopologyLink, replacing any existing row for
// the same (customer, local_device, local_interface, remote_hostname,
// remote_interface) key — the unique constraint from migrations.go.
func (s *JobStore) UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	if link.ObservedAt.IsZero() {
		link.ObservedAt = time.Now().UTC()
	}
	return retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx, `
			INSERT INTO topology_links (id, job_id, customer_id, local_device_id, local_interface,
				remote_hostname, remote_interface, protocol, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(customer_id, local_device_id, local_interface, remote_hostname, remote_interface)
			DO UPDATE SET job_id = excluded.job_id, protocol = excluded.protocol, observed_at = excluded.observed_at`,
			link.ID, link.JobID, link.CustomerID, link.LocalDeviceID, link.LocalInterface,
			link.RemoteHostname, link.RemoteInterface, string(link.Protocol), link.ObservedAt.UnixMilli())
		return err
	})
}

// CreateDiscoveredDevice inserts a DiscoveredDevice in pending status.
func (s *JobStore) CreateDiscoveredDevice(ctx context.Context, dd *models.DiscoveredDevice) (*models.DiscoveredDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dd.ID == "" {
		dd.ID = uuid.New().String()
	}
	if dd.Status == "" {
		dd.Status = models.DiscoveredPending
	}
	if dd.CreatedAt.IsZero() {
		dd.CreatedAt = time.Now().UTC()
	}
	err := retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx,
			"INSERT INTO discovered_devices (id, job_id, customer_id, hostname, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			dd.ID, dd.JobID, dd.CustomerID, dd.Hostname, string(dd.Status), dd.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create discovered device: %w", err)
	}
	return dd, nil
}
