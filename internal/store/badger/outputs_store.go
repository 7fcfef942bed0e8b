package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// CredentialByID fetches the ciphertext credential row scoped to customerID.
func (s *Store) CredentialByID(ctx context.Context, customerID, credentialID string) (*models.Credential, error) {
	var c models.Credential
	if err := s.db.Store().Get(credentialID, &c); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, store.ErrCredentialNotFound
		}
		return nil, err
	}
	if c.CustomerID != customerID {
		return nil, store.ErrCredentialNotFound
	}
	return &c, nil
}

// Devices returns devices visible to filters.CustomerID matching
// filters.Filters, the inventory the Region Router and Worker fan-out
// operate over.
func (s *Store) Devices(ctx context.Context, filters store.DeviceFilters) ([]*models.Device, error) {
	query := badgerhold.Where("CustomerID").Eq(filters.CustomerID).And("Enabled").Eq(true)

	f := filters.Filters
	if f.Site != "" {
		query = query.And("Site").Eq(f.Site)
	}
	if f.Role != "" {
		query = query.And("Role").Eq(f.Role)
	}
	if f.Vendor != "" {
		query = query.And("Vendor").Eq(f.Vendor)
	}
	if f.Hostname != "" {
		query = query.And("Hostname").Eq(f.Hostname)
	}
	if len(f.DeviceIDs) > 0 {
		query = query.And("ID").In(toInterfaceSlice(f.DeviceIDs)...)
	}

	var rows []models.Device
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.Device, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// DeviceByHostname looks up a device by its (customer, hostname) unique
// key, used by topology discovery to decide whether a neighbor is already
// a known Device or should become a DiscoveredDevice.
func (s *Store) DeviceByHostname(ctx context.Context, customerID, hostname string) (*models.Device, error) {
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

// Regions returns the regions identified by ids, or every region when ids
// is empty.
func (s *Store) Regions(ctx context.Context, ids []string) ([]*models.Region, error) {
	query := badgerhold.Where("ID").Ne("")
	if len(ids) > 0 {
		query = badgerhold.Where("ID").In(toInterfaceSlice(ids)...)
	}
	var rows []models.Region
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.Region, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// SaveConfigSnapshot inserts a ConfigSnapshot row, assigning an ID if unset.
func (s *Store) SaveConfigSnapshot(ctx context.Context, snap *models.ConfigSnapshot) (*models.ConfigSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Insert(snap.ID, snap); err != nil {
		return nil, fmt.Errorf("save config snapshot: %w", err)
	}
	return snap, nil
}

// ConfigSnapshotsByJob returns every snapshot a config_backup job produced,
// consumed by the Event Publisher's gitexport adapter on job.success.
func (s *Store) ConfigSnapshotsByJob(ctx context.Context, jobID string) ([]*models.ConfigSnapshot, error) {
	var rows []models.ConfigSnapshot
	if err := s.db.Store().Find(&rows, badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")); err != nil {
		return nil, err
	}
	out := make([]*models.ConfigSnapshot, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// LatestConfigSnapshot returns the device's most recent snapshot, or nil
// when the device has never been backed up.
func (s *Store) LatestConfigSnapshot(ctx context.Context, customerID, deviceID string) (*models.ConfigSnapshot, error) {
	var rows []models.ConfigSnapshot
	query := badgerhold.Where("CustomerID").Eq(customerID).And("DeviceID").Eq(deviceID).
		SortBy("CreatedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SaveComplianceResult inserts a ComplianceResult row, assigning an ID if unset.
func (s *Store) SaveComplianceResult(ctx context.Context, res *models.ComplianceResult) (*models.ComplianceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Insert(res.ID, res); err != nil {
		return nil, fmt.Errorf("save compliance result: %w", err)
	}
	return res, nil
}

// topologyLinkKey builds the deterministic key UpsertTopologyLink upserts
// by, mirroring the sqlite sibling's
// (customer_id, local_device_id, local_interface, remote_hostname, remote_interface)
// unique constraint.
func topologyLinkKey(customerID, localDeviceID, localInterface, remoteHostname, remoteInterface string) string {
	return customerID + "|" + localDeviceID + "|" + localInterface + "|" + remoteHostname + "|" + remoteInterface
}

// UpsertTopologyLink inserts a TopologyLink, replacing any existing row for
// the same adjacency key while preserving the original row's ID, matching
// the sqlite sibling's ON CONFLICT ... DO UPDATE (which never touches id).
func (s *Store) UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	if link.ObservedAt.IsZero() {
		link.ObservedAt = time.Now().UTC()
	}

	key := topologyLinkKey(link.CustomerID, link.LocalDeviceID, link.LocalInterface, link.RemoteHostname, link.RemoteInterface)
	var existing models.TopologyLink
	if err := s.db.Store().Get(key, &existing); err == nil {
		link.ID = existing.ID
	} else if err != badgerhold.ErrNotFound {
		return err
	}
	return s.db.Store().Upsert(key, link)
}

// CreateDiscoveredDevice inserts a DiscoveredDevice in pending status.
func (s *Store) CreateDiscoveredDevice(ctx context.Context, dd *models.DiscoveredDevice) (*models.DiscoveredDevice, error) {
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
	if err := s.db.Store().Insert(dd.ID, dd); err != nil {
		return nil, fmt.Errorf("create discovered device: %w", err)
	}
	return dd, nil
}
