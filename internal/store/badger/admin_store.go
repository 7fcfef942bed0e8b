package badger

import "github.com/ternarybob/netctl/internal/models"

// store.Store has no provisioning methods for devices, credentials, users,
// memberships, ip ranges, or regions — those tables are seeded by
// migration/import tooling, not by job-execution code paths. The sqlite
// sibling is seeded through its raw *sql.DB (exposed via DB.Raw); badger
// has no equivalent raw handle, so this file exposes the same seeding
// surface as plain, badgerhold-backed Upsert methods outside the Store
// interface.

// UpsertDevice inserts or replaces a device row, keyed by ID.
func (s *Store) UpsertDevice(d *models.Device) error {
	return s.db.Store().Upsert(d.ID, d)
}

// UpsertCredential inserts or replaces a credential row, keyed by ID.
func (s *Store) UpsertCredential(c *models.Credential) error {
	return s.db.Store().Upsert(c.ID, c)
}

// UpsertRegion inserts or replaces a region row, keyed by ID.
func (s *Store) UpsertRegion(r *models.Region) error {
	return s.db.Store().Upsert(r.ID, r)
}

// UpsertUser inserts or replaces a user row, keyed by ID.
func (s *Store) UpsertUser(u *models.User) error {
	return s.db.Store().Upsert(u.ID, u)
}

// UpsertMembership inserts or replaces a membership row, keyed by the
// (user, customer) pair since Membership carries no ID field of its own.
func (s *Store) UpsertMembership(m models.Membership) error {
	return s.db.Store().Upsert(m.UserID+"|"+m.CustomerID, &m)
}

// UpsertIPRange inserts or replaces an IP range row, keyed by ID.
func (s *Store) UpsertIPRange(r models.IPRange) error {
	return s.db.Store().Upsert(r.ID, &r)
}
