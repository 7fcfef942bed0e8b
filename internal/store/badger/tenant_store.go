package badger

import (
	"context"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.db.Store().Get(userID, &u); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, store.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// MembershipsForUser returns every customer a user belongs to, with their
// scoped role.
func (s *Store) MembershipsForUser(ctx context.Context, userID string) ([]models.Membership, error) {
	var rows []models.Membership
	if err := s.db.Store().Find(&rows, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return nil, err
	}
	return rows, nil
}

// IPRangesForLookup returns every IP range, for the tenant resolver's CIDR
// containment scan.
func (s *Store) IPRangesForLookup(ctx context.Context) ([]models.IPRange, error) {
	var rows []models.IPRange
	if err := s.db.Store().Find(&rows, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, err
	}
	return rows, nil
}
