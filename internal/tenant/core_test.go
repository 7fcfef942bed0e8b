package tenant

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/models"
)

// fakeMembershipStore is a minimal in-memory MembershipStore double
// exercising only the methods Core calls.
type fakeMembershipStore struct {
	users       map[string]*models.User
	memberships map[string][]models.Membership
	ipRanges    []models.IPRange
}

func (f *fakeMembershipStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeMembershipStore) MembershipsForUser(ctx context.Context, userID string) ([]models.Membership, error) {
	return f.memberships[userID], nil
}

func (f *fakeMembershipStore) IPRangesForLookup(ctx context.Context) ([]models.IPRange, error) {
	return f.ipRanges, nil
}

func strPtr(s string) *string { return &s }

func newTestCore(store *fakeMembershipStore) *Core {
	return New(store, arbor.NewLogger())
}

func TestResolveContextSingleMembershipDefaults(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		users: map[string]*models.User{"user-1": {ID: "user-1", Active: true}},
		memberships: map[string][]models.Membership{
			"user-1": {{UserID: "user-1", CustomerID: "cust-a", Role: models.RoleOperator}},
		},
	})

	ctx, err := core.ResolveContext(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ctx.CustomerID != "cust-a" || ctx.Role != models.RoleOperator {
		t.Fatalf("expected sole membership to resolve, got %+v", ctx)
	}
}

func TestResolveContextAmbiguousWithoutRequestedCustomer(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		users: map[string]*models.User{"user-1": {ID: "user-1", Active: true}},
		memberships: map[string][]models.Membership{
			"user-1": {
				{UserID: "user-1", CustomerID: "cust-a", Role: models.RoleViewer},
				{UserID: "user-1", CustomerID: "cust-b", Role: models.RoleViewer},
			},
		},
	})

	if _, err := core.ResolveContext(context.Background(), "user-1", nil); !errors.Is(err, ErrAmbiguousTenant) {
		t.Fatalf("expected ErrAmbiguousTenant, got %v", err)
	}
}

func TestResolveContextForbiddenForNonMember(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		users: map[string]*models.User{"user-1": {ID: "user-1", Active: true}},
		memberships: map[string][]models.Membership{
			"user-1": {{UserID: "user-1", CustomerID: "cust-a", Role: models.RoleOperator}},
		},
	})

	if _, err := core.ResolveContext(context.Background(), "user-1", strPtr("cust-b")); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a non-member customer, got %v", err)
	}
}

func TestResolveContextInactiveUserIsUnauthenticated(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		users: map[string]*models.User{"user-1": {ID: "user-1", Active: false}},
	})

	if _, err := core.ResolveContext(context.Background(), "user-1", nil); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for an inactive user, got %v", err)
	}
}

// Admins are cross-tenant: resolving a customer the admin is not a member
// of must grant that customer in AccessibleCustomerIDs, or every
// tenant-scoped read downstream would filter the admin back out.
func TestResolveContextAdminCrossTenantGrantsRequestedCustomer(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		users: map[string]*models.User{"admin-1": {ID: "admin-1", Active: true}},
		memberships: map[string][]models.Membership{
			"admin-1": {{UserID: "admin-1", CustomerID: "cust-a", Role: models.RoleAdmin}},
		},
	})

	ctx, err := core.ResolveContext(context.Background(), "admin-1", strPtr("cust-b"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ctx.CustomerID != "cust-b" || ctx.Role != models.RoleAdmin {
		t.Fatalf("expected admin context for cust-b, got %+v", ctx)
	}
	found := false
	for _, id := range ctx.AccessibleCustomerIDs {
		if id == "cust-b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cust-b in accessible set, got %v", ctx.AccessibleCustomerIDs)
	}
}

func TestResolveCustomerForIPMatchesContainingRange(t *testing.T) {
	core := newTestCore(&fakeMembershipStore{
		ipRanges: []models.IPRange{
			{ID: "r1", CustomerID: "cust-a", CIDR: "10.0.0.0/24"},
			{ID: "r2", CustomerID: "cust-b", CIDR: "10.0.1.0/24"},
		},
	})

	customerID, ok, err := core.ResolveCustomerForIP(context.Background(), net.ParseIP("10.0.1.7"))
	if err != nil {
		t.Fatalf("resolve ip: %v", err)
	}
	if !ok || customerID != "cust-b" {
		t.Fatalf("expected cust-b for 10.0.1.7, got ok=%v customer=%s", ok, customerID)
	}

	if _, ok, err := core.ResolveCustomerForIP(context.Background(), net.ParseIP("192.168.0.1")); err != nil || ok {
		t.Fatalf("expected no match for 192.168.0.1, got ok=%v err=%v", ok, err)
	}
}
