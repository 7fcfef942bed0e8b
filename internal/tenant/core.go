// Package tenant resolves a request's principal into a scoped
// TenantContext and gates domain operations by role and membership.
package tenant

import (
	"context"
	"errors"
	"net"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/models"
)

var (
	// ErrAmbiguousTenant is returned when a multi-membership user does not
	// specify which customer they are acting as.
	ErrAmbiguousTenant = errors.New("ambiguous tenant: specify a customer")
	// ErrNoTenant is returned when a user has no memberships at all.
	ErrNoTenant = errors.New("user has no customer memberships")
)

// MembershipStore is the subset of the Job Store's tenant tables that
// access resolution needs.
type MembershipStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	MembershipsForUser(ctx context.Context, userID string) ([]models.Membership, error)
	IPRangesForLookup(ctx context.Context) ([]models.IPRange, error)
}

// TenantContext is the resolved, authorization-ready request context every
// domain operation is gated through.
type TenantContext struct {
	User                  models.User
	Role                  models.Role
	CustomerID            string
	AccessibleCustomerIDs []string
}

// Core resolves principals and enforces role/tenant policy.
type Core struct {
	store  MembershipStore
	logger arbor.ILogger
}

// New creates a Core backed by store.
func New(store MembershipStore, logger arbor.ILogger) *Core {
	return &Core{store: store, logger: logger}
}

// ResolveContext resolves a principal (already authenticated upstream)
// into a TenantContext scoped to requestedCustomerID, or
// to the user's sole membership if they have exactly one and none was
// requested.
func (c *Core) ResolveContext(ctx context.Context, userID string, requestedCustomerID *string) (TenantContext, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return TenantContext{}, errors.Join(apperr.ErrUnauthenticated, err)
	}
	if !user.Active {
		return TenantContext{}, apperr.ErrUnauthenticated
	}

	memberships, err := c.store.MembershipsForUser(ctx, userID)
	if err != nil {
		return TenantContext{}, err
	}

	accessible := make([]string, 0, len(memberships))
	roleByCustomer := make(map[string]models.Role, len(memberships))
	isAdmin := false
	for _, m := range memberships {
		accessible = append(accessible, m.CustomerID)
		roleByCustomer[m.CustomerID] = m.Role
		if m.Role == models.RoleAdmin {
			isAdmin = true
		}
	}
	sort.Strings(accessible)

	if requestedCustomerID == nil {
		if isAdmin {
			// Admins may omit a tenant only when they have exactly one
			// membership to default to; otherwise the request is ambiguous.
			if len(memberships) == 1 {
				return c.contextFor(*user, memberships[0].CustomerID, memberships[0].Role, accessible), nil
			}
		}
		switch len(memberships) {
		case 0:
			return TenantContext{}, ErrNoTenant
		case 1:
			return c.contextFor(*user, memberships[0].CustomerID, memberships[0].Role, accessible), nil
		default:
			return TenantContext{}, ErrAmbiguousTenant
		}
	}

	role, member := roleByCustomer[*requestedCustomerID]
	if !member && !isAdmin {
		return TenantContext{}, apperr.ErrForbidden
	}
	if isAdmin && !member {
		// Admins are cross-tenant: the resolved customer joins the
		// accessible set so tenant-scoped queries actually cover it.
		role = models.RoleAdmin
		accessible = append(accessible, *requestedCustomerID)
		sort.Strings(accessible)
	}
	return c.contextFor(*user, *requestedCustomerID, role, accessible), nil
}

func (c *Core) contextFor(user models.User, customerID string, role models.Role, accessible []string) TenantContext {
	return TenantContext{
		User:                  user,
		Role:                  role,
		CustomerID:            customerID,
		AccessibleCustomerIDs: accessible,
	}
}

// RequireRole fails with ErrForbidden when ctx.Role is below min.
func RequireRole(ctx TenantContext, min models.Role) error {
	if !ctx.Role.AtLeast(min) {
		return apperr.ErrForbidden
	}
	return nil
}

// Accessible reports whether customerID is within ctx's accessible set.
func (ctx TenantContext) Accessible(customerID string) bool {
	if ctx.Role == models.RoleAdmin {
		return true
	}
	for _, id := range ctx.AccessibleCustomerIDs {
		if id == customerID {
			return true
		}
	}
	return false
}

// ResolveCustomerForIP returns the customer whose assigned IPRange contains
// ip, used to auto-assign devices during import. The router performs no
// caching; callers needing this on a hot path should cache IPRangesForLookup
// themselves.
func (c *Core) ResolveCustomerForIP(ctx context.Context, ip net.IP) (string, bool, error) {
	ranges, err := c.store.IPRangesForLookup(ctx)
	if err != nil {
		return "", false, err
	}
	for _, r := range ranges {
		_, network, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			c.logger.Warn().Str("cidr", r.CIDR).Err(err).Msg("skipping malformed IP range")
			continue
		}
		if network.Contains(ip) {
			return r.CustomerID, true, nil
		}
	}
	return "", false, nil
}
