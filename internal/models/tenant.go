package models

import "time"

// Role is the principal's capability tier. Ordering matters: viewer <
// operator < admin.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
}

// AtLeast reports whether r satisfies a minimum required role.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Customer is the tenant boundary. Every domain entity except User carries
// a CustomerID.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a principal. Authorization is scoped per membership via
// Membership.Role; the user row itself carries no role.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a User to a Customer with a role scoped to that tenant.
type Membership struct {
	UserID     string `json:"user_id"`
	CustomerID string `json:"customer_id"`
	Role       Role   `json:"role"`
}

// IPRange is a CIDR assigned to a customer for deterministic tenant
// resolution on device create/import. Ranges assigned to different
// customers must not overlap.
type IPRange struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	CIDR       string `json:"cidr"`
}

// Credential is a named secret scoped to one customer. Password and
// EnablePassword are ciphertext (AES-GCM); the orchestrator never stores or
// logs plaintext.
type Credential struct {
	ID                    string    `json:"id"`
	CustomerID            string    `json:"customer_id"`
	Name                  string    `json:"name"`
	Username              string    `json:"username"`
	EncryptedPassword     []byte    `json:"-"`
	EncryptedEnablePasswd []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
}

// Device is a managed network element.
type Device struct {
	ID           string            `json:"id"`
	CustomerID   string            `json:"customer_id"`
	Hostname     string            `json:"hostname"`
	ManagementIP string            `json:"management_ip"`
	Vendor       string            `json:"vendor"`
	Platform     string            `json:"platform"`
	Role         string            `json:"role,omitempty"`
	Site         string            `json:"site,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Enabled      bool              `json:"enabled"`
	RegionID     *string           `json:"region_id,omitempty"`
	CredentialID string            `json:"credential_id"`
	Extra        map[string]string `json:"extra,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Health is a Region's operational state.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthOffline  Health = "offline"
)

// Region is a named worker pool. QueueName derives the broker queue used to
// dispatch jobs targeting devices placed in this region.
type Region struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	Enabled    bool   `json:"enabled"`
	Health     Health `json:"health"`
}

// Available reports whether the region currently qualifies for routing.
func (r Region) Available() bool {
	return r.Enabled && r.Health != HealthOffline
}

// QueueName is the broker queue name used for jobs routed to this region.
func (r Region) QueueName() string {
	return "region_" + r.Identifier
}

// DefaultQueueName is used when no region is selected for a job.
const DefaultQueueName = "default"
