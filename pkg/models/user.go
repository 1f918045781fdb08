package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganisationMember pairs a user with an organisation.
// The pairing owns at most one personal access token for the dispatch API.
type OrganisationMember struct {
	OrganisationID       int64      `json:"organisation_id"`
	UserID               uuid.UUID  `json:"user_id"`
	Role                 string     `json:"role"` // 'admin', 'member'
	AccessTokenHash      string     `json:"-"`
	AccessTokenEncrypted string     `json:"-"`
	AccessTokenUpdatedAt *time.Time `json:"access_token_updated_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Role constants for organisation members.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

// AccessPrincipal is the (user, organisation) pair an access token resolves to.
type AccessPrincipal struct {
	UserID           uuid.UUID
	OrganisationID   int64
	OrganisationUUID uuid.UUID
}
