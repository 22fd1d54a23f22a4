// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Permission is an access level, totally ordered: view < read < write < admin.
type Permission string

const (
	PermView  Permission = "view"
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

var permRank = map[Permission]int{
	PermView:  1,
	PermRead:  2,
	PermWrite: 3,
	PermAdmin: 4,
}

// Covers reports whether p grants at least the required level.
// Unknown levels never cover anything.
func (p Permission) Covers(required Permission) bool {
	pr, ok := permRank[p]
	if !ok {
		return false
	}
	rr, ok := permRank[required]
	if !ok {
		return false
	}
	return pr >= rr
}

// Valid reports whether p is one of the defined levels.
func (p Permission) Valid() bool {
	_, ok := permRank[p]
	return ok
}

// PrincipalType discriminates access rule subjects.
type PrincipalType string

const (
	PrincipalUser PrincipalType = "user"
	PrincipalRole PrincipalType = "role"
	PrincipalIP   PrincipalType = "ip"
)

// DocumentStatus is the document lifecycle state.
type DocumentStatus string

const (
	StatusActive   DocumentStatus = "active"
	StatusArchived DocumentStatus = "archived"
	StatusDeleted  DocumentStatus = "deleted"
)

// AccessRule grants a permission level to a user, role, or IP, optionally
// until a deadline. Expired rules are excluded at evaluation time, never
// purged eagerly.
type AccessRule struct {
	Type       PrincipalType `json:"type"`
	Value      string        `json:"value"`
	Permission Permission    `json:"permission"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether the rule is past its deadline at the given time.
func (r AccessRule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// ShareGrant is a per-user share on a document, distinct from public links.
// At most one grant exists per (document, user); re-sharing updates in place.
type ShareGrant struct {
	UserID     uuid.UUID  `json:"user_id"`
	AccessType Permission `json:"access_type"` // view, read or write
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the grant is past its deadline at the given time.
func (g ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Document is an encrypted stored file with embedded access rules and shares.
// Key and IV are excluded from default read projections; repositories expose
// them only through an explicit keyed fetch.
type Document struct {
	ID          uuid.UUID
	Name        string
	Description string
	OwnerID     uuid.UUID
	FolderID    uuid.NullUUID
	ContentPath string // ciphertext locator in the content store
	ContentType string
	Size        int64
	Tags        []string
	Version     int64 // starts at 1, +1 per successful metadata edit
	Status      DocumentStatus
	Encrypted   bool
	Key         []byte // 32 bytes, set iff Encrypted; fixed for document lifetime
	IV          []byte // 16 bytes
	AccessRules []AccessRule
	SharedWith  []ShareGrant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GrantFor returns the share grant for the given user, if any.
func (d *Document) GrantFor(userID uuid.UUID) (ShareGrant, bool) {
	for _, g := range d.SharedWith {
		if g.UserID == userID {
			return g, true
		}
	}
	return ShareGrant{}, false
}

// RolePermission maps a resource to the actions a role may perform on it.
type RolePermission struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// Role is a named permission set. A principal's effective permissions are the
// union over all roles held.
type Role struct {
	Name        string
	Permissions []RolePermission
}

// Allows reports whether the role grants action on resource.
func (r Role) Allows(resource, action string) bool {
	for _, p := range r.Permissions {
		if p.Resource != resource {
			continue
		}
		for _, a := range p.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// Principal is an authenticated actor: user identity plus held roles and the
// caller-supplied request IP for ip-typed access rules.
type Principal struct {
	UserID uuid.UUID
	Roles  []string
	IP     string
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// LinkAction is what a share-link access attempts.
type LinkAction string

const (
	LinkView     LinkAction = "view"
	LinkDownload LinkAction = "download"
)

// LinkAccess is one entry in a link's bounded access history. This is an
// audit aid only; the authoritative record is the audit log.
type LinkAccess struct {
	At        time.Time  `json:"at"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	Action    LinkAction `json:"action"`
}

// MaxLinkHistory bounds a link's embedded access history (oldest evicted).
const MaxLinkHistory = 100

// SharedLink is a token-addressed, unauthenticated access path to a single
// document, governed by expiry, optional password, and optional counters.
// Expiry and cap exhaustion makes a link inaccessible but never deletes it.
type SharedLink struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	Token          string // 32 random bytes, hex; globally unique
	PasswordHash   []byte // argon2id; nil when no password
	PasswordSalt   []byte
	ExpiresAt      time.Time // mandatory
	MaxViews       *int
	ViewCount      int
	MaxDownloads   *int
	DownloadCount  int
	CanView        bool
	CanDownload    bool
	IsActive       bool
	CreatedBy      uuid.UUID
	LastAccessedAt *time.Time
	AccessHistory  []LinkAccess
	CreatedAt      time.Time
}

// Expired reports whether the link is past its expiration at the given time.
func (l *SharedLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// ViewLimitReached reports whether the view counter is at its cap.
func (l *SharedLink) ViewLimitReached() bool {
	return l.MaxViews != nil && l.ViewCount >= *l.MaxViews
}

// DownloadLimitReached reports whether the download counter is at its cap.
func (l *SharedLink) DownloadLimitReached() bool {
	return l.MaxDownloads != nil && l.DownloadCount >= *l.MaxDownloads
}

// Folder is a named container for documents. It carries the same rule and
// grant shapes as documents so the resolver evaluates both uniformly.
type Folder struct {
	ID          uuid.UUID
	Name        string
	Path        string
	OwnerID     uuid.UUID
	ParentID    uuid.NullUUID
	Status      DocumentStatus
	AccessRules []AccessRule
	SharedWith  []ShareGrant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
