// Package access implements permission resolution for documents and folders.
// Evaluation is a pure function of the principal, the resource state at call
// time, and the injected clock; nothing is mutated and expired rules are
// excluded rather than purged.
package access

import (
	"net"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// Action is a permission-checked operation.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionEdit     Action = "edit"
	ActionManage   Action = "manage"
)

// actionSpec maps an action to the minimum permission level that allows it
// and to the role-matrix action name checked against role permissions.
type actionSpec struct {
	level      model.Permission
	roleAction string
}

var actionSpecs = map[Action]actionSpec{
	ActionView:     {level: model.PermView, roleAction: "read"},
	ActionDownload: {level: model.PermRead, roleAction: "download"},
	ActionEdit:     {level: model.PermWrite, roleAction: "update"},
	ActionManage:   {level: model.PermAdmin, roleAction: "manage"},
}

// Clock supplies the evaluation time; injectable for tests.
type Clock func() time.Time

// Resolver evaluates access decisions. The zero value is not usable; build
// with NewResolver.
type Resolver struct {
	now Clock
}

// NewResolver constructs a resolver. A nil clock means time.Now.
func NewResolver(now Clock) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// CanPerform reports whether the principal may perform the action on the
// document. Resolution order: ownership, role-permission matrix, access
// rules, share grants, default deny. roles are the full definitions of the
// roles the principal holds.
func (r *Resolver) CanPerform(p model.Principal, act Action, doc *model.Document, roles []model.Role) bool {
	if doc == nil {
		return false
	}
	return r.evaluate(p, act, "documents", doc.OwnerID, doc.AccessRules, doc.SharedWith, roles)
}

// CanAccessFolder is the folder variant; folders share the document rule
// shapes and resolution order.
func (r *Resolver) CanAccessFolder(p model.Principal, act Action, f *model.Folder, roles []model.Role) bool {
	if f == nil {
		return false
	}
	return r.evaluate(p, act, "folders", f.OwnerID, f.AccessRules, f.SharedWith, roles)
}

func (r *Resolver) evaluate(
	p model.Principal, act Action, resource string,
	ownerID uuid.UUID, rules []model.AccessRule, grants []model.ShareGrant,
	roles []model.Role,
) bool {
	spec, ok := actionSpecs[act]
	if !ok {
		return false
	}

	// 1. Owner may do everything.
	if p.UserID == ownerID {
		return true
	}

	// 2. Role-permission matrix: union over held roles.
	for _, role := range roles {
		if role.Allows(resource, spec.roleAction) {
			return true
		}
	}

	now := r.now()

	// 3. Access rules: most-privileged applicable match wins, so any single
	// unexpired match at or above the required level allows.
	for _, rule := range rules {
		if rule.Expired(now) {
			continue
		}
		if !ruleMatches(rule, p) {
			continue
		}
		if rule.Permission.Covers(spec.level) {
			return true
		}
	}

	// 4. Share grants.
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		if g.UserID != p.UserID {
			continue
		}
		if g.AccessType.Covers(spec.level) {
			return true
		}
	}

	// 5. Default deny.
	return false
}

func ruleMatches(rule model.AccessRule, p model.Principal) bool {
	switch rule.Type {
	case model.PrincipalUser:
		return rule.Value == p.UserID.String()
	case model.PrincipalRole:
		return p.HasRole(rule.Value)
	case model.PrincipalIP:
		return ipMatches(rule.Value, p.IP)
	default:
		return false
	}
}

// ipMatches accepts either an exact IP or a CIDR range as the rule value.
func ipMatches(ruleValue, callerIP string) bool {
	if callerIP == "" {
		return false
	}
	ip := net.ParseIP(callerIP)
	if ip == nil {
		return false
	}
	if _, ipnet, err := net.ParseCIDR(ruleValue); err == nil {
		return ipnet.Contains(ip)
	}
	ruleIP := net.ParseIP(ruleValue)
	return ruleIP != nil && ruleIP.Equal(ip)
}
