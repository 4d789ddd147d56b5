package service

import (
	"github.com/noah-isme/crescent-api/internal/models"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
)

// Capability names an action on scholar links.
type Capability string

const (
	CapIssue        Capability = "issue"
	CapVerify       Capability = "verify"
	CapReject       Capability = "reject"
	CapRevoke       Capability = "revoke"
	CapUnlink       Capability = "unlink"
	CapListPending  Capability = "listPending"
	CapListParents  Capability = "listParents"
	CapListIssued   Capability = "listIssued"
	CapListScholars Capability = "listScholars"
	CapExport       Capability = "export"
	CapStats        Capability = "stats"
)

var capabilityRoles = map[Capability][]models.UserRole{
	CapIssue:        {models.RoleParent},
	CapRevoke:       {models.RoleParent},
	CapListIssued:   {models.RoleParent},
	CapListScholars: {models.RoleParent},
	CapExport:       {models.RoleParent},
	CapVerify:       {models.RoleStudent},
	CapReject:       {models.RoleStudent},
	CapListPending:  {models.RoleStudent},
	CapListParents:  {models.RoleStudent},
	CapUnlink:       {models.RoleParent, models.RoleStudent},
	CapStats:        {models.RoleAdmin, models.RoleStaff},
}

// RolesFor returns the roles allowed to perform capability.
func RolesFor(capability Capability) []models.UserRole {
	return capabilityRoles[capability]
}

// Authorize checks caller against the capability table.
func Authorize(caller models.Caller, capability Capability) error {
	if caller.Anonymous() {
		return appErrors.ErrUnauthorized
	}
	for _, role := range capabilityRoles[capability] {
		if caller.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "insufficient role for "+string(capability))
}
