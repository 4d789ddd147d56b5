package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin        = "LOGIN"
	AuditActionUserCreate   = "USER_CREATE"
	AuditActionLinkIssued   = "LINK_ISSUED"
	AuditActionLinkVerified = "LINK_VERIFIED"
	AuditActionLinkRejected = "LINK_REJECTED"
	AuditActionLinkRevoked  = "LINK_REVOKED"
	AuditActionLinkExpired  = "LINK_EXPIRED"
)

// AuditResourceScholarLink names scholar link rows in the audit trail.
const AuditResourceScholarLink = "scholar_link"

// AuditLog represents an audit trail record. Old and new values hold JSON.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  *string   `db:"old_values" json:"old_values,omitempty"`
	NewValues  *string   `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
