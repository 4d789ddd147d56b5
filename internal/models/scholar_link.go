package models

import "time"

// LinkStatus is the lifecycle state of a ScholarLink.
type LinkStatus string

const (
	LinkStatusPending  LinkStatus = "PENDING"
	LinkStatusVerified LinkStatus = "VERIFIED"
	LinkStatusRejected LinkStatus = "REJECTED"
	LinkStatusRevoked  LinkStatus = "REVOKED"
	LinkStatusExpired  LinkStatus = "EXPIRED"
)

// LinkStatuses lists every status in lifecycle order.
var LinkStatuses = []LinkStatus{
	LinkStatusPending,
	LinkStatusVerified,
	LinkStatusRejected,
	LinkStatusRevoked,
	LinkStatusExpired,
}

// Terminal reports whether no further transition is possible from s.
func (s LinkStatus) Terminal() bool {
	return s != LinkStatusPending
}

// ScholarLink is a proposed or established relationship between a parent and a
// scholar account.
type ScholarLink struct {
	ID         string     `db:"id" json:"id"`
	ParentID   string     `db:"parent_id" json:"parent_id"`
	ScholarID  *string    `db:"scholar_id" json:"scholar_id,omitempty"`
	LinkCode   string     `db:"link_code" json:"link_code"`
	Status     LinkStatus `db:"status" json:"status"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	VerifiedAt *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	UnlinkedAt *time.Time `db:"unlinked_at" json:"unlinked_at,omitempty"`
}

// Usable reports whether the code can still be verified at now.
func (l *ScholarLink) Usable(now time.Time) bool {
	return l.Status == LinkStatusPending && now.Before(l.ExpiresAt)
}

// EffectiveStatus reports PENDING rows past their expiry as EXPIRED.
func (l *ScholarLink) EffectiveStatus(now time.Time) LinkStatus {
	if l.Status == LinkStatusPending && !now.Before(l.ExpiresAt) {
		return LinkStatusExpired
	}
	return l.Status
}

// ScholarLinkFilter narrows a parent's issued history.
type ScholarLinkFilter struct {
	ParentID string
	Status   *LinkStatus
	Page     int
	PageSize int
}

// PendingLinkRow is a pending link joined with the issuing parent.
type PendingLinkRow struct {
	ID          string     `db:"id"`
	Status      LinkStatus `db:"status"`
	ExpiresAt   time.Time  `db:"expires_at"`
	CreatedAt   time.Time  `db:"created_at"`
	ParentID    string     `db:"parent_id"`
	ParentName  string     `db:"parent_name"`
	ParentEmail string     `db:"parent_email"`
}

// LinkedPartyRow is a verified link joined with the other party's account.
type LinkedPartyRow struct {
	LinkID   string    `db:"link_id"`
	UserID   string    `db:"user_id"`
	Name     string    `db:"full_name"`
	Email    string    `db:"email"`
	LinkedAt time.Time `db:"verified_at"`
}

// LinkStats counts links per status.
type LinkStats struct {
	Pending     int       `json:"pending"`
	Verified    int       `json:"verified"`
	Rejected    int       `json:"rejected"`
	Revoked     int       `json:"revoked"`
	Expired     int       `json:"expired"`
	Total       int       `json:"total"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Set records count for status and keeps Total in step.
func (s *LinkStats) Set(status LinkStatus, count int) {
	switch status {
	case LinkStatusPending:
		s.Pending = count
	case LinkStatusVerified:
		s.Verified = count
	case LinkStatusRejected:
		s.Rejected = count
	case LinkStatusRevoked:
		s.Revoked = count
	case LinkStatusExpired:
		s.Expired = count
	default:
		return
	}
	s.Total = s.Pending + s.Verified + s.Rejected + s.Revoked + s.Expired
}
