package dto

import "time"

// IssueLinkRequest is the parent's request for a new link code. ScholarEmail
// pre-addresses the code to one scholar.
type IssueLinkRequest struct {
	ScholarEmail string `json:"scholarEmail" validate:"omitempty,email"`
}

// IssueLinkResponse returns the generated code.
type IssueLinkResponse struct {
	ID        string    `json:"id"`
	LinkCode  string    `json:"linkCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyLinkRequest carries the code a scholar submits.
type VerifyLinkRequest struct {
	LinkCode string `json:"linkCode" validate:"required,len=6,number"`
}

// PartyInfo identifies the other side of a link.
type PartyInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// VerifyLinkResponse confirms the verified link to the scholar.
type VerifyLinkResponse struct {
	Message string    `json:"message"`
	Parent  PartyInfo `json:"parent"`
}

// PendingLink is a link awaiting the scholar's action.
type PendingLink struct {
	ID        string    `json:"id"`
	Parent    PartyInfo `json:"parent"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LinkedParty is a verified relationship seen from one side.
type LinkedParty struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	LinkedAt time.Time `json:"linkedAt"`
}

// IssuedLink is a parent's view of a link they issued.
type IssuedLink struct {
	ID         string     `json:"id"`
	LinkCode   string     `json:"linkCode"`
	Status     string     `json:"status"`
	ScholarID  *string    `json:"scholarId,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	UnlinkedAt *time.Time `json:"unlinkedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ListIssuedQuery filters a parent's issued history.
type ListIssuedQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=PENDING VERIFIED REJECTED REVOKED EXPIRED"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// LinkStatsResponse counts links per status.
type LinkStatsResponse struct {
	Pending     int       `json:"pending"`
	Verified    int       `json:"verified"`
	Rejected    int       `json:"rejected"`
	Revoked     int       `json:"revoked"`
	Expired     int       `json:"expired"`
	Total       int       `json:"total"`
	GeneratedAt time.Time `json:"generatedAt"`
}
