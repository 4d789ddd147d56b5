package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScholarLinkEffectiveStatus(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	link := ScholarLink{Status: LinkStatusPending, ExpiresAt: t0.Add(24 * time.Hour)}

	assert.True(t, link.Usable(t0.Add(time.Hour)))
	assert.Equal(t, LinkStatusPending, link.EffectiveStatus(t0.Add(time.Hour)))
	assert.False(t, link.Usable(t0.Add(24*time.Hour)))
	assert.Equal(t, LinkStatusExpired, link.EffectiveStatus(t0.Add(25*time.Hour)))

	link.Status = LinkStatusVerified
	assert.False(t, link.Usable(t0))
	assert.Equal(t, LinkStatusVerified, link.EffectiveStatus(t0.Add(25*time.Hour)))
}

func TestLinkStatsSetKeepsTotal(t *testing.T) {
	var stats LinkStats
	stats.Set(LinkStatusPending, 3)
	stats.Set(LinkStatusVerified, 2)
	stats.Set(LinkStatus("UNKNOWN"), 9)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Verified)
}

func TestCallerFromClaims(t *testing.T) {
	assert.True(t, CallerFromClaims(nil).Anonymous())
	caller := CallerFromClaims(&JWTClaims{UserID: "u1", Role: RoleParent})
	assert.Equal(t, Caller{ID: "u1", Role: RoleParent}, caller)
	assert.True(t, RoleStaff.Valid())
	assert.False(t, UserRole("SUPERADMIN").Valid())
}
