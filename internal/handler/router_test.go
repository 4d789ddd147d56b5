package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/crescent-api/internal/models"
	"github.com/noah-isme/crescent-api/internal/service"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
)

type stubTokens map[string]*models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

func newTestRouter(links *fakeLinkSrv, checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, "/api/v1", Handlers{
		Auth:    NewAuthHandler(&fakeAuthSrv{}),
		Links:   NewScholarLinkHandler(links),
		Metrics: NewMetricsHandler(service.NewMetricsService(), checks),
	}, stubTokens{
		"parent":  parentClaims,
		"scholar": scholarClaims,
		"admin":   {UserID: "admin-1", Role: models.RoleAdmin},
	})
	return r
}

func serve(r *gin.Engine, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterEnforcesCapabilities(t *testing.T) {
	r := newTestRouter(&fakeLinkSrv{}, nil)

	cases := []struct {
		name   string
		method string
		target string
		token  string
		body   string
		status int
	}{
		{"issue without token", http.MethodPost, "/api/v1/links", "", "", http.StatusUnauthorized},
		{"issue bad token", http.MethodPost, "/api/v1/links", "forged", "", http.StatusUnauthorized},
		{"issue as scholar", http.MethodPost, "/api/v1/links", "scholar", "", http.StatusForbidden},
		{"issue as parent", http.MethodPost, "/api/v1/links", "parent", "", http.StatusCreated},
		{"verify as parent", http.MethodPost, "/api/v1/links/verify", "parent", `{"linkCode":"482913"}`, http.StatusForbidden},
		{"verify as scholar", http.MethodPost, "/api/v1/links/verify", "scholar", `{"linkCode":"482913"}`, http.StatusOK},
		{"pending as parent", http.MethodGet, "/api/v1/links/pending", "parent", "", http.StatusForbidden},
		{"issued as parent", http.MethodGet, "/api/v1/links/issued", "parent", "", http.StatusOK},
		{"stats as parent", http.MethodGet, "/api/v1/links/stats", "parent", "", http.StatusForbidden},
		{"stats as admin", http.MethodGet, "/api/v1/links/stats", "admin", "", http.StatusOK},
		{"export as parent", http.MethodGet, "/api/v1/links/export", "parent", "", http.StatusOK},
		{"unlink as scholar", http.MethodDelete, "/api/v1/links/link-1", "scholar", "", http.StatusNoContent},
		{"unlink as admin", http.MethodDelete, "/api/v1/links/link-1", "admin", "", http.StatusForbidden},
		{"reject as scholar", http.MethodPost, "/api/v1/links/link-1/reject", "scholar", "", http.StatusNoContent},
		{"revoke as scholar", http.MethodPost, "/api/v1/links/link-1/revoke", "scholar", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(r, tc.method, tc.target, tc.token, tc.body)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRouterPassesPathID(t *testing.T) {
	srv := &fakeLinkSrv{}
	r := newTestRouter(srv, nil)

	rec := serve(r, http.MethodGet, "/api/v1/links/link-7/slip", "parent", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "link-7", srv.lastID)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestRouterHealthEndpoints(t *testing.T) {
	r := newTestRouter(&fakeLinkSrv{}, map[string]Pinger{
		"database": func(context.Context) error { return nil },
	})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", "").Code)

	rec := serve(r, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	rec = serve(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsDegradedDependency(t *testing.T) {
	r := newTestRouter(&fakeLinkSrv{}, map[string]Pinger{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := serve(r, http.MethodGet, "/ready", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
