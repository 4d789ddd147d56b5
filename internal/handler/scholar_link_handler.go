package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/crescent-api/internal/dto"
	"github.com/noah-isme/crescent-api/internal/middleware"
	"github.com/noah-isme/crescent-api/internal/models"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
	"github.com/noah-isme/crescent-api/pkg/export"
	"github.com/noah-isme/crescent-api/pkg/response"
)

type scholarLinkService interface {
	Issue(ctx context.Context, caller models.Caller, req dto.IssueLinkRequest) (*dto.IssueLinkResponse, error)
	Verify(ctx context.Context, caller models.Caller, req dto.VerifyLinkRequest) (*dto.VerifyLinkResponse, error)
	ListPendingForScholar(ctx context.Context, caller models.Caller) ([]dto.PendingLink, error)
	ListLinkedParents(ctx context.Context, caller models.Caller) ([]dto.LinkedParty, error)
	ListLinkedScholars(ctx context.Context, caller models.Caller) ([]dto.LinkedParty, error)
	ListIssued(ctx context.Context, caller models.Caller, query dto.ListIssuedQuery) ([]dto.IssuedLink, *models.Pagination, error)
	Reject(ctx context.Context, caller models.Caller, id string) error
	Revoke(ctx context.Context, caller models.Caller, id string) error
	Unlink(ctx context.Context, caller models.Caller, id string) error
	Stats(ctx context.Context, caller models.Caller) (*dto.LinkStatsResponse, bool, error)
	ExportSlip(ctx context.Context, caller models.Caller, id string, format export.Format) (*export.Document, error)
	ExportIssued(ctx context.Context, caller models.Caller, format export.Format) (*export.Document, error)
}

// ScholarLinkHandler exposes the parent-scholar linking endpoints.
type ScholarLinkHandler struct {
	service scholarLinkService
}

// NewScholarLinkHandler constructs the handler.
func NewScholarLinkHandler(svc scholarLinkService) *ScholarLinkHandler {
	return &ScholarLinkHandler{service: svc}
}

// Issue godoc
// @Summary Issue link code
// @Description Generate a single-use 6 digit code a scholar can enter to link with the calling parent. Any earlier pending code for the same target is revoked.
// @Tags Links
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.IssueLinkRequest false "Optional target scholar"
// @Success 201 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /links [post]
func (h *ScholarLinkHandler) Issue(c *gin.Context) {
	var req dto.IssueLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}
	res, err := h.service.Issue(c.Request.Context(), callerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Verify godoc
// @Summary Verify link code
// @Description Confirm a parent link by submitting the code they issued
// @Tags Links
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.VerifyLinkRequest true "Link code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /links/verify [post]
func (h *ScholarLinkHandler) Verify(c *gin.Context) {
	var req dto.VerifyLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "linkCode must be 6 digits"))
		return
	}
	res, err := h.service.Verify(c.Request.Context(), callerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// ListPending godoc
// @Summary Pending links for scholar
// @Tags Links
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/pending [get]
func (h *ScholarLinkHandler) ListPending(c *gin.Context) {
	links, err := h.service.ListPendingForScholar(c.Request.Context(), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, nil)
}

// ListParents godoc
// @Summary Linked parents of scholar
// @Tags Links
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/parents [get]
func (h *ScholarLinkHandler) ListParents(c *gin.Context) {
	parents, err := h.service.ListLinkedParents(c.Request.Context(), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, parents, nil)
}

// ListScholars godoc
// @Summary Linked scholars of parent
// @Tags Links
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/scholars [get]
func (h *ScholarLinkHandler) ListScholars(c *gin.Context) {
	scholars, err := h.service.ListLinkedScholars(c.Request.Context(), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scholars, nil)
}

// ListIssued godoc
// @Summary Links issued by parent
// @Tags Links
// @Produce json
// @Security BearerAuth
// @Param status query string false "PENDING, VERIFIED, REJECTED, REVOKED or EXPIRED"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/issued [get]
func (h *ScholarLinkHandler) ListIssued(c *gin.Context) {
	var query dto.ListIssuedQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	links, pagination, err := h.service.ListIssued(c.Request.Context(), callerFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, pagination)
}

// Reject godoc
// @Summary Decline pending link
// @Tags Links
// @Security BearerAuth
// @Param id path string true "Link ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /links/{id}/reject [post]
func (h *ScholarLinkHandler) Reject(c *gin.Context) {
	if err := h.service.Reject(c.Request.Context(), callerFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Revoke godoc
// @Summary Cancel pending link
// @Tags Links
// @Security BearerAuth
// @Param id path string true "Link ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /links/{id}/revoke [post]
func (h *ScholarLinkHandler) Revoke(c *gin.Context) {
	if err := h.service.Revoke(c.Request.Context(), callerFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Unlink godoc
// @Summary Remove verified link
// @Tags Links
// @Security BearerAuth
// @Param id path string true "Link ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /links/{id} [delete]
func (h *ScholarLinkHandler) Unlink(c *gin.Context) {
	if err := h.service.Unlink(c.Request.Context(), callerFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stats godoc
// @Summary Link counts per status
// @Tags Links
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/stats [get]
func (h *ScholarLinkHandler) Stats(c *gin.Context) {
	stats, hit, err := h.service.Stats(c.Request.Context(), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Slip godoc
// @Summary Printable link code slip
// @Tags Links
// @Produce application/pdf
// @Produce text/csv
// @Security BearerAuth
// @Param id path string true "Link ID"
// @Param format query string false "pdf (default) or csv"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /links/{id}/slip [get]
func (h *ScholarLinkHandler) Slip(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"), export.FormatPDF)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format must be pdf or csv"))
		return
	}
	doc, err := h.service.ExportSlip(c.Request.Context(), callerFromContext(c), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}

// Export godoc
// @Summary Export issued link history
// @Tags Links
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /links/export [get]
func (h *ScholarLinkHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"), export.FormatCSV)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format must be csv or pdf"))
		return
	}
	doc, err := h.service.ExportIssued(c.Request.Context(), callerFromContext(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}
