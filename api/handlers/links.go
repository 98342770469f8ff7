package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
	"github.com/linkshield/cloaker/services/policy"
)

type LinksHandler struct {
	linkRepository repository.LinkRepository
	policyService  *policy.Service
}

func NewLinksHandler(repos *repository.Repositories, policyService *policy.Service) *LinksHandler {
	return &LinksHandler{
		linkRepository: repos.LinkRepository,
		policyService:  policyService,
	}
}

// Create registers a new cloaked link for the calling user
func (h *LinksHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "CreateLink")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		var link models.CloakedLink
		if err := c.ShouldBindJSON(&link); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		link.ID = ""
		link.UserID = userID
		link.ClicksToday = 0
		link.ClicksCount = 0
		link.LastClickReset = nil
		if link.Timezone == "" {
			link.Timezone = "UTC"
		}

		if err := link.Validate(); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if link.Slug == "" {
			link.Slug = utils.GenerateSlug()
		}

		existing, err := h.linkRepository.GetBySlug(ctx, link.Slug)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create link"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "slug already in use"})
			return
		}

		if err := h.linkRepository.Create(ctx, &link); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create link"})
			return
		}

		c.JSON(http.StatusCreated, link)
	}
}

// List returns all links of the calling user
func (h *LinksHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListLinks")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		links, err := h.linkRepository.ListByUser(ctx, userID)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list links"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"links": links})
	}
}

// Get returns one link by id, scoped to the calling user
func (h *LinksHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetLink")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		link, err := h.linkRepository.GetByUserAndID(ctx, userID, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get link"})
			return
		}
		if link == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}
		c.JSON(http.StatusOK, link)
	}
}

// Update replaces the mutable policy fields of a link and invalidates its
// cached copies
func (h *LinksHandler) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "UpdateLink")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		current, err := h.linkRepository.GetByUserAndID(ctx, userID, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update link"})
			return
		}
		if current == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}

		var updated models.CloakedLink
		if err := c.ShouldBindJSON(&updated); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// identity and counters are not client-writable
		updated.ID = current.ID
		updated.UserID = current.UserID
		updated.Slug = current.Slug
		updated.ClicksToday = current.ClicksToday
		updated.ClicksCount = current.ClicksCount
		updated.LastClickReset = current.LastClickReset
		updated.CreatedAt = current.CreatedAt
		if updated.Timezone == "" {
			updated.Timezone = current.Timezone
		}

		if err := updated.Validate(); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.linkRepository.Update(ctx, &updated); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update link"})
			return
		}

		h.policyService.Invalidate(ctx, userID, updated.Slug)
		c.JSON(http.StatusOK, updated)
	}
}

// Delete removes a link and its visitor history
func (h *LinksHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "DeleteLink")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		link, err := h.linkRepository.GetByUserAndID(ctx, userID, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete link"})
			return
		}
		if link == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}

		if err := h.linkRepository.Delete(ctx, userID, link.ID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete link"})
			return
		}

		h.policyService.Invalidate(ctx, userID, link.Slug)
		c.Status(http.StatusNoContent)
	}
}

// requireUser pulls the user id out of the request context, answering 401
// when the gateway did not set one.
func requireUser(c *gin.Context, span opentracing.Span) (string, bool) {
	userID := utils.GetUserIdFromContext(c.Request.Context())
	if userID == "" {
		tracing.TraceErr(span, errors.Wrap(er.ErrUserMissing, "missing user id header"))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
		return "", false
	}
	return userID, true
}
