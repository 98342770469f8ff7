package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/services/domain"
)

type RegisterDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type DomainsHandler struct {
	domainService *domain.Service
}

func NewDomainsHandler(domainService *domain.Service) *DomainsHandler {
	return &DomainsHandler{domainService: domainService}
}

// Register adds a custom domain in pending state and returns the DNS
// records the owner has to create
func (h *DomainsHandler) Register() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RegisterDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		var req RegisterDomainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		registered, err := h.domainService.Register(ctx, userID, req.Domain)
		if err != nil {
			switch {
			case errors.Is(err, er.ErrDomainAlreadyRegistered):
				c.JSON(http.StatusConflict, gin.H{"error": "domain already registered"})
			case errors.Is(err, er.ErrInvalidConfiguration):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register domain"})
			}
			return
		}

		c.JSON(http.StatusCreated, registered)
	}
}

// List returns all domains of the calling user
func (h *DomainsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListDomains")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		domains, err := h.domainService.List(ctx, userID)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list domains"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"domains": domains})
	}
}

// Get returns one domain by id
func (h *DomainsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		found, err := h.domainService.Get(ctx, userID, c.Param("id"))
		if err != nil {
			if errors.Is(err, er.ErrDomainNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get domain"})
			return
		}
		c.JSON(http.StatusOK, found)
	}
}

// Verify runs the DNS checks for a domain
func (h *DomainsHandler) Verify() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "VerifyDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		verified, err := h.domainService.Verify(ctx, userID, c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, er.ErrDomainNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
			case errors.Is(err, er.ErrVerifyTooSoon):
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "verification attempted too recently"})
			default:
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify domain"})
			}
			return
		}
		c.JSON(http.StatusOK, verified)
	}
}

// SetDefault marks a verified domain as the user's default
func (h *DomainsHandler) SetDefault() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SetDefaultDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		err := h.domainService.SetDefault(ctx, userID, c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, er.ErrDomainNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
			case errors.Is(err, er.ErrDomainNotVerified):
				c.JSON(http.StatusBadRequest, gin.H{"error": "domain is not verified"})
			default:
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set default domain"})
			}
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Delete removes a domain registration
func (h *DomainsHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "DeleteDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		if err := h.domainService.Delete(ctx, userID, c.Param("id")); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete domain"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
