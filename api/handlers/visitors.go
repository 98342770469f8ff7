package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
)

type VisitorsHandler struct {
	linkRepository    repository.LinkRepository
	visitorRepository repository.VisitorRepository
}

func NewVisitorsHandler(repos *repository.Repositories) *VisitorsHandler {
	return &VisitorsHandler{
		linkRepository:    repos.LinkRepository,
		visitorRepository: repos.VisitorRepository,
	}
}

// ListByLink returns the classified clicks of one link, newest first
func (h *VisitorsHandler) ListByLink() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListVisitors")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID, ok := requireUser(c, span)
		if !ok {
			return
		}

		link, err := h.linkRepository.GetByUserAndID(ctx, userID, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list visitors"})
			return
		}
		if link == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		visitors, err := h.visitorRepository.ListByLink(ctx, link.ID, limit, offset)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list visitors"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"visitors": visitors})
	}
}
