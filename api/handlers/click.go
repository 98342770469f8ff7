package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/config"
	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
	"github.com/linkshield/cloaker/services/click"
)

const (
	signalParam       = "_sb"
	signalCookie      = "csig"
	fingerprintCookie = "cfp"
)

type ClickHandler struct {
	cfg      *config.AppConfig
	clickSvc *click.Service
}

func NewClickHandler(cfg *config.AppConfig, clickSvc *click.Service) *ClickHandler {
	return &ClickHandler{cfg: cfg, clickSvc: clickSvc}
}

// Handle serves the public click route. The whole decision flow runs under
// the configured deadline; the service downgrades overruns to the safe
// page, so this handler only maps the result to HTTP.
func (h *ClickHandler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ClickHandler.Handle")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		deadline := time.Duration(h.cfg.ClickDeadlineMs) * time.Millisecond
		if deadline <= 0 {
			deadline = 300 * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		req := click.Request{
			Host:      utils.NormalizeDomain(c.Request.Host),
			Slug:      c.Param("slug"),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Referer:   c.Request.Referer(),
			Language:  firstLanguage(c.GetHeader("Accept-Language")),
			SignalRaw: h.signalPayload(c),
			Query:     c.Request.URL.Query(),
		}

		result, err := h.clickSvc.Process(ctx, req)
		if err != nil {
			if errors.Is(err, er.ErrPolicyNotFound) {
				c.String(http.StatusNotFound, "not found")
				return
			}
			tracing.TraceErr(span, err)
			if errors.Is(err, er.ErrStoreUnavailable) {
				// a store outage fails closed, same response as a blocked click
				c.String(http.StatusForbidden, "access denied")
				return
			}
			c.String(http.StatusInternalServerError, "internal error")
			return
		}

		if result.FingerprintHash != "" {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(fingerprintCookie, result.FingerprintHash, 60*60*24*365, "/", "", false, true)
		}

		if result.RedirectURL == "" {
			c.String(http.StatusForbidden, "access denied")
			return
		}

		if result.DelayMs > 0 {
			c.Header("Content-Type", "text/html; charset=utf-8")
			c.String(http.StatusOK, delayPage(result.RedirectURL, result.DelayMs))
			return
		}

		c.Redirect(http.StatusFound, result.RedirectURL)
	}
}

// signalPayload reads the signal bundle from the query parameter, falling
// back to the cookie set on an earlier visit.
func (h *ClickHandler) signalPayload(c *gin.Context) string {
	if raw := c.Query(signalParam); raw != "" {
		return raw
	}
	if raw, err := c.Cookie(signalCookie); err == nil {
		return raw
	}
	return ""
}

func firstLanguage(acceptLanguage string) string {
	if idx := strings.Index(acceptLanguage, ","); idx >= 0 {
		return acceptLanguage[:idx]
	}
	return acceptLanguage
}

func delayPage(target string, delayMs int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Redirecting</title></head>
<body><script>setTimeout(function(){window.location.replace(%q)},%d)</script>
<noscript><meta http-equiv="refresh" content="%d;url=%s"></noscript>
</body></html>`, target, delayMs, (delayMs+999)/1000, target)
}
