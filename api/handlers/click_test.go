package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/kv"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/services/click"
	"github.com/linkshield/cloaker/services/decision"
	"github.com/linkshield/cloaker/services/geoip"
	"github.com/linkshield/cloaker/services/limiter"
	"github.com/linkshield/cloaker/services/policy"
	"github.com/linkshield/cloaker/services/scoring"
	"github.com/linkshield/cloaker/services/visitorlog"
	"github.com/linkshield/cloaker/services/webhook"
)

const clickTestHost = "go.linkshield.io"

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type stubLinkRepo struct {
	repository.LinkRepository

	link    *models.CloakedLink
	slugErr error
}

func (s *stubLinkRepo) GetBySlug(ctx context.Context, slug string) (*models.CloakedLink, error) {
	if s.slugErr != nil {
		return nil, s.slugErr
	}
	if s.link != nil && s.link.Slug == slug {
		return s.link, nil
	}
	return nil, nil
}

func (s *stubLinkRepo) IncrementClickCounters(ctx context.Context, linkID string, maxDaily, maxTotal *int) (bool, error) {
	return true, nil
}

func (s *stubLinkRepo) ResetDailyCounterIfStale(ctx context.Context, linkID string, dayStart time.Time) (bool, error) {
	return false, nil
}

type stubDomainRepo struct {
	repository.DomainRepository
}

func (stubDomainRepo) GetVerifiedByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error) {
	return nil, nil
}

func (stubDomainRepo) ListByUser(ctx context.Context, userID string) ([]models.CloakerDomain, error) {
	return nil, nil
}

type stubVisitorRepo struct {
	repository.VisitorRepository
}

func (stubVisitorRepo) CreateBatch(ctx context.Context, visitors []models.CloakerVisitor) error {
	return nil
}

type stubGeo struct {
	lookup geoip.Lookup
}

func (s stubGeo) Lookup(ip string) geoip.Lookup { return s.lookup }
func (s stubGeo) Close() error                  { return nil }

func newClickRouter(t *testing.T, link *models.CloakedLink, geo geoip.Lookup) *gin.Engine {
	t.Helper()
	return newClickRouterWithRepo(t, &stubLinkRepo{link: link}, geo)
}

func newClickRouterWithRepo(t *testing.T, repo *stubLinkRepo, geo geoip.Lookup) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := getLogger()
	store := kv.NewMemoryStore()

	policySvc := policy.NewService(log, store, repo, stubDomainRepo{}, clickTestHost)
	limiterSvc := limiter.NewService(log, store, repo)
	writer := visitorlog.NewWriter(log, stubVisitorRepo{})
	dispatcher := webhook.NewDispatcher(log, &config.WebhookConfig{QueueSize: 4, Workers: 1, TimeoutSeconds: 1}, nil)
	t.Cleanup(func() {
		dispatcher.Close()
		writer.Close()
	})

	clickSvc := click.NewService(log, policySvc, stubGeo{lookup: geo}, scoring.NewEngine(),
		limiterSvc, decision.NewService(nil), dispatcher, writer)

	handler := NewClickHandler(&config.AppConfig{ClickDeadlineMs: 300}, clickSvc)
	r := gin.New()
	r.GET("/:slug", handler.Handle())
	return r
}

func activeLink() *models.CloakedLink {
	return &models.CloakedLink{
		ID:                 "link_1",
		UserID:             "user_1",
		Slug:               "promo",
		IsActive:           true,
		TargetURL:          "https://offer.example.com",
		SafeURL:            "https://decoy.example.com",
		Timezone:           "UTC",
		MinScore:           40,
		CollectFingerprint: true,
	}
}

func doClick(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = clickTestHost
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClickHandler_AllowedClickRedirects(t *testing.T) {
	r := newClickRouter(t, activeLink(), geoip.Lookup{CountryCode: "US"})

	w := doClick(r, "/promo")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://offer.example.com", w.Header().Get("Location"))
}

func TestClickHandler_UnknownSlugIs404(t *testing.T) {
	r := newClickRouter(t, activeLink(), geoip.Lookup{})

	w := doClick(r, "/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClickHandler_LowTrustTrafficSeesDecoy(t *testing.T) {
	r := newClickRouter(t, activeLink(), geoip.Lookup{CountryCode: "US", IsDatacenter: true, IsProxy: true})

	w := doClick(r, "/promo")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://decoy.example.com", w.Header().Get("Location"))
}

func TestClickHandler_BlockedClickIs403(t *testing.T) {
	link := activeLink()
	link.SafeURL = ""
	r := newClickRouter(t, link, geoip.Lookup{CountryCode: "US", IsDatacenter: true, IsProxy: true})

	w := doClick(r, "/promo")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClickHandler_StoreOutageIs403(t *testing.T) {
	repo := &stubLinkRepo{slugErr: errors.New("connection refused")}
	r := newClickRouterWithRepo(t, repo, geoip.Lookup{CountryCode: "US"})

	// the outage fails closed with the generic block response
	w := doClick(r, "/promo")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestClickHandler_DelayPageServedInline(t *testing.T) {
	link := activeLink()
	link.RedirectDelayMs = 500
	r := newClickRouter(t, link, geoip.Lookup{CountryCode: "US"})

	w := doClick(r, "/promo")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "https://offer.example.com")
	assert.Contains(t, w.Body.String(), "setTimeout")
}

func TestClickHandler_FingerprintCookieSet(t *testing.T) {
	r := newClickRouter(t, activeLink(), geoip.Lookup{CountryCode: "US"})

	bundle := "eyJmcCI6eyJjb21iaW5lZEhhc2giOiJhYmMxMjMifX0" // {"fp":{"combinedHash":"abc123"}}
	w := doClick(r, "/promo?_sb="+bundle)

	require.Equal(t, http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == "cfp" {
			found = true
			assert.Equal(t, "abc123", c.Value)
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "fingerprint cookie should be set")
}
