package click

import (
	"context"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/enum"
	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/kv"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/services/admission"
	"github.com/linkshield/cloaker/services/decision"
	"github.com/linkshield/cloaker/services/geoip"
	"github.com/linkshield/cloaker/services/limiter"
	"github.com/linkshield/cloaker/services/policy"
	"github.com/linkshield/cloaker/services/scoring"
	"github.com/linkshield/cloaker/services/visitorlog"
	"github.com/linkshield/cloaker/services/webhook"
)

const (
	canonicalHost = "click.cloaker.io"
	desktopUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type fakeLinkRepo struct {
	repository.LinkRepository

	mu          sync.Mutex
	link        *models.CloakedLink
	clicksToday int64
	clicksCount int64
	lastReset   time.Time
	getErr      error
	incrErr     error
}

func (f *fakeLinkRepo) GetBySlug(ctx context.Context, slug string) (*models.CloakedLink, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.link != nil && f.link.Slug == slug {
		return f.link, nil
	}
	return nil, nil
}

func (f *fakeLinkRepo) IncrementClickCounters(ctx context.Context, linkID string, maxDaily, maxTotal *int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return false, f.incrErr
	}
	if maxDaily != nil && f.clicksToday >= int64(*maxDaily) {
		return false, nil
	}
	if maxTotal != nil && f.clicksCount >= int64(*maxTotal) {
		return false, nil
	}
	f.clicksToday++
	f.clicksCount++
	return true, nil
}

func (f *fakeLinkRepo) ResetDailyCounterIfStale(ctx context.Context, linkID string, dayStart time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastReset.Before(dayStart) {
		f.clicksToday = 0
		f.lastReset = dayStart
		return true, nil
	}
	return false, nil
}

type fakeDomainRepo struct {
	repository.DomainRepository
}

func (fakeDomainRepo) GetVerifiedByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error) {
	return nil, nil
}

func (fakeDomainRepo) ListByUser(ctx context.Context, userID string) ([]models.CloakerDomain, error) {
	return nil, nil
}

type fakeVisitorRepo struct {
	repository.VisitorRepository

	mu       sync.Mutex
	visitors []models.CloakerVisitor
}

func (f *fakeVisitorRepo) CreateBatch(ctx context.Context, visitors []models.CloakerVisitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visitors = append(f.visitors, visitors...)
	return nil
}

func (f *fakeVisitorRepo) recorded() []models.CloakerVisitor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.CloakerVisitor, len(f.visitors))
	copy(out, f.visitors)
	return out
}

type fakeGeo struct {
	lookup geoip.Lookup
}

func (f fakeGeo) Lookup(ip string) geoip.Lookup { return f.lookup }
func (f fakeGeo) Close() error                  { return nil }

type clickFixture struct {
	svc         *Service
	linkRepo    *fakeLinkRepo
	visitorRepo *fakeVisitorRepo
	visitors    *visitorlog.Writer
	webhooks    *webhook.Dispatcher
}

func newFixture(t *testing.T, link *models.CloakedLink, geo geoip.Lookup) *clickFixture {
	t.Helper()
	log := getLogger()
	linkRepo := &fakeLinkRepo{link: link, clicksToday: link.ClicksToday, clicksCount: link.ClicksCount}
	if link.LastClickReset != nil {
		linkRepo.lastReset = *link.LastClickReset
	}
	visitorRepo := &fakeVisitorRepo{}
	store := kv.NewMemoryStore()

	policySvc := policy.NewService(log, store, linkRepo, fakeDomainRepo{}, canonicalHost)
	limiterSvc := limiter.NewService(log, store, linkRepo)
	decider := decision.NewService(nil)
	writer := visitorlog.NewWriter(log, visitorRepo)
	dispatcher := webhook.NewDispatcher(log, &config.WebhookConfig{
		QueueSize:      16,
		Workers:        1,
		TimeoutSeconds: 2,
	}, nil)

	svc := NewService(log, policySvc, fakeGeo{lookup: geo}, scoring.NewEngine(), limiterSvc, decider, dispatcher, writer)
	t.Cleanup(func() {
		dispatcher.Close()
		writer.Close()
	})
	return &clickFixture{
		svc:         svc,
		linkRepo:    linkRepo,
		visitorRepo: visitorRepo,
		visitors:    writer,
		webhooks:    dispatcher,
	}
}

// lastVisitor flushes the audit writer and returns the latest row.
func (f *clickFixture) lastVisitor(t *testing.T) models.CloakerVisitor {
	t.Helper()
	f.visitors.Close()
	rows := f.visitorRepo.recorded()
	require.NotEmpty(t, rows)
	return rows[len(rows)-1]
}

func encodeBundle(t *testing.T, payload string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func servableLink() *models.CloakedLink {
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

func cleanRequest() Request {
	return Request{
		Host:      canonicalHost,
		Slug:      "promo",
		IP:        "203.0.113.7",
		UserAgent: desktopUA,
		Referer:   "https://news.example.com/",
		Language:  "en-US",
		Query:     url.Values{"utm_source": {"newsletter"}},
	}
}

func TestProcess_CleanClickIsAllowed(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US", City: "Ashburn"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionAllow, result.Decision)
	assert.Equal(t, "https://offer.example.com", result.RedirectURL)
	assert.NotEmpty(t, result.VisitorID)

	visitor := f.lastVisitor(t)
	assert.Equal(t, enum.DecisionAllow, visitor.Decision)
	assert.Empty(t, visitor.BlockedBy)
	assert.Equal(t, "US", visitor.Country)
	assert.Equal(t, "desktop", visitor.Device)
	assert.Equal(t, "en", visitor.Language)
	assert.Equal(t, "newsletter", visitor.UTMSource)
	assert.Equal(t, result.VisitorID, visitor.ID)

	// the allowed click consumed one quota slot
	assert.Equal(t, int64(1), f.linkRepo.clicksCount)
}

func TestProcess_UnknownSlug(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{})

	req := cleanRequest()
	req.Slug = "missing"
	_, err := f.svc.Process(context.Background(), req)
	assert.ErrorIs(t, err, er.ErrPolicyNotFound)
}

func TestProcess_GeoBlockedClick(t *testing.T) {
	link := servableLink()
	link.BlockedCountries = pq.StringArray{"RU"}
	f := newFixture(t, link, geoip.Lookup{CountryCode: "RU"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Empty(t, result.RedirectURL)

	visitor := f.lastVisitor(t)
	assert.Equal(t, admission.FilterGeo, visitor.BlockedBy)
	// blocked traffic never consumes quota
	assert.Equal(t, int64(0), f.linkRepo.clicksCount)
}

func TestProcess_LowScoreServedSafePage(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US", IsDatacenter: true, IsProxy: true})

	// datacenter + proxy drags the network sub-score below min_score
	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionSafe, result.Decision)
	assert.Equal(t, "https://decoy.example.com", result.RedirectURL)

	visitor := f.lastVisitor(t)
	assert.Equal(t, admission.FilterScore, visitor.BlockedBy)
	assert.Equal(t, 15, visitor.FinalScore)
	// sub-threshold traffic never consumes quota
	assert.Equal(t, int64(0), f.linkRepo.clicksCount)
}

func TestProcess_BotBlockedWhenLinkBlocksBots(t *testing.T) {
	link := servableLink()
	link.BlockBots = true
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	req := cleanRequest()
	req.UserAgent = "python-requests/2.31"
	result, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Empty(t, result.RedirectURL)
	assert.Equal(t, admission.FilterThreat, f.lastVisitor(t).BlockedBy)
}

func TestProcess_SafeWithoutDecoyBecomesBlock(t *testing.T) {
	link := servableLink()
	link.SafeURL = ""
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US", IsDatacenter: true, IsProxy: true})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Empty(t, result.RedirectURL)
}

func TestProcess_ExhaustedQuotaBlocks(t *testing.T) {
	total := 5
	link := servableLink()
	link.MaxClicksTotal = &total
	link.ClicksCount = 5
	now := time.Now().UTC()
	link.LastClickReset = &now
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Equal(t, admission.FilterQuotaTotal, f.lastVisitor(t).BlockedBy)
}

func TestProcess_DailyQuotaResetsOnNewDay(t *testing.T) {
	daily := 1
	link := servableLink()
	link.MaxClicksDaily = &daily
	link.ClicksToday = 1
	stale := time.Now().UTC().Add(-26 * time.Hour)
	link.LastClickReset = &stale
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	// the stale counter resets lazily, so the first click of the new day passes
	assert.Equal(t, enum.DecisionAllow, result.Decision)
	assert.Equal(t, "https://offer.example.com", result.RedirectURL)
	assert.Equal(t, int64(1), f.linkRepo.clicksToday)
}

func TestProcess_DailyQuotaBlocksWithinSameDay(t *testing.T) {
	daily := 1
	link := servableLink()
	link.MaxClicksDaily = &daily
	link.ClicksToday = 1
	now := time.Now().UTC()
	link.LastClickReset = &now
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Equal(t, admission.FilterQuotaDaily, f.lastVisitor(t).BlockedBy)
	assert.Equal(t, int64(1), f.linkRepo.clicksToday)
}

func TestProcess_QuotaStoreErrorFailsClosed(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US"})
	f.linkRepo.incrErr = errors.New("connection refused")

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	assert.Empty(t, result.RedirectURL)
	assert.Equal(t, admission.FilterStoreError, f.lastVisitor(t).BlockedBy)
}

func TestProcess_PolicyStoreErrorSurfacesTyped(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US"})
	f.linkRepo.getErr = errors.New("connection refused")

	_, err := f.svc.Process(context.Background(), cleanRequest())
	assert.ErrorIs(t, err, er.ErrStoreUnavailable)
}

func TestProcess_BehaviorIgnoredWhenCollectionDisabled(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US"})

	// a dismal behavior section cannot drag the score on a link that does
	// not collect behavior
	req := cleanRequest()
	req.SignalRaw = encodeBundle(t, `{"behavior":{"dwellMs":1,"scrolls":0}}`)
	result, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionAllow, result.Decision)
	_, scored := f.lastVisitor(t).SubScores[scoring.SignalBehavior]
	assert.False(t, scored)
}

func TestProcess_DeadlineOverrunDowngradesToSafe(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US"})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel()

	result, err := f.svc.Process(ctx, cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionSafe, result.Decision)
	assert.Equal(t, "https://decoy.example.com", result.RedirectURL)
	assert.Equal(t, "deadline", f.lastVisitor(t).BlockedBy)
	// the downgraded click never claimed quota
	assert.Equal(t, int64(0), f.linkRepo.clicksCount)
}

func TestProcess_VPNTrafficBlockedWhenOptedIn(t *testing.T) {
	link := servableLink()
	link.BlockVPN = true
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US", IsVPN: true})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionBlock, result.Decision)
	visitor := f.lastVisitor(t)
	assert.Equal(t, admission.FilterThreat, visitor.BlockedBy)
	assert.True(t, visitor.IsVPN)
}

func TestProcess_WhitelistedIPBypassesScoring(t *testing.T) {
	link := servableLink()
	link.WhitelistIPs = pq.StringArray{"203.0.113.7"}
	link.BlockBots = true
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	req := cleanRequest()
	req.UserAgent = "curl/8.4.0"
	result, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionAllow, result.Decision)
	assert.Equal(t, "https://offer.example.com", result.RedirectURL)
}

func TestProcess_HeadlessSignalOverridesScoreToZero(t *testing.T) {
	link := servableLink()
	link.BlockBots = false
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	req := cleanRequest()
	req.SignalRaw = encodeBundle(t, `{"automation":{"headlessUa":true}}`)
	result, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, enum.DecisionSafe, result.Decision)
	visitor := f.lastVisitor(t)
	assert.Equal(t, 0, visitor.FinalScore)
	assert.True(t, visitor.IsHeadless)
}

func TestProcess_MalformedBundleStillServes(t *testing.T) {
	f := newFixture(t, servableLink(), geoip.Lookup{CountryCode: "US"})

	req := cleanRequest()
	req.SignalRaw = "!!!garbage!!!"
	result, err := f.svc.Process(context.Background(), req)
	require.NoError(t, err)

	// a clean UA with no bundle still scores on network signals alone
	assert.Equal(t, enum.DecisionAllow, result.Decision)
}

func TestProcess_RedirectDelayPassedThrough(t *testing.T) {
	link := servableLink()
	link.RedirectDelayMs = 250
	f := newFixture(t, link, geoip.Lookup{CountryCode: "US"})

	result, err := f.svc.Process(context.Background(), cleanRequest())
	require.NoError(t, err)
	assert.Equal(t, 250, result.DelayMs)
}
