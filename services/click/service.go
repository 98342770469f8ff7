package click

import (
	"context"
	"net/url"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"

	"github.com/linkshield/cloaker/dto"
	"github.com/linkshield/cloaker/internal/enum"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
	"github.com/linkshield/cloaker/services/admission"
	"github.com/linkshield/cloaker/services/decision"
	"github.com/linkshield/cloaker/services/geoip"
	"github.com/linkshield/cloaker/services/limiter"
	"github.com/linkshield/cloaker/services/policy"
	"github.com/linkshield/cloaker/services/scoring"
	"github.com/linkshield/cloaker/services/visitorlog"
	"github.com/linkshield/cloaker/services/webhook"
)

// Request is one incoming click, already stripped of HTTP specifics.
type Request struct {
	Host      string
	Slug      string
	IP        string
	UserAgent string
	Referer   string
	Language  string
	SignalRaw string
	Query     url.Values
}

// Result tells the handler what to serve. An empty RedirectURL means the
// block response; DelayMs is honored client-side before following the
// redirect.
type Result struct {
	Decision        enum.Decision
	RedirectURL     string
	DelayMs         int
	VisitorID       string
	FingerprintHash string
}

type Service struct {
	log      logger.Logger
	policy   *policy.Service
	geo      geoip.Service
	engine   *scoring.Engine
	limiter  *limiter.Service
	decider  *decision.Service
	webhooks *webhook.Dispatcher
	visitors *visitorlog.Writer
}

func NewService(
	log logger.Logger,
	policySvc *policy.Service,
	geo geoip.Service,
	engine *scoring.Engine,
	limiterSvc *limiter.Service,
	decider *decision.Service,
	webhooks *webhook.Dispatcher,
	visitors *visitorlog.Writer,
) *Service {
	return &Service{
		log:      log,
		policy:   policySvc,
		geo:      geo,
		engine:   engine,
		limiter:  limiterSvc,
		decider:  decider,
		webhooks: webhooks,
		visitors: visitors,
	}
}

// Process classifies one click end to end: policy lookup, network and
// signal enrichment, admission filters, scoring, quota claim, destination
// draw, and finally the audit row and webhook, both off the critical path.
//
// A context past its deadline downgrades the decision to the safe page
// rather than stalling the visitor; evaluation never fails open.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ClickService.Process")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("slug", req.Slug)

	started := time.Now()

	link, err := s.policy.GetPolicy(ctx, req.Host, req.Slug)
	if err != nil {
		tracing.TraceErr(span, err)
		return Result{}, err
	}

	geo := s.geo.Lookup(req.IP)
	bundle, bundleErr := scoring.ParseSignalBundle(req.SignalRaw)
	if bundleErr != nil {
		bundle = nil
	}

	device := scoring.DetectDevice(req.UserAgent)
	threats := scoring.DetectThreats(req.UserAgent, bundle)
	isBlacklisted := utils.IsStringInSlice(req.IP, link.BlacklistIPs)

	visit := admission.Visit{
		IP:               req.IP,
		Country:          geo.CountryCode,
		Device:           device,
		Referer:          req.Referer,
		Language:         utils.NormalizeLanguage(req.Language),
		Params:           req.Query,
		Now:              utils.Now(),
		IsBot:            threats.IsBot,
		IsHeadless:       threats.IsHeadless,
		IsAutomationTool: threats.IsAutomationTool,
		IsVPN:            geo.IsVPN,
		IsProxy:          geo.IsProxy,
		IsDatacenter:     geo.IsDatacenter,
		IsTor:            geo.IsTor,
		RateLimited:      s.limiter.IsRateLimited(ctx, link, req.IP),
	}
	if exceeded, scope := s.limiter.QuotaExceeded(link); exceeded {
		visit.QuotaFilter = admission.FilterQuotaDaily
		if scope == limiter.QuotaScopeTotal {
			visit.QuotaFilter = admission.FilterQuotaTotal
		}
	}

	outcome := admission.Evaluate(link, visit)

	var subscores map[string]*int
	composite, final := 0, 0
	if outcome.Decision != enum.DecisionBlock {
		if bundle != nil && !link.CollectBehavior {
			// the link does not collect behavior, so never score it
			bundle.Behavior = nil
		}
		subscores = s.engine.Evaluate(scoring.ScoreInput{
			Bundle:       bundle,
			UserAgent:    req.UserAgent,
			MinDwellMs:   link.BehaviorTimeMs,
			IsDatacenter: geo.IsDatacenter,
			IsVPN:        geo.IsVPN,
			IsProxy:      geo.IsProxy,
			IsTor:        geo.IsTor,
		})
		composite = s.engine.Composite(subscores)
		final = scoring.FinalScore(composite, scoring.Overrides{
			IsBlacklisted:    isBlacklisted,
			IsHeadless:       threats.IsHeadless,
			IsAutomationTool: threats.IsAutomationTool,
		})
		outcome = admission.ApplyScore(link, visit, outcome, final)
	}

	// deadline overrun downgrades to the decoy, never an open gate
	if ctx.Err() != nil && outcome.Decision == enum.DecisionAllow && !outcome.Bypassed {
		outcome = admission.Outcome{Decision: enum.DecisionSafe, BlockedBy: "deadline"}
		span.LogFields(tracingLog.Bool("result.deadlineExceeded", true))
	}

	if outcome.Decision == enum.DecisionAllow {
		claimed, err := s.limiter.ConsumeQuota(detach(ctx), link)
		if err != nil {
			tracing.TraceErr(span, err)
			// a quota store outage fails closed
			outcome = admission.Outcome{Decision: enum.DecisionBlock, BlockedBy: admission.FilterStoreError}
		} else if !claimed {
			reason := admission.FilterQuotaDaily
			if link.MaxClicksTotal != nil && link.ClicksCount >= int64(*link.MaxClicksTotal) {
				reason = admission.FilterQuotaTotal
			}
			outcome = admission.Outcome{Decision: enum.DecisionBlock, BlockedBy: reason}
		}
	}

	result := Result{Decision: outcome.Decision}
	switch outcome.Decision {
	case enum.DecisionAllow:
		target, err := s.decider.PickTarget(link)
		if err != nil {
			tracing.TraceErr(span, err)
			result.Decision = enum.DecisionBlock
			outcome = admission.Outcome{Decision: enum.DecisionBlock, BlockedBy: admission.FilterNoTarget}
		} else {
			result.RedirectURL = target
			result.DelayMs = link.RedirectDelayMs
		}
	case enum.DecisionSafe:
		safe := s.decider.SafeTarget(link)
		if safe == "" {
			// no decoy configured, the block page is the fallback
			result.Decision = enum.DecisionBlock
			outcome.Decision = enum.DecisionBlock
		} else {
			result.RedirectURL = safe
		}
	}

	visitor := s.buildVisitor(link, req, visit, geo, outcome, bundle, subscores, composite, final, result.RedirectURL, isBlacklisted)
	visitor.ProcessingMs = time.Since(started).Milliseconds()
	s.visitors.Record(*visitor)
	result.VisitorID = visitor.ID
	if link.CollectFingerprint {
		result.FingerprintHash = visitor.FingerprintHash
	}

	s.notify(detach(ctx), link, visitor)

	span.LogFields(
		tracingLog.String("result.decision", result.Decision.String()),
		tracingLog.String("result.blockedBy", outcome.BlockedBy),
		tracingLog.Int("result.score", final),
	)
	return result, nil
}

func (s *Service) buildVisitor(
	link *models.CloakedLink,
	req Request,
	visit admission.Visit,
	geo geoip.Lookup,
	outcome admission.Outcome,
	bundle *scoring.SignalBundle,
	subscores map[string]*int,
	composite, final int,
	redirectURL string,
	isBlacklisted bool,
) *models.CloakerVisitor {
	visitor := &models.CloakerVisitor{
		ID:               utils.GenerateNanoIDWithPrefix("visitor", 16),
		LinkID:           link.ID,
		FingerprintHash:  bundle.FingerprintHash(),
		CompositeScore:   composite,
		FinalScore:       final,
		SubScores:        scoring.Present(subscores),
		Decision:         outcome.Decision,
		BlockedBy:        outcome.BlockedBy,
		IP:               req.IP,
		Country:          geo.CountryCode,
		City:             geo.City,
		ISP:              geo.ASNOrg,
		ASN:              geo.ASN,
		IsBot:            visit.IsBot,
		IsHeadless:       visit.IsHeadless,
		IsAutomationTool: visit.IsAutomationTool,
		IsVPN:            visit.IsVPN,
		IsProxy:          visit.IsProxy,
		IsDatacenter:     visit.IsDatacenter,
		IsTor:            visit.IsTor,
		IsBlacklisted:    isBlacklisted,
		UserAgent:        req.UserAgent,
		Device:           visit.Device.String(),
		Language:         visit.Language,
		Referer:          req.Referer,
		UTMSource:        req.Query.Get("utm_source"),
		UTMMedium:        req.Query.Get("utm_medium"),
		RedirectURL:      redirectURL,
		CreatedAt:        utils.Now(),
	}
	return visitor
}

func (s *Service) notify(ctx context.Context, link *models.CloakedLink, visitor *models.CloakerVisitor) {
	eventType := enum.EventBlock
	if visitor.Decision == enum.DecisionAllow {
		eventType = enum.EventAllow
	}

	wanted := link.WebhookEnabled && (len(link.WebhookEvents) == 0 ||
		link.WantsEvent(eventType.String()) || link.WantsEvent(enum.EventClick.String()))

	event := dto.ClickEvent{
		EventType:   eventType,
		LinkID:      link.ID,
		Slug:        link.Slug,
		VisitorID:   visitor.ID,
		Decision:    visitor.Decision,
		BlockedBy:   visitor.BlockedBy,
		Score:       visitor.FinalScore,
		IP:          visitor.IP,
		CountryCode: visitor.Country,
		City:        visitor.City,
		Device:      visitor.Device,
		UserAgent:   visitor.UserAgent,
		Referer:     visitor.Referer,
		RedirectURL: visitor.RedirectURL,
		Timestamp:   visitor.CreatedAt.Format(time.RFC3339),
	}

	delivery := webhook.Delivery{Event: event}
	if wanted {
		delivery.URL = link.WebhookURL
	}
	if err := s.webhooks.Enqueue(ctx, delivery); err != nil {
		s.log.Warnf("webhook enqueue failed for link %s: %v", link.ID, err)
	}
}

// detach keeps the span but drops the deadline, for work that must finish
// even when the request budget is spent.
func detach(ctx context.Context) context.Context {
	return opentracing.ContextWithSpan(context.Background(), opentracing.SpanFromContext(ctx))
}
