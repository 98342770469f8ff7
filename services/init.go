package services

import (
	"context"
	"net"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/kv"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/services/archive"
	"github.com/linkshield/cloaker/services/click"
	"github.com/linkshield/cloaker/services/decision"
	"github.com/linkshield/cloaker/services/domain"
	"github.com/linkshield/cloaker/services/events"
	"github.com/linkshield/cloaker/services/geoip"
	"github.com/linkshield/cloaker/services/limiter"
	"github.com/linkshield/cloaker/services/policy"
	"github.com/linkshield/cloaker/services/scoring"
	"github.com/linkshield/cloaker/services/visitorlog"
	"github.com/linkshield/cloaker/services/webhook"
)

type Services struct {
	PolicyService  *policy.Service
	GeoIPService   geoip.Service
	ScoringEngine  *scoring.Engine
	LimiterService *limiter.Service
	ClickService   *click.Service
	DomainService  *domain.Service
	ArchiveService *archive.Service
	Webhooks       *webhook.Dispatcher
	VisitorLog     *visitorlog.Writer
	Store          kv.Store
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var store kv.Store
	if cfg.AppConfig.RedisURL != "" {
		client, err := kv.Connect(context.Background(), cfg.AppConfig.RedisURL)
		if err != nil {
			return nil, err
		}
		store = kv.NewRedisStore(client)
	} else {
		log.Warn("REDIS_URL not set, using in-process key-value store")
		store = kv.NewMemoryStore()
	}

	// event fan-out is optional; without a broker only webhooks fire
	var publisher events.Publisher
	if cfg.AppConfig.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, err
		}
		publisher = rabbit
	}

	geoSvc, err := geoip.NewService(log, cfg.GeoIPConfig)
	if err != nil {
		log.Warnf("geoip running degraded: %v", err)
	}

	policySvc := policy.NewService(log, store, repos.LinkRepository, repos.DomainRepository, cfg.AppConfig.CanonicalHost)
	limiterSvc := limiter.NewService(log, store, repos.LinkRepository)
	webhooks := webhook.NewDispatcher(log, cfg.WebhookConfig, publisher)
	visitors := visitorlog.NewWriter(log, repos.VisitorRepository)

	clickSvc := click.NewService(
		log,
		policySvc,
		geoSvc,
		scoring.NewEngine(),
		limiterSvc,
		decision.NewService(nil),
		webhooks,
		visitors,
	)

	domainSvc := domain.NewService(log, cfg.DomainConfig, repos, net.DefaultResolver)

	var archiveSvc *archive.Service
	if cfg.ArchiveConfig.Enabled {
		r2, err := archive.NewR2Client(cfg.ArchiveConfig)
		if err != nil {
			return nil, err
		}
		archiveSvc = archive.NewService(log, cfg.ArchiveConfig, r2, repos.VisitorRepository)
	}

	return &Services{
		PolicyService:  policySvc,
		GeoIPService:   geoSvc,
		ScoringEngine:  scoring.NewEngine(),
		LimiterService: limiterSvc,
		ClickService:   clickSvc,
		DomainService:  domainSvc,
		ArchiveService: archiveSvc,
		Webhooks:       webhooks,
		VisitorLog:     visitors,
		Store:          store,
	}, nil
}

// Close shuts the async pipelines down in dependency order.
func (s *Services) Close() {
	if s.Webhooks != nil {
		s.Webhooks.Close()
	}
	if s.VisitorLog != nil {
		s.VisitorLog.Close()
	}
	if s.GeoIPService != nil {
		_ = s.GeoIPService.Close()
	}
}
