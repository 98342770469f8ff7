package handlers

import (
	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/services"
)

type APIHandlers struct {
	Click    *ClickHandler
	Links    *LinksHandler
	Domains  *DomainsHandler
	Visitors *VisitorsHandler
}

func InitHandlers(cfg *config.Config, s *services.Services, repos *repository.Repositories) *APIHandlers {
	return &APIHandlers{
		Click:    NewClickHandler(cfg.AppConfig, s.ClickService),
		Links:    NewLinksHandler(repos, s.PolicyService),
		Domains:  NewDomainsHandler(s.DomainService),
		Visitors: NewVisitorsHandler(repos),
	}
}
