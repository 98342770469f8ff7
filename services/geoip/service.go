package geoip

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/logger"
)

// Lookup is the network intelligence attached to a click before scoring.
type Lookup struct {
	CountryCode string
	City        string
	ASN         uint
	ASNOrg      string

	IsDatacenter bool
	IsVPN        bool
	IsProxy      bool
	IsTor        bool
}

type Service interface {
	Lookup(ip string) Lookup
	Close() error
}

type service struct {
	log    logger.Logger
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader
	anonDB *geoip2.Reader
}

// NewService opens the MaxMind databases. A missing database degrades to
// empty lookups rather than failing startup, so the engine still serves
// with geo filters effectively disabled. The anonymous IP database is the
// authoritative VPN/Tor source; without it those flags fall back to the ASN
// organization heuristic.
func NewService(log logger.Logger, cfg *config.GeoIPConfig) (Service, error) {
	s := &service{log: log}

	cityDB, err := geoip2.Open(cfg.CityDBPath)
	if err != nil {
		log.Warnf("geoip city database unavailable at %s: %v", cfg.CityDBPath, err)
	} else {
		s.cityDB = cityDB
	}

	asnDB, err := geoip2.Open(cfg.ASNDBPath)
	if err != nil {
		log.Warnf("geoip asn database unavailable at %s: %v", cfg.ASNDBPath, err)
	} else {
		s.asnDB = asnDB
	}

	anonDB, err := geoip2.Open(cfg.AnonDBPath)
	if err != nil {
		log.Warnf("geoip anonymous ip database unavailable at %s: %v", cfg.AnonDBPath, err)
	} else {
		s.anonDB = anonDB
	}

	if s.cityDB == nil && s.asnDB == nil {
		return s, errors.New("no geoip database could be opened")
	}
	return s, nil
}

func (s *service) Lookup(ip string) Lookup {
	var out Lookup
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return out
	}

	if s.cityDB != nil {
		if city, err := s.cityDB.City(parsed); err == nil {
			out.CountryCode = city.Country.IsoCode
			if len(city.City.Names) > 0 {
				out.City = city.City.Names["en"]
			}
			out.IsProxy = city.Traits.IsAnonymousProxy
		}
	}

	if s.asnDB != nil {
		if asn, err := s.asnDB.ASN(parsed); err == nil {
			out.ASN = asn.AutonomousSystemNumber
			out.ASNOrg = asn.AutonomousSystemOrganization
			out.IsDatacenter = isHostingOrg(asn.AutonomousSystemOrganization)
			out.IsVPN = isVPNOrg(asn.AutonomousSystemOrganization)
		}
	}

	if s.anonDB != nil {
		if anon, err := s.anonDB.AnonymousIP(parsed); err == nil {
			out.IsVPN = out.IsVPN || anon.IsAnonymousVPN
			out.IsTor = anon.IsTorExitNode
			out.IsProxy = out.IsProxy || anon.IsPublicProxy || anon.IsResidentialProxy
			out.IsDatacenter = out.IsDatacenter || anon.IsHostingProvider
		}
	}
	return out
}

func (s *service) Close() error {
	var firstErr error
	if s.cityDB != nil {
		if err := s.cityDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.asnDB != nil {
		if err := s.asnDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.anonDB != nil {
		if err := s.anonDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// hostingOrgMarkers flags the AS organizations behind the bulk of
// datacenter-originated scanner and bot traffic.
var hostingOrgMarkers = []string{
	"amazon", "aws", "google cloud", "google llc", "microsoft", "azure",
	"digitalocean", "hetzner", "ovh", "linode", "vultr", "alibaba",
	"oracle", "scaleway", "contabo", "leaseweb", "hosting", "datacenter",
	"data center", "server", "cloud",
}

func isHostingOrg(org string) bool {
	return orgMatches(org, hostingOrgMarkers)
}

// vpnOrgMarkers covers the commercial VPN providers that announce their own
// AS space. The anonymous IP database supersedes this list when present.
var vpnOrgMarkers = []string{
	"vpn", "nordvpn", "expressvpn", "surfshark", "mullvad", "windscribe",
	"proton", "private internet access", "ivpn", "hidemyass", "cyberghost",
	"tunnelbear", "anonymizer",
}

func isVPNOrg(org string) bool {
	return orgMatches(org, vpnOrgMarkers)
}

func orgMatches(org string, markers []string) bool {
	if org == "" {
		return false
	}
	lower := strings.ToLower(org)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
