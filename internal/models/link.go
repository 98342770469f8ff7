package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/utils"
)

// WeightedTarget is one entry of a link's weighted destination set.
type WeightedTarget struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

type WeightedTargets []WeightedTarget

func (t WeightedTargets) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *WeightedTargets) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.Errorf("cannot scan %T into WeightedTargets", value)
		}
	}
	return json.Unmarshal(bytes, t)
}

// TotalWeight sums the weights; a set with total <= 0 is unusable.
func (t WeightedTargets) TotalWeight() int {
	total := 0
	for _, wt := range t {
		total += wt.Weight
	}
	return total
}

// ParamRules maps required URL parameter names to expected values. An empty
// expected value means "present with any value".
type ParamRules map[string]string

func (p ParamRules) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *ParamRules) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.Errorf("cannot scan %T into ParamRules", value)
		}
	}
	return json.Unmarshal(bytes, p)
}

// CloakedLink is the traffic policy for one cloaked slug. The decision engine
// only ever mutates its counters; everything else is owned by the management
// API.
type CloakedLink struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(50);index;not null" json:"userId"`
	Slug   string `gorm:"column:slug;type:varchar(255);uniqueIndex;not null" json:"slug"`

	IsActive bool `gorm:"column:is_active;not null;default:true" json:"isActive"`

	// Destinations
	SafeURL    string          `gorm:"column:safe_url;type:text" json:"safeUrl"`
	TargetURL  string          `gorm:"column:target_url;type:text" json:"targetUrl"`
	TargetURLs WeightedTargets `gorm:"column:target_urls;type:jsonb" json:"targetUrls,omitempty"`

	// Geo / device / referrer / language filters. Empty list means no
	// restriction, not "restrict to nothing".
	AllowedCountries pq.StringArray `gorm:"column:allowed_countries;type:text[]" json:"allowedCountries,omitempty"`
	BlockedCountries pq.StringArray `gorm:"column:blocked_countries;type:text[]" json:"blockedCountries,omitempty"`
	AllowedDevices   pq.StringArray `gorm:"column:allowed_devices;type:text[]" json:"allowedDevices,omitempty"`
	AllowedReferers  pq.StringArray `gorm:"column:allowed_referers;type:text[]" json:"allowedReferers,omitempty"`
	BlockedReferers  pq.StringArray `gorm:"column:blocked_referers;type:text[]" json:"blockedReferers,omitempty"`
	AllowedLanguages pq.StringArray `gorm:"column:allowed_languages;type:text[]" json:"allowedLanguages,omitempty"`
	BlockedLanguages pq.StringArray `gorm:"column:blocked_languages;type:text[]" json:"blockedLanguages,omitempty"`

	// URL parameter rules
	RequiredParams ParamRules     `gorm:"column:required_params;type:jsonb" json:"requiredParams,omitempty"`
	BlockedParams  pq.StringArray `gorm:"column:blocked_params;type:text[]" json:"blockedParams,omitempty"`

	// IP lists
	WhitelistIPs pq.StringArray `gorm:"column:whitelist_ips;type:text[]" json:"whitelistIps,omitempty"`
	BlacklistIPs pq.StringArray `gorm:"column:blacklist_ips;type:text[]" json:"blacklistIps,omitempty"`

	// Threat blocking
	BlockBots       bool `gorm:"column:block_bots;not null;default:true" json:"blockBots"`
	BlockVPN        bool `gorm:"column:block_vpn;not null;default:false" json:"blockVpn"`
	BlockProxy      bool `gorm:"column:block_proxy;not null;default:false" json:"blockProxy"`
	BlockDatacenter bool `gorm:"column:block_datacenter;not null;default:false" json:"blockDatacenter"`
	BlockTor        bool `gorm:"column:block_tor;not null;default:false" json:"blockTor"`

	// Scoring
	MinScore           int  `gorm:"column:min_score;not null;default:40" json:"minScore"`
	CollectFingerprint bool `gorm:"column:collect_fingerprint;not null;default:true" json:"collectFingerprint"`
	CollectBehavior    bool `gorm:"column:collect_behavior;not null;default:false" json:"collectBehavior"`
	BehaviorTimeMs     int  `gorm:"column:behavior_time_ms;not null;default:0" json:"behaviorTimeMs"`

	// Click quotas; counters are mutated only through atomic repository ops.
	MaxClicksDaily *int       `gorm:"column:max_clicks_daily" json:"maxClicksDaily,omitempty"`
	MaxClicksTotal *int       `gorm:"column:max_clicks_total" json:"maxClicksTotal,omitempty"`
	ClicksToday    int64      `gorm:"column:clicks_today;not null;default:0" json:"clicksToday"`
	ClicksCount    int64      `gorm:"column:clicks_count;not null;default:0" json:"clicksCount"`
	LastClickReset *time.Time `gorm:"column:last_click_reset;type:timestamp" json:"lastClickReset,omitempty"`

	// Allowed hours in link-local time; window wraps midnight when start > end.
	Timezone          string `gorm:"column:timezone;type:varchar(64);not null;default:'UTC'" json:"timezone"`
	AllowedHoursStart *int   `gorm:"column:allowed_hours_start" json:"allowedHoursStart,omitempty"`
	AllowedHoursEnd   *int   `gorm:"column:allowed_hours_end" json:"allowedHoursEnd,omitempty"`

	// Per-IP rate limit
	RateLimitPerIP         *int `gorm:"column:rate_limit_per_ip" json:"rateLimitPerIp,omitempty"`
	RateLimitWindowMinutes int  `gorm:"column:rate_limit_window_minutes;not null;default:10" json:"rateLimitWindowMinutes"`

	RedirectDelayMs int `gorm:"column:redirect_delay_ms;not null;default:0" json:"redirectDelayMs"`

	// Webhook settings
	WebhookURL     string         `gorm:"column:webhook_url;type:text" json:"webhookUrl"`
	WebhookEnabled bool           `gorm:"column:webhook_enabled;not null;default:false" json:"webhookEnabled"`
	WebhookEvents  pq.StringArray `gorm:"column:webhook_events;type:text[]" json:"webhookEvents,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (CloakedLink) TableName() string {
	return "cloaked_links"
}

func (l *CloakedLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = utils.GenerateNanoIDWithPrefix("link", 16)
	}
	return nil
}

// Validate enforces the structural invariants a policy must satisfy before
// it can serve traffic.
func (l *CloakedLink) Validate() error {
	if l.MinScore < 0 || l.MinScore > 100 {
		return errors.Wrap(er.ErrInvalidConfiguration, "min_score must be between 0 and 100")
	}
	if l.TargetURL == "" && len(l.TargetURLs) == 0 {
		return er.ErrNoDestination
	}
	if len(l.TargetURLs) > 0 && l.TargetURLs.TotalWeight() <= 0 {
		return errors.Wrap(er.ErrInvalidConfiguration, "target_urls weights must sum above zero")
	}
	if l.AllowedHoursStart != nil {
		if *l.AllowedHoursStart < 0 || *l.AllowedHoursStart > 23 {
			return errors.Wrap(er.ErrInvalidConfiguration, "allowed_hours_start out of range")
		}
	}
	if l.AllowedHoursEnd != nil {
		if *l.AllowedHoursEnd < 0 || *l.AllowedHoursEnd > 23 {
			return errors.Wrap(er.ErrInvalidConfiguration, "allowed_hours_end out of range")
		}
	}
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		return errors.Wrap(er.ErrInvalidConfiguration, "unknown timezone")
	}
	return nil
}

// Location resolves the link timezone, falling back to UTC.
func (l *CloakedLink) Location() *time.Location {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WantsEvent reports whether the link owner subscribed to the given webhook
// event type.
func (l *CloakedLink) WantsEvent(eventType string) bool {
	for _, e := range l.WebhookEvents {
		if e == eventType {
			return true
		}
	}
	return false
}
