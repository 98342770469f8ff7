package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/enum"
	"github.com/linkshield/cloaker/internal/utils"
)

// SubScores keeps the per-signal sub-scores that fed a decision. A missing
// key means the signal was unavailable, not that it scored zero.
type SubScores map[string]int

func (s SubScores) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SubScores) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return errors.Errorf("cannot scan %T into SubScores", value)
		}
	}
	return json.Unmarshal(bytes, s)
}

// CloakerVisitor is one classified click. Rows are append-only; nothing
// updates them after creation.
type CloakerVisitor struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	LinkID string `gorm:"column:link_id;type:varchar(50);index;not null" json:"linkId"`

	FingerprintHash string        `gorm:"column:fingerprint_hash;type:varchar(128);index" json:"fingerprintHash"`
	CompositeScore  int           `gorm:"column:composite_score;not null" json:"compositeScore"`
	FinalScore      int           `gorm:"column:final_score;not null" json:"finalScore"`
	SubScores       SubScores     `gorm:"column:sub_scores;type:jsonb" json:"subScores,omitempty"`
	Decision        enum.Decision `gorm:"column:decision;type:varchar(20);index;not null" json:"decision"`
	BlockedBy       string        `gorm:"column:blocked_by;type:varchar(50)" json:"blockedBy,omitempty"`

	// Network / geo metadata
	IP      string `gorm:"column:ip;type:varchar(64);index" json:"ip"`
	Country string `gorm:"column:country;type:varchar(8)" json:"country"`
	City    string `gorm:"column:city;type:varchar(128)" json:"city"`
	ISP     string `gorm:"column:isp;type:varchar(255)" json:"isp"`
	ASN     uint   `gorm:"column:asn" json:"asn"`

	// Threat flags
	IsBot            bool `gorm:"column:is_bot;not null;default:false" json:"isBot"`
	IsHeadless       bool `gorm:"column:is_headless;not null;default:false" json:"isHeadless"`
	IsAutomationTool bool `gorm:"column:is_automation_tool;not null;default:false" json:"isAutomationTool"`
	IsVPN            bool `gorm:"column:is_vpn;not null;default:false" json:"isVpn"`
	IsProxy          bool `gorm:"column:is_proxy;not null;default:false" json:"isProxy"`
	IsDatacenter     bool `gorm:"column:is_datacenter;not null;default:false" json:"isDatacenter"`
	IsTor            bool `gorm:"column:is_tor;not null;default:false" json:"isTor"`
	IsBlacklisted    bool `gorm:"column:is_blacklisted;not null;default:false" json:"isBlacklisted"`

	UserAgent string `gorm:"column:user_agent;type:text" json:"userAgent"`
	Device    string `gorm:"column:device;type:varchar(20)" json:"device"`
	Language  string `gorm:"column:language;type:varchar(16)" json:"language"`
	Referer   string `gorm:"column:referer;type:text" json:"referer"`
	UTMSource string `gorm:"column:utm_source;type:varchar(255)" json:"utmSource"`
	UTMMedium string `gorm:"column:utm_medium;type:varchar(255)" json:"utmMedium"`

	RedirectURL  string `gorm:"column:redirect_url;type:text" json:"redirectUrl"`
	ProcessingMs int64  `gorm:"column:processing_ms;not null;default:0" json:"processingMs"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;index;default:current_timestamp" json:"createdAt"`
}

func (CloakerVisitor) TableName() string {
	return "cloaker_visitors"
}

func (v *CloakerVisitor) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = utils.GenerateNanoIDWithPrefix("visitor", 16)
	}
	return nil
}
