package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/enum"
	"github.com/linkshield/cloaker/internal/utils"
)

// CloakerDomain is a custom domain bound to a user's links. At most one
// domain per user may be the default at any time.
type CloakerDomain struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(50);index;not null" json:"userId"`
	Domain string `gorm:"column:domain;type:varchar(255);uniqueIndex;not null" json:"domain"`

	IsVerified bool `gorm:"column:is_verified;not null;default:false" json:"isVerified"`
	IsDefault  bool `gorm:"column:is_default;not null;default:false" json:"isDefault"`

	VerificationToken string         `gorm:"column:verification_token;type:varchar(128);not null" json:"verificationToken"`
	DNSStatus         enum.DNSStatus `gorm:"column:dns_status;type:varchar(20);not null;default:'pending'" json:"dnsStatus"`
	SSLStatus         enum.SSLStatus `gorm:"column:ssl_status;type:varchar(20);not null;default:'pending'" json:"sslStatus"`

	LastCheckAt *time.Time `gorm:"column:last_check_at;type:timestamp" json:"lastCheckAt,omitempty"`
	VerifiedAt  *time.Time `gorm:"column:verified_at;type:timestamp" json:"verifiedAt,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (CloakerDomain) TableName() string {
	return "cloaker_domains"
}

func (d *CloakerDomain) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("domain", 16)
	}
	if d.VerificationToken == "" {
		d.VerificationToken = utils.GenerateVerificationToken()
	}
	return nil
}
