package dto

import (
	"github.com/linkshield/cloaker/internal/enum"
)

// ClickEvent is the payload delivered to webhook subscribers and fanned out
// on the event exchange for every processed click.
type ClickEvent struct {
	EventType enum.EventType `json:"eventType"`
	LinkID    string         `json:"linkId"`
	Slug      string         `json:"slug"`
	VisitorID string         `json:"visitorId"`

	Decision  enum.Decision `json:"decision"`
	BlockedBy string        `json:"blockedBy,omitempty"`
	Score     int           `json:"score"`

	IP          string `json:"ip"`
	CountryCode string `json:"countryCode,omitempty"`
	City        string `json:"city,omitempty"`
	Device      string `json:"device,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Referer     string `json:"referer,omitempty"`

	RedirectURL string `json:"redirectUrl,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Event is the envelope every message on the event exchange is wrapped in.
type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

type EventDetails struct {
	Id        string      `json:"id"`
	EntityId  string      `json:"entityId"`
	EventType string      `json:"eventType"`
	Data      interface{} `json:"data"`
}

type EventMetadata struct {
	UberTraceId string `json:"uberTraceId"`
	Timestamp   string `json:"timestamp"`
}
