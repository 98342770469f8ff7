package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrUserMissing       = errors.New("user is missing")
	ErrStoreUnavailable  = errors.New("backing store unavailable")
	ErrConnectionTimeout = errors.New("connection timeout")

	// policy errors
	ErrPolicyNotFound       = errors.New("policy not found")
	ErrInvalidConfiguration = errors.New("invalid link configuration")
	ErrNoDestination        = errors.New("link has no destination url")

	// scoring errors
	ErrSignalUnavailable = errors.New("signal bundle not available")

	// webhook errors
	ErrWebhookDeliveryFailed = errors.New("webhook delivery failed")
	ErrWebhookQueueFull      = errors.New("webhook queue full")

	// domain errors
	ErrDomainNotFound           = errors.New("domain not found")
	ErrDomainVerificationFailed = errors.New("domain verification failed")
	ErrVerifyTooSoon            = errors.New("domain was checked too recently")
	ErrDomainAlreadyRegistered  = errors.New("domain already registered")
	ErrDomainNotVerified        = errors.New("domain not verified")
)
