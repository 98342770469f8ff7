package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/enum"
	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testDomainConfig() *config.DomainConfig {
	return &config.DomainConfig{
		IngressIP:         "192.0.2.10",
		TXTPrefix:         "_cloaker",
		MinRecheckMinutes: 5,
	}
}

// fakeResolver answers from fixed record maps.
type fakeResolver struct {
	txt    map[string][]string
	hosts  map[string][]string
	txtErr error
}

func (r *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if r.txtErr != nil {
		return nil, r.txtErr
	}
	return r.txt[name], nil
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.hosts[host], nil
}

// fakeDomainRepo keeps domains in a map keyed by ID.
type fakeDomainRepo struct {
	repository.DomainRepository

	byID     map[string]*models.CloakerDomain
	defaults []string
}

func newFakeDomainRepo(domains ...*models.CloakerDomain) *fakeDomainRepo {
	repo := &fakeDomainRepo{byID: map[string]*models.CloakerDomain{}}
	for _, d := range domains {
		repo.byID[d.ID] = d
	}
	return repo
}

func (f *fakeDomainRepo) Register(ctx context.Context, domain *models.CloakerDomain) error {
	if domain.ID == "" {
		domain.ID = "domain_" + domain.Domain
	}
	if domain.VerificationToken == "" {
		domain.VerificationToken = "token-" + domain.Domain
	}
	domain.DNSStatus = enum.DNSStatusPending
	domain.SSLStatus = enum.SSLStatusPending
	f.byID[domain.ID] = domain
	return nil
}

func (f *fakeDomainRepo) GetByID(ctx context.Context, domainID string) (*models.CloakerDomain, error) {
	return f.byID[domainID], nil
}

func (f *fakeDomainRepo) GetByDomain(ctx context.Context, name string) (*models.CloakerDomain, error) {
	for _, d := range f.byID {
		if d.Domain == name {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeDomainRepo) UpdateStatus(ctx context.Context, domain *models.CloakerDomain) error {
	f.byID[domain.ID] = domain
	return nil
}

func (f *fakeDomainRepo) SetDefault(ctx context.Context, userID, domainID string) error {
	f.defaults = append(f.defaults, domainID)
	return nil
}

func newTestService(repo *fakeDomainRepo, resolver Resolver) *Service {
	return NewService(getLogger(), testDomainConfig(), &repository.Repositories{DomainRepository: repo}, resolver)
}

func pendingDomain() *models.CloakerDomain {
	return &models.CloakerDomain{
		ID:                "domain_1",
		UserID:            "user_1",
		Domain:            "go.example.com",
		VerificationToken: "tok-abc123",
		DNSStatus:         enum.DNSStatusPending,
		SSLStatus:         enum.SSLStatusPending,
	}
}

func TestRegister_NormalizesAndCreates(t *testing.T) {
	repo := newFakeDomainRepo()
	svc := newTestService(repo, &fakeResolver{})

	domain, err := svc.Register(context.Background(), "user_1", "HTTPS://Go.Example.COM/")
	require.NoError(t, err)
	assert.Equal(t, "go.example.com", domain.Domain)
	assert.NotEmpty(t, domain.VerificationToken)
	assert.Equal(t, enum.DNSStatusPending, domain.DNSStatus)
}

func TestRegister_RejectsInvalidName(t *testing.T) {
	svc := newTestService(newFakeDomainRepo(), &fakeResolver{})

	_, err := svc.Register(context.Background(), "user_1", "localhost")
	assert.ErrorIs(t, err, er.ErrInvalidConfiguration)

	_, err = svc.Register(context.Background(), "user_1", "")
	assert.ErrorIs(t, err, er.ErrInvalidConfiguration)
}

func TestRegister_IdempotentForSameUser(t *testing.T) {
	existing := pendingDomain()
	svc := newTestService(newFakeDomainRepo(existing), &fakeResolver{})

	domain, err := svc.Register(context.Background(), "user_1", "go.example.com")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, domain.ID)
}

func TestRegister_ConflictAcrossUsers(t *testing.T) {
	svc := newTestService(newFakeDomainRepo(pendingDomain()), &fakeResolver{})

	_, err := svc.Register(context.Background(), "user_2", "go.example.com")
	assert.ErrorIs(t, err, er.ErrDomainAlreadyRegistered)
}

func TestVerify_BothRecordsPresent(t *testing.T) {
	d := pendingDomain()
	repo := newFakeDomainRepo(d)
	resolver := &fakeResolver{
		txt:   map[string][]string{"_cloaker.go.example.com": {"  tok-abc123  "}},
		hosts: map[string][]string{"go.example.com": {"192.0.2.10"}},
	}
	svc := newTestService(repo, resolver)

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, enum.DNSStatusVerified, verified.DNSStatus)
	assert.Equal(t, enum.SSLStatusProvisioning, verified.SSLStatus)
	assert.NotNil(t, verified.VerifiedAt)
	assert.NotNil(t, verified.LastCheckAt)
}

func TestVerify_SSLAdvancesToActiveOnSecondCheck(t *testing.T) {
	d := pendingDomain()
	repo := newFakeDomainRepo(d)
	resolver := &fakeResolver{
		txt:   map[string][]string{"_cloaker.go.example.com": {"tok-abc123"}},
		hosts: map[string][]string{"go.example.com": {"192.0.2.10"}},
	}
	svc := newTestService(repo, resolver)

	_, err := svc.Recheck(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, enum.SSLStatusProvisioning, d.SSLStatus)

	_, err = svc.Recheck(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, enum.SSLStatusActive, d.SSLStatus)
}

func TestVerify_WrongTokenFails(t *testing.T) {
	d := pendingDomain()
	resolver := &fakeResolver{
		txt:   map[string][]string{"_cloaker.go.example.com": {"tok-wrong"}},
		hosts: map[string][]string{"go.example.com": {"192.0.2.10"}},
	}
	svc := newTestService(newFakeDomainRepo(d), resolver)

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.False(t, verified.IsVerified)
	assert.Equal(t, enum.DNSStatusFailed, verified.DNSStatus)
	assert.Equal(t, enum.SSLStatusPending, verified.SSLStatus)
}

func TestVerify_WrongIngressIPFails(t *testing.T) {
	d := pendingDomain()
	resolver := &fakeResolver{
		txt:   map[string][]string{"_cloaker.go.example.com": {"tok-abc123"}},
		hosts: map[string][]string{"go.example.com": {"198.51.100.1"}},
	}
	svc := newTestService(newFakeDomainRepo(d), resolver)

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.False(t, verified.IsVerified)
	assert.Equal(t, enum.DNSStatusFailed, verified.DNSStatus)
}

func TestVerify_ResolverErrorFails(t *testing.T) {
	d := pendingDomain()
	resolver := &fakeResolver{
		txtErr: errors.New("no such host"),
		hosts:  map[string][]string{"go.example.com": {"192.0.2.10"}},
	}
	svc := newTestService(newFakeDomainRepo(d), resolver)

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.False(t, verified.IsVerified)
}

func TestVerify_FailureRevokesVerification(t *testing.T) {
	now := time.Now().UTC().Add(-time.Hour)
	d := pendingDomain()
	d.IsVerified = true
	d.VerifiedAt = &now
	d.DNSStatus = enum.DNSStatusVerified
	d.SSLStatus = enum.SSLStatusProvisioning

	// records have since been removed
	svc := newTestService(newFakeDomainRepo(d), &fakeResolver{})

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.False(t, verified.IsVerified)
	assert.Nil(t, verified.VerifiedAt)
	assert.Equal(t, enum.SSLStatusPending, verified.SSLStatus)
}

func TestVerify_ThrottledInsideRecheckWindow(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Minute)
	d := pendingDomain()
	d.LastCheckAt = &recent
	svc := newTestService(newFakeDomainRepo(d), &fakeResolver{})

	_, err := svc.Verify(context.Background(), "user_1", "domain_1")
	assert.ErrorIs(t, err, er.ErrVerifyTooSoon)
}

func TestVerify_ActiveDomainShortCircuits(t *testing.T) {
	recent := time.Now().UTC()
	d := pendingDomain()
	d.IsVerified = true
	d.DNSStatus = enum.DNSStatusVerified
	d.SSLStatus = enum.SSLStatusActive
	d.LastCheckAt = &recent

	// resolver would fail, but the check never runs
	svc := newTestService(newFakeDomainRepo(d), &fakeResolver{txtErr: errors.New("down")})

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, enum.SSLStatusActive, verified.SSLStatus)
}

func TestVerify_ActiveDomainRefreshesLastCheck(t *testing.T) {
	old := time.Now().UTC().Add(-24 * time.Hour)
	d := pendingDomain()
	d.IsVerified = true
	d.DNSStatus = enum.DNSStatusVerified
	d.SSLStatus = enum.SSLStatusActive
	d.LastCheckAt = &old

	repo := newFakeDomainRepo(d)
	svc := newTestService(repo, &fakeResolver{txtErr: errors.New("down")})

	verified, err := svc.Verify(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)

	// the no-op check still stamps last_check_at
	require.NotNil(t, verified.LastCheckAt)
	assert.True(t, verified.LastCheckAt.After(old))
	assert.Equal(t, enum.SSLStatusActive, verified.SSLStatus)
}

func TestVerify_WrongUserIsNotFound(t *testing.T) {
	svc := newTestService(newFakeDomainRepo(pendingDomain()), &fakeResolver{})

	_, err := svc.Verify(context.Background(), "user_2", "domain_1")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)

	_, err = svc.Verify(context.Background(), "user_1", "domain_missing")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)
}

func TestSetDefault_RequiresVerifiedDomain(t *testing.T) {
	d := pendingDomain()
	repo := newFakeDomainRepo(d)
	svc := newTestService(repo, &fakeResolver{})

	err := svc.SetDefault(context.Background(), "user_1", "domain_1")
	assert.ErrorIs(t, err, er.ErrDomainNotVerified)

	d.IsVerified = true
	require.NoError(t, svc.SetDefault(context.Background(), "user_1", "domain_1"))
	assert.Equal(t, []string{"domain_1"}, repo.defaults)
}

// txDefaultRepo models the unset-then-set transaction the postgres
// repository runs for SetDefault.
type txDefaultRepo struct {
	*fakeDomainRepo

	mu        sync.Mutex
	isDefault map[string]bool
}

func (f *txDefaultRepo) SetDefault(ctx context.Context, userID, domainID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, d := range f.byID {
		if d.UserID == userID {
			f.isDefault[id] = false
		}
	}
	f.isDefault[domainID] = true
	return nil
}

func TestSetDefault_ConcurrentCallsLeaveOneDefault(t *testing.T) {
	d1 := pendingDomain()
	d1.IsVerified = true
	d2 := pendingDomain()
	d2.ID = "domain_2"
	d2.Domain = "promo.example.com"
	d2.IsVerified = true

	repo := &txDefaultRepo{fakeDomainRepo: newFakeDomainRepo(d1, d2), isDefault: map[string]bool{}}
	svc := NewService(getLogger(), testDomainConfig(), &repository.Repositories{DomainRepository: repo}, &fakeResolver{})

	var wg sync.WaitGroup
	for _, id := range []string{"domain_1", "domain_2"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(domainID string) {
				defer wg.Done()
				assert.NoError(t, svc.SetDefault(context.Background(), "user_1", domainID))
			}(id)
		}
	}
	wg.Wait()

	defaults := 0
	for _, isDefault := range repo.isDefault {
		if isDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestGet_EnforcesOwnership(t *testing.T) {
	svc := newTestService(newFakeDomainRepo(pendingDomain()), &fakeResolver{})

	domain, err := svc.Get(context.Background(), "user_1", "domain_1")
	require.NoError(t, err)
	assert.Equal(t, "go.example.com", domain.Domain)

	_, err = svc.Get(context.Background(), "user_2", "domain_1")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)
}
