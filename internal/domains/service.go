package domains

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
)

// VerificationPrefix is the TXT record prefix proving domain ownership. The
// full record is the prefix followed by the domain's verification token.
const VerificationPrefix = "relay-verify="

// ErrInvalidName is returned when a domain name is not registrable.
var ErrInvalidName = errors.New("invalid domain name")

var domainNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Resolver is the DNS surface verification needs. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Service provisions customer domains and checks their DNS records.
type Service struct {
	pool     *pgxpool.Pool
	resolver Resolver
	mxHost   string
	now      func() time.Time
}

// NewService creates a domain service. mxHost is the inbound MX target
// customers must point their domain at.
func NewService(pool *pgxpool.Pool, resolver Resolver, mxHost string) *Service {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Service{
		pool:     pool,
		resolver: resolver,
		mxHost:   normalizeHost(mxHost),
		now:      time.Now,
	}
}

// Register provisions a pending domain with a fresh verification token.
func (s *Service) Register(ctx context.Context, accountID, name string) (*models.Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !domainNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	domain := &models.Domain{
		AccountID:         accountID,
		Name:              name,
		VerificationToken: uuid.NewString(),
		Status:            models.DomainStatusPending,
	}

	if err := db.SaveDomain(ctx, s.pool, domain); err != nil {
		return nil, err
	}
	return domain, nil
}

// VerificationResult reports the outcome of one DNS check.
type VerificationResult struct {
	Domain *models.Domain `json:"domain"`
	TXTOK  bool           `json:"txt_ok"`
	MXOK   bool           `json:"mx_ok"`
}

// Verify checks the domain's TXT ownership record and MX target and updates
// its status. Verification can be retried any number of times; a previously
// verified domain that no longer has the records goes back to pending.
func (s *Service) Verify(ctx context.Context, accountID, domainID string) (*VerificationResult, error) {
	domain, err := db.GetDomainByID(ctx, s.pool, accountID, domainID)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{Domain: domain}
	result.TXTOK = s.checkTXT(ctx, domain)
	result.MXOK = s.checkMX(ctx, domain)

	status := models.DomainStatusPending
	if result.TXTOK && result.MXOK {
		status = models.DomainStatusVerified
	}

	checkedAt := s.now().UTC()
	if err := db.SetDomainStatus(ctx, s.pool, accountID, domainID, status, checkedAt); err != nil {
		return nil, err
	}

	domain.Status = status
	domain.LastCheckedAt = &checkedAt
	return result, nil
}

func (s *Service) checkTXT(ctx context.Context, domain *models.Domain) bool {
	records, err := s.resolver.LookupTXT(ctx, domain.Name)
	if err != nil {
		return false
	}

	want := VerificationPrefix + domain.VerificationToken
	for _, record := range records {
		if strings.TrimSpace(record) == want {
			return true
		}
	}
	return false
}

func (s *Service) checkMX(ctx context.Context, domain *models.Domain) bool {
	records, err := s.resolver.LookupMX(ctx, domain.Name)
	if err != nil {
		return false
	}

	for _, record := range records {
		if normalizeHost(record.Host) == s.mxHost {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
