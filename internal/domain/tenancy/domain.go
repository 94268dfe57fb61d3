package tenancy

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
)

var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// DomainMapping is one resolvable key for a tenant, e.g. its subdomain,
// a local development alias or a production hostname.
// A key value maps to at most one tenant across the whole directory.
type DomainMapping struct {
	ID        snowflake.ID
	TenantID  snowflake.ID
	Domain    string
	IsPrimary bool
	CreatedAt time.Time
}

// NewDomainMapping validates and builds a mapping
func NewDomainMapping(id, tenantID snowflake.ID, domain string, primary bool, now time.Time) (*DomainMapping, error) {
	domain = NormalizeKey(domain)
	if domain == "" || len(domain) > 253 || !hostnamePattern.MatchString(domain) {
		return nil, shared.NewDomainError("INVALID_DOMAIN", "Domain must be a lowercase hostname")
	}
	return &DomainMapping{
		ID:        id,
		TenantID:  tenantID,
		Domain:    domain,
		IsPrimary: primary,
		CreatedAt: now,
	}, nil
}

// ValidKey reports whether a normalized request key could name a mapping.
// Keys failing this never reach the directory.
func ValidKey(key string) bool {
	return key != "" && len(key) <= 253 && hostnamePattern.MatchString(key)
}
