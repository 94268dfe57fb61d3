package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/faithflows/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	// DefaultTenantHeader carries the tenant subdomain on API requests
	DefaultTenantHeader = "X-Tenant-Subdomain"
	// TenantQueryParam selects a tenant in development
	TenantQueryParam = "tenant"
)

// KeyExtractor pulls the raw tenant key out of a request. An empty string
// means the request carries none.
type KeyExtractor interface {
	Name() string
	Extract(r *http.Request) string
}

// HeaderExtractor reads the key from a request header
type HeaderExtractor struct {
	Header string
}

// Name implements KeyExtractor
func (e HeaderExtractor) Name() string { return "header" }

// Extract implements KeyExtractor
func (e HeaderExtractor) Extract(r *http.Request) string {
	header := e.Header
	if header == "" {
		header = DefaultTenantHeader
	}
	return strings.TrimSpace(r.Header.Get(header))
}

// HostExtractor derives the key from the Host header. Hosts under
// BaseDomain yield their first label ("grace.example.org" with base
// "example.org" yields "grace"); any other hostname is returned whole so
// custom domain mappings resolve.
type HostExtractor struct {
	BaseDomain string
}

// Name implements KeyExtractor
func (e HostExtractor) Name() string { return "host" }

// Extract implements KeyExtractor
func (e HostExtractor) Extract(r *http.Request) string {
	return keyFromHost(r.Host, e.BaseDomain)
}

func keyFromHost(host, baseDomain string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}
	baseDomain = strings.ToLower(strings.Trim(baseDomain, "."))
	if baseDomain == "" {
		return host
	}
	if host == baseDomain || host == "www."+baseDomain {
		return ""
	}
	subdomain, ok := strings.CutSuffix(host, "."+baseDomain)
	if !ok {
		return host
	}
	first, _, _ := strings.Cut(subdomain, ".")
	if first == "www" {
		return ""
	}
	return first
}

// QueryExtractor reads ?tenant=. Development only.
type QueryExtractor struct {
	Param string
}

// Name implements KeyExtractor
func (e QueryExtractor) Name() string { return "query" }

// Extract implements KeyExtractor
func (e QueryExtractor) Extract(r *http.Request) string {
	param := e.Param
	if param == "" {
		param = TenantQueryParam
	}
	return strings.TrimSpace(r.URL.Query().Get(param))
}

// ChainExtractor asks each extractor in order and returns the first key
// found. Later extractors are consulted only to report disagreement.
type ChainExtractor struct {
	extractors []KeyExtractor
	logger     *zap.Logger
}

// NewChainExtractor creates a chain; the first extractor has precedence
func NewChainExtractor(logger *zap.Logger, extractors ...KeyExtractor) *ChainExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainExtractor{extractors: extractors, logger: logger}
}

// Name implements KeyExtractor
func (e *ChainExtractor) Name() string { return "chain" }

// Extract implements KeyExtractor
func (e *ChainExtractor) Extract(r *http.Request) string {
	key, source := "", ""
	for _, ex := range e.extractors {
		candidate := ex.Extract(r)
		if candidate == "" {
			continue
		}
		if key == "" {
			key, source = candidate, ex.Name()
			if !e.logger.Core().Enabled(zap.DebugLevel) {
				return key
			}
			continue
		}
		if !strings.EqualFold(candidate, key) {
			e.logger.Debug("Tenant key sources disagree",
				zap.String("used", source),
				zap.String("ignored", ex.Name()),
				zap.String("used_key", key),
				zap.String("ignored_key", candidate))
		}
	}
	return key
}

// NewKeyExtractor builds the extraction chain from configuration: the
// header always, the query parameter outside production when enabled, and
// the host when a fallback is configured.
func NewKeyExtractor(cfg config.TenancyConfig, app config.AppConfig, logger *zap.Logger) KeyExtractor {
	extractors := []KeyExtractor{HeaderExtractor{Header: cfg.Header}}
	if cfg.QueryParam && !app.IsProduction() {
		extractors = append(extractors, QueryExtractor{})
	}
	if cfg.HostFallback || cfg.BaseDomain != "" {
		extractors = append(extractors, HostExtractor{BaseDomain: cfg.BaseDomain})
	}
	if len(extractors) == 1 {
		return extractors[0]
	}
	return NewChainExtractor(logger, extractors...)
}
