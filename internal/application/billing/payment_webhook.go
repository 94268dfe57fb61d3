package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Webhook event types acted upon
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// DefaultReferenceTTL is how long a processed payment reference is remembered
const DefaultReferenceTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidSignature is returned when the payload does not match its signature
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrInvalidPayload is returned for bodies that are not a webhook event
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// SubscriptionUpgrader activates a paid plan for a tenant
type SubscriptionUpgrader interface {
	Upgrade(ctx context.Context, id snowflake.ID, plan tenancy.Plan, cycle tenancy.BillingCycle) (*tenancyapp.TenantDTO, error)
}

// PaymentWebhookService verifies and applies payment provider webhooks
type PaymentWebhookService struct {
	secret   []byte
	upgrader SubscriptionUpgrader
	store    shared.IdempotencyStore
	ttl      time.Duration
	logger   *zap.Logger
}

// PaymentWebhookServiceConfig contains configuration for PaymentWebhookService
type PaymentWebhookServiceConfig struct {
	WebhookSecret string
	Upgrader      SubscriptionUpgrader
	Store         shared.IdempotencyStore
	ReferenceTTL  time.Duration
	Logger        *zap.Logger
}

// NewPaymentWebhookService creates a new PaymentWebhookService
func NewPaymentWebhookService(cfg PaymentWebhookServiceConfig) *PaymentWebhookService {
	ttl := cfg.ReferenceTTL
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentWebhookService{
		secret:   []byte(cfg.WebhookSecret),
		upgrader: cfg.Upgrader,
		store:    cfg.Store,
		ttl:      ttl,
		logger:   logger,
	}
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	Event            string `json:"event"`
	Reference        string `json:"reference,omitempty"`
	Processed        bool   `json:"processed"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Message          string `json:"message,omitempty"`
}

type webhookEvent struct {
	Event string      `json:"event"`
	Data  chargeEvent `json:"data"`
}

type chargeEvent struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  chargeMetadata  `json:"metadata"`
}

type chargeMetadata struct {
	TenantID string `json:"tenant_id"`
	Plan     string `json:"plan"`
	Duration string `json:"duration"`
}

// Verify reports whether signature is the hex HMAC-SHA512 of payload
func (s *PaymentWebhookService) Verify(payload []byte, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// ProcessWebhook verifies a webhook and applies it. A nil result means the
// signature or body was rejected. A result together with an error wrapping
// ErrInvalidPayload marks a verified event that retrying cannot fix; any
// other error is transient and the payment reference stays unclaimed.
func (s *PaymentWebhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if !s.Verify(payload, signature) {
		s.logger.Warn("Rejected payment webhook with bad signature")
		return nil, ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.Event == "" {
		return nil, ErrInvalidPayload
	}

	result := &WebhookResult{Event: event.Event, Reference: event.Data.Reference}
	switch event.Event {
	case EventChargeSuccess:
		return s.handleChargeSuccess(ctx, event.Data, result)
	case EventChargeFailed:
		s.logger.Warn("Payment failed",
			zap.String("reference", event.Data.Reference),
			zap.String("tenant_id", event.Data.Metadata.TenantID))
		result.Message = "Payment failure recorded"
	default:
		s.logger.Debug("Unhandled webhook event type", zap.String("event_type", event.Event))
		result.Message = "Event type not handled"
	}
	return result, nil
}

func (s *PaymentWebhookService) handleChargeSuccess(ctx context.Context, charge chargeEvent, result *WebhookResult) (*WebhookResult, error) {
	if charge.Reference == "" {
		result.Message = "Missing payment reference"
		return result, fmt.Errorf("%w: missing reference", ErrInvalidPayload)
	}
	tenantID, plan, cycle, err := charge.Metadata.parse()
	if err != nil {
		s.logger.Warn("Payment webhook carries unusable metadata",
			zap.String("reference", charge.Reference),
			zap.Error(err))
		result.Message = "Payment metadata is incomplete"
		return result, err
	}

	key := "payment:" + charge.Reference
	fresh, err := s.store.MarkProcessed(ctx, key, s.ttl)
	if err != nil {
		return result, fmt.Errorf("failed to record payment reference: %w", err)
	}
	if !fresh {
		result.AlreadyProcessed = true
		result.Message = "Payment already processed"
		return result, nil
	}

	if _, err := s.upgrader.Upgrade(ctx, tenantID, plan, cycle); err != nil {
		if ferr := s.store.Forget(ctx, key); ferr != nil {
			s.logger.Error("Failed to release payment reference", zap.String("reference", charge.Reference), zap.Error(ferr))
		}
		s.logger.Error("Failed to activate subscription",
			zap.String("reference", charge.Reference),
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			result.Message = "Tenant not found"
			return result, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return result, err
	}

	s.logger.Info("Subscription activated by payment",
		zap.String("reference", charge.Reference),
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan", string(plan)),
		zap.String("cycle", string(cycle)),
		zap.String("amount", MinorToMajor(charge.Amount).StringFixed(2)),
		zap.String("currency", charge.Currency))

	result.Processed = true
	result.Message = "Subscription activated"
	return result, nil
}

func (m chargeMetadata) parse() (snowflake.ID, tenancy.Plan, tenancy.BillingCycle, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(m.TenantID))
	if err != nil || id <= 0 {
		return 0, "", "", fmt.Errorf("%w: tenant_id", ErrInvalidPayload)
	}
	plan := tenancy.Plan(strings.ToLower(strings.TrimSpace(m.Plan)))
	if !plan.IsValid() || plan == tenancy.PlanTrial {
		return 0, "", "", fmt.Errorf("%w: plan %q", ErrInvalidPayload, m.Plan)
	}
	cycle := tenancy.BillingCycle(strings.ToLower(strings.TrimSpace(m.Duration)))
	if cycle == "" {
		cycle = tenancy.CycleMonthly
	}
	if !cycle.IsValid() {
		return 0, "", "", fmt.Errorf("%w: duration %q", ErrInvalidPayload, m.Duration)
	}
	return id, plan, cycle, nil
}

// MinorToMajor converts an amount in minor units (kobo, cents) to major units
func MinorToMajor(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(decimal.NewFromInt(100))
}
