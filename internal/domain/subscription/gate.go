// Package subscription classifies a tenant's billing lifecycle and decides
// whether its requests may proceed.
package subscription

import (
	"fmt"
	"time"

	"github.com/faithflows/backend/internal/domain/tenancy"
)

// State is the lifecycle classification of a tenant at a point in time
type State string

const (
	StateActive               State = "active"
	StateTrialExpiring        State = "trial_expiring"
	StateTrialExpired         State = "trial_expired"
	StateSubscriptionExpiring State = "subscription_expiring"
	StateSubscriptionExpired  State = "subscription_expired"
	StateSuspended            State = "suspended"
	StateCancelled            State = "cancelled"
	StateBypassed             State = "bypassed"
)

const day = 24 * time.Hour

// Verdict is the outcome of Evaluate
type Verdict struct {
	State   State `json:"status"`
	Allowed bool  `json:"can_access"`
	// DaysRemaining is nil when no end date applies
	DaysRemaining *int   `json:"days_remaining"`
	Message       string `json:"error,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

// Bypassed reports whether enforcement was skipped
func (v Verdict) Bypassed() bool {
	return v.State == StateBypassed
}

// Evaluate classifies t at now. Rules apply in a fixed order and the first
// match wins: bypass, suspended/cancelled, trial, subscription, active.
func Evaluate(t *tenancy.Tenant, now time.Time) Verdict {
	if t.BypassSubscriptionCheck {
		return Verdict{State: StateBypassed, Allowed: true}
	}

	switch t.SubscriptionStatus {
	case tenancy.SubscriptionSuspended, tenancy.SubscriptionCancelled:
		return Verdict{
			State:   State(t.SubscriptionStatus),
			Message: fmt.Sprintf("Your account is %s. Please contact support.", t.SubscriptionStatus),
		}
	}

	grace := time.Duration(t.GracePeriodDays) * day

	if t.Plan == tenancy.PlanTrial && t.TrialEndDate != nil {
		graceEnd := t.TrialEndDate.Add(grace)
		if now.After(graceEnd) {
			return Verdict{
				State:         StateTrialExpired,
				DaysRemaining: intPtr(0),
				Message:       "Your free trial has expired. Please upgrade to continue.",
			}
		}
		if now.After(*t.TrialEndDate) {
			left := wholeDays(graceEnd.Sub(now))
			return Verdict{
				State:         StateTrialExpiring,
				Allowed:       true,
				DaysRemaining: intPtr(left),
				Warning:       fmt.Sprintf("Your trial has expired. You have %d days to upgrade.", left),
			}
		}
	}

	if t.SubscriptionEndDate != nil {
		graceEnd := t.SubscriptionEndDate.Add(grace)
		if now.After(graceEnd) {
			return Verdict{
				State:         StateSubscriptionExpired,
				DaysRemaining: intPtr(0),
				Message:       "Your subscription has expired. Please renew to continue.",
			}
		}
		if now.After(*t.SubscriptionEndDate) {
			left := wholeDays(graceEnd.Sub(now))
			return Verdict{
				State:         StateSubscriptionExpiring,
				Allowed:       true,
				DaysRemaining: intPtr(left),
				Warning:       fmt.Sprintf("Your subscription has expired. You have %d days to renew.", left),
			}
		}
	}

	v := Verdict{State: StateActive, Allowed: true}
	var end *time.Time
	switch {
	case t.Plan == tenancy.PlanTrial && t.TrialEndDate != nil:
		end = t.TrialEndDate
	case t.SubscriptionEndDate != nil:
		end = t.SubscriptionEndDate
	case t.TrialEndDate != nil:
		end = t.TrialEndDate
	}
	if end != nil {
		v.DaysRemaining = intPtr(max(0, wholeDays(end.Sub(now))))
	}
	return v
}

// wholeDays floors d to whole days, rounding toward negative infinity
func wholeDays(d time.Duration) int {
	n := int(d / day)
	if d < 0 && d%day != 0 {
		n--
	}
	return n
}

func intPtr(v int) *int {
	return &v
}
