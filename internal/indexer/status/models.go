// Package status provides indexer health tracking and status management.
package status

import (
	"fmt"
	"time"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// EscalationBackOff is indexed by escalation level. Level 0 is healthy.
var EscalationBackOff = []time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// MaxEscalationLevel is the highest level a failing indexer can reach.
var MaxEscalationLevel = len(EscalationBackOff) - 1

// CalculateBackoff returns the backoff duration for the given escalation level.
func CalculateBackoff(escalationLevel int) time.Duration {
	if escalationLevel <= 0 {
		return 0
	}
	if escalationLevel > MaxEscalationLevel {
		escalationLevel = MaxEscalationLevel
	}
	return EscalationBackOff[escalationLevel]
}

// Policy selects which failure kinds escalate. Configuration errors and
// search-deadline timeouts never do.
type Policy struct {
	EscalateProtection bool `mapstructure:"escalate_on_protection"`
	EscalateAuth       bool `mapstructure:"escalate_on_auth"`
}

// DefaultPolicy escalates every failure kind that can escalate.
func DefaultPolicy() Policy {
	return Policy{EscalateProtection: true, EscalateAuth: true}
}

func (p Policy) escalates(err error) bool {
	switch types.KindOf(err) {
	case types.KindConfiguration, types.KindTimeout:
		return false
	case types.KindProtection:
		return p.EscalateProtection
	case types.KindAuthentication:
		return p.EscalateAuth
	default:
		return true
	}
}

// HealthStatus represents the overall health of an indexer.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusDisabled HealthStatus = "disabled"
)

// IndexerHealth provides a summary of indexer health.
type IndexerHealth struct {
	IndexerID   int64         `json:"indexerId"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastFailure *time.Time    `json:"lastFailure,omitempty"`
	DisabledFor time.Duration `json:"disabledFor,omitempty"`
}

// HealthOf summarizes a status at now.
func HealthOf(s *types.IndexerStatus, now time.Time) IndexerHealth {
	health := IndexerHealth{
		IndexerID:   s.IndexerID,
		LastFailure: s.MostRecentFailure,
	}
	switch {
	case s.IsDisabled(now):
		remaining := s.DisabledTill.Sub(now)
		health.Status = HealthStatusDisabled
		health.DisabledFor = remaining
		health.Message = fmt.Sprintf("Disabled for %s due to repeated failures", remaining.Round(time.Second))
	case s.EscalationLevel > 0:
		health.Status = HealthStatusWarning
		health.Message = fmt.Sprintf("Experienced %d recent failure(s)", s.EscalationLevel)
	default:
		health.Status = HealthStatusHealthy
		health.Message = "Operating normally"
	}
	return health
}
