package gateway

import "github.com/google/uuid"

// newCorrelationToken returns a fresh random token for the
// KeyPlanCorrelationToken Create fallback (spec.md §4.1, §8 scenario 6).
func newCorrelationToken() string {
	return uuid.NewString()
}
