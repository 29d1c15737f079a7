package auth

import "github.com/kiranshivaraju/eventgate/pkg/models"

// Level maps a tier to its rank. Unknown or empty tiers rank 0.
func Level(t models.Tier) int {
	switch t {
	case models.TierAdmin:
		return 3
	case models.TierWrite:
		return 2
	case models.TierRead:
		return 1
	}
	return 0
}

// RequireTier passes iff resolved ranks at or above required.
func RequireTier(resolved, required models.Tier) error {
	if Level(resolved) >= Level(required) {
		return nil
	}
	return &InsufficientPermissionError{Required: required}
}
