package auth

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/eventgate/pkg/models"
)

var (
	ErrMissingCredential  = errors.New("API Key requerida")
	ErrInvalidCredential  = errors.New("API Key inválida")
	ErrMissingAdminSecret = errors.New("x-admin-key requerida")
	ErrInvalidAdminSecret = errors.New("x-admin-key inválida")
)

// InsufficientPermissionError reports the tier an endpoint requires.
type InsufficientPermissionError struct {
	Required models.Tier
}

func (e *InsufficientPermissionError) Error() string {
	return fmt.Sprintf("Permiso denegado. Se requiere role: %s", e.Required)
}
