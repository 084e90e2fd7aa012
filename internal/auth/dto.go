package auth

import (
	apperrors "github.com/frahmantamala/vpn-billing/internal"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Validate checks required fields.
func (d LoginDTO) Validate() error {
	if d.Login == "" {
		return apperrors.NewValidationError("login is required", apperrors.ErrCodeValidationFailed)
	}
	if d.Password == "" {
		return apperrors.NewValidationError("password is required", apperrors.ErrCodeValidationFailed)
	}
	return nil
}
