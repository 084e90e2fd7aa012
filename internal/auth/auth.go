package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AuthTokens is the login response body.
type AuthTokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Claims represents JWT token claims. Subject carries the admin login; the
// ops API has exactly one role, so no permission matrix rides along.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenGenerator creates and validates ops API tokens.
type TokenGenerator interface {
	GenerateAccessToken(subject string) (token string, err error)
	ValidateToken(tokenString string) (*Claims, error)
}

// ServiceAPI performs authentication-related business logic.
type ServiceAPI interface {
	Authenticate(dto LoginDTO) (AuthTokens, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}
