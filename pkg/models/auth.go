package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTClaims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"` // operator, viewer
	jwt.RegisteredClaims
}

type AuthRequest struct {
	APIKey   string `json:"api_key" validate:"required"`
	ClientID string `json:"client_id" validate:"required"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
