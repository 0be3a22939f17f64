package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/pkg/models"
)

// Roles carried in tokens. Viewers may only read campaigns and observations.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrSessionNotFound = errors.New("session not found or expired")
)

// AuthService exchanges API keys for signed tokens. When a Redis client is
// present issued tokens are also tracked as revocable sessions.
type AuthService struct {
	config      config.AuthConfig
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
}

func NewAuthService(cfg config.AuthConfig, logger *logrus.Logger, redisClient *redis.Client) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &AuthService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.JWTSecret),
	}
}

func sessionKey(clientID string) string {
	return fmt.Sprintf("session:%s", clientID)
}

// Authenticate validates the API key and issues a token for the client.
func (s *AuthService) Authenticate(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error) {
	role, err := s.ValidateAPIKey(req.APIKey)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.GenerateToken(ctx, req.ClientID, role)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, ExpiresAt: expiresAt, Role: role}, nil
}

func (s *AuthService) GenerateToken(ctx context.Context, clientID, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := &models.JWTClaims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "optirex",
			Subject:   clientID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, sessionKey(clientID), tokenString, s.config.TokenTTL).Err(); err != nil {
			// Token stays valid without the session record
			s.logger.WithError(err).Warn("Failed to store session in Redis")
		}
	}

	return tokenString, expiresAt, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if s.redisClient != nil {
		exists, err := s.redisClient.Exists(ctx, sessionKey(claims.ClientID)).Result()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to check session in Redis")
		} else if exists == 0 {
			return nil, ErrSessionNotFound
		}
	}

	return claims, nil
}

func (s *AuthService) RevokeToken(ctx context.Context, clientID string) error {
	if s.redisClient == nil {
		return nil
	}
	if err := s.redisClient.Del(ctx, sessionKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// ValidateAPIKey returns the role configured for the key. Viper lowercases
// map keys when reading config, so keys also match lowercased.
func (s *AuthService) ValidateAPIKey(apiKey string) (string, error) {
	role, ok := s.config.APIKeys[apiKey]
	if !ok {
		role, ok = s.config.APIKeys[strings.ToLower(apiKey)]
	}
	if !ok || apiKey == "" {
		return "", ErrInvalidAPIKey
	}
	if role == "" {
		role = RoleOperator
	}
	return role, nil
}
