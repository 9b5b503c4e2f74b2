// Package middleware provides request-scoped HTTP concerns: logging, auth tokens,
// rate limiting, tracing and metrics.
package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenIssuer is the iss claim on every token this service signs.
	TokenIssuer = "playforge-api"
	// TokenAudience is the aud claim expected from clients.
	TokenAudience = "playforge-client"

	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrWrongAudience = errors.New("invalid token issuer or audience")
	ErrWrongType     = errors.New("unexpected token type")
)

// TokenClaims is the verified content of a signed token.
type TokenClaims struct {
	UserID    uint
	JTI       string
	Type      string
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 JWTs.
type TokenManager struct {
	secret []byte
}

// NewTokenManager returns a manager using secret for HMAC signing.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

func (m *TokenManager) sign(userID uint, typ string, ttl time.Duration) (string, TokenClaims, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID:    userID,
		JTI:       uuid.NewString(),
		Type:      typ,
		ExpiresAt: now.Add(ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": TokenIssuer,
		"aud": TokenAudience,
		"typ": typ,
		"jti": claims.JTI,
		"iat": now.Unix(),
		"exp": claims.ExpiresAt.Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", TokenClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// IssueAccessToken returns a short-lived access token.
func (m *TokenManager) IssueAccessToken(userID uint) (string, TokenClaims, error) {
	return m.sign(userID, tokenTypeAccess, AccessTokenTTL)
}

// IssueRefreshToken returns a long-lived refresh token.
func (m *TokenManager) IssueRefreshToken(userID uint) (string, TokenClaims, error) {
	return m.sign(userID, tokenTypeRefresh, RefreshTokenTTL)
}

// ParseAccessToken verifies an access token.
func (m *TokenManager) ParseAccessToken(raw string) (TokenClaims, error) {
	return m.parse(raw, tokenTypeAccess)
}

// ParseRefreshToken verifies a refresh token.
func (m *TokenManager) ParseRefreshToken(raw string) (TokenClaims, error) {
	return m.parse(raw, tokenTypeRefresh)
}

func (m *TokenManager) parse(raw, wantType string) (TokenClaims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return TokenClaims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != TokenIssuer {
		return TokenClaims{}, ErrWrongAudience
	}
	if aud, _ := claims["aud"].(string); aud != TokenAudience {
		return TokenClaims{}, ErrWrongAudience
	}
	// Tokens without typ predate refresh rotation and are treated as access tokens.
	typ, _ := claims["typ"].(string)
	if typ == "" {
		typ = tokenTypeAccess
	}
	if typ != wantType {
		return TokenClaims{}, ErrWrongType
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return TokenClaims{}, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return TokenClaims{}, ErrInvalidToken
	}

	out := TokenClaims{UserID: uint(userID), Type: typ}
	out.JTI, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
