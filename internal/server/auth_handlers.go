package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AuthResponse is returned by signup, login and refresh.
type AuthResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user"`
}

// Signup handles POST /api/auth/signup
func (s *Server) Signup(c *fiber.Ctx) error {
	var req service.SignupInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Signup(c.UserContext(), req)
	if err != nil {
		return models.RespondAppError(c, err)
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login handles POST /api/auth/login. The login field accepts a username or
// an email.
func (s *Server) Login(c *fiber.Ctx) error {
	var req service.LoginInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Login(c.UserContext(), req)
	if err != nil {
		return models.RespondAppError(c, err)
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(resp)
}

// Refresh handles POST /api/auth/refresh. Refresh tokens rotate: the one
// presented is revoked and a new pair is returned.
func (s *Server) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("refresh_token is required"))
	}

	ctx := c.UserContext()
	claims, err := s.tokens.ParseRefreshToken(req.RefreshToken)
	if err != nil || s.isRevoked(ctx, claims.JTI) {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid or expired refresh token"))
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid or expired refresh token"))
	}
	if user.IsBanned {
		return models.RespondAppError(c, models.NewForbiddenError("Account is banned"))
	}

	// Without Redis a refresh token cannot be revoked, so rotation is
	// best effort.
	s.revoke(ctx, claims.JTI, claims.ExpiresAt)

	resp, err := s.issueTokens(user)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(resp)
}

// Logout handles POST /api/auth/logout. The access token's JTI is
// blacklisted until it would have expired; a refresh token in the body is
// revoked too.
func (s *Server) Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()
	jti, _ := c.Locals("jti").(string)
	exp, _ := c.Locals("tokenExpiresAt").(time.Time)
	s.revoke(ctx, jti, exp)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(c.Body()) > 0 && c.BodyParser(&req) == nil && req.RefreshToken != "" {
		if claims, err := s.tokens.ParseRefreshToken(req.RefreshToken); err == nil && claims.UserID == currentUserID(c) {
			s.revoke(ctx, claims.JTI, claims.ExpiresAt)
		}
	}

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// IssueWSTicket handles POST /api/ws/ticket. Tickets are single use and
// expire after 30 seconds.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errRedisUnavailable))
	}

	ticket := uuid.NewString()
	userID := currentUserID(c)
	if err := s.redis.Set(c.UserContext(), wsTicketKeyPrefix+ticket,
		strconv.FormatUint(uint64(userID), 10), wsTicketTTL).Err(); err != nil {
		return models.RespondAppError(c, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

func (s *Server) issueTokens(user *models.User) (*AuthResponse, error) {
	access, _, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	refresh, _, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &AuthResponse{
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int64(middleware.AccessTokenTTL.Seconds()),
		User:         user,
	}, nil
}

// revoke blacklists jti for the rest of the token's lifetime.
func (s *Server) revoke(ctx context.Context, jti string, expiresAt time.Time) {
	if jti == "" || s.redis == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := s.redis.Set(ctx, tokenBlacklistPrefix+jti, 1, ttl).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "token revocation failed", slog.String("error", err.Error()))
	}
}
