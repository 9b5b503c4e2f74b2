package service

import (
	"context"
	"log/slog"
	"strings"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// WelcomeMailer sends the signup email.
type WelcomeMailer interface {
	SendWelcome(ctx context.Context, user *models.User) error
}

type AuthService struct {
	userRepo   repository.UserRepository
	coins      *CoinService
	mailer     WelcomeMailer
	bcryptCost int
}

type SignupInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
}

type LoginInput struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func NewAuthService(userRepo repository.UserRepository, coins *CoinService, mailer WelcomeMailer) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		coins:      coins,
		mailer:     mailer,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithBcryptCost lowers the hashing cost; tests use bcrypt.MinCost.
func (s *AuthService) WithBcryptCost(cost int) *AuthService {
	s.bcryptCost = cost
	return s
}

// Signup creates an account, grants the signup bonus and sends the welcome mail.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	existing, err := s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Email already registered")
	}
	existing, err = s.userRepo.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Username already taken")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		Username:    in.Username,
		Email:       in.Email,
		Password:    string(hashed),
		DisplayName: in.Username,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	if s.coins != nil {
		if balance, err := s.coins.GrantSignupBonus(ctx, user.ID); err != nil {
			middleware.Logger.WarnContext(ctx, "signup bonus failed",
				slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		} else {
			user.Coins = balance
		}
	}

	if s.mailer != nil {
		if err := s.mailer.SendWelcome(ctx, user); err != nil {
			middleware.Logger.WarnContext(ctx, "welcome email failed",
				slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		}
	}

	return user, nil
}

// Login checks credentials against an email or username.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.User, error) {
	login := strings.TrimSpace(in.Login)
	if login == "" {
		login = strings.TrimSpace(in.Email)
	}
	if login == "" || in.Password == "" {
		return nil, models.NewValidationError("Login and password are required")
	}

	user, err := s.userRepo.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if user.IsBanned {
		return nil, models.NewForbiddenError("Account is banned")
	}

	_ = s.userRepo.TouchLastSeen(ctx, user.ID)
	return user, nil
}
