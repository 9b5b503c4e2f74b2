package service

import (
	"context"
	"strings"

	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/validation"
)

type UserService struct {
	userRepo   repository.UserRepository
	followRepo repository.FollowRepository
}

type UpdateProfileInput struct {
	UserID      uint    `json:"-"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=60"`
	Bio         *string `json:"bio" validate:"omitempty,max=500"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,max=500"`
}

func NewUserService(userRepo repository.UserRepository, followRepo repository.FollowRepository) *UserService {
	return &UserService{userRepo: userRepo, followRepo: followRepo}
}

// GetProfile loads a profile with its counters. Viewers other than the
// owner get the public view.
func (s *UserService) GetProfile(ctx context.Context, id, viewerID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsBanned && viewerID != id {
		return nil, models.NewNotFoundError("User", id)
	}
	if err := s.userRepo.FillCounts(ctx, user); err != nil {
		return nil, err
	}
	if viewerID == 0 || viewerID == id {
		if viewerID == id {
			return user, nil
		}
		pub := user.PublicView()
		return &pub, nil
	}
	following, err := s.followRepo.IsFollowing(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	pub := user.PublicView()
	pub.IsFollowing = following
	return &pub, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.User, error) {
	if err := validation.Struct(in); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	user, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if in.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*in.DisplayName)
	}
	if in.Bio != nil {
		user.Bio = strings.TrimSpace(*in.Bio)
	}
	if in.AvatarURL != nil {
		avatar := strings.TrimSpace(*in.AvatarURL)
		// Uploaded avatars are served from our own media path.
		if avatar != "" && !validation.IsHTTPSURL(avatar) && !strings.HasPrefix(avatar, "/") {
			return nil, models.NewValidationError("avatar_url must be an https URL")
		}
		user.AvatarURL = avatar
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) SearchUsers(ctx context.Context, query string, limit, offset int) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}
	users, err := s.userRepo.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].PublicView()
	}
	return users, nil
}

func (s *UserService) SetAdmin(ctx context.Context, targetID uint, isAdmin bool) (*models.User, error) {
	if err := s.userRepo.SetAdmin(ctx, targetID, isAdmin); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, targetID)
}

func (s *UserService) SetBanned(ctx context.Context, targetID uint, banned bool) (*models.User, error) {
	if err := s.userRepo.SetBanned(ctx, targetID, banned); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, targetID)
}

// IsAdmin adapts the repository to AdminCheck.
func (s *UserService) IsAdmin(ctx context.Context, userID uint) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}
