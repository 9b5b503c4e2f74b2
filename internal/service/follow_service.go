package service

import (
	"context"
	"fmt"

	"playforge/internal/models"
	"playforge/internal/repository"
)

type FollowService struct {
	followRepo   repository.FollowRepository
	userRepo     repository.UserRepository
	notifier     Notifier
	achievements Evaluator
}

func NewFollowService(
	followRepo repository.FollowRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	achievements Evaluator,
) *FollowService {
	return &FollowService{
		followRepo:   followRepo,
		userRepo:     userRepo,
		notifier:     notifier,
		achievements: achievements,
	}
}

// Follow makes followerID follow followeeID. Following twice is a no-op and
// only the first follow notifies.
func (s *FollowService) Follow(ctx context.Context, followerID, followeeID uint) error {
	if followerID == followeeID {
		return models.NewValidationError("You cannot follow yourself")
	}
	followee, err := s.userRepo.GetByID(ctx, followeeID)
	if err != nil {
		return err
	}
	if followee.IsBanned {
		return models.NewNotFoundError("User", followeeID)
	}

	created, err := s.followRepo.Follow(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	body := "You have a new follower"
	if follower, err := s.userRepo.GetByID(ctx, followerID); err == nil {
		body = fmt.Sprintf("%s started following you", follower.Username)
	}
	notify(ctx, s.notifier, NotifyInput{
		UserID:   followeeID,
		ActorID:  followerID,
		Type:     models.NotificationFollow,
		EntityID: followerID,
		Body:     body,
	})
	evaluate(ctx, s.achievements, followeeID, MetricFollowers)
	return nil
}

func (s *FollowService) Unfollow(ctx context.Context, followerID, followeeID uint) error {
	if followerID == followeeID {
		return models.NewValidationError("You cannot unfollow yourself")
	}
	return s.followRepo.Unfollow(ctx, followerID, followeeID)
}

func (s *FollowService) IsFollowing(ctx context.Context, followerID, followeeID uint) (bool, error) {
	return s.followRepo.IsFollowing(ctx, followerID, followeeID)
}

func (s *FollowService) Followers(ctx context.Context, userID uint, limit, offset int) ([]models.User, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return publicUsers(s.followRepo.Followers(ctx, userID, limit, offset))
}

func (s *FollowService) Following(ctx context.Context, userID uint, limit, offset int) ([]models.User, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return publicUsers(s.followRepo.Following(ctx, userID, limit, offset))
}

func publicUsers(users []models.User, err error) ([]models.User, error) {
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].PublicView()
	}
	return users, nil
}
