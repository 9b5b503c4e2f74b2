package server

import (
	"context"
	"strings"

	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

type gameRequest struct {
	Title         *string  `json:"title"`
	Description   *string  `json:"description"`
	Prompt        string   `json:"prompt"`
	Code          *string  `json:"code"`
	Tags          []string `json:"tags"`
	ThumbnailHash string   `json:"thumbnail_hash"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// GetFeed handles GET /api/games?sort=new|hot|top|following&tag=...
func (s *Server) GetFeed(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	games, err := s.gameService.Feed(c.UserContext(), service.FeedInput{
		Sort:     c.Query("sort"),
		Tag:      c.Query("tag"),
		ViewerID: currentUserID(c),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(games)
}

// SearchGames handles GET /api/games/search?q=...
func (s *Server) SearchGames(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	games, err := s.gameService.SearchGames(c.UserContext(), c.Query("q"), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(games)
}

// GetGame handles GET /api/games/:id
func (s *Server) GetGame(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	game, err := s.gameService.GetGame(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(game)
}

// GetGameQR handles GET /api/games/:id/qr?size=N and returns a PNG.
func (s *Server) GetGameQR(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	png, err := s.gameService.ShareQR(c.UserContext(), id, c.QueryInt("size", 0))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	return c.Send(png)
}

// RecordPlay handles POST /api/games/:id/play. Anonymous plays are
// de-duplicated by IP.
func (s *Server) RecordPlay(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	counted, err := s.gameService.RecordPlay(c.UserContext(), service.PlayInput{
		GameID:   id,
		ViewerID: currentUserID(c),
		IP:       c.IP(),
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"counted": counted})
}

// CreateGame handles POST /api/games for hand-written drafts.
func (s *Server) CreateGame(c *fiber.Ctx) error {
	var req gameRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	ctx := c.UserContext()

	in := service.CreateGameInput{
		UserID:      currentUserID(c),
		Title:       deref(req.Title),
		Description: deref(req.Description),
		Prompt:      req.Prompt,
		Code:        deref(req.Code),
		Tags:        req.Tags,
	}
	if hash := strings.TrimSpace(req.ThumbnailHash); hash != "" {
		img, err := s.imageService.Resolve(ctx, hash)
		if err != nil {
			return models.RespondAppError(c, err)
		}
		in.ThumbnailHash = img.Hash
		in.ThumbnailURL = s.imageService.MasterURL(img.Hash)
	}

	game, err := s.gameService.CreateGame(ctx, in)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(game)
}

// UpdateGame handles PUT /api/games/:id. Omitted fields are left unchanged.
func (s *Server) UpdateGame(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req gameRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	ctx := c.UserContext()

	in := service.UpdateGameInput{
		UserID:      currentUserID(c),
		GameID:      id,
		Title:       req.Title,
		Description: req.Description,
		Code:        req.Code,
		Tags:        req.Tags,
	}
	if hash := strings.TrimSpace(req.ThumbnailHash); hash != "" {
		img, err := s.imageService.Resolve(ctx, hash)
		if err != nil {
			return models.RespondAppError(c, err)
		}
		url := s.imageService.MasterURL(img.Hash)
		in.ThumbnailURL = &url
	}

	game, err := s.gameService.UpdateGame(ctx, in)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(game)
}

// DeleteGame handles DELETE /api/games/:id
func (s *Server) DeleteGame(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.gameService.DeleteGame(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PublishGame handles POST /api/games/:id/publish
func (s *Server) PublishGame(c *fiber.Ctx) error {
	return s.transitionGame(c, s.gameService.Publish)
}

// UnpublishGame handles POST /api/games/:id/unpublish
func (s *Server) UnpublishGame(c *fiber.Ctx) error {
	return s.transitionGame(c, s.gameService.Unpublish)
}

// ArchiveGame handles POST /api/games/:id/archive
func (s *Server) ArchiveGame(c *fiber.Ctx) error {
	return s.transitionGame(c, s.gameService.Archive)
}

// LikeGame handles POST /api/games/:id/like
func (s *Server) LikeGame(c *fiber.Ctx) error {
	return s.transitionGame(c, s.gameService.Like)
}

// UnlikeGame handles DELETE /api/games/:id/like
func (s *Server) UnlikeGame(c *fiber.Ctx) error {
	return s.transitionGame(c, s.gameService.Unlike)
}

// RemixGame handles POST /api/games/:id/remix and returns the new draft.
func (s *Server) RemixGame(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	game, err := s.gameService.Remix(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(game)
}

// transitionGame runs a per-user game action addressed by :id.
func (s *Server) transitionGame(c *fiber.Ctx, action func(ctx context.Context, userID, gameID uint) (*models.Game, error)) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	game, err := action(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(game)
}
