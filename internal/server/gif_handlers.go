package server

import (
	"playforge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SearchGIFs handles GET /api/gifs/search?q=...&limit=N
func (s *Server) SearchGIFs(c *fiber.Ctx) error {
	gifs, err := s.gifService.Search(c.UserContext(), c.Query("q"), c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(gifs)
}

// TrendingGIFs handles GET /api/gifs/trending
func (s *Server) TrendingGIFs(c *fiber.Ctx) error {
	gifs, err := s.gifService.Trending(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(gifs)
}
