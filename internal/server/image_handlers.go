package server

import (
	"io"
	"strings"

	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UploadImage handles POST /api/images (multipart field "image"). Variants
// are rendered in the background; poll GET /api/images/:hash for them.
func (s *Server) UploadImage(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}

	uploaded, err := s.imageService.Upload(c.UserContext(), service.UploadImageInput{
		UserID:      currentUserID(c),
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.imageService.View(uploaded))
}

// GetImage handles GET /api/images/:hash
func (s *Server) GetImage(c *fiber.Ctx) error {
	img, err := s.imageService.Resolve(c.UserContext(), strings.TrimSpace(c.Params("hash")))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(s.imageService.View(img))
}

// GetMedia handles GET /api/media/*, streaming objects out of the media
// bucket. Keys are content addressed, so responses are immutable.
func (s *Server) GetMedia(c *fiber.Ctx) error {
	data, contentType, err := s.imageService.Object(c.UserContext(), c.Params("*"))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(data)
}
