package server

import (
	"crypto/subtle"

	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

const webhookSecretHeader = "X-Webhook-Secret"

// GetCoinPackages handles GET /api/coins/packages
func (s *Server) GetCoinPackages(c *fiber.Ctx) error {
	pkgs, err := s.coinService.Packages()
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(pkgs)
}

// GetCoinBalance handles GET /api/coins/balance
func (s *Server) GetCoinBalance(c *fiber.Ctx) error {
	balance, err := s.coinService.Balance(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"balance": balance})
}

// GetCoinHistory handles GET /api/coins/history
func (s *Server) GetCoinHistory(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	entries, err := s.coinService.History(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(entries)
}

// StartPurchase handles POST /api/coins/purchases
func (s *Server) StartPurchase(c *fiber.Ctx) error {
	var req service.StartPurchaseInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	req.UserID = currentUserID(c)

	purchase, err := s.coinService.StartPurchase(c.UserContext(), req)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(purchase)
}

// GetPurchase handles GET /api/coins/purchases/:ref
func (s *Server) GetPurchase(c *fiber.Ctx) error {
	purchase, err := s.coinService.GetPurchase(c.UserContext(), currentUserID(c), c.Params("ref"))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(purchase)
}

// CompletePurchase handles POST /api/coins/purchases/:ref/complete. The
// payment provider calls it with the shared webhook secret; admins may call
// it directly. Completing twice credits once.
func (s *Server) CompletePurchase(c *fiber.Ctx) error {
	if !s.webhookAuthorized(c) {
		ok, err := s.userService.IsAdmin(c.UserContext(), currentUserID(c))
		if err != nil || !ok {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Webhook secret or admin access required"))
		}
	}

	purchase, credited, err := s.coinService.CompletePurchase(c.UserContext(), c.Params("ref"))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"purchase": purchase, "credited": credited})
}

func (s *Server) webhookAuthorized(c *fiber.Ctx) bool {
	secret := s.config.PaymentWebhookSecret
	got := c.Get(webhookSecretHeader)
	if secret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(got)) == 1
}

// GrantCoins handles POST /api/admin/users/:id/coins. Negative amounts debit.
func (s *Server) GrantCoins(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Amount int64  `json:"amount" validate:"required"`
		Note   string `json:"note" validate:"max=255"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	entry, err := s.coinService.AdminGrant(c.UserContext(), id, req.Amount, req.Note)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(entry)
}
