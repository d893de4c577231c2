package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/repository"
	"github.com/craftline/postpilot/internal/service"
	"github.com/craftline/postpilot/pkg/utils"
)

type ConnectionHandler struct {
	cfg    config.Config
	tokens service.TokenService
	sc     repository.SocialConnectionRepository
}

func NewConnectionHandler(cfg config.Config, tokens service.TokenService, sc repository.SocialConnectionRepository) *ConnectionHandler {
	return &ConnectionHandler{cfg: cfg, tokens: tokens, sc: sc}
}

// Connect redirects the tenant to the platform's consent screen. The OAuth
// state is a signed token carrying the tenant and platform, checked on return.
func (h *ConnectionHandler) Connect(c *fiber.Ctx) error {
	platformName := c.Params("platform")
	tenantID := c.QueryInt("tenant_id", 0)

	if tenantID == 0 || !models.IsValidPlatform(platformName) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenant_id and a known platform are required",
		})
	}

	authURL, err := h.tokens.AuthURL(int64(tenantID), platformName)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to build authorization URL",
		})
	}

	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

func (h *ConnectionHandler) Callback(c *fiber.Ctx) error {
	platformName := c.Params("platform")
	code := c.Query("code")
	state := c.Query("state")

	claims, err := utils.ValidateStateToken(h.cfg.SecretKey, state)
	if err != nil || claims.Platform != platformName {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired state",
		})
	}

	if err := h.tokens.Connect(c.Context(), claims.TenantID, platformName, code); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to connect account",
		})
	}

	return c.Redirect(h.cfg.FrontendURL+"/settings/social", fiber.StatusTemporaryRedirect)
}

func (h *ConnectionHandler) List(c *fiber.Ctx) error {
	tenantID := c.QueryInt("tenant_id", 0)
	if tenantID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenant_id is required",
		})
	}

	connections, err := h.sc.ListByTenant(c.Context(), int64(tenantID))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list connections",
		})
	}

	return c.Status(fiber.StatusOK).JSON(connections)
}

// Disconnect clears the connection's tokens. Dropping the tenant's last
// connection also turns posting off.
func (h *ConnectionHandler) Disconnect(c *fiber.Ctx) error {
	platformName := c.Query("platform")
	tenantID := c.QueryInt("tenant_id", 0)

	if tenantID == 0 || !models.IsValidPlatform(platformName) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenant_id and a known platform are required",
		})
	}

	if err := h.tokens.Disconnect(c.Context(), int64(tenantID), platformName); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to disconnect account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
