// handlers/admin_routes.go
package handlers

import (
	"fmt"
	"strings"

	"shop-reward-system/game"
	"shop-reward-system/middleware"
	"shop-reward-system/models"
	"shop-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SetupAdminRoutes registers operator routes. backend is only set when the
// engine runs on the in-memory store; seeding routes answer 501 otherwise.
func SetupAdminRoutes(app *fiber.App, engine *services.ClaimEngine, backend *services.MemoryBackend, logger *zap.Logger) {
	admin := app.Group("/admin", middleware.UserContextMiddleware(logger))

	admin.Post("/claims", middleware.RequireRole(middleware.RoleClaimOthers), func(c *fiber.Ctx) error {
		var body struct {
			Targets []string `json:"targets"`
		}
		if err := c.BodyParser(&body); err != nil || len(body.Targets) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "targets are required"})
		}

		targets := make([]uuid.UUID, 0, len(body.Targets))
		for _, raw := range body.Targets {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid target " + raw})
			}
			targets = append(targets, id)
		}

		operator, _ := c.Locals(middleware.LocalOperatorID).(string)
		logger.Info("[ADMIN] claim for others", zap.String("operator", operator), zap.Int("targets", len(targets)))

		// Queue everything first; the serializer runs them one after another.
		futures := make([]*services.Future[models.ClaimOutcome], len(targets))
		for i, id := range targets {
			futures[i] = engine.ClaimAsync(id, models.ClaimTriggerOperator)
		}

		results := make([]models.ClaimOutcome, len(targets))
		for i, f := range futures {
			out, err := f.Wait(c.UserContext())
			if err != nil {
				out = models.ClaimOutcome{
					PlayerID:  targets[i],
					ErrorKind: models.ClaimErrorEngineUnavailable,
					Messages:  []string{services.MsgClaimError},
				}
			}
			results[i] = out
		}
		return c.JSON(fiber.Map{"results": results})
	})

	admin.Post("/users", func(c *fiber.Ctx) error {
		if backend == nil {
			return notSeedable(c)
		}
		var body struct {
			PlayerID string `json:"player_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		id, err := uuid.Parse(body.PlayerID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid player_id"})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user_id": backend.LinkUser(id)})
	})

	admin.Post("/rewards", func(c *fiber.Ctx) error {
		if backend == nil {
			return notSeedable(c)
		}
		var body struct {
			UserID   int64    `json:"user_id"`
			Commands []string `json:"commands"`
		}
		if err := c.BodyParser(&body); err != nil || body.UserID <= 0 || len(body.Commands) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and commands are required"})
		}
		if need := services.RequiredCapacity(models.PendingReward{Actions: body.Commands}); need > game.MainInventorySize {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("reward needs %d inventory slots, a player has %d", need, game.MainInventorySize),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(backend.AddReward(body.UserID, body.Commands))
	})

	admin.Get("/rewards/:user_id", func(c *fiber.Ctx) error {
		if backend == nil {
			return notSeedable(c)
		}
		userID, err := c.ParamsInt("user_id")
		if err != nil || userID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user_id"})
		}
		return c.JSON(backend.Rewards(int64(userID)))
	})
}

func notSeedable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
		"error": "seeding is only available with the memory reward store",
	})
}
