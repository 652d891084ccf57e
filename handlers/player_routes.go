// handlers/player_routes.go
package handlers

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"shop-reward-system/game"
	"shop-reward-system/models"
	"shop-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SetupPlayerRoutes exposes the player-side events the game server forwards:
// join, leave, the claim command and inventory changes.
func SetupPlayerRoutes(app *fiber.App, world *game.World, engine *services.ClaimEngine, cooldown *ClaimCooldown, logger *zap.Logger) {
	players := app.Group("/players/:uuid")

	players.Post("/join", func(c *fiber.Ctx) error {
		playerID, ok := playerParam(c)
		if !ok {
			return badPlayer(c)
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Name) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
		}

		if err := world.Join(c.UserContext(), playerID, strings.TrimSpace(body.Name)); err != nil {
			return worldError(c, err)
		}

		pending, err := engine.OnPlayerJoin(playerID).Wait(c.UserContext())
		if err != nil {
			logger.Warn("[PLAYER] pending check on join failed", zap.Stringer("player", playerID), zap.Error(err))
		}
		return c.JSON(fiber.Map{"player_id": playerID, "pending_rewards": pending})
	})

	players.Post("/leave", func(c *fiber.Ctx) error {
		playerID, ok := playerParam(c)
		if !ok {
			return badPlayer(c)
		}
		engine.OnPlayerLeave(playerID)
		cooldown.Forget(playerID)
		if err := world.Leave(c.UserContext(), playerID); err != nil {
			return worldError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	players.Post("/claim", func(c *fiber.Ctx) error {
		playerID, ok := playerParam(c)
		if !ok {
			return badPlayer(c)
		}
		if !world.IsOnline(playerID) {
			return worldError(c, game.ErrPlayerOffline)
		}
		if wait, ok := cooldown.Allow(playerID); !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "claim command is cooling down",
				"retry_after": seconds,
			})
		}

		out := engine.Claim(c.UserContext(), playerID, models.ClaimTriggerPlayer)
		return c.Status(outcomeStatus(out)).JSON(out)
	})

	players.Get("/", func(c *fiber.Ctx) error {
		playerID, ok := playerParam(c)
		if !ok {
			return badPlayer(c)
		}
		snap, ok := world.Snapshot(playerID)
		if !ok {
			return worldError(c, game.ErrPlayerOffline)
		}
		messages, err := world.DrainMessages(c.UserContext(), playerID)
		if err != nil {
			return worldError(c, err)
		}
		if messages == nil {
			messages = []string{}
		}
		return c.JSON(fiber.Map{"player": snap, "messages": messages})
	})

	players.Put("/inventory/:slot", func(c *fiber.Ctx) error {
		playerID, ok := playerParam(c)
		if !ok {
			return badPlayer(c)
		}
		slot, err := strconv.Atoi(c.Params("slot"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid slot"})
		}
		var stack game.ItemStack
		if err := c.BodyParser(&stack); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid item stack"})
		}
		if err := world.SetSlot(c.UserContext(), playerID, slot, stack); err != nil {
			return worldError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func playerParam(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("uuid"))
	return id, err == nil
}

func badPlayer(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid player uuid"})
}

func worldError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrPlayerOffline):
		status = fiber.StatusNotFound
	case errors.Is(err, game.ErrInvalidSlot):
		status = fiber.StatusBadRequest
	case errors.Is(err, game.ErrWorldStopped):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// outcomeStatus maps a claim outcome onto an HTTP status. Empty and partial
// claims are still successful requests.
func outcomeStatus(out models.ClaimOutcome) int {
	switch out.ErrorKind {
	case models.ClaimErrorNone:
		return fiber.StatusOK
	case models.ClaimErrorIdentityUnlinked:
		return fiber.StatusNotFound
	case models.ClaimErrorStoreUnavailable, models.ClaimErrorDeliveryUnavailable, models.ClaimErrorEngineUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
