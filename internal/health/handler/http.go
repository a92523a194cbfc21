package handler

import (
	"github.com/gofiber/fiber/v2"
)

// Healthz handles GET /healthz: 200 when every dependency answers, 503 otherwise.
func Healthz(checker Checker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if checker != nil {
			if err := checker.Check(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_serving", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "serving"})
	}
}
