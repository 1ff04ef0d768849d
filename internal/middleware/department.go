package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// DepartmentMiddleware rejects requests whose :dept parameter is not a known
// department and stores the normalized name in Locals("department"). A nil
// onUnknown answers 404.
func DepartmentMiddleware(known func(string) bool, onUnknown fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dept := strings.ToLower(strings.TrimSpace(c.Params("dept")))
		if !known(dept) {
			log.Warnf("[Department] unknown department %q (%s)", c.Params("dept"), c.Path())
			if onUnknown != nil {
				return onUnknown(c)
			}
			return fiber.ErrNotFound
		}
		c.Locals("department", dept)
		return c.Next()
	}
}
