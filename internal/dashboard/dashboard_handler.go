package dashboard

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	log "github.com/sirupsen/logrus"
)

// DashboardHandler renders the department overview page.
type DashboardHandler struct {
	service *Service
	store   *session.Store
}

// NewDashboardHandler creates a handler; flash messages live in store.
func NewDashboardHandler(service *Service, store *session.Store) *DashboardHandler {
	return &DashboardHandler{service: service, store: store}
}

// HandleShowDashboard handles 'GET /dashboard'.
func (h *DashboardHandler) HandleShowDashboard(c *fiber.Ctx) error {
	var flashError interface{}
	if sess, err := h.store.Get(c); err == nil {
		if flashError = sess.Get("flash_error"); flashError != nil {
			sess.Delete("flash_error")
			sess.Save()
		}
	}

	data, err := h.service.GetDashboardData(c.UserContext())
	if err != nil {
		log.Errorf("dashboard data load failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("failed to load dashboard")
	}

	return c.Render("dashboard", fiber.Map{
		"Title":      "Notice Board | Dashboard",
		"Data":       data,
		"FlashError": flashError,
	}, "layout")
}
