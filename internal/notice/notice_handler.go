package notice

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	log "github.com/sirupsen/logrus"

	"noticeboard/internal/asset"
)

// NoticeHandler serves the department admin pages, the public slideshow and
// the snapshot endpoint.
type NoticeHandler struct {
	service *Service
	store   *session.Store
}

// NewNoticeHandler creates a handler over service; flash messages live in store.
func NewNoticeHandler(service *Service, store *session.Store) *NoticeHandler {
	return &NoticeHandler{
		service: service,
		store:   store,
	}
}

// popFlash reads and clears the one-shot messages left by the last redirect.
func (h *NoticeHandler) popFlash(c *fiber.Ctx) (interface{}, interface{}) {
	sess, err := h.store.Get(c)
	if err != nil {
		log.Warnf("session load failed: %v", err)
		return nil, nil
	}
	flashSuccess := sess.Get("flash_success")
	flashError := sess.Get("flash_error")
	if flashSuccess != nil {
		sess.Delete("flash_success")
	}
	if flashError != nil {
		sess.Delete("flash_error")
	}
	sess.Save()
	return flashSuccess, flashError
}

func (h *NoticeHandler) flash(c *fiber.Ctx, key, msg string) {
	sess, err := h.store.Get(c)
	if err != nil {
		log.Warnf("session load failed: %v", err)
		return
	}
	sess.Set(key, msg)
	sess.Save()
}

// department returns the normalized department left by the department
// middleware, falling back to the raw route parameter.
func department(c *fiber.Ctx) string {
	if dept, ok := c.Locals("department").(string); ok && dept != "" {
		return dept
	}
	return c.Params("dept")
}

// HandleUnknownDepartment sends admins back to the dashboard when a route
// names a department that does not exist.
func (h *NoticeHandler) HandleUnknownDepartment(c *fiber.Ctx) error {
	h.flash(c, "flash_error", "Department not found.")
	return c.Redirect("/dashboard")
}

// formUpload opens the multipart "file" field.
func formUpload(c *fiber.Ctx) (Upload, multipart.File, error) {
	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		return Upload{}, nil, errors.New("no file selected")
	}
	f, err := fh.Open()
	if err != nil {
		return Upload{}, nil, err
	}
	return Upload{Filename: fh.Filename, Body: f}, f, nil
}

// HandleShowAdminPage handles 'GET /admin/:dept'.
func (h *NoticeHandler) HandleShowAdminPage(c *fiber.Ctx) error {
	flashSuccess, flashError := h.popFlash(c)

	view, err := h.service.AdminView(c.UserContext(), department(c))
	if err != nil {
		log.Errorf("admin page load failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("failed to load notices")
	}

	return c.Render("admin", fiber.Map{
		"Title":        "Notice Board | " + view.Department,
		"Department":   view.Department,
		"Released":     view.Released,
		"Pending":      view.Pending,
		"FlashSuccess": flashSuccess,
		"FlashError":   flashError,
	}, "layout")
}

// HandleCreateImmediate handles 'POST /admin/:dept'.
func (h *NoticeHandler) HandleCreateImmediate(c *fiber.Ctx) error {
	dept := department(c)
	back := "/admin/" + dept

	up, f, err := formUpload(c)
	if err != nil {
		h.flash(c, "flash_error", "No selected file.")
		return c.Redirect(back)
	}
	defer f.Close()

	notices, err := h.service.CreateImmediate(c.UserContext(), dept, up, c.FormValue("expire_date"))
	if err != nil {
		log.Warnf("immediate notice failed: %v", err)
		h.flash(c, "flash_error", "Upload failed: "+err.Error())
		return c.Redirect(back)
	}
	msg := "File uploaded successfully."
	if len(notices) > 1 || (len(notices) == 1 && notices[0].AssetKind == KindPDFImage) {
		msg = "PDF converted and " + strconv.Itoa(len(notices)) + " page(s) uploaded successfully."
	}
	h.flash(c, "flash_success", msg)
	return c.Redirect(back)
}

// HandleShowSchedulePage handles 'GET /schedule_notice/:dept'.
func (h *NoticeHandler) HandleShowSchedulePage(c *fiber.Ctx) error {
	dept, err := h.service.CheckDepartment(department(c))
	if err != nil {
		return h.HandleUnknownDepartment(c)
	}
	flashSuccess, flashError := h.popFlash(c)
	return c.Render("schedule_notice", fiber.Map{
		"Title":        "Notice Board | schedule " + dept,
		"Department":   dept,
		"FlashSuccess": flashSuccess,
		"FlashError":   flashError,
	}, "layout")
}

// HandleCreateScheduled handles 'POST /schedule_notice/:dept'.
func (h *NoticeHandler) HandleCreateScheduled(c *fiber.Ctx) error {
	dept := department(c)
	back := "/schedule_notice/" + dept

	up, f, err := formUpload(c)
	if err != nil {
		h.flash(c, "flash_error", "Please select a file and scheduled date/time.")
		return c.Redirect(back)
	}
	defer f.Close()

	in := ScheduleInput{
		Date:       c.FormValue("date"),
		Time:       c.FormValue("time"),
		AMPM:       c.FormValue("ampm"),
		ExpireDate: c.FormValue("expire_date"),
	}
	notices, err := h.service.CreateScheduled(c.UserContext(), dept, up, in)
	if err != nil {
		log.Warnf("scheduled notice failed: %v", err)
		h.flash(c, "flash_error", "Scheduling failed: "+err.Error())
		return c.Redirect(back)
	}
	h.flash(c, "flash_success", strconv.Itoa(len(notices))+" notice(s) scheduled successfully.")
	return c.Redirect("/admin/" + dept)
}

// HandleDeleteNotice handles 'POST /delete_notice/:id'.
func (h *NoticeHandler) HandleDeleteNotice(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).SendString("invalid notice id")
	}

	n, err := h.service.Delete(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.flash(c, "flash_error", "Notice not found.")
		} else {
			log.Errorf("delete notice %d failed: %v", id, err)
			h.flash(c, "flash_error", "Delete failed: "+err.Error())
		}
		return c.Redirect(c.Get(fiber.HeaderReferer, "/dashboard"))
	}
	h.flash(c, "flash_success", "Notice deleted successfully.")
	return c.Redirect("/admin/" + n.Department)
}

// HandleDeleteAll handles 'POST /delete_all_notices/:dept'.
func (h *NoticeHandler) HandleDeleteAll(c *fiber.Ctx) error {
	dept := department(c)
	count, err := h.service.DeleteAll(c.UserContext(), dept)
	if err != nil {
		log.Errorf("delete all notices of %s failed: %v", dept, err)
		h.flash(c, "flash_error", "Delete failed: "+err.Error())
	} else {
		h.flash(c, "flash_success", strconv.Itoa(count)+" notice(s) deleted successfully.")
	}
	return c.Redirect("/admin/" + dept)
}

// HandleSnapshot handles 'GET /get_latest_notices/:dept'. Unknown departments
// get an empty list.
func (h *NoticeHandler) HandleSnapshot(c *fiber.Ctx) error {
	notices, err := h.service.Snapshot(c.UserContext(), c.Params("dept"))
	if errors.Is(err, ErrUnknownDepartment) {
		return c.JSON([]interface{}{})
	}
	if err != nil {
		log.Errorf("snapshot failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "snapshot unavailable"})
	}
	return c.JSON(notices)
}

// HandleSlideshow handles 'GET /:dept', the public display page.
func (h *NoticeHandler) HandleSlideshow(c *fiber.Ctx) error {
	notices, err := h.service.Snapshot(c.UserContext(), c.Params("dept"))
	if errors.Is(err, ErrUnknownDepartment) {
		h.flash(c, "flash_error", "Department not found.")
		return c.Redirect("/dashboard")
	}
	if err != nil {
		log.Errorf("slideshow load failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("failed to load notices")
	}
	dept, _ := h.service.CheckDepartment(c.Params("dept"))
	return c.Render("slideshow", fiber.Map{
		"Title":      "Notice Board | " + dept,
		"Department": dept,
		"Notices":    notices,
		"HideNav":    true,
	}, "layout")
}

// HandleAsset handles 'GET /uploads/:ref'.
func (h *NoticeHandler) HandleAsset(c *fiber.Ctx) error {
	ref := c.Params("ref")
	rc, err := h.service.OpenAsset(c.UserContext(), ref)
	if errors.Is(err, asset.ErrNotFound) || errors.Is(err, asset.ErrInvalidRef) {
		return fiber.ErrNotFound
	}
	if err != nil {
		log.Errorf("asset %s open failed: %v", ref, err)
		return fiber.ErrInternalServerError
	}
	c.Type(filepath.Ext(ref))
	return c.SendStream(rc)
}
