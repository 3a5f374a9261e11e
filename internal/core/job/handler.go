package job

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the user-facing job endpoints. Every route here runs
// behind the bearer-token middleware, which stores the resolved user id in
// fiber locals.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

type createJobBody struct {
	RemoteSourceID string          `json:"remote_source_identifier"`
	Title          string          `json:"title"`
	Creator        string          `json:"creator"`
	Year           int             `json:"year"`
	Provider       string          `json:"provider"`
	Prompts        json.RawMessage `json:"prompts"`
	PreviewPages   int             `json:"preview_pages"`
}

// HandleCreate accepts either a JSON body naming a remote archive item or a
// multipart upload carrying the document itself.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req SubmitRequest

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fileHeader, err := c.FormFile("file")
		if err == nil {
			f, err := fileHeader.Open()
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable file"})
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable file"})
			}
			req.File = data
			req.Filename = fileHeader.Filename
		}
		req.Provider = c.FormValue("provider")
		if p := c.FormValue("prompts"); p != "" {
			req.PromptsRaw = []byte(p)
		}
		if v := c.FormValue("preview_pages"); v != "" {
			req.PreviewPages, _ = strconv.Atoi(v)
		}
	} else {
		var body createJobBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		req.RemoteSourceID = body.RemoteSourceID
		req.Title = body.Title
		req.Creator = body.Creator
		req.Year = body.Year
		req.Provider = body.Provider
		req.PreviewPages = body.PreviewPages
		if len(body.Prompts) > 0 {
			req.PromptsRaw = body.Prompts
		}
	}

	j, err := h.service.Submit(c.Context(), userID(c), req)
	if err != nil {
		return jobError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"job": j})
}

// HandleList returns the caller's jobs, newest first.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	var status *Status
	if v := c.Query("status"); v != "" {
		s := Status(v)
		status = &s
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	jobs, err := h.service.List(c.Context(), userID(c), status, limit)
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// HandleGet returns a job and its pages in page order.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	j, pages, err := h.service.Get(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{"job": j, "pages": pages})
}

type updateJobBody struct {
	Prompts json.RawMessage `json:"prompts"`
	Status  string          `json:"status"`
	Action  string          `json:"action"`
}

// HandleUpdate is the review gate: prompt edits, continue/cancel actions,
// and validated status changes.
func (h *Handler) HandleUpdate(c *fiber.Ctx) error {
	var body updateJobBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	req := UpdateRequest{Action: body.Action, Status: body.Status}
	if len(body.Prompts) > 0 {
		req.PromptsRaw = body.Prompts
	}

	j, err := h.service.Update(c.Context(), c.Params("id"), userID(c), req)
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{"job": j})
}

// HandleDelete removes a job and all its pages.
func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id"), userID(c)); err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// jobError maps service sentinels to HTTP statuses. Not-found and not-owned
// are indistinguishable on purpose.
func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotAwaitingReview),
		errors.Is(err, ErrTerminal):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}
