package main

import (
	"errors"
	"mime"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"dirbrowse/host"
	"dirbrowse/listing"
	"dirbrowse/logging"
	"dirbrowse/metrics"
	"dirbrowse/mutation"
	"dirbrowse/session"
)

type addRequest struct {
	Path string `json:"path"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type stateResponse struct {
	State     session.State `json:"state"`
	Cancelled bool          `json:"cancelled,omitempty"`
}

type uploadResponse struct {
	State    session.State    `json:"state"`
	Outcomes []outcomeMessage `json:"outcomes"`
}

type outcomeMessage struct {
	Name   string          `json:"name"`
	Status mutation.Status `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// statusFor maps a session error to an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrDuplicate),
		errors.Is(err, session.ErrAlreadyExists):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrNotFound), errors.Is(err, host.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrPermissionDenied),
		errors.Is(err, session.ErrStaleAuthorization):
		return fiber.StatusForbidden
	case errors.Is(err, session.ErrNotBrowsing),
		errors.Is(err, session.ErrNoTarget),
		errors.Is(err, host.ErrTypeMismatch),
		errors.Is(err, host.ErrInvalidName):
		return fiber.StatusBadRequest
	case errors.Is(err, session.ErrUnsupported):
		return fiber.StatusNotImplemented
	}
	return fiber.StatusInternalServerError
}

func (a *application) errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}

func (a *application) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          a.errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	app.Use(logging.Middleware(a.logger.Named("http")))

	if a.cfg.Metrics.Enabled {
		app.Get("/metrics", metrics.Handler())
	}

	api := app.Group("/api")
	api.Get("/state", a.handleState)
	api.Get("/directories", a.handleDirectories)
	api.Post("/directories", a.handleAddDirectory)
	api.Delete("/directories/:id", a.handleRemoveDirectory)
	api.Post("/enter/:id", a.handleEnter)
	api.Post("/descend", a.handleDescend)
	api.Post("/ascend", a.handleAscend)
	api.Post("/home", a.handleHome)
	api.Post("/refresh", a.handleRefresh)
	api.Get("/file", a.handleFile)

	if a.cfg.Server.Write {
		api.Post("/folders", a.trackInflight, a.handleCreateFolder)
		api.Post("/files", a.trackInflight, a.handleUploadForm)
		api.Delete("/entries", a.trackInflight, a.handleDelete)
		a.setupTusUpload(app)
	} else {
		a.logger.Info("write routes disabled: not in write mode")
	}

	app.Use("/events", requireUpgrade)
	app.Get("/events", websocket.New(a.handleEvents))
	return app
}

// trackInflight lets shutdown wait for mutations that already started.
func (a *application) trackInflight(c *fiber.Ctx) error {
	a.inflight.Add(1)
	defer a.inflight.Done()
	return c.Next()
}

func (a *application) respond(c *fiber.Ctx, st session.State, err error) error {
	if errors.Is(err, session.ErrCancelled) {
		return c.JSON(stateResponse{State: st, Cancelled: true})
	}
	if err != nil {
		return err
	}
	return c.JSON(stateResponse{State: st})
}

func (a *application) handleState(c *fiber.Ctx) error {
	return c.JSON(stateResponse{State: a.ctrl.State()})
}

func (a *application) handleDirectories(c *fiber.Ctx) error {
	dirs, err := a.ctrl.Directories()
	if err != nil {
		return err
	}
	return c.JSON(dirs)
}

func (a *application) handleAddDirectory(c *fiber.Ctx) error {
	var req addRequest
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return fiber.NewError(fiber.StatusBadRequest, "path is required")
	}
	dir, err := a.local.Open(c.UserContext(), req.Path)
	if err != nil {
		return err
	}
	rec, err := a.ctrl.AddDirectory(c.UserContext(), dir)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (a *application) handleRemoveDirectory(c *fiber.Ctx) error {
	st, err := a.ctrl.RemoveDirectory(c.UserContext(), c.Params("id"))
	return a.respond(c, st, err)
}

func (a *application) handleEnter(c *fiber.Ctx) error {
	st, err := a.ctrl.Enter(c.UserContext(), c.Params("id"))
	return a.respond(c, st, err)
}

func (a *application) handleDescend(c *fiber.Ctx) error {
	var req nameRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}
	st, err := a.ctrl.Descend(c.UserContext(), req.Name)
	return a.respond(c, st, err)
}

func (a *application) handleAscend(c *fiber.Ctx) error {
	st, err := a.ctrl.Ascend(c.UserContext())
	return a.respond(c, st, err)
}

func (a *application) handleHome(c *fiber.Ctx) error {
	st, err := a.ctrl.GoHome()
	return a.respond(c, st, err)
}

func (a *application) handleRefresh(c *fiber.Ctx) error {
	st, err := a.ctrl.Refresh(c.UserContext())
	return a.respond(c, st, err)
}

func (a *application) handleCreateFolder(c *fiber.Ctx) error {
	var req nameRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	st, err := a.ctrl.CreateDirectory(withName(c.UserContext(), req.Name))
	return a.respond(c, st, err)
}

func (a *application) handleDelete(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	st, err := a.ctrl.Delete(withConfirm(c.UserContext(), confirmed), name)
	return a.respond(c, st, err)
}

// handleUploadForm accepts a plain multipart upload of one or more files
// under the "files" field.
func (a *application) handleUploadForm(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form expected")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no files")
	}
	sources := make([]mutation.Source, len(files))
	for i, fh := range files {
		sources[i] = multipartSource(fh)
	}
	st, outcomes, err := a.ctrl.Upload(c.UserContext(), sources)
	if err != nil {
		return err
	}
	return c.JSON(uploadResponse{State: st, Outcomes: outcomeMessages(outcomes)})
}

func outcomeMessages(outcomes []mutation.Outcome) []outcomeMessage {
	out := make([]outcomeMessage, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcomeMessage{Name: o.Name, Status: o.Status}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
		}
	}
	return out
}

// handleFile streams a file of the current listing for preview.
func (a *application) handleFile(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}
	item, r, err := a.ctrl.OpenFile(c.UserContext(), name)
	if err != nil {
		return err
	}
	contentType := item.Type
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": item.Name})
	if disposition == "" {
		disposition = "inline"
	}
	c.Set(fiber.HeaderContentDisposition, disposition)
	c.Set("X-Preview-Kind", string(listing.PreviewKind(item)))
	size := -1
	if item.Size != nil {
		size = int(*item.Size)
	}
	return c.SendStream(r, size)
}
