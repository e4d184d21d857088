package rest

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/application"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/validations"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionManager is the part of the session lifecycle manager served over HTTP.
type SessionManager interface {
	Acquire(ctx context.Context, id, owner string) (*application.AcquireResult, error)
	Reconnect(ctx context.Context, id, owner string) (*application.AcquireResult, error)
	Get(id, owner string) (*session.Session, error)
	List(owner string, statuses ...session.Status) []*session.Session
	Groups(id, owner string) ([]session.Group, bool, error)
	RefreshGroups(id, owner string) error
	ToggleGroup(ctx context.Context, id, owner, groupID string) (session.Group, error)
	Logout(ctx context.Context, id, owner string) error
}

type Session struct {
	Manager     SessionManager
	UploadsRoot string
}

type acquireRequest struct {
	SessionID string `json:"session_id"`
}

func InitRestSession(app fiber.Router, manager SessionManager, uploadsRoot string) Session {
	rest := Session{Manager: manager, UploadsRoot: uploadsRoot}

	app.Post("/sessions", rest.Acquire)
	app.Get("/sessions", rest.List)
	app.Get("/sessions/:id", rest.Get)
	app.Post("/sessions/:id/reconnect", rest.Reconnect)
	app.Delete("/sessions/:id", rest.Logout)
	app.Get("/sessions/:id/groups", rest.Groups)
	app.Post("/sessions/:id/groups/refresh", rest.RefreshGroups)
	app.Post("/sessions/:id/groups/:groupId/toggle", rest.ToggleGroup)
	app.Post("/sessions/:id/media", rest.UploadMedia)

	return rest
}

// ownerOf returns the basic-auth user of the request.
func ownerOf(c *fiber.Ctx) string {
	if username, ok := c.Locals("username").(string); ok && username != "" {
		return username
	}
	return defaultOwner
}

// defaultOwner scopes sessions when basic auth is disabled.
const defaultOwner = "default"

func (handler *Session) Acquire(c *fiber.Ctx) error {
	var request acquireRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
				Status:  fiber.StatusBadRequest,
				Code:    "BAD_REQUEST",
				Message: err.Error(),
			})
		}
	}

	id := strings.TrimSpace(request.SessionID)
	if id != "" {
		utils.PanicIfNeeded(validations.ValidateSessionID(id))
	}

	result, err := handler.Manager.Acquire(c.UserContext(), id, ownerOf(c))
	utils.PanicIfNeeded(err)

	message := "Session initializing"
	status := fiber.StatusCreated
	if result.Existing {
		message = "Session already exists"
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    "SUCCESS",
		Message: message,
		Results: result,
	})
}

func (handler *Session) List(c *fiber.Ctx) error {
	var statuses []session.Status
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, session.Status(s))
			}
		}
	}

	sessions := handler.Manager.List(ownerOf(c), statuses...)
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: fmt.Sprintf("%d sessions found", len(sessions)),
		Results: sessions,
	})
}

func (handler *Session) Get(c *fiber.Ctx) error {
	s, err := handler.Manager.Get(c.Params("id"), ownerOf(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Session found",
		Results: s,
	})
}

func (handler *Session) Reconnect(c *fiber.Ctx) error {
	result, err := handler.Manager.Reconnect(c.UserContext(), c.Params("id"), ownerOf(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Reconnect started",
		Results: result,
	})
}

func (handler *Session) Logout(c *fiber.Ctx) error {
	err := handler.Manager.Logout(c.UserContext(), c.Params("id"), ownerOf(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Session logged out",
	})
}

func (handler *Session) Groups(c *fiber.Ctx) error {
	groups, loaded, err := handler.Manager.Groups(c.Params("id"), ownerOf(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: fmt.Sprintf("%d groups", len(groups)),
		Results: fiber.Map{
			"groups":        groups,
			"groups_loaded": loaded,
		},
	})
}

func (handler *Session) RefreshGroups(c *fiber.Ctx) error {
	err := handler.Manager.RefreshGroups(c.Params("id"), ownerOf(c))
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  fiber.StatusAccepted,
		Code:    "SUCCESS",
		Message: "Group refresh started",
	})
}

func (handler *Session) ToggleGroup(c *fiber.Ctx) error {
	group, err := handler.Manager.ToggleGroup(c.UserContext(), c.Params("id"), ownerOf(c), c.Params("groupId"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Group selection updated",
		Results: group,
	})
}

// UploadMedia stores a file for later sends and returns its reference. The
// reference is a bare file name, only valid for sends of the same session.
func (handler *Session) UploadMedia(c *fiber.Ctx) error {
	id := c.Params("id")
	utils.PanicIfNeeded(validations.ValidateSessionID(id))
	_, err := handler.Manager.Get(id, ownerOf(c))
	utils.PanicIfNeeded(err)

	file, err := c.FormFile("file")
	if err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("file: " + err.Error()))
	}

	dir, err := utils.SessionUploadPath(handler.UploadsRoot, id)
	utils.PanicIfNeeded(err)

	name := uuid.NewString() + uploadExt(file.Filename)
	dest := filepath.Join(dir, name)
	if err := c.SaveFile(file, dest); err != nil {
		logrus.WithError(err).Errorf("[REST] Could not store upload for %s", id)
		utils.PanicIfNeeded(err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: "Media stored",
		Results: session.MediaRef{
			Path:     name,
			MimeType: file.Header.Get("Content-Type"),
			FileName: file.Filename,
		},
	})
}

var uploadExtPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// uploadExt keeps the extension of an uploaded file name when it is plain.
func uploadExt(name string) string {
	ext := filepath.Ext(name)
	if !uploadExtPattern.MatchString(ext) {
		return ""
	}
	return strings.ToLower(ext)
}
