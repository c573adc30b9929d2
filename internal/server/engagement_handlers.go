package server

import (
	"errors"
	"fmt"
	"time"

	"ripple/internal/models"
	"ripple/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// parseTarget extracts and validates the :type/:id route parameters.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseTarget(c *fiber.Ctx) (models.TargetRef, error) {
	target := models.TargetRef{
		ContentID:   c.Params("id"),
		ContentType: models.ContentType(c.Params("type")),
	}
	if target.ContentID == "" || !target.ContentType.Valid() {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid target reference"))
		return models.TargetRef{}, errResponseWritten
	}
	return target, nil
}

// currentUser builds the UserInfo snapshot from auth locals.
func (s *Server) currentUser(c *fiber.Ctx) models.UserInfo {
	user := models.UserInfo{}
	if uid, ok := c.Locals("userID").(string); ok {
		user.UserID = uid
	}
	if name, ok := c.Locals("displayName").(string); ok {
		user.DisplayName = name
	}
	if photo, ok := c.Locals("photoURL").(string); ok {
		user.PhotoURL = photo
	}
	return user
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodeTargetNotFound:
		return fiber.StatusNotFound
	case models.CodeRateLimited:
		return fiber.StatusTooManyRequests
	case models.CodeTransient:
		return fiber.StatusServiceUnavailable
	case models.CodeValidationError:
		return fiber.StatusBadRequest
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// ToggleLike flips the caller's like on a target.
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	target, err := s.parseTarget(c)
	if err != nil {
		return nil
	}
	user := s.currentUser(c)

	result, err := s.engagementSvc.ToggleLike(c.UserContext(), service.ToggleLikeInput{
		Target: target,
		User:   user,
	})
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}

	status := fiber.StatusOK
	if result.Queued {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(result)
}

// GetEngagement returns the normalized engagement view for a target.
func (s *Server) GetEngagement(c *fiber.Ctx) error {
	target, err := s.parseTarget(c)
	if err != nil {
		return nil
	}

	userID, _ := s.optionalUserID(c)
	view, err := s.engagementSvc.GetEngagement(c.UserContext(), target, userID)
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.JSON(view)
}

// RecordAction applies a share/save/report action to a target.
func (s *Server) RecordAction(c *fiber.Ctx) error {
	target, err := s.parseTarget(c)
	if err != nil {
		return nil
	}
	user := s.currentUser(c)
	action := models.ActionType(c.Params("action"))

	view, err := s.engagementSvc.RecordAction(c.UserContext(), service.RecordActionInput{
		Target: target,
		UserID: user.UserID,
		Action: action,
	})
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.JSON(view)
}

// GetLimitInfo reports the caller's remaining budget for an action.
func (s *Server) GetLimitInfo(c *fiber.Ctx) error {
	action := models.ActionType(c.Params("action"))
	user := s.currentUser(c)

	info, err := s.engagementSvc.LimitInfo(c.UserContext(), action, user.UserID)
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.JSON(info)
}

// GetQueueStatus reports pending intent count for the caller's diagnostics.
func (s *Server) GetQueueStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"pending": s.engagementSvc.QueueDepth(),
	})
}

// DrainQueue triggers an immediate delivery attempt of all pending intents.
func (s *Server) DrainQueue(c *fiber.Ctx) error {
	s.engagementSvc.DrainQueue(c.UserContext())
	return c.JSON(fiber.Map{
		"pending": s.engagementSvc.QueueDepth(),
	})
}

// IssueWSTicket creates a short-lived, single-use WebSocket ticket for the
// authenticated user. WS routes require tickets so tokens never appear in
// query strings.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("ticket store unavailable")))
	}
	user := s.currentUser(c)
	if user.UserID == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
	}

	ticket := uuid.NewString()
	key := fmt.Sprintf("ws_ticket:%s", ticket)
	if err := s.redis.Set(c.Context(), key, user.UserID, 30*time.Second).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": 30,
	})
}
