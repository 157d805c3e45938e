package session

import (
	"errors"

	"backend-runconnect/internal/auth"
	"backend-runconnect/internal/route"
	"backend-runconnect/internal/shared/geo"
	"backend-runconnect/internal/shared/validation"

	"github.com/gofiber/fiber/v2"
)

type waypointsRequest struct {
	Waypoints []geo.Coordinate `json:"waypoints" validate:"dive"`
}

type snappingRequest struct {
	Enabled bool `json:"enabled"`
}

func RegisterRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validation.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.UserID = auth.UserID(c)
		s, err := m.Create(c.Context(), req)
		if err != nil {
			return statusFor(err)
		}
		return c.Status(fiber.StatusCreated).JSON(s.Snapshot())
	})

	r.Get("/:id", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		return c.JSON(s.Snapshot())
	}))

	r.Delete("/:id", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		if err := m.Close(s.ID()); err != nil {
			return statusFor(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}))

	r.Post("/:id/waypoints", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		var req geo.Coordinate
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validation.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		snap, err := s.AddWaypoint(req)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(snap)
	}))

	r.Delete("/:id/waypoints/last", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		return c.JSON(s.UndoLast())
	}))

	r.Delete("/:id/waypoints", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		return c.JSON(s.ClearAll())
	}))

	r.Put("/:id/waypoints", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		var req waypointsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validation.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(s.SyncFromExternal(req.Waypoints))
	}))

	r.Put("/:id/snapping", authMiddleware, owned(m, func(c *fiber.Ctx, s *Session) error {
		var req snappingRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(s.SetSnapping(req.Enabled))
	}))

	r.Post("/:id/submit", authMiddleware, func(c *fiber.Ctx) error {
		var req SubmitInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validation.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		saved, err := m.Submit(c.Context(), c.Params("id"), auth.UserID(c), req)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(saved)
	})
}

// owned resolves the session and rejects callers other than its creator.
func owned(m *Manager, next func(*fiber.Ctx, *Session) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := m.Get(c.Params("id"))
		if err != nil {
			return statusFor(err)
		}
		if s.Owner() != auth.UserID(c) {
			return statusFor(ErrForbidden)
		}
		return next(c, s)
	}
}

// OwnerGuard rejects stream subscribers that do not own the session named by
// the sessionID route param. It expects an auth middleware ahead of it.
func OwnerGuard(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := m.Get(c.Params("sessionID"))
		if err != nil {
			return statusFor(err)
		}
		if s.Owner() != auth.UserID(c) {
			return statusFor(ErrForbidden)
		}
		return c.Next()
	}
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, route.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotEditable):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrNameRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
