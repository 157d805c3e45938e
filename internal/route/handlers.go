package route

import (
	"errors"

	"backend-runconnect/internal/auth"
	"backend-runconnect/internal/shared/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validation.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		created, err := svc.Create(c.Context(), Route{
			Name:        req.Name,
			Description: req.Description,
			CreatedBy:   auth.UserID(c),
			Waypoints:   req.Waypoints,
			DistanceKm:  req.DistanceKm,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Get("/mine", authMiddleware, func(c *fiber.Ctx) error {
		routes, err := svc.ListByUser(c.Context(), auth.UserID(c), c.QueryInt("limit", 20))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(routes)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		id, err := routeID(c)
		if err != nil {
			return err
		}
		rt, err := svc.Get(c.Context(), id)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(rt)
	})

	r.Get("/:id/geojson", func(c *fiber.Ctx) error {
		id, err := routeID(c)
		if err != nil {
			return err
		}
		body, err := svc.GeoJSON(c.Context(), id)
		if err != nil {
			return statusFor(err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := routeID(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.Context(), id, auth.UserID(c)); err != nil {
			return statusFor(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// routeID reads the :id param. Ids are uuid columns, so anything else can
// never match a row.
func routeID(c *fiber.Ctx) (string, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return "", statusFor(ErrNotFound)
	}
	return id.String(), nil
}

func statusFor(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, ErrNotFound.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
