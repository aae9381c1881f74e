package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"oppcore/internal/database"
	"oppcore/internal/filestore"
	"oppcore/internal/llm"
	"oppcore/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers are thin adapters over the resource facade; business logic lives
// outside this layer.
func RegisterRoutes(app *fiber.App, res service.Resources) {
	// Health endpoint: one lightweight probe per dependency, never mutates state.
	app.Get("/health", func(c *fiber.Ctx) error {
		status := res.Health(c.UserContext())
		code := fiber.StatusOK
		if !status.DBReachable {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(status)
	})

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	app.Get("/files/+", func(c *fiber.Ctx) error {
		b, err := res.ReadFile(c.UserContext(), c.Params("+"))
		if err != nil {
			return domainError(c, err)
		}
		return c.Send(b)
	})

	app.Put("/files/+", func(c *fiber.Ctx) error {
		if err := res.WriteFile(c.UserContext(), c.Params("+"), c.Body()); err != nil {
			return domainError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/files/+", func(c *fiber.Ctx) error {
		if err := res.DeleteFile(c.UserContext(), c.Params("+")); err != nil {
			return domainError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/backup", func(c *fiber.Ctx) error {
		m, err := res.BackupAll(c.UserContext())
		if err != nil {
			return domainError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(m)
	})

	app.Post("/restore", func(c *fiber.Ctx) error {
		m, err := res.RestoreAll(c.UserContext())
		if err != nil {
			return domainError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(m)
	})

	app.Post("/chat", func(c *fiber.Ctx) error {
		var req llm.CompletionRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		}
		resp, err := res.Complete(c.UserContext(), req)
		if err != nil {
			return domainError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(resp)
	})
}

// domainError maps resource-layer errors onto the standardized error envelope.
// The HTTP layer owns user-visible behavior; the resource layer only supplies
// the taxonomy.
func domainError(c *fiber.Ctx, err error) error {
	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "file not found")
	case errors.Is(err, filestore.ErrInvalidPath):
		return writeError(c, fiber.StatusBadRequest, "INVALID_PATH", "invalid file path")
	case errors.Is(err, filestore.ErrRemoteUnavailable):
		return writeError(c, fiber.StatusServiceUnavailable, "REMOTE_UNAVAILABLE", "remote storage not configured")
	case errors.Is(err, database.ErrPoolExhausted):
		return writeError(c, fiber.StatusServiceUnavailable, "POOL_EXHAUSTED", "database busy, retry later")
	case errors.Is(err, llm.ErrTimeout):
		return writeError(c, fiber.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "completion API timed out")
	case errors.Is(err, llm.ErrNotConfigured):
		return writeError(c, fiber.StatusServiceUnavailable, "LLM_UNAVAILABLE", "completion API not configured")
	case errors.As(err, &upstream):
		return writeError(c, fiber.StatusBadGateway, "UPSTREAM_ERROR", "completion API error")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
