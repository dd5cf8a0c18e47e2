package handlers

import (
	"errors"
	"strings"

	"chat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// httpError maps a service error to a fiber error. Unclassified errors are
// returned as-is and rendered as 500 by ErrorHandler.
func httpError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrUserExists):
		return fiber.NewError(fiber.StatusConflict, "user already exists")
	case errors.Is(err, services.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
	return err
}

// ErrorHandler renders every error as {"status":"error","message":...}.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"status": "error", "message": msg})
	}
}

// splitIDs parses a comma separated id list from a query parameter.
func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
