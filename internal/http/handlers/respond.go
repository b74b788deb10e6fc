package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

// envelope is the shape of every API response.
type envelope struct {
	Status    bool   `json:"status"`
	Data      any    `json:"data"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode,omitempty"`
}

const genericMessage = "Something went wrong. Please try again."

func ok(c *fiber.Ctx, data any, msg string) error {
	return c.JSON(envelope{Status: true, Data: data, Message: msg})
}

func created(c *fiber.Ctx, data any, msg string) error {
	return c.Status(fiber.StatusCreated).JSON(envelope{Status: true, Data: data, Message: msg})
}

func reject(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(envelope{Status: false, Message: msg, ErrorCode: code})
}

// fail maps a service error to the envelope. Business errors keep their
// message; anything else is logged and hidden behind a generic one.
func fail(c *fiber.Ctx, action string, err error, fields map[string]any) error {
	var se *services.Error
	if errors.As(err, &se) {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["code"] = se.Code
		if se.Status >= fiber.StatusInternalServerError {
			applog.Error(c, action, err, fields)
		} else {
			applog.Security(c, action, fields)
		}
		return reject(c, se.Status, se.Code, se.Message)
	}
	applog.Error(c, action, err, fields)
	return reject(c, fiber.StatusInternalServerError, "", genericMessage)
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return reject(c, fiber.StatusBadRequest, services.CodeValidation, "invalid "+field)
}

// ErrorHandler is the app-wide fallback; internals never reach the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return reject(c, fe.Code, "", fe.Message)
	}
	applog.Error(c, "server.error", err, nil)
	return reject(c, fiber.StatusInternalServerError, "", genericMessage)
}
