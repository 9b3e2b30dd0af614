package utils

import (
	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends an error JSON response built from apiErr.
// An explicit status code overrides apiErr.Status without mutating the shared value.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, code ...int) error {
	out := *apiErr
	if len(code) > 0 {
		out.Status = code[0]
	}
	if out.Status == 0 {
		out.Status = fiber.StatusInternalServerError
	}

	return c.Status(out.Status).JSON(fiber.Map{
		"success": false,
		"error":   out,
	})
}
