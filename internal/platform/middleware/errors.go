package middleware

import (
	"github.com/labstack/echo/v4"
)

// errorBody is the JSON error shape shared with echo's default error
// handler, so clients parse middleware rejections the same way.
type errorBody struct {
	Message string `json:"message"`
}

func reject(c echo.Context, status int, message string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, errorBody{Message: message})
}
