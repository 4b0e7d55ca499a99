package apperror

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorHandler returns the Echo error handler used by both production
// and test servers. Errors render as
// {"success": false, "message": ..., "error": <code>, "requestId": ...}.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		code := "internal"
		message := "An internal error occurred"

		switch e := err.(type) {
		case *Error:
			status = e.HTTPStatus
			code = e.Code
			message = e.Message
		case *echo.HTTPError:
			status = e.Code
			if msg, ok := e.Message.(string); ok {
				message = msg
			}
			switch status {
			case http.StatusBadRequest:
				code = "invalid_input"
			case http.StatusUnauthorized:
				code = "unauthorized"
			case http.StatusNotFound:
				code = "not_found"
			}
		}

		if status >= 500 {
			log.Error("request error",
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
		}

		response := map[string]any{
			"success": false,
			"message": message,
			"error":   code,
		}
		if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
			response["requestId"] = reqID
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(status)
		} else {
			c.JSON(status, response)
		}
	}
}
