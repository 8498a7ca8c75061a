package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nexuschat/nexus/internal/common"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps service sentinels to a status and a fixed message.
// unauthorizedMsg is used for common.ErrorUnauthorized, whose wording
// differs per endpoint. Anything unmapped is a 500 with a generic body.
func (s *Server) writeError(c echo.Context, err error, unauthorizedMsg string) error {
	var (
		status int
		msg    string
	)
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return s.unauthorized(c, unauthorizedMsg)
	case errors.Is(err, common.ErrAlreadyRegistered):
		status, msg = http.StatusBadRequest, "User already registered"
	case errors.Is(err, common.ErrOtpAlreadyPending):
		status, msg = http.StatusTooManyRequests, "An unexpired OTP has already been sent to this email"
	case errors.Is(err, common.ErrInvalidOrExpiredOtp):
		status, msg = http.StatusBadRequest, "Invalid or expired OTP"
	case errors.Is(err, common.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	case errors.Is(err, common.ErrorValidation):
		status, msg = http.StatusUnprocessableEntity, "Invalid request"
	case errors.Is(err, common.ErrorNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, common.ErrUpstreamUnavailable):
		status, msg = http.StatusBadGateway, "Assistant is unavailable, try again later"
	default:
		if !errors.Is(err, common.ErrorInternal) {
			s.logger.Error(c.Request().Context(), "unhandled error", "error", err)
		}
		status, msg = http.StatusInternalServerError, "Internal server error"
	}
	return c.JSON(status, errorBody{Detail: msg})
}

// handleEchoError renders router and binder errors in the same shape.
func (s *Server) handleEchoError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := http.StatusInternalServerError, "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = fmt.Sprint(he.Message)
		if status >= http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	} else {
		s.logger.Error(c.Request().Context(), "unhandled error", "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, errorBody{Detail: msg})
	}
	if werr != nil {
		s.logger.Error(c.Request().Context(), "write error response", "error", werr)
	}
}
