package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nexuschat/nexus/internal/server/models"
)

const userKey = "user"

// bearerAuth resolves the Authorization header and stores the user under
// userKey. Token details never reach the log.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				return s.unauthorized(c, "Not authenticated")
			}

			user, err := s.svc.Sessions.Resolve(c.Request().Context(), strings.TrimSpace(token))
			if err != nil {
				return s.writeError(c, err, "Could not validate credentials")
			}

			c.Set(userKey, user)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) *models.User {
	u, _ := c.Get(userKey).(*models.User)
	return u
}

func (s *Server) unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, errorBody{Detail: msg})
}

func routeKey(method, path string) string {
	return method + " " + path
}

// timeout bounds each request's context with the route's own limit, or
// RequestTimeout for routes without one.
func (s *Server) timeout() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, ok := s.timeouts[routeKey(c.Request().Method, c.Path())]
			if !ok {
				d = s.opts.RequestTimeout
			}
			if d <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// requestLogger routes echo's access log into the structured logger. Only
// the route pattern is logged so path parameters such as emails stay out.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogRoutePath: true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			ctx := c.Request().Context()
			if v.Status >= http.StatusInternalServerError {
				s.logger.Error(ctx, "request", args...)
			} else {
				s.logger.Info(ctx, "request", args...)
			}
			return nil
		},
	})
}
