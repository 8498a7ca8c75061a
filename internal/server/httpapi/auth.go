package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nexuschat/nexus/internal/server/services"
)

const (
	otpSentMessage   = "OTP sent to your email"
	resetSentMessage = "If an account with that email exists, an OTP has been sent"

	invalidCredentials = "Invalid email or password"
	invalidRefresh     = "Invalid or expired refresh token"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type verifySignupRequest struct {
	Email string `json:"-" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,digits"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Email       string `json:"-" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,len=6,digits"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

type otpSentResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

type tokenResponse struct {
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newTokenResponse(msg string, p *services.TokenPair) tokenResponse {
	return tokenResponse{Message: msg, AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, TokenType: p.TokenType}
}

func emailParam(c echo.Context) string {
	raw := c.Param("email")
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) signupSendOTP(c echo.Context) error {
	var req signupRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	email, err := s.svc.Verification.RequestSignupOTP(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, otpSentResponse{Message: otpSentMessage, Email: email})
}

func (s *Server) signupVerifyOTP(c echo.Context) error {
	var req verifySignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.Email = emailParam(c)
	if err := c.Validate(&req); err != nil {
		return err
	}

	_, pair, err := s.svc.Verification.VerifySignup(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusCreated, newTokenResponse("User created successfully", pair))
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	pair, err := s.svc.Auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return s.writeError(c, err, invalidCredentials)
	}
	return c.JSON(http.StatusOK, newTokenResponse("Login successful", pair))
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	pair, err := s.svc.Auth.RefreshToken(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return s.writeError(c, err, invalidRefresh)
	}
	return c.JSON(http.StatusOK, newTokenResponse("Token refreshed", pair))
}

func (s *Server) logout(c echo.Context) error {
	var req refreshRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	if err := s.svc.Auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return s.writeError(c, err, "")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) logoutAll(c echo.Context) error {
	user := currentUser(c)
	if _, err := s.svc.Auth.LogoutAll(c.Request().Context(), user.ID); err != nil {
		return s.writeError(c, err, "")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resetSendOTP(c echo.Context) error {
	var req resetRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	email, err := s.svc.Verification.RequestResetOTP(c.Request().Context(), req.Email)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, otpSentResponse{Message: resetSentMessage, Email: email})
}

func (s *Server) resetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.Email = emailParam(c)
	if err := c.Validate(&req); err != nil {
		return err
	}

	_, pair, err := s.svc.Verification.VerifyReset(c.Request().Context(), req.Email, req.OTP, req.NewPassword)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, newTokenResponse("Password reset successful", pair))
}

func (s *Server) me(c echo.Context) error {
	u := currentUser(c)
	return c.JSON(http.StatusOK, userResponse{ID: u.ID.String(), Email: u.Email, CreatedAt: u.CreatedAt})
}
