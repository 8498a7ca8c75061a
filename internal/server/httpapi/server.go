// Package httpapi exposes the services over HTTP/JSON with echo.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nexuschat/nexus/internal/logging"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/ratelimit"
	"github.com/nexuschat/nexus/internal/server/services"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID models.UserID) (int64, error)
}

type VerificationService interface {
	RequestSignupOTP(ctx context.Context, email, password string) (string, error)
	RequestResetOTP(ctx context.Context, email string) (string, error)
	VerifySignup(ctx context.Context, email, code string) (*models.User, *services.TokenPair, error)
	VerifyReset(ctx context.Context, email, code, newPassword string) (*models.User, *services.TokenPair, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, accessToken string) (*models.User, error)
}

type ConversationService interface {
	Create(ctx context.Context, userID models.UserID, title string) (*models.Conversation, error)
	List(ctx context.Context, userID models.UserID) ([]*models.Conversation, error)
	Delete(ctx context.Context, userID models.UserID, id string) error
	Messages(ctx context.Context, userID models.UserID, conversationID string) ([]*models.Message, error)
	PostMessage(ctx context.Context, userID models.UserID, conversationID, text, model string) (*models.Message, error)
}

type AttachmentService interface {
	CreateUpload(ctx context.Context, userID models.UserID, conversationID, fileName, contentType string) (*models.UploadTask, error)
	List(ctx context.Context, userID models.UserID, conversationID string) ([]*models.Attachment, error)
	DownloadURL(ctx context.Context, userID models.UserID, attachmentID string) (string, error)
}

// Services groups what the handlers call.
type Services struct {
	Auth          AuthService
	Verification  VerificationService
	Sessions      SessionResolver
	Conversations ConversationService
	Attachments   AttachmentService
}

// Options tunes the server. Zero timeouts disable the bound.
type Options struct {
	// RequestTimeout bounds every request except a chat turn.
	RequestTimeout time.Duration
	// ChatTimeout bounds posting a message, which waits on the assistant.
	ChatTimeout time.Duration
	// TrustedProxies lists the networks whose X-Forwarded-For is believed.
	// Empty means the client IP is the TCP peer.
	TrustedProxies []*net.IPNet
}

type Server struct {
	address  string
	echo     *echo.Echo
	svc      Services
	limiter  *ratelimit.Limiter
	opts     Options
	timeouts map[string]time.Duration
	logger   logging.Logger
}

// NewServer builds the router. limiter may be nil.
func NewServer(address string, svc Services, limiter *ratelimit.Limiter, opts Options, l logging.Logger) *Server {
	s := &Server{
		address:  address,
		echo:     echo.New(),
		svc:      svc,
		limiter:  limiter,
		opts:     opts,
		timeouts: make(map[string]time.Duration),
		logger:   l.With("module", "http_server"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.IPExtractor = ipExtractor(opts.TrustedProxies)
	s.echo.Validator = newRequestValidator()
	s.echo.HTTPErrorHandler = s.handleEchoError

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(s.requestLogger())
	s.echo.Use(s.timeout())

	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", health)

	api := e.Group("/api/v1")
	api.GET("/models/get_models", s.listModels)

	throttled := s.limiter.Middleware()
	bearer := s.bearerAuth()

	a := api.Group("/authentication")
	a.POST("/signup/send-otp", s.signupSendOTP, throttled)
	a.POST("/signup/verify-otp/:email", s.signupVerifyOTP, throttled)
	a.POST("/login", s.login, throttled)
	a.POST("/refresh", s.refresh, throttled)
	a.POST("/logout", s.logout)
	a.POST("/logout-all", s.logoutAll, bearer)
	a.POST("/reset-password/send-otp", s.resetSendOTP, throttled)
	a.POST("/reset-password/:email", s.resetPassword, throttled)
	a.GET("/me", s.me, bearer)

	c := api.Group("/conversations", bearer)
	c.POST("", s.createConversation)
	c.POST("/", s.createConversation)
	c.GET("", s.listConversations)
	c.GET("/", s.listConversations)
	c.DELETE("/:id", s.deleteConversation)
	c.GET("/:id/messages/", s.listMessages)
	c.POST("/:id/messages/", s.postMessage)
	s.timeouts[routeKey(http.MethodPost, "/api/v1/conversations/:id/messages/")] = s.opts.ChatTimeout
	c.POST("/:id/documents", s.createDocument)
	c.GET("/:id/documents", s.listDocuments)

	api.GET("/attachments/:id", s.downloadAttachment, bearer)
}

// ipExtractor ignores forwarding headers unless the peer is a trusted proxy,
// so clients cannot pick the address the rate limiter keys on.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
