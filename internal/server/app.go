// Package server wires the nexus components together: storage, mail
// delivery, rate limiting, the OTP sweeper and the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nexuschat/nexus/internal/cryptox"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/logging"
	"github.com/nexuschat/nexus/internal/server/assistant"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/httpapi"
	"github.com/nexuschat/nexus/internal/server/mailer"
	"github.com/nexuschat/nexus/internal/server/ratelimit"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
	"github.com/nexuschat/nexus/internal/server/services"
	"github.com/nexuschat/nexus/internal/server/sweeper"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	redis      *redis.Client
	dispatcher mailer.Dispatcher
	consumer   *mailer.Consumer
	sweeper    *sweeper.Sweeper
	http       *httpapi.Server
}

// NewApp opens the database, applies migrations and builds every service.
// Redis is optional: when it cannot be reached the auth endpoints run
// without throttling.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if cfg.UsesDevSecret() {
		logger.Warn(ctx, "using the built-in development secret key")
	}

	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app := &App{config: cfg, logger: logger, db: db}
	app.dispatcher, app.consumer = newMailPipeline(cfg, logger)

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn(ctx, "redis unavailable, rate limiting disabled", "error", err)
		} else {
			app.redis = rdb
			limiter = ratelimit.New(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
		}
	}

	tx := dbx.NewSQLTransactor(db, nil)
	opts := []services.Option{services.WithLogger(logger)}
	hasher := cryptox.NewArgon2Hasher(cryptox.DefaultArgon2Params)
	issuer := services.NewTokenIssuer(rm, cfg, opts...)
	llm := assistant.NewClient(&http.Client{}, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMDefaultModel, cfg.LLMTimeout)

	svc := httpapi.Services{
		Auth:          services.NewUserService(tx, rm, hasher, issuer, opts...),
		Verification:  services.NewVerificationService(tx, rm, hasher, issuer, app.dispatcher, cfg, opts...),
		Sessions:      services.NewSessionResolver(tx, rm, cfg, opts...),
		Conversations: services.NewConversationService(tx, rm, llm, cfg, opts...),
		Attachments:   services.NewAttachmentService(tx, rm, cfg, opts...),
	}

	app.sweeper = sweeper.New(db, rm, cfg.OTPRetention, logger)
	app.http = httpapi.NewServer(cfg.HTTPAddr, svc, limiter, httpapi.Options{
		RequestTimeout: cfg.RequestTimeout,
		// the assistant call plus the surrounding reads and writes
		ChatTimeout:    cfg.LLMTimeout + cfg.RequestTimeout,
		TrustedProxies: proxies,
	}, logger)

	return app, nil
}

// newMailPipeline picks the delivery backend. With a broker configured,
// requests publish to the queue and an in-process consumer delivers;
// otherwise each message is sent on its own goroutine.
func newMailPipeline(cfg *config.Config, logger logging.Logger) (mailer.Dispatcher, *mailer.Consumer) {
	var sender mailer.Sender
	switch cfg.MailProvider {
	case "brevo":
		sender = mailer.NewBrevoSender(&http.Client{Timeout: cfg.MailTimeout}, cfg.BrevoBaseURL, cfg.BrevoAPIKey, cfg.MailSenderEmail, cfg.MailSenderName)
	case "smtp":
		sender = &mailer.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     fmt.Sprintf("%s <%s>", cfg.MailSenderName, cfg.MailSenderEmail),
		}
	default:
		sender = mailer.NewLogSender(logger)
	}

	async := mailer.NewAsyncDispatcher(sender, cfg.MailTimeout, logger)
	if cfg.AMQPURL == "" {
		return async, nil
	}
	queued := mailer.NewQueueDispatcher(cfg.AMQPURL, cfg.MailQueue, cfg.MailTimeout, async, logger)
	consumer := mailer.NewConsumer(cfg.AMQPURL, cfg.MailQueue, sender, cfg.MailTimeout, logger)
	return queued, consumer
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until a termination signal arrives or the HTTP server fails,
// then shuts every component down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	stopSweep, err := app.sweeper.Schedule(ctx, app.config.OTPSweepSchedule, app.config.OTPSweepTimezone)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if app.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error(ctx, "mail consumer stopped", "error", err)
			}
		}()
	}

	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.http.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server stopped", "error", err)
			runErr = err
			cancelFunc()
		}
	}()

	<-ctx.Done()
	wg.Wait()
	stopSweep()
	app.close()

	app.logger.Info(context.Background(), "App stopped")
	return runErr
}

func (app *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.dispatcher.Close(ctx); err != nil {
		app.logger.Warn(ctx, "mail dispatcher close", "error", err)
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
}
