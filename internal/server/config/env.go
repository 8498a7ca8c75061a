package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays values from environment variables. A .env file in the
// working directory is loaded first when present; it never overrides
// variables already set in the process environment.
func parseEnv(c *Config, lookup func(string) (string, bool)) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	e := envReader{lookup: lookup}

	e.str("HTTP_ADDR", &c.HTTPAddr)
	e.str("DATABASE_URL", &c.DatabaseDSN)
	e.dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	e.str("SECRET_KEY", &c.SecretKey)
	e.dur("ACCESS_TOKEN_TTL", &c.AccessTokenValidityDuration)
	e.dur("REFRESH_TOKEN_TTL", &c.RefreshTokenValidityDuration)
	e.dur("OTP_TTL", &c.OTPValidityDuration)

	e.str("OTP_SWEEP_SCHEDULE", &c.OTPSweepSchedule)
	e.str("OTP_SWEEP_TIMEZONE", &c.OTPSweepTimezone)
	e.dur("OTP_RETENTION", &c.OTPRetention)

	e.str("REDIS_ADDR", &c.RedisAddr)
	e.str("REDIS_PASSWORD", &c.RedisPassword)
	e.int("REDIS_DB", &c.RedisDB)
	e.float("RATE_LIMIT_RPS", &c.RateLimitRPS)
	e.int("RATE_LIMIT_BURST", &c.RateLimitBurst)
	e.str("TRUSTED_PROXIES", &c.TrustedProxies)

	e.str("MAIL_PROVIDER", &c.MailProvider)
	e.str("MAIL_SENDER_EMAIL", &c.MailSenderEmail)
	e.str("MAIL_SENDER_NAME", &c.MailSenderName)
	e.dur("MAIL_TIMEOUT", &c.MailTimeout)
	e.str("BREVO_API_KEY", &c.BrevoAPIKey)
	e.str("BREVO_BASE_URL", &c.BrevoBaseURL)
	e.str("SMTP_HOST", &c.SMTPHost)
	e.int("SMTP_PORT", &c.SMTPPort)
	e.str("SMTP_USER", &c.SMTPUser)
	e.str("SMTP_PASS", &c.SMTPPassword)
	e.str("AMQP_URL", &c.AMQPURL)
	e.str("MAIL_QUEUE", &c.MailQueue)

	e.str("S3_ROOT_USER", &c.S3RootUser)
	e.str("S3_ROOT_PASSWORD", &c.S3RootPassword)
	e.str("S3_BUCKET", &c.S3Bucket)
	e.str("S3_REGION", &c.S3Region)
	e.str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	e.dur("S3_PRESIGN_EXPIRY", &c.PresignExpiry)

	e.str("LLM_BASE_URL", &c.LLMBaseURL)
	e.str("GROQ_API_KEY", &c.LLMAPIKey)
	e.str("LLM_DEFAULT_MODEL", &c.LLMDefaultModel)
	e.dur("LLM_TIMEOUT", &c.LLMTimeout)
	e.int("MESSAGE_LIMIT", &c.MessageLimit)

	return e.err()
}

// envReader collects parse errors so one bad variable does not hide others.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) dur(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
