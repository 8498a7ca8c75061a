package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nexuschat/nexus/internal/flagx"
	"github.com/nexuschat/nexus/internal/timex"
)

// JsonConfig is the on-disk shape of the optional config file. Durations use
// timex.Duration so they can be written as "15m" or as nanoseconds. Only keys
// present with a non-zero value override earlier sources.
type JsonConfig struct {
	HTTPAddr       string         `json:"http_addr"`
	DatabaseDSN    string         `json:"database_dsn"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	LogLevel       string         `json:"log_level"`
	LogFormat      string         `json:"log_format"`

	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	OTPValidityDuration          timex.Duration `json:"otp_validity_duration"`

	OTPSweepSchedule string         `json:"otp_sweep_schedule"`
	OTPSweepTimezone string         `json:"otp_sweep_timezone"`
	OTPRetention     timex.Duration `json:"otp_retention"`

	RedisAddr      string  `json:"redis_addr"`
	RedisPassword  string  `json:"redis_password"`
	RedisDB        int     `json:"redis_db"`
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
	TrustedProxies string  `json:"trusted_proxies"`

	MailProvider    string         `json:"mail_provider"`
	MailSenderEmail string         `json:"mail_sender_email"`
	MailSenderName  string         `json:"mail_sender_name"`
	MailTimeout     timex.Duration `json:"mail_timeout"`
	BrevoAPIKey     string         `json:"brevo_api_key"`
	BrevoBaseURL    string         `json:"brevo_base_url"`
	SMTPHost        string         `json:"smtp_host"`
	SMTPPort        int            `json:"smtp_port"`
	SMTPUser        string         `json:"smtp_user"`
	SMTPPassword    string         `json:"smtp_password"`
	AMQPURL         string         `json:"amqp_url"`
	MailQueue       string         `json:"mail_queue"`

	S3RootUser     string         `json:"s3_root_user"`
	S3RootPassword string         `json:"s3_root_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	PresignExpiry  timex.Duration `json:"s3_presign_expiry"`

	LLMBaseURL      string         `json:"llm_base_url"`
	LLMAPIKey       string         `json:"llm_api_key"`
	LLMDefaultModel string         `json:"llm_default_model"`
	LLMTimeout      timex.Duration `json:"llm_timeout"`
	MessageLimit    int            `json:"message_limit"`
}

// parseJson loads the file named by -c / -config, if any, and overlays it
// onto config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setStr(&config.HTTPAddr, c.HTTPAddr)
	setStr(&config.DatabaseDSN, c.DatabaseDSN)
	setDur(&config.RequestTimeout, c.RequestTimeout)
	setStr(&config.LogLevel, c.LogLevel)
	setStr(&config.LogFormat, c.LogFormat)

	setStr(&config.SecretKey, c.SecretKey)
	setDur(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDur(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDur(&config.OTPValidityDuration, c.OTPValidityDuration)

	setStr(&config.OTPSweepSchedule, c.OTPSweepSchedule)
	setStr(&config.OTPSweepTimezone, c.OTPSweepTimezone)
	setDur(&config.OTPRetention, c.OTPRetention)

	setStr(&config.RedisAddr, c.RedisAddr)
	setStr(&config.TrustedProxies, c.TrustedProxies)
	setStr(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	if c.RateLimitRPS != 0 {
		config.RateLimitRPS = c.RateLimitRPS
	}
	setInt(&config.RateLimitBurst, c.RateLimitBurst)

	setStr(&config.MailProvider, c.MailProvider)
	setStr(&config.MailSenderEmail, c.MailSenderEmail)
	setStr(&config.MailSenderName, c.MailSenderName)
	setDur(&config.MailTimeout, c.MailTimeout)
	setStr(&config.BrevoAPIKey, c.BrevoAPIKey)
	setStr(&config.BrevoBaseURL, c.BrevoBaseURL)
	setStr(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setStr(&config.SMTPUser, c.SMTPUser)
	setStr(&config.SMTPPassword, c.SMTPPassword)
	setStr(&config.AMQPURL, c.AMQPURL)
	setStr(&config.MailQueue, c.MailQueue)

	setStr(&config.S3RootUser, c.S3RootUser)
	setStr(&config.S3RootPassword, c.S3RootPassword)
	setStr(&config.S3Bucket, c.S3Bucket)
	setStr(&config.S3Region, c.S3Region)
	setStr(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDur(&config.PresignExpiry, c.PresignExpiry)

	setStr(&config.LLMBaseURL, c.LLMBaseURL)
	setStr(&config.LLMAPIKey, c.LLMAPIKey)
	setStr(&config.LLMDefaultModel, c.LLMDefaultModel)
	setDur(&config.LLMTimeout, c.LLMTimeout)
	setInt(&config.MessageLimit, c.MessageLimit)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
