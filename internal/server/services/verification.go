package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/cryptox"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/mailer"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

// VerificationService runs the emailed-code flows: signup and password
// reset. An email has at most one unused, unexpired code at a time, across
// both purposes.
type VerificationService struct {
	db          dbx.Transactor
	repomanager repomanager.RepositoryManager
	hasher      cryptox.PasswordHasher
	issuer      *TokenIssuer
	dispatcher  mailer.Dispatcher
	otpValidity time.Duration
	otpLength   int
	opts        options
}

func NewVerificationService(db dbx.Transactor, m repomanager.RepositoryManager, hasher cryptox.PasswordHasher,
	issuer *TokenIssuer, dispatcher mailer.Dispatcher, cfg *config.Config, opts ...Option) *VerificationService {
	return &VerificationService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		dispatcher:  dispatcher,
		otpValidity: cfg.OTPValidityDuration,
		otpLength:   cryptox.DefaultOTPLength,
		opts:        newOptions(opts),
	}
}

// RequestSignupOTP records a signup code carrying the hashed password and
// emails it once the record is committed. Returns the normalized email.
func (s *VerificationService) RequestSignupOTP(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return "", internalError(ctx, s.opts.log, "hash password", err)
	}

	code, err := s.issueCode(ctx, email, models.OTPPurposeSignup, &hashed, true)
	if err != nil {
		return "", err
	}

	s.send(ctx, email, code)
	return email, nil
}

// RequestResetOTP answers the same way for registered and unknown emails,
// including while a code is still pending. Only a registered email without
// a pending code gets a new record and an email.
func (s *VerificationService) RequestResetOTP(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)

	code, err := s.issueCode(ctx, email, models.OTPPurposeReset, nil, false)
	if errors.Is(err, common.ErrOtpAlreadyPending) {
		// Unknown emails never have a pending code; answer both alike.
		s.opts.log.Debug(ctx, "reset requested while a code is pending")
		return email, nil
	}
	if err != nil {
		return "", err
	}

	if code != "" {
		s.send(ctx, email, code)
	} else {
		s.opts.log.Debug(ctx, "reset requested for unknown email")
	}
	return email, nil
}

// issueCode takes the per-email lock, checks registration and the pending
// slot, then stores a new code. For reset of an unknown email it returns
// "" and stores nothing.
func (s *VerificationService) issueCode(ctx context.Context, email string, purpose models.OTPPurpose, hashed *string, wantAbsent bool) (string, error) {
	code, err := cryptox.GenerateOTP(s.opts.rand, s.otpLength)
	if err != nil {
		return "", internalError(ctx, s.opts.log, "generate otp", err)
	}

	issued := false
	err = s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		otps := s.repomanager.OTPs(tx)
		if err := otps.LockEmail(ctx, email); err != nil {
			return err
		}

		_, err := s.repomanager.Users(tx).GetByEmail(ctx, email)
		registered := err == nil
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if wantAbsent && registered {
			return common.ErrAlreadyRegistered
		}
		if !wantAbsent && !registered {
			return nil
		}

		now := s.opts.now()
		pending, err := otps.HasPending(ctx, email, now)
		if err != nil {
			return err
		}
		if pending {
			return common.ErrOtpAlreadyPending
		}

		if err := otps.Create(ctx, &models.OTPVerification{
			Email:          email,
			Code:           code,
			HashedPassword: hashed,
			Purpose:        purpose,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.otpValidity),
		}); err != nil {
			return err
		}
		issued = true
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyRegistered) || errors.Is(err, common.ErrOtpAlreadyPending) {
			return "", err
		}
		return "", internalError(ctx, s.opts.log, "issue otp", err)
	}
	if !issued {
		return "", nil
	}
	return code, nil
}

func (s *VerificationService) send(ctx context.Context, email, code string) {
	s.dispatcher.Dispatch(ctx, mailer.OTPMessage{To: email, Code: code, ValidFor: s.otpValidity})
}

// VerifySignup consumes the code, creates the account with the password
// captured at request time and signs the user in. Nothing persists unless
// all three steps succeed.
func (s *VerificationService) VerifySignup(ctx context.Context, email, code string) (*models.User, *TokenPair, error) {
	email = NormalizeEmail(email)

	var (
		user *models.User
		pair *TokenPair
	)
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.repomanager.OTPs(tx).Consume(ctx, email, code, models.OTPPurposeSignup, s.opts.now())
		if err != nil {
			return err
		}
		if rec.HashedPassword == nil {
			return common.ErrorNotFound
		}

		user, err = s.repomanager.Users(tx).Create(ctx, &models.User{Email: email, HashedPassword: *rec.HashedPassword})
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return common.ErrAlreadyRegistered
			}
			return err
		}

		pair, err = s.issuer.Issue(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return nil, nil, common.ErrInvalidOrExpiredOtp
		case errors.Is(err, common.ErrAlreadyRegistered):
			return nil, nil, err
		}
		return nil, nil, internalError(ctx, s.opts.log, "verify signup", err)
	}

	s.opts.log.Info(ctx, "user registered", "user_id", user.ID.String())
	return user, pair, nil
}

// VerifyReset consumes the code, replaces the password hash, revokes every
// existing refresh token of the user and mints a fresh pair, atomically.
func (s *VerificationService) VerifyReset(ctx context.Context, email, code, newPassword string) (*models.User, *TokenPair, error) {
	email = NormalizeEmail(email)

	var (
		user *models.User
		pair *TokenPair
	)
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.OTPs(tx).Consume(ctx, email, code, models.OTPPurposeReset, s.opts.now()); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredOtp
			}
			return err
		}

		users := s.repomanager.Users(tx)
		var err error
		user, err = users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrUserNotFound
			}
			return err
		}

		// Hashed only once the code is accepted, so guessing costs no argon2 run.
		hashed, err := s.hasher.Hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := users.UpdatePassword(ctx, user.ID, hashed); err != nil {
			return err
		}
		user.HashedPassword = hashed

		if _, err := s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, user.ID); err != nil {
			return err
		}

		pair, err = s.issuer.Issue(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidOrExpiredOtp) || errors.Is(err, common.ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, internalError(ctx, s.opts.log, "verify reset", err)
	}

	s.opts.log.Info(ctx, "password reset", "user_id", user.ID.String())
	return user, pair, nil
}
