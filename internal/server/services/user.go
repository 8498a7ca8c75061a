package services

import (
	"context"
	"errors"
	"sync"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/cryptox"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

// UserService handles password login and the refresh token lifecycle:
// rotation, single logout and logout everywhere.
type UserService struct {
	db          dbx.Transactor
	repomanager repomanager.RepositoryManager
	hasher      cryptox.PasswordHasher
	issuer      *TokenIssuer
	opts        options

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(db dbx.Transactor, m repomanager.RepositoryManager, hasher cryptox.PasswordHasher, issuer *TokenIssuer, opts ...Option) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		opts:        newOptions(opts),
	}
}

// Login checks credentials and mints a pair. An unknown email and a wrong
// password both return common.ErrorUnauthorized after one hash verification.
func (s *UserService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	email = NormalizeEmail(email)

	user, err := s.repomanager.Users(s.db.Conn()).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(s.dummy(), password)
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.opts.log, "login", err)
	}

	if !s.hasher.Verify(user.HashedPassword, password) {
		return nil, common.ErrorUnauthorized
	}

	var pair *TokenPair
	if err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = s.issuer.Issue(ctx, tx, user.ID)
		return err
	}); err != nil {
		return nil, internalError(ctx, s.opts.log, "login", err)
	}
	return pair, nil
}

// RefreshToken revokes refreshToken and mints a new pair for its owner in
// the same transaction. A token can be exchanged at most once; unknown,
// revoked and expired tokens give common.ErrorUnauthorized.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, common.ErrorUnauthorized
	}
	hash := cryptox.HashRefreshToken(refreshToken)

	var pair *TokenPair
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		userID, err := s.repomanager.RefreshTokens(tx).RevokeActive(ctx, hash, s.opts.now())
		if err != nil {
			return err
		}
		pair, err = s.issuer.Issue(ctx, tx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditRejectedRefresh(ctx, hash)
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.opts.log, "refresh token", err)
	}
	return pair, nil
}

// auditRejectedRefresh warns when a rejected token turns out to be one that
// was already revoked, which usually means it was copied. Lookup failures
// are ignored; the caller is refused either way.
func (s *UserService) auditRejectedRefresh(ctx context.Context, hash string) {
	t, err := s.repomanager.RefreshTokens(s.db.Conn()).Find(ctx, hash)
	if err != nil || !t.IsRevoked {
		return
	}
	s.opts.log.Warn(ctx, "revoked refresh token presented", "user_id", t.UserID.String(), "token_id", t.ID)
}

// Logout revokes one refresh token. Unknown or already revoked tokens are
// not an error.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	hash := cryptox.HashRefreshToken(refreshToken)

	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.RefreshTokens(tx).RevokeActive(ctx, hash, s.opts.now())
		return err
	})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return internalError(ctx, s.opts.log, "logout", err)
	}
	return nil
}

// LogoutAll revokes every active refresh token of userID and returns how
// many were revoked.
func (s *UserService) LogoutAll(ctx context.Context, userID models.UserID) (int64, error) {
	var n int64
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, internalError(ctx, s.opts.log, "logout all", err)
	}
	s.opts.log.Info(ctx, "revoked all sessions", "user_id", userID.String(), "count", n)
	return n, nil
}

// dummy is a valid hash of a throwaway password, computed on first use.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("nexus-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
