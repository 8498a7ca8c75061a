package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuschat/nexus/internal/cryptox"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/auth"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

const TokenTypeBearer = "bearer"

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// TokenIssuer mints access/refresh pairs. Only the refresh token hash is
// stored.
type TokenIssuer struct {
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	opts                         options
}

func NewTokenIssuer(m repomanager.RepositoryManager, cfg *config.Config, opts ...Option) *TokenIssuer {
	return &TokenIssuer{
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		opts:                         newOptions(opts),
	}
}

// Issue stores one new refresh token row on tx and returns the pair. Callers
// pass their transaction so the row commits or rolls back with their work.
func (i *TokenIssuer) Issue(ctx context.Context, tx dbx.DBTX, userID models.UserID) (*TokenPair, error) {
	now := i.opts.now()

	access, err := auth.GenerateToken(userID.String(), i.jwtSecret, i.accessTokenValidityDuration, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := cryptox.NewRefreshToken(i.opts.rand)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	err = i.repomanager.RefreshTokens(tx).Create(ctx, userID, cryptox.HashRefreshToken(refresh), now.Add(i.refreshTokenValidityDuration))
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}, nil
}
