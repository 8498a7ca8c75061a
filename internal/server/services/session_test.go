package services

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/server/auth"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	e := newTestEnv(t, nil)
	user, pair := registerUser(t, e, "a@x.com", "password1")
	ctx := context.Background()

	got, err := e.sessions.Resolve(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "a@x.com", got.Email)
}

func TestResolve_Unauthorized(t *testing.T) {
	e := newTestEnv(t, nil)
	user, pair := registerUser(t, e, "a@x.com", "password1")
	now := e.clk.Now()

	otherSecret, err := auth.GenerateToken(user.ID.String(), []byte("other-secret"), time.Hour, now)
	require.NoError(t, err)

	stranger, err := auth.GenerateToken(models.NewUserID().String(), []byte(e.cfg.SecretKey), time.Hour, now)
	require.NoError(t, err)

	notUUID, err := auth.GenerateToken("42", []byte(e.cfg.SecretKey), time.Hour, now)
	require.NoError(t, err)

	// Same signature, subject swapped for another user's id.
	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	swapped := strings.Replace(string(payload), user.ID.String(), models.NewUserID().String(), 1)
	require.NotEqual(t, string(payload), swapped)
	altered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(swapped)) + "." + parts[2]

	tests := map[string]string{
		"empty":            "",
		"garbage":          "not.a.jwt",
		"different secret": otherSecret,
		"altered subject":  altered,
		"unknown user":     stranger,
		"non-uuid subject": notUUID,
		"refresh token":    pair.RefreshToken,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.sessions.Resolve(context.Background(), tok)
			require.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}

	e.clk.Advance(24*time.Hour + time.Second)
	_, err = e.sessions.Resolve(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, common.ErrorUnauthorized, "expired")
}

func TestResolve_StoreError(t *testing.T) {
	e := newTestEnv(t, nil)
	_, pair := registerUser(t, e, "a@x.com", "password1")
	e.db.setFail("users.GetByID")

	_, err := e.sessions.Resolve(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, common.ErrorInternal)
}
