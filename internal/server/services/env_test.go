package services

import (
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/nexuschat/nexus/internal/cryptox"
	"github.com/nexuschat/nexus/internal/server/config"
)

var cheapArgon2 = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type testEnv struct {
	db       *memDB
	clk      *clock
	mail     *capturedMail
	cfg      *config.Config
	hasher   *cryptox.Argon2Hasher
	issuer   *TokenIssuer
	users    *UserService
	verify   *VerificationService
	sessions *SessionResolver
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "test-secret",
		AccessTokenValidityDuration:  24 * time.Hour,
		RefreshTokenValidityDuration: 30 * 24 * time.Hour,
		OTPValidityDuration:          5 * time.Minute,
		MessageLimit:                 25,
		S3Region:                     "us-east-1",
		S3RootUser:                   "minioadmin",
		S3RootPassword:               "minioadmin",
		S3BaseEndpoint:               "http://127.0.0.1:9000",
		S3Bucket:                     "nexus",
		PresignExpiry:                15 * time.Minute,
	}
}

// newTestEnv wires every auth service over one in-memory store. random may
// be nil for crypto/rand.
func newTestEnv(t *testing.T, random io.Reader) *testEnv {
	t.Helper()
	if random == nil {
		random = rand.Reader
	}

	e := &testEnv{
		db:     newMemDB(),
		clk:    newClock(),
		mail:   &capturedMail{},
		cfg:    testConfig(),
		hasher: cryptox.NewArgon2Hasher(cheapArgon2),
	}
	e.db.now = e.clk.Now

	opts := []Option{WithClock(e.clk.Now), WithRandom(random)}
	e.issuer = NewTokenIssuer(e.db, e.cfg, opts...)
	e.users = NewUserService(e.db, e.db, e.hasher, e.issuer, opts...)
	e.verify = NewVerificationService(e.db, e.db, e.hasher, e.issuer, e.mail, e.cfg, opts...)
	e.sessions = NewSessionResolver(e.db, e.db, e.cfg, opts...)
	return e
}

// lastCode returns the code of the most recent email.
func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	sent := e.mail.sent()
	if len(sent) == 0 {
		t.Fatalf("no email was dispatched")
	}
	return sent[len(sent)-1].Code
}
