package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwoon-dev/mealpass/internal/auth"
	"github.com/sungwoon-dev/mealpass/internal/scanner"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 7*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "mealpass-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 1440*time.Hour, cfg.Auth.Session.RefreshTTL)

	require.Equal(t, 320, cfg.Ticket.QRSize)

	require.Equal(t, 5, cfg.Scanner.MaxAttempts)
	require.Equal(t, 12*time.Second, cfg.Scanner.InitTimeout)
	require.Equal(t, 2*time.Second, cfg.Scanner.Cooldown)

	require.Equal(t, 30, cfg.Retention.AuditDays)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "mealpass", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 256, cfg.Ticket.QRSize)
	require.Equal(t, 3, cfg.Scanner.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.Scanner.InitTimeout)
	require.Equal(t, time.Second, cfg.Scanner.Cooldown)
	require.Equal(t, 90, cfg.Retention.AuditDays)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Session: SessionSettings{
				RefreshTTL: 10 * time.Hour,
			},
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.Auth.JWTServiceConfig())

	require.Equal(t, auth.SessionConfig{
		RefreshTokenTTL: 10 * time.Hour,
	}, cfg.Auth.SessionServiceConfig())
}

func TestScannerSessionOptions(t *testing.T) {
	cfg := ScannerConfig{
		MaxAttempts: 2,
		InitTimeout: 50 * time.Millisecond,
		Cooldown:    time.Second,
	}

	// Feed the options to a real session with a source that always fails:
	// acquisition must respect the configured attempt bound and per-attempt
	// deadline rather than the package defaults.
	attempts := 0
	source := acquireFunc(func(ctx context.Context, _ scanner.FacingMode) (scanner.Stream, error) {
		attempts++
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
		return nil, errors.New("camera busy")
	})

	session, err := scanner.NewSession(source, func(context.Context, []byte) {}, cfg.SessionOptions()...)
	require.NoError(t, err)
	require.Error(t, session.Start(context.Background()))
	require.Equal(t, 2, attempts)
}

type acquireFunc func(ctx context.Context, facing scanner.FacingMode) (scanner.Stream, error)

func (f acquireFunc) Acquire(ctx context.Context, facing scanner.FacingMode) (scanner.Stream, error) {
	return f(ctx, facing)
}

func TestDatabaseConfigFor(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "postgres",
		Postgres: DBAuthConfig{
			Host:     "db.example.com",
			Port:     5432,
			Database: "mealpass",
			Username: "svc",
			Password: "pw",
		},
	}

	dbCfg := cfg.DatabaseConfigFor()
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.example.com", dbCfg.Host)
	require.Equal(t, "mealpass", dbCfg.Name)
	require.Equal(t, "svc", dbCfg.User)
}
