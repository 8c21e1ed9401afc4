package app

import (
	"github.com/sungwoon-dev/mealpass/internal/auth"
	"github.com/sungwoon-dev/mealpass/internal/cache"
	"github.com/sungwoon-dev/mealpass/internal/database"
	"github.com/sungwoon-dev/mealpass/internal/scanner"
)

// JWTServiceConfig adapts the auth settings into a JWT service configuration.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
	}
}

// SessionServiceConfig adapts the auth settings into a session service configuration.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		RefreshTokenTTL: c.Session.RefreshTTL,
	}
}

// RedisClientConfig adapts the cache settings into a Redis client configuration.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Redis.Address,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// SessionOptions adapts the scanner settings into scan-session options.
func (c ScannerConfig) SessionOptions() []scanner.SessionOption {
	return []scanner.SessionOption{
		scanner.WithMaxAttempts(c.MaxAttempts),
		scanner.WithInitTimeout(c.InitTimeout),
		scanner.WithCooldown(c.Cooldown),
	}
}

// DatabaseConfigFor maps the loaded configuration onto the database layer.
func (c DatabaseConfig) DatabaseConfigFor() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	switch c.Driver {
	case "postgres":
		cfg.Host = c.Postgres.Host
		cfg.Port = c.Postgres.Port
		cfg.Name = c.Postgres.Database
		cfg.User = c.Postgres.Username
		cfg.Password = c.Postgres.Password
	case "mysql":
		cfg.Host = c.MySQL.Host
		cfg.Port = c.MySQL.Port
		cfg.Name = c.MySQL.Database
		cfg.User = c.MySQL.Username
		cfg.Password = c.MySQL.Password
	}

	return cfg
}
